package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/andrewmyhre/pai-slack-bridge/internal/deadletter"
	"github.com/andrewmyhre/pai-slack-bridge/internal/queue"
	"github.com/andrewmyhre/pai-slack-bridge/internal/threadstore"
)

// JobQueue is the slice of queue.Queue the processor drives, named here
// so Processor can be tested against a fake without importing the
// concrete implementation's package cycle-free guarantees.
type JobQueue interface {
	ListPending() ([]string, error)
	Claim(filename string) (bool, error)
	ReadProcessing(filename string) (map[string]any, error)
	Complete(filename string, job *queue.Job) error
	Fail(filename string, orig map[string]any, jobErr error) error
	RecoverCrashed() (int, error)
}

// ThreadAppender is the slice of threadstore.Store the processor needs
// to record the assistant's reply and run periodic cleanup.
type ThreadAppender interface {
	Append(threadTS, channel string, msg threadstore.ThreadMessage) (*threadstore.ThreadFile, error)
	Cleanup(maxAge time.Duration) int
}

// Poster is the slice of the chat platform client the processor needs
// to deliver progress notes, results, and error notices.
type Poster interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) error
}

// DeadLetterRecorder is the slice of deadletter.Index the processor
// needs to mirror every dead-lettered job into the queryable sqlite
// index, per spec.md §4.C's ambient addition.
type DeadLetterRecorder interface {
	Insert(rec deadletter.Record) error
}

// Config configures a Processor, per spec.md §4.C.
type Config struct {
	CLIPath             string
	WorkingDir          string
	MaxOutputChars      int
	PollInterval        time.Duration
	CleanupMaxAge       time.Duration
	CleanupEveryNCycles int
}

// Processor is the single long-lived loop described in spec.md §4.C.
// There is exactly one Processor per deployment; it executes jobs
// strictly serially.
type Processor struct {
	cfg         Config
	queue       JobQueue
	threads     ThreadAppender
	poster      Poster
	deadLetters DeadLetterRecorder
	log         *slog.Logger
	metrics     *metricsTracker
}

// New constructs a Processor. cfg.PollInterval defaults to 2s and
// cfg.CleanupEveryNCycles to 100 when zero, matching spec.md §4.C
// defaults. deadLetters may be nil, in which case dead-lettered jobs
// are written to failed/ as usual but not mirrored into the sqlite
// index.
func New(cfg Config, q JobQueue, threads ThreadAppender, poster Poster, deadLetters DeadLetterRecorder, log *slog.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.CleanupEveryNCycles <= 0 {
		cfg.CleanupEveryNCycles = 100
	}
	if cfg.CleanupMaxAge <= 0 {
		cfg.CleanupMaxAge = 72 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{cfg: cfg, queue: q, threads: threads, poster: poster, deadLetters: deadLetters, log: log, metrics: newMetricsTracker()}
}

// Metrics returns a point-in-time snapshot of processor activity.
func (p *Processor) Metrics() Metrics { return p.metrics.Snapshot() }

// Run executes the startup sequence and then the main loop until ctx is
// canceled, per spec.md §4.C "Startup sequence" and "Main loop".
func (p *Processor) Run(ctx context.Context) error {
	recovered, err := p.queue.RecoverCrashed()
	if err != nil {
		return fmt.Errorf("processor: crash recovery: %w", err)
	}
	if recovered > 0 {
		p.log.Info("recovered crashed jobs", "count", recovered)
	}

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.runCycle(ctx); err != nil {
			p.log.Error("processor cycle failed", "error", err)
		}
		cycles++
		p.metrics.noteCycle()
		if cycles%p.cfg.CleanupEveryNCycles == 0 {
			removed := p.threads.Cleanup(p.cfg.CleanupMaxAge)
			if removed > 0 {
				p.log.Info("thread store cleanup", "removed", removed)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Processor) runCycle(ctx context.Context) error {
	files, err := p.queue.ListPending()
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	for _, f := range files {
		p.processOne(ctx, f)
	}
	return nil
}

// processOne implements spec.md §4.C "process_one(file)".
func (p *Processor) processOne(ctx context.Context, filename string) {
	ok, err := p.queue.Claim(filename)
	if err != nil {
		p.log.Error("claim failed", "file", filename, "error", err)
		return
	}
	if !ok {
		return
	}

	raw, err := p.queue.ReadProcessing(filename)
	if err != nil {
		p.log.Error("read claimed job failed", "file", filename, "error", err)
		return
	}

	job, err := decodeJob(raw)
	if err != nil {
		p.failJob(filename, raw, err, "", "")
		return
	}

	if job.IsNotification() {
		p.processNotification(ctx, filename, job)
		return
	}

	if err := job.Validate(); err != nil {
		p.failJob(filename, raw, err, job.Channel, job.ThreadTS)
		return
	}

	started := nowMillis()
	job.StartedAt = &started

	onProgress := func(phase string) {
		if err := p.poster.PostMessage(ctx, job.Channel, job.ThreadTS, "["+phase+"]"); err != nil {
			p.log.Warn("progress notification failed", "error", err)
		}
	}

	result, invokeErr := InvokeAgent(ctx, InvokeRequest{
		Prompt:         job.Prompt,
		CLIPath:        p.cfg.CLIPath,
		WorkingDir:     p.cfg.WorkingDir,
		MaxOutputChars: p.cfg.MaxOutputChars,
		ThreadContext:  job.ThreadContext,
		OnProgress:     onProgress,
	})
	if invokeErr != nil {
		p.failJob(filename, raw, invokeErr, job.Channel, job.ThreadTS)
		return
	}
	if !result.Success {
		p.failJob(filename, raw, fmt.Errorf("%s", result.Error), job.Channel, job.ThreadTS)
		return
	}

	if err := p.poster.PostMessage(ctx, job.Channel, job.ThreadTS, result.Output); err != nil {
		p.log.Warn("post result failed", "error", err)
	}

	snippet := threadstore.TruncateAtNaturalBoundary(result.Output, 500)
	_, err = p.threads.Append(job.ThreadTS, job.Channel, threadstore.ThreadMessage{
		Role: "assistant",
		Name: threadstore.BridgeAssistantName,
		Text: snippet,
		TS:   strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		p.log.Warn("append assistant reply failed", "error", err)
	}

	completed := nowMillis()
	job.CompletedAt = &completed
	if err := p.queue.Complete(filename, job); err != nil {
		p.log.Error("complete job failed", "file", filename, "error", err)
		return
	}
	p.metrics.noteProcessed()
}

func (p *Processor) processNotification(ctx context.Context, filename string, job *queue.Job) {
	if err := p.poster.PostMessage(ctx, job.Channel, "", job.Text); err != nil {
		p.log.Warn("post notification failed", "error", err)
	}
	completed := nowMillis()
	job.CompletedAt = &completed
	if err := p.queue.Complete(filename, job); err != nil {
		p.log.Error("complete notification failed", "file", filename, "error", err)
		return
	}
	p.metrics.noteNotification()
}

func (p *Processor) failJob(filename string, raw map[string]any, jobErr error, channel, threadTS string) {
	p.log.Error("job failed", "file", filename, "error", jobErr)
	if err := p.queue.Fail(filename, raw, jobErr); err != nil {
		p.log.Error("write failed record failed", "file", filename, "error", err)
	}
	p.metrics.noteFailed(jobErr)

	if p.deadLetters != nil {
		rec := deadletter.RecordFromRaw(raw)
		rec.Channel = channel
		rec.ThreadTS = threadTS
		rec.Error = jobErr.Error()
		rec.FailedAt = nowMillis()
		if err := p.deadLetters.Insert(rec); err != nil {
			p.log.Warn("dead-letter index insert failed", "file", filename, "error", err)
		}
	}

	if strings.TrimSpace(channel) == "" || strings.TrimSpace(threadTS) == "" {
		return
	}
	msg := "Sorry, I encountered an error processing your request: " + jobErr.Error()
	if err := p.poster.PostMessage(context.Background(), channel, threadTS, msg); err != nil {
		p.log.Warn("post error notice failed", "error", err)
	}
}

func decodeJob(raw map[string]any) (*queue.Job, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("processor: re-encode job: %w", err)
	}
	var job queue.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("processor: decode job: %w", err)
	}
	return &job, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
