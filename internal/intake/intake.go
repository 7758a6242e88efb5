// Package intake turns normalized chat-platform events into queued
// jobs, per spec.md §4.D. Event filtering, bot-mention stripping, and
// thread resolution are grounded on the teacher's
// normalizeSlackInboundEvent and forwardSlackInbound
// (cmd/channelbridge/main.go), adapted from "forward to an HTTP
// backend" to "assemble thread context and submit to the local queue".
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/andrewmyhre/pai-slack-bridge/internal/queue"
	"github.com/andrewmyhre/pai-slack-bridge/internal/scheduler"
	"github.com/andrewmyhre/pai-slack-bridge/internal/slackclient"
	"github.com/andrewmyhre/pai-slack-bridge/internal/threadstore"
)

// Submitter is the slice of queue.Queue intake needs.
type Submitter interface {
	Submit(job *queue.Job) error
}

// ThreadAccess is the slice of threadstore.Store intake needs to
// assemble context before enqueuing a job.
type ThreadAccess interface {
	Load(threadTS string) (*threadstore.ThreadFile, bool)
	Append(threadTS, channel string, msg threadstore.ThreadMessage) (*threadstore.ThreadFile, error)
	SeedFromPlatform(ctx context.Context, threadTS, channel, bridgeBotID string, client threadstore.ReplySource) (*threadstore.ThreadFile, error)
}

// PlatformClient is the slice of the chat platform client intake needs:
// it doubles as threadstore.ReplySource for seeding.
type PlatformClient interface {
	threadstore.ReplySource
	PostMessage(ctx context.Context, channel, threadTS, text string) error
	WhoAmI() string
}

// Config configures an Intake, per spec.md §4.D and §6.
type Config struct {
	AllowUsers         []string
	AllowChannels      []string
	ConcurrencyLimit   int
	ContextBudgetBytes int
}

// Intake filters and forwards inbound chat events into the job queue.
type Intake struct {
	cfg     Config
	queue   Submitter
	threads ThreadAccess
	client  PlatformClient
	sem     *scheduler.Semaphore
	log     *slog.Logger

	allowUsers    map[string]bool
	allowChannels map[string]bool
}

// New constructs an Intake.
func New(cfg Config, q Submitter, threads ThreadAccess, client PlatformClient, log *slog.Logger) *Intake {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 8
	}
	if cfg.ContextBudgetBytes <= 0 {
		cfg.ContextBudgetBytes = 6000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Intake{
		cfg:           cfg,
		queue:         q,
		threads:       threads,
		client:        client,
		sem:           scheduler.NewSemaphore(cfg.ConcurrencyLimit),
		log:           log,
		allowUsers:    toSet(cfg.AllowUsers),
		allowChannels: toSet(cfg.AllowChannels),
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Handle blocks on the concurrency gate, then processes evt. Callers
// invoke this from their own goroutine per inbound event, per spec.md
// §5 "within intake, multiple chat events are handled concurrently".
func (in *Intake) Handle(ctx context.Context, evt slackclient.InboundEvent) {
	if err := in.sem.Acquire(ctx); err != nil {
		return
	}
	defer in.sem.Release()
	in.handleOne(ctx, evt)
}

var nonUserSubtypes = map[string]bool{
	"bot_message":     true,
	"message_changed": true,
	"message_deleted": true,
	"channel_join":    true,
	"channel_leave":   true,
}

func (in *Intake) handleOne(ctx context.Context, evt slackclient.InboundEvent) {
	if !in.accept(evt) {
		return
	}

	isDM := evt.ChannelType == "im" || strings.HasPrefix(strings.ToUpper(evt.Channel), "D")
	if !evt.IsAppMention && !isDM {
		return
	}

	prompt := stripMention(evt.Text, in.client.WhoAmI())
	if prompt == "" {
		if evt.IsAppMention {
			in.postBestEffort(ctx, evt.Channel, "", "Hi! What can I help you with?")
		}
		return
	}

	replyTS := evt.ThreadTS
	if replyTS == "" {
		replyTS = evt.MessageTS
	}

	threadContext, err := in.assembleContext(ctx, evt, prompt, replyTS)
	if err != nil {
		in.log.Error("context assembly failed", "error", err)
		in.postBestEffort(ctx, evt.Channel, replyTS, "Sorry, something went wrong while queuing your request. Please try again.")
		return
	}

	user, err := in.client.DescribeUser(ctx, evt.User)
	if err != nil {
		user = evt.User
	}

	job := queue.NewJob(evt.Channel, replyTS, user, prompt, threadContext)
	if err := in.queue.Submit(job); err != nil {
		in.log.Error("submit failed", "error", err)
		in.postBestEffort(ctx, evt.Channel, replyTS, "Sorry, something went wrong while queuing your request. Please try again.")
		return
	}

	ack := fmt.Sprintf("Got it! Processing in background (job: %s...)", shortID(job.ID))
	in.postBestEffort(ctx, evt.Channel, replyTS, ack)
}

// accept implements spec.md §4.D's "Filtering" rules.
func (in *Intake) accept(evt slackclient.InboundEvent) bool {
	if nonUserSubtypes[evt.Subtype] {
		return false
	}
	if strings.TrimSpace(evt.Text) == "" || strings.TrimSpace(evt.User) == "" {
		return false
	}
	if strings.TrimSpace(evt.BotID) != "" {
		return false
	}
	if len(in.allowUsers) > 0 && !in.allowUsers[evt.User] {
		return false
	}
	if len(in.allowChannels) > 0 && !in.allowChannels[evt.Channel] {
		return false
	}
	return true
}

// assembleContext implements spec.md §4.D's "Context assembly" steps,
// only run when thread_ts is defined.
func (in *Intake) assembleContext(ctx context.Context, evt slackclient.InboundEvent, prompt, replyTS string) (string, error) {
	if evt.ThreadTS == "" {
		return "", nil
	}

	user, err := in.client.DescribeUser(ctx, evt.User)
	if err != nil {
		user = evt.User
	}

	file, ok := in.threads.Load(evt.ThreadTS)
	if !ok {
		file, err = in.threads.SeedFromPlatform(ctx, evt.ThreadTS, evt.Channel, in.client.WhoAmI(), in.client)
		if err != nil {
			return "", fmt.Errorf("intake: seed thread %s: %w", evt.ThreadTS, err)
		}
	}

	file, err = in.threads.Append(evt.ThreadTS, evt.Channel, threadstore.ThreadMessage{
		Role: "user",
		Name: user,
		Text: prompt,
		TS:   evt.MessageTS,
	})
	if err != nil {
		return "", fmt.Errorf("intake: append thread message: %w", err)
	}

	if len(file.Messages) <= 1 {
		return "", nil
	}
	return threadstore.FormatContext(file, in.cfg.ContextBudgetBytes), nil
}

func (in *Intake) postBestEffort(ctx context.Context, channel, threadTS, text string) {
	if err := in.client.PostMessage(ctx, channel, threadTS, text); err != nil {
		in.log.Warn("post failed", "error", err)
	}
}

var mentionPattern = regexp.MustCompile(`<@([A-Za-z0-9]+)>`)

// stripMention removes occurrences of <@BOT_ID> from text, per spec.md
// §4.D.
func stripMention(text, botUserID string) string {
	trimmed := text
	if botUserID != "" {
		trimmed = strings.ReplaceAll(trimmed, "<@"+botUserID+">", "")
	} else {
		trimmed = mentionPattern.ReplaceAllString(trimmed, "")
	}
	return strings.TrimSpace(trimmed)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
