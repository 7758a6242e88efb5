package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewmyhre/pai-slack-bridge/internal/config"
	"github.com/andrewmyhre/pai-slack-bridge/internal/deadletter"
	"github.com/andrewmyhre/pai-slack-bridge/internal/intake"
	"github.com/andrewmyhre/pai-slack-bridge/internal/processor"
	"github.com/andrewmyhre/pai-slack-bridge/internal/queue"
	"github.com/andrewmyhre/pai-slack-bridge/internal/slackclient"
	"github.com/andrewmyhre/pai-slack-bridge/internal/threadstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Slack bridge: listen for events, process queued jobs",
	RunE:  runServe,
}

// runServe wires every component described in spec.md §4: Socket Mode
// (and, if configured, the HTTP Events API fallback) feeding intake,
// intake feeding the on-disk queue, and the processor draining that
// queue into the agent CLI and back to Slack. The wiring shape —
// construct everything up front, start each loop as a goroutine, wait
// on signal.NotifyContext — is grounded on the teacher's channelbridge
// main() (cmd/channelbridge/main.go), adapted from an HTTP-only mux to
// a Socket Mode listener plus a background processor loop.
func runServe(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", "error", err)
		return err
	}

	q, err := queue.New(cfg.Queue.BasePath)
	if err != nil {
		log.Error("queue init failed", "error", err)
		return err
	}

	threads, err := threadstore.New(cfg.Thread.BasePath)
	if err != nil {
		log.Error("thread store init failed", "error", err)
		return err
	}

	deadLetters, err := deadletter.Open(cfg.Status.DeadLetterDBPath)
	if err != nil {
		log.Error("dead-letter index init failed", "error", err)
		return err
	}
	defer deadLetters.Close()

	client, err := slackclient.New(cfg.Slack.BotToken, cfg.Slack.APIBase, cfg.Slack.BotUserID, nil)
	if err != nil {
		log.Error("slack client init failed", "error", err)
		return err
	}

	in := intake.New(intake.Config{
		AllowUsers:         cfg.Allowlist.Users,
		AllowChannels:      cfg.Allowlist.Channels,
		ConcurrencyLimit:   8,
		ContextBudgetBytes: cfg.Thread.ContextBudgetBytes,
	}, q, threads, client, log)

	proc := processor.New(processor.Config{
		CLIPath:             cfg.Agent.CLIPath,
		WorkingDir:          cfg.Agent.WorkingDir,
		MaxOutputChars:      cfg.Agent.MaxOutputChars,
		PollInterval:        cfg.Queue.PollInterval,
		CleanupMaxAge:       cfg.Thread.CleanupMaxAge,
		CleanupEveryNCycles: cfg.Thread.CleanupEveryNCycles,
	}, q, threads, client, deadLetters, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := slackclient.NewListener(cfg.Slack.BotToken, cfg.Slack.AppToken, cfg.Slack.APIBase, log)
	if err != nil {
		log.Error("slack listener init failed", "error", err)
		return err
	}

	errCh := make(chan error, 3)
	go func() {
		errCh <- proc.Run(ctx)
	}()
	go func() {
		errCh <- listener.Run(ctx, func(evt slackclient.InboundEvent) {
			go in.Handle(ctx, evt)
		})
	}()

	var statusSrv *http.Server
	if strings.TrimSpace(cfg.Status.ListenAddr) != "" {
		statusSrv = newStatusServer(cfg.Status.ListenAddr, q, proc, deadLetters, log)
		go func() {
			errCh <- statusSrv.ListenAndServe()
		}()
	}

	if addr := strings.TrimSpace(cfg.Slack.EventsListenAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/slack/events", &slackclient.EventsHandler{
			SigningSecret: cfg.Slack.SigningSecret,
			BotUserID:     cfg.Slack.BotUserID,
			Handle: func(evt slackclient.InboundEvent) {
				go in.Handle(ctx, evt)
			},
		})
		eventsSrv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			errCh <- eventsSrv.ListenAndServe()
		}()
	}

	log.Info("pai-slack-bridge started", "queue", cfg.Queue.BasePath, "status_addr", cfg.Status.ListenAddr)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if statusSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = statusSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error("component exited", "error", err)
			return err
		}
		return nil
	}
}

// newStatusServer builds the operator-facing status endpoint described
// in spec.md's status-and-metrics component, grounded on the teacher's
// bridge.handleStatus (cmd/channelbridge/main.go).
func newStatusServer(addr string, q *queue.Queue, proc *processor.Processor, dl *deadletter.Index, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		qstatus, err := q.Status()
		if err != nil {
			log.Warn("status: queue status failed", "error", err)
		}
		recent, err := dl.List(10)
		if err != nil {
			log.Warn("status: dead-letter list failed", "error", err)
		}
		indexed, err := dl.Count()
		if err != nil {
			log.Warn("status: dead-letter count failed", "error", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":                  true,
			"queue":               qstatus,
			"metrics":             proc.Metrics(),
			"recent_dead_letters": recent,
			"dead_letter_indexed": indexed,
		})
	})
	return &http.Server{Addr: addr, Handler: mux}
}
