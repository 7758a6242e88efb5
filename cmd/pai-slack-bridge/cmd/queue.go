package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewmyhre/pai-slack-bridge/internal/config"
	"github.com/andrewmyhre/pai-slack-bridge/internal/deadletter"
	"github.com/andrewmyhre/pai-slack-bridge/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the on-disk job queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pending/processing/completed/failed job counts",
	RunE:  runQueueStatus,
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List dead-lettered jobs",
	RunE:  runQueueFailed,
}

var queueFailedLimit int

func init() {
	queueFailedCmd.Flags().IntVar(&queueFailedLimit, "limit", 20, "maximum number of dead letters to print")
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueFailedCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	q, err := queue.New(cfg.Queue.BasePath)
	if err != nil {
		return err
	}
	st, err := q.Status()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func runQueueFailed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Prefer the sqlite mirror when it exists; it survives individual
	// failed/ files being cleaned up and sorts newest-first for free.
	if idx, err := deadletter.Open(cfg.Status.DeadLetterDBPath); err == nil {
		defer idx.Close()
		records, err := idx.List(queueFailedLimit)
		if err == nil && len(records) > 0 {
			return printJSON(records)
		}
	}

	q, err := queue.New(cfg.Queue.BasePath)
	if err != nil {
		return err
	}
	records, err := q.FailedRecords()
	if err != nil {
		return err
	}
	if len(records) > queueFailedLimit {
		records = records[:queueFailedLimit]
	}
	return printJSON(records)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
