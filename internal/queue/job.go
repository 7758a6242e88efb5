// Package queue implements the durable on-disk work queue: four
// directories (pending/processing/completed/failed), atomic submission
// and claim via POSIX rename, and a crash-recovery sweep.
//
// The atomic tmp-file-then-rename persistence and the UUID-keyed record
// shape are grounded on the teacher's subagentManager.persistLocked
// (internal/agent/subagents.go), generalized here from an in-memory map
// snapshot to one file per job so a job's directory is its state — no
// separate status field is authoritative.
package queue

import (
	"strings"

	"github.com/google/uuid"
)

// Job is one unit of work submitted by intake and consumed by the
// processor, per spec.md §3.
type Job struct {
	ID            string `json:"id"`
	Channel       string `json:"channel"`
	ThreadTS      string `json:"thread_ts,omitempty"`
	User          string `json:"user,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Text          string `json:"text,omitempty"`
	ThreadContext string `json:"thread_context,omitempty"`

	CreatedAt   int64  `json:"created_at"`
	StartedAt   *int64 `json:"started_at"`
	CompletedAt *int64 `json:"completed_at"`

	Error    string `json:"error,omitempty"`
	FailedAt *int64 `json:"failed_at,omitempty"`
}

// NewJob builds an agent-invocation Job (as opposed to the simple
// notification shape) with a fresh id and created_at stamp.
func NewJob(channel, threadTS, user, prompt, threadContext string) *Job {
	return &Job{
		ID:            uuid.NewString(),
		Channel:       channel,
		ThreadTS:      threadTS,
		User:          user,
		Prompt:        strings.TrimSpace(prompt),
		ThreadContext: threadContext,
		CreatedAt:     nowMillis(),
	}
}

// NewNotification builds the simple "post this text" job shape described
// in spec.md §3 ("Simple notification variant").
func NewNotification(channel, text string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Channel:   channel,
		Text:      text,
		CreatedAt: nowMillis(),
	}
}

// IsNotification reports whether job is the simple post-request shape: it
// carries text but no prompt.
func (j *Job) IsNotification() bool {
	return strings.TrimSpace(j.Text) != "" && strings.TrimSpace(j.Prompt) == ""
}

// Validate checks that an agent job carries the fields the processor
// requires before invoking the CLI, per spec.md §4.C step 2.
func (j *Job) Validate() error {
	var missing []string
	if strings.TrimSpace(j.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(j.Channel) == "" {
		missing = append(missing, "channel")
	}
	if strings.TrimSpace(j.ThreadTS) == "" {
		missing = append(missing, "thread_ts")
	}
	if strings.TrimSpace(j.User) == "" {
		missing = append(missing, "user")
	}
	if strings.TrimSpace(j.Prompt) == "" {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// ValidationError reports which required fields were absent from a job
// file, per spec.md §7's "Per-job validation" error kind.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "job missing required fields: " + strings.Join(e.Missing, ", ")
}
