package queue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestSubmitPlacesJobInPendingAtomically(t *testing.T) {
	q := newTestQueue(t)
	job := NewJob("C1", "T1", "U1", "hi", "")
	if err := q.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pending, err := q.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != job.ID+".json" {
		t.Fatalf("expected job file in pending/, got %v", pending)
	}
	if _, err := os.Stat(filepath.Join(q.base, job.ID+".tmp.json")); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be gone after rename")
	}
}

func TestClaimMovesToProcessing(t *testing.T) {
	q := newTestQueue(t)
	job := NewJob("C1", "T1", "U1", "hi", "")
	if err := q.Submit(job); err != nil {
		t.Fatal(err)
	}
	ok, err := q.Claim(job.ID + ".json")
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	st, err := q.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 0 || st.Processing != 1 {
		t.Fatalf("unexpected status after claim: %+v", st)
	}
}

func TestClaimLostRaceIsNonFatal(t *testing.T) {
	q := newTestQueue(t)
	ok, err := q.Claim("nonexistent.json")
	if err != nil {
		t.Fatalf("expected nil error for lost race, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a file that was never submitted")
	}
}

func TestCompleteMovesToCompletedDirectory(t *testing.T) {
	q := newTestQueue(t)
	job := NewJob("C1", "T1", "U1", "hi", "")
	if err := q.Submit(job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Claim(job.ID + ".json"); err != nil {
		t.Fatal(err)
	}
	completedAt := int64(42)
	job.CompletedAt = &completedAt
	if err := q.Complete(job.ID+".json", job); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	st, err := q.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Completed != 1 || st.Processing != 0 {
		t.Fatalf("unexpected status after complete: %+v", st)
	}
}

func TestFailWritesErrorAndRemovesFromProcessing(t *testing.T) {
	q := newTestQueue(t)
	job := NewJob("C1", "T1", "U1", "hi", "")
	if err := q.Submit(job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Claim(job.ID + ".json"); err != nil {
		t.Fatal(err)
	}
	raw, err := q.ReadProcessing(job.ID + ".json")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Fail(job.ID+".json", raw, errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(q.base, dirFailed, job.ID+".json"))
	if err != nil {
		t.Fatalf("read failed record: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["error"] != "boom" {
		t.Fatalf("expected error field = boom, got %v", out["error"])
	}
	if out["failed_at"] == nil {
		t.Fatal("expected failed_at to be set")
	}
	if out["id"] != job.ID {
		t.Fatalf("expected original fields to be preserved, got %v", out["id"])
	}

	st, err := q.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Failed != 1 || st.Processing != 0 {
		t.Fatalf("unexpected status after fail: %+v", st)
	}
}

func TestRecoverCrashedMovesBackToPending(t *testing.T) {
	q := newTestQueue(t)
	job := NewJob("C1", "T1", "U1", "hi", "")
	if err := q.Submit(job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Claim(job.ID + ".json"); err != nil {
		t.Fatal(err)
	}

	n, err := q.RecoverCrashed()
	if err != nil {
		t.Fatalf("RecoverCrashed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered job, got %d", n)
	}
	st, err := q.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 1 || st.Processing != 0 {
		t.Fatalf("unexpected status after recovery: %+v", st)
	}
}

func TestRecoverCrashedIsIdempotent(t *testing.T) {
	q := newTestQueue(t)
	n, err := q.RecoverCrashed()
	if err != nil || n != 0 {
		t.Fatalf("expected no-op on empty processing/, got n=%d err=%v", n, err)
	}
	n, err = q.RecoverCrashed()
	if err != nil || n != 0 {
		t.Fatalf("expected repeated no-op, got n=%d err=%v", n, err)
	}
}

func TestJobValidateReportsMissingFields(t *testing.T) {
	job := &Job{ID: "x"}
	err := job.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestNotificationShapeDetection(t *testing.T) {
	n := NewNotification("C1", "hello")
	if !n.IsNotification() {
		t.Fatal("expected notification shape to be detected")
	}
	a := NewJob("C1", "T1", "U1", "prompt", "")
	if a.IsNotification() {
		t.Fatal("agent job should not be classified as a notification")
	}
}
