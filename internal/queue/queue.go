package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirFailed     = "failed"
)

// Queue is the four-directory on-disk work queue described in spec.md
// §4.B. A job's residence directory is its state; no in-file status flag
// is authoritative.
type Queue struct {
	base string
}

// New creates (or opens) a Queue rooted at base, ensuring all four
// lifecycle directories exist.
func New(base string) (*Queue, error) {
	q := &Queue{base: strings.TrimSpace(base)}
	if q.base == "" {
		return nil, fmt.Errorf("queue: empty base path")
	}
	if err := q.ensureDirs(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureDirs() error {
	for _, d := range []string{dirPending, dirProcessing, dirCompleted, dirFailed} {
		if err := os.MkdirAll(filepath.Join(q.base, d), 0o700); err != nil {
			return fmt.Errorf("queue: create %s: %w", d, err)
		}
	}
	return nil
}

func (q *Queue) dir(name string) string { return filepath.Join(q.base, name) }

// Submit serializes job to a temp file and renames it into pending/,
// making it visible atomically, per spec.md §4.B "Atomic submission".
func (q *Queue) Submit(job *Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", job.ID, err)
	}
	tmp := filepath.Join(q.base, job.ID+".tmp.json")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("queue: write temp for job %s: %w", job.ID, err)
	}
	dest := filepath.Join(q.dir(dirPending), job.ID+".json")
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("queue: rename job %s into pending: %w", job.ID, err)
	}
	return nil
}

// ListPending returns the *.json filenames currently in pending/, in
// whatever order the OS directory listing returns them. Per spec.md §4.C,
// no FIFO ordering is promised.
func (q *Queue) ListPending() ([]string, error) {
	return listJSONFiles(q.dir(dirPending))
}

func listJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("queue: list %s: %w", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// Claim attempts to move filename from pending/ to processing/. A lost
// race — another worker already claimed or removed it — is reported via
// ok=false with a nil error, per spec.md §4.B "Atomic claim".
func (q *Queue) Claim(filename string) (ok bool, err error) {
	src := filepath.Join(q.dir(dirPending), filename)
	dst := filepath.Join(q.dir(dirProcessing), filename)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if _, statErr := os.Stat(src); os.IsNotExist(statErr) {
			return false, nil
		}
		return false, fmt.Errorf("queue: claim %s: %w", filename, err)
	}
	return true, nil
}

// ReadProcessing reads and json-decodes the claimed job file as a raw map,
// preserving unknown fields so Fail can echo them back per the "{...orig,
// error, failed_at}" shape in spec.md §4.C.
func (q *Queue) ReadProcessing(filename string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(q.dir(dirProcessing), filename))
	if err != nil {
		return nil, fmt.Errorf("queue: read processing/%s: %w", filename, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("queue: parse processing/%s: %w", filename, err)
	}
	return raw, nil
}

// Complete overwrites processing/<filename> with job's final JSON, then
// renames it into completed/.
func (q *Queue) Complete(filename string, job *Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal completed job: %w", err)
	}
	processingPath := filepath.Join(q.dir(dirProcessing), filename)
	if err := os.WriteFile(processingPath, data, 0o600); err != nil {
		return fmt.Errorf("queue: write completed job %s: %w", filename, err)
	}
	dest := filepath.Join(q.dir(dirCompleted), filename)
	if err := os.Rename(processingPath, dest); err != nil {
		return fmt.Errorf("queue: rename %s into completed: %w", filename, err)
	}
	return nil
}

// Fail writes orig merged with error and failed_at into failed/<filename>
// and removes processing/<filename>, per spec.md §4.B "Terminal
// placement".
func (q *Queue) Fail(filename string, orig map[string]any, jobErr error) error {
	out := make(map[string]any, len(orig)+2)
	for k, v := range orig {
		out[k] = v
	}
	out["error"] = jobErr.Error()
	out["failed_at"] = nowMillis()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal failed job: %w", err)
	}
	if err := os.WriteFile(filepath.Join(q.dir(dirFailed), filename), data, 0o600); err != nil {
		return fmt.Errorf("queue: write failed/%s: %w", filename, err)
	}
	if err := os.Remove(filepath.Join(q.dir(dirProcessing), filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("queue: remove processing/%s: %w", filename, err)
	}
	return nil
}

// RecoverCrashed renames every *.json file found in processing/ back into
// pending/, per spec.md §4.B "Crash recovery". It is idempotent: calling
// it again with an empty processing/ has no effect.
func (q *Queue) RecoverCrashed() (int, error) {
	files, err := listJSONFiles(q.dir(dirProcessing))
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, f := range files {
		src := filepath.Join(q.dir(dirProcessing), f)
		dst := filepath.Join(q.dir(dirPending), f)
		if err := os.Rename(src, dst); err != nil {
			return recovered, fmt.Errorf("queue: recover %s: %w", f, err)
		}
		recovered++
	}
	return recovered, nil
}

// Status is a point-in-time snapshot of queue depth by directory, per
// spec.md §4.B "Status snapshot".
type Status struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Status counts the *.json files in each lifecycle directory.
func (q *Queue) Status() (Status, error) {
	var st Status
	for dirName, dst := range map[string]*int{
		dirPending: &st.Pending, dirProcessing: &st.Processing,
		dirCompleted: &st.Completed, dirFailed: &st.Failed,
	} {
		files, err := listJSONFiles(q.dir(dirName))
		if err != nil {
			return st, err
		}
		*dst = len(files)
	}
	return st, nil
}

// FailedRecords reads every file under failed/ as a raw map, for the
// operator-facing "queue failed" listing.
func (q *Queue) FailedRecords() ([]map[string]any, error) {
	files, err := listJSONFiles(q.dir(dirFailed))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(q.dir(dirFailed), f))
		if err != nil {
			continue
		}
		var raw map[string]any
		if json.Unmarshal(data, &raw) == nil {
			out = append(out, raw)
		}
	}
	return out, nil
}
