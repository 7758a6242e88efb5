// Package deadletter mirrors failed/ into a queryable sqlite index, for
// operators who want to inspect dead-lettered jobs without walking the
// filesystem. It is not an authoritative store — failed/ remains the
// source of truth per spec.md §4.B — this is a best-effort side index.
//
// The database/sql + modernc.org/sqlite wiring (connection string,
// schema-apply-on-open, plain db.Exec/db.Query) is grounded on the
// teacher's TimelineService (internal/timeline/service.go).
package deadletter

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	channel TEXT,
	thread_ts TEXT,
	user TEXT,
	prompt TEXT,
	error TEXT,
	failed_at INTEGER,
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_job_id ON dead_letters(job_id);
`

// Record is one dead-lettered job, as mirrored from a failed/<id>.json
// file.
type Record struct {
	ID       int64
	JobID    string
	Channel  string
	ThreadTS string
	User     string
	Prompt   string
	Error    string
	FailedAt int64
	Recorded time.Time
}

// Index is the sqlite-backed dead-letter mirror.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index database at dbPath and applies its
// schema.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("deadletter: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("deadletter: apply schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Insert mirrors one failed job record into the index.
func (idx *Index) Insert(rec Record) error {
	_, err := idx.db.Exec(
		`INSERT INTO dead_letters (job_id, channel, thread_ts, user, prompt, error, failed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.Channel, rec.ThreadTS, rec.User, rec.Prompt, rec.Error, rec.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("deadletter: insert %s: %w", rec.JobID, err)
	}
	return nil
}

// List returns the most recently recorded dead letters, newest first,
// up to limit rows.
func (idx *Index) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := idx.db.Query(
		`SELECT id, job_id, COALESCE(channel,''), COALESCE(thread_ts,''), COALESCE(user,''), COALESCE(prompt,''), COALESCE(error,''), COALESCE(failed_at,0), recorded_at
		 FROM dead_letters ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("deadletter: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.JobID, &r.Channel, &r.ThreadTS, &r.User, &r.Prompt, &r.Error, &r.FailedAt, &r.Recorded); err != nil {
			return nil, fmt.Errorf("deadletter: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the total number of rows in the index, for the
// operator-facing "/status" endpoint's dead_letter_indexed field, per
// spec.md §4.B's ambient addition.
func (idx *Index) Count() (int, error) {
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("deadletter: count: %w", err)
	}
	return n, nil
}

// RecordFromRaw builds a Record from the raw map Queue.FailedRecords
// returns, tolerating whichever fields a given failed job happened to
// carry (notification-shaped jobs lack prompt/thread_ts entirely).
func RecordFromRaw(raw map[string]any) Record {
	return Record{
		JobID:    asString(raw["id"]),
		Channel:  asString(raw["channel"]),
		ThreadTS: asString(raw["thread_ts"]),
		User:     asString(raw["user"]),
		Prompt:   asString(raw["prompt"]),
		Error:    asString(raw["error"]),
		FailedAt: asInt64(raw["failed_at"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
