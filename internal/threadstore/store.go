// Package threadstore persists per-thread Slack transcripts as JSON files,
// one per thread, with atomic writes and per-thread serialized updates.
//
// The persistence shape is grounded on the teacher's session.Manager
// (internal/session/session.go): a directory of files keyed by an opaque
// conversation id, an in-process cache, and a mutex-guarded critical
// section around every write. Unlike the teacher's JSON-Lines session log,
// a thread transcript is rewritten whole on every update (one JSON object
// per file) so readers never observe a torn message list.
package threadstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ThreadMessage is one utterance in a transcript.
type ThreadMessage struct {
	Role string `json:"role"`
	Name string `json:"name"`
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// ThreadFile is the durable transcript for one Slack thread.
type ThreadFile struct {
	ThreadTS     string          `json:"thread_ts"`
	Channel      string          `json:"channel"`
	MessageCount int             `json:"message_count"`
	Messages     []ThreadMessage `json:"messages"`
	Summary      string          `json:"summary,omitempty"`
	Reseeded     *bool           `json:"reseeded,omitempty"`
}

// dedupWindow is how many of the most recent messages are checked for a
// duplicate ts before appending, per spec.md §4.A.
const dedupWindow = 5

// BridgeAssistantName is the display name recorded for the bridge's own
// assistant-role replies.
const BridgeAssistantName = "pai-slack-bridge"

// Store is a directory of per-thread transcript files with an in-process
// lock keyed by thread_ts, guarding read-modify-write races within this
// process only (spec.md §4.A "Per-thread serialization").
type Store struct {
	dir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if absent.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("threadstore: empty base directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("threadstore: create base dir: %w", err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) lockFor(threadTS string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[threadTS]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadTS] = l
	}
	return l
}

func (s *Store) path(threadTS string) string {
	return filepath.Join(s.dir, safeFileStem(threadTS)+".json")
}

func (s *Store) tmpPath(threadTS string) string {
	return filepath.Join(s.dir, safeFileStem(threadTS)+".tmp.json")
}

// safeFileStem strips path separators from an otherwise-opaque thread id
// so it cannot escape the store directory.
func safeFileStem(threadTS string) string {
	stem := strings.TrimSpace(threadTS)
	stem = strings.ReplaceAll(stem, "/", "_")
	stem = strings.ReplaceAll(stem, "\\", "_")
	stem = strings.ReplaceAll(stem, "..", "_")
	return filepath.Base(stem)
}

// Load returns the parsed ThreadFile for threadTS, or ok=false if it is
// absent or unreadable. Per spec.md §4.A this is best-effort: any read or
// parse error is treated as "absent", never surfaced as an error.
func (s *Store) Load(threadTS string) (*ThreadFile, bool) {
	data, err := os.ReadFile(s.path(threadTS))
	if err != nil {
		return nil, false
	}
	var tf ThreadFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, false
	}
	return &tf, true
}

// Save writes file to disk atomically: serialize to a temp file in the
// store directory, then rename over the final path. Readers always see
// either the prior snapshot or the new one, never a partial write.
func (s *Store) Save(file *ThreadFile) error {
	if file == nil {
		return fmt.Errorf("threadstore: save: nil file")
	}
	file.MessageCount = len(file.Messages)
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("threadstore: marshal %s: %w", file.ThreadTS, err)
	}
	tmp := s.tmpPath(file.ThreadTS)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("threadstore: write temp for %s: %w", file.ThreadTS, err)
	}
	if err := os.Rename(tmp, s.path(file.ThreadTS)); err != nil {
		return fmt.Errorf("threadstore: rename into place for %s: %w", file.ThreadTS, err)
	}
	return nil
}

// Append adds msg to the thread's transcript, serialized per thread_ts.
// It creates the file if absent, and is a no-op if msg.TS matches one of
// the last dedupWindow stored entries. The post-append file is returned
// in either case.
func (s *Store) Append(threadTS, channel string, msg ThreadMessage) (*ThreadFile, error) {
	lock := s.lockFor(threadTS)
	lock.Lock()
	defer lock.Unlock()

	file, ok := s.Load(threadTS)
	if !ok {
		file = &ThreadFile{ThreadTS: threadTS, Channel: channel}
	}
	if isDuplicateInWindow(file.Messages, msg.TS) {
		return file, nil
	}
	file.Messages = append(file.Messages, msg)
	if file.Channel == "" {
		file.Channel = channel
	}
	if err := s.Save(file); err != nil {
		return nil, err
	}
	return file, nil
}

func isDuplicateInWindow(messages []ThreadMessage, ts string) bool {
	if ts == "" {
		return false
	}
	start := len(messages) - dedupWindow
	if start < 0 {
		start = 0
	}
	for _, m := range messages[start:] {
		if m.TS == ts {
			return true
		}
	}
	return false
}

// ReplySource is the narrow slice of the chat-platform client that seeding
// needs: listing thread replies and resolving a user id to a display name.
// Implemented by internal/slackclient.Client; kept local and minimal here
// so threadstore has no dependency on the Slack transport.
type ReplySource interface {
	ListReplies(ctx context.Context, channel, ts string, limit int) ([]PlatformMessage, error)
	DescribeUser(ctx context.Context, userID string) (string, error)
}

// PlatformMessage is one reply as reported by the chat platform, per
// spec.md §6's list_replies contract.
type PlatformMessage struct {
	TS    string
	User  string
	BotID string
	Text  string
}

const seedReplyLimit = 20

// SeedFromPlatform fetches up to seedReplyLimit replies for threadTS from
// the chat platform, classifies each per spec.md §4.A, and persists the
// resulting ThreadFile (overwriting any prior on-disk state).
func (s *Store) SeedFromPlatform(ctx context.Context, threadTS, channel, bridgeBotID string, client ReplySource) (*ThreadFile, error) {
	lock := s.lockFor(threadTS)
	lock.Lock()
	defer lock.Unlock()

	replies, err := client.ListReplies(ctx, channel, threadTS, seedReplyLimit)
	if err != nil {
		return nil, fmt.Errorf("threadstore: seed %s: list replies: %w", threadTS, err)
	}

	nameCache := make(map[string]string)
	file := &ThreadFile{ThreadTS: threadTS, Channel: channel}
	for _, reply := range replies {
		msg, ok := classifySeedMessage(ctx, reply, bridgeBotID, client, nameCache)
		if !ok {
			continue
		}
		file.Messages = append(file.Messages, msg)
	}
	if err := s.Save(file); err != nil {
		return nil, err
	}
	return file, nil
}

func classifySeedMessage(ctx context.Context, reply PlatformMessage, bridgeBotID string, client ReplySource, nameCache map[string]string) (ThreadMessage, bool) {
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return ThreadMessage{}, false
	}
	if reply.User != "" && reply.User == bridgeBotID {
		return ThreadMessage{Role: "assistant", Name: BridgeAssistantName, Text: text, TS: reply.TS}, true
	}
	if reply.BotID != "" {
		// A different bot's message: dropped per spec.md §4.A.
		return ThreadMessage{}, false
	}
	if reply.User == "" {
		// No user and no bot_id: dropped per spec.md §9's open question.
		return ThreadMessage{}, false
	}
	name, ok := nameCache[reply.User]
	if !ok {
		resolved, err := client.DescribeUser(ctx, reply.User)
		if err != nil || strings.TrimSpace(resolved) == "" {
			name = reply.User
		} else {
			name = resolved
		}
		nameCache[reply.User] = name
	}
	return ThreadMessage{Role: "user", Name: name, Text: text, TS: reply.TS}, true
}

// Cleanup deletes transcript files whose modification time is older than
// now-maxAge, returning the number of files removed. Per-file errors are
// swallowed since a file may be racing with another writer.
func (s *Store) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp.json") {
			continue
		}
		fullPath := filepath.Join(s.dir, name)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(fullPath); err != nil {
			continue
		}
		removed++
		threadTS := strings.TrimSuffix(name, ".json")
		s.locksMu.Lock()
		delete(s.locks, threadTS)
		s.locksMu.Unlock()
	}
	return removed
}
