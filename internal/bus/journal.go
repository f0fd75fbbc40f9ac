package bus

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/pkg/errors"
)

// JournalEntry is one event as written to the journal.
type JournalEntry struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal appends published events to a JSON lines file so a window of
// governance traffic can be inspected or replayed after the fact.
type Journal struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	now     func() time.Time
}

// OpenJournal opens path for appending, creating it and its directory.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New(errors.CodeValidation, "journal path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
		now:     time.Now,
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append writes one event.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New(errors.CodeUnavailable, "journal is closed")
	}

	entry := JournalEntry{
		Event:     event,
		Topic:     topic,
		Timestamp: j.now(),
	}
	if err := j.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	return nil
}

// Entries reads entries written after since, oldest first. A positive limit
// caps the result. Malformed lines are skipped.
func (j *Journal) Entries(since time.Time, limit int) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)

	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !entry.Timestamp.After(since) {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return entries, nil
}

// Replay republishes entries written after since to bus, in order.
func (j *Journal) Replay(ctx context.Context, bus Bus, since time.Time) (int, error) {
	entries, err := j.Entries(since, 0)
	if err != nil {
		return 0, err
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := bus.Publish(ctx, entry.Topic, entry.Event); err != nil {
			return i, fmt.Errorf("failed to replay event %s: %w", entry.Event.ID, err)
		}
	}
	return len(entries), nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.encoder = nil
	if err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}
