// Package audit persists a rolling JSONL history of completed and
// failed transfer sessions (C10), for diagnostics and the "transfer
// history" surface a GUI shell would read. One entry is written per
// terminal TransferSession, covering every file the session carried.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gofrs/flock"
)

// AuditEntry is one row of session history, per spec.md §4.10.
type AuditEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Role           string    `json:"role"` // "sender" or "receiver"
	PeerDisplayName string   `json:"peer_display_name"`
	FileCount      int       `json:"file_count"`
	TotalBytes     int64     `json:"total_bytes"`
	Status         string    `json:"status"` // "completed", "cancelled", "failed"
	Error          string    `json:"error,omitempty"`
	Duration       float64   `json:"duration_seconds"`
}

var logPathOverride string

// SetLogPathOverride sets a custom path for the log file (for testing).
func SetLogPathOverride(path string) {
	logPathOverride = path
}

// GetLogPath returns the path to the history log file.
func GetLogPath() (string, error) {
	if logPathOverride != "" {
		return logPathOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".jend")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.jsonl"), nil
}

func getLockPath() (string, error) {
	logPath, err := GetLogPath()
	if err != nil {
		return "", err
	}
	return logPath + ".lock", nil
}

// withLock executes action with an exclusive file lock.
func withLock(action func() error) error {
	lockPath, err := getLockPath()
	if err != nil {
		return err
	}

	fileLock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out waiting for history lock")
	}
	defer fileLock.Unlock()

	return action()
}

// withReadLock executes action with a shared read lock.
func withReadLock(action func() error) error {
	lockPath, err := getLockPath()
	if err != nil {
		return err
	}

	fileLock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := fileLock.TryRLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire read lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out waiting for history read lock")
	}
	defer fileLock.Unlock()

	return action()
}

// WriteEntry appends a completed session's entry to the history file,
// pruning to the last 1000 entries once that cap is reached.
func WriteEntry(entry AuditEntry) error {
	return withLock(func() error {
		path, err := GetLogPath()
		if err != nil {
			return err
		}

		if entry.ID == "" {
			entry.ID = petname.Generate(2, "-")
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}

		entries, err := loadHistoryInternal(path)
		if err == nil && len(entries) >= 1000 {
			all := append([]AuditEntry{entry}, entries...)
			sort.Slice(all, func(i, j int) bool {
				return all[i].Timestamp.After(all[j].Timestamp)
			})
			return rewriteHistoryInternal(path, all[:1000])
		}

		return appendEntryInternal(path, entry)
	})
}

// RewriteHistory overwrites the log file with the provided entries.
func RewriteHistory(entries []AuditEntry) error {
	return withLock(func() error {
		path, err := GetLogPath()
		if err != nil {
			return err
		}
		return rewriteHistoryInternal(path, entries)
	})
}

// ClearHistory deletes the history log file.
func ClearHistory() error {
	return withLock(func() error {
		path, err := GetLogPath()
		if err != nil {
			return err
		}
		err = os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

// GetEntry finds a specific entry by ID (prefix match supported).
func GetEntry(id string) (AuditEntry, error) {
	var found AuditEntry
	err := withReadLock(func() error {
		path, err := GetLogPath()
		if err != nil {
			return err
		}
		entries, err := loadHistoryInternal(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if strings.HasPrefix(e.ID, id) {
				found = e
				return nil
			}
		}
		return fmt.Errorf("entry not found: %s", id)
	})
	return found, err
}

// LoadHistory reads all entries from the history file, newest first.
func LoadHistory() ([]AuditEntry, error) {
	var entries []AuditEntry
	err := withReadLock(func() error {
		path, err := GetLogPath()
		if err != nil {
			return err
		}

		var loadErr error
		entries, loadErr = loadHistoryInternal(path)
		return loadErr
	})
	return entries, err
}

// Internal helpers (NO LOCKING) below this line.

func loadHistoryInternal(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditEntry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	return entries, scanner.Err()
}

func rewriteHistoryInternal(path string, entries []AuditEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for i := len(entries) - 1; i >= 0; i-- {
		data, err := json.Marshal(entries[i])
		if err != nil {
			continue
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func appendEntryInternal(path string, entry AuditEntry) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = f.Write(append(data, '\n'))
	return err
}
