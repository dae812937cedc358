// Package peerstore persists the PeerRecords produced by a successful
// pairing run (C9). It follows internal/audit's pattern of a flock-guarded
// JSON file under the user's config directory, trading audit's append-only
// JSONL for a single JSON array since peers are mutated (last_seen bumps,
// revocation) rather than only appended.
package peerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/fathomrelay/jend/internal/identity"
)

// PeerRecord is produced only by a successful pairing exchange.
type PeerRecord struct {
	EndpointID  string    `json:"endpoint_id"`
	DisplayName string    `json:"display_name"`
	PairedAt    time.Time `json:"paired_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Store is a file-backed collection of PeerRecords.
type Store struct {
	path string
}

// DefaultPath returns peers.json under the user's config directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".jend")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "peers.json"), nil
}

// Open returns a Store backed by the file at path. The file is created
// lazily on first write.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) lockPath() string { return s.path + ".lock" }

func (s *Store) withLock(ctx context.Context, action func() error) error {
	fl := flock.New(s.lockPath())
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("peerstore: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("peerstore: timed out waiting for lock")
	}
	defer fl.Unlock()
	return action()
}

func (s *Store) loadInternal() ([]PeerRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var peers []PeerRecord
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("peerstore: corrupt peers file: %w", err)
	}
	return peers, nil
}

func (s *Store) saveInternal(peers []PeerRecord) error {
	data, err := json.MarshalIndent(peers, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// All returns every known PeerRecord.
func (s *Store) All(ctx context.Context) ([]PeerRecord, error) {
	var out []PeerRecord
	err := s.withLock(ctx, func() error {
		var loadErr error
		out, loadErr = s.loadInternal()
		return loadErr
	})
	return out, err
}

// Get looks up a PeerRecord by EndpointID.
func (s *Store) Get(ctx context.Context, id identity.EndpointID) (PeerRecord, bool, error) {
	peers, err := s.All(ctx)
	if err != nil {
		return PeerRecord{}, false, err
	}
	for _, p := range peers {
		if p.EndpointID == id.String() {
			return p, true, nil
		}
	}
	return PeerRecord{}, false, nil
}

// Upsert inserts a new PeerRecord or updates an existing one's
// display_name/last_seen, keyed by EndpointID.
func (s *Store) Upsert(ctx context.Context, rec PeerRecord) error {
	return s.withLock(ctx, func() error {
		peers, err := s.loadInternal()
		if err != nil {
			return err
		}
		for i := range peers {
			if peers[i].EndpointID == rec.EndpointID {
				peers[i].DisplayName = rec.DisplayName
				peers[i].LastSeen = rec.LastSeen
				return s.saveInternal(peers)
			}
		}
		peers = append(peers, rec)
		return s.saveInternal(peers)
	})
}

// Touch bumps last_seen for an existing peer to now.
func (s *Store) Touch(ctx context.Context, id identity.EndpointID) error {
	return s.withLock(ctx, func() error {
		peers, err := s.loadInternal()
		if err != nil {
			return err
		}
		for i := range peers {
			if peers[i].EndpointID == id.String() {
				peers[i].LastSeen = time.Now()
				return s.saveInternal(peers)
			}
		}
		return fmt.Errorf("peerstore: unknown peer %s", id)
	})
}

// Revoke removes a PeerRecord, e.g. on user-initiated un-pairing.
func (s *Store) Revoke(ctx context.Context, id identity.EndpointID) error {
	return s.withLock(ctx, func() error {
		peers, err := s.loadInternal()
		if err != nil {
			return err
		}
		out := peers[:0]
		for _, p := range peers {
			if p.EndpointID != id.String() {
				out = append(out, p)
			}
		}
		return s.saveInternal(out)
	})
}
