package peerstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fathomrelay/jend/internal/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "peers.json"))
}

func TestUpsertThenGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var id identity.EndpointID
	id[0] = 0xAB
	rec := PeerRecord{
		EndpointID:  id.String(),
		DisplayName: "quiet-meadow",
		PairedAt:    time.Now(),
		LastSeen:    time.Now(),
	}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected peer to be found")
	}
	if got.DisplayName != "quiet-meadow" {
		t.Fatalf("DisplayName = %q", got.DisplayName)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var id identity.EndpointID
	id[0] = 0x01
	base := PeerRecord{EndpointID: id.String(), DisplayName: "a", PairedAt: time.Now(), LastSeen: time.Now()}
	if err := s.Upsert(ctx, base); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	base.DisplayName = "b"
	if err := s.Upsert(ctx, base); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 peer after update, got %d", len(all))
	}
	if all[0].DisplayName != "b" {
		t.Fatalf("DisplayName = %q, want b", all[0].DisplayName)
	}
}

func TestRevokeRemovesPeer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var id identity.EndpointID
	id[0] = 0x02
	if err := s.Upsert(ctx, PeerRecord{EndpointID: id.String(), PairedAt: time.Now(), LastSeen: time.Now()}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Revoke(ctx, id); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, ok, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected peer to be gone after revoke")
	}
}

func TestGetUnknownPeer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var id identity.EndpointID
	_, ok, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected not found for empty store")
	}
}
