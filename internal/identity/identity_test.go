package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fathomrelay/jend/internal/errs"
)

func TestLoadOrGenerateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_secret.key")

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (generate): %v", err)
	}

	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (load): %v", err)
	}

	if first.Public != second.Public {
		t.Fatalf("expected same public key across calls, got %s and %s", first.Public, second.Public)
	}
}

func TestLoadOrGeneratePersistsExactly32Bytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_secret.key")

	if _, err := LoadOrGenerate(path); err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 32 {
		t.Fatalf("expected a 32-byte secret key file, got %d bytes", len(data))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadOrGenerateLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_secret.key")

	if _, err := LoadOrGenerate(path); err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 1 || names[0] != "node_secret.key" {
		t.Fatalf("expected only node_secret.key in dir, got %v", names)
	}
}

func TestSignVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_secret.key")
	id, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}

	msg := []byte("pairing confirmation")
	sig := id.Sign(msg)
	if !Verify(id.Public, msg, sig) {
		t.Fatal("expected signature to verify against own public key")
	}
	if Verify(id.Public, []byte("tampered"), sig) {
		t.Fatal("expected signature to fail against tampered message")
	}
}

func TestParseEndpointIDRejectsBadInput(t *testing.T) {
	if _, err := ParseEndpointID("not-hex"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := ParseEndpointID("abcd"); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestLoadOrGenerateRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_secret.key")
	if err := os.WriteFile(path, []byte("not 32 raw bytes"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadOrGenerate(path)
	if err == nil {
		t.Fatal("expected error loading corrupt identity file")
	}
	var identErr *errs.IdentityError
	if !errors.As(err, &identErr) {
		t.Fatalf("expected *errs.IdentityError, got %T", err)
	}
	if !errors.Is(err, errs.ErrIdentityCorrupt) {
		t.Fatalf("expected errors.Is to match ErrIdentityCorrupt, got kind %v", identErr.Kind)
	}
}
