// Package identity manages the local endpoint's long-lived Ed25519 key
// pair (C1). The key identifies this installation across pairing and
// transfer sessions; it is generated once and persisted under the user's
// config directory, locked the same way internal/audit and
// internal/peerstore guard their own files.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gofrs/flock"

	"github.com/fathomrelay/jend/internal/errs"
)

// EndpointID is the 32-byte public identity of an endpoint, hex-encoded
// on the wire and on disk.
type EndpointID [ed25519.PublicKeySize]byte

func (id EndpointID) String() string { return hex.EncodeToString(id[:]) }

// ParseEndpointID decodes a hex-encoded EndpointID.
func ParseEndpointID(s string) (EndpointID, error) {
	var id EndpointID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, &errs.IdentityError{Op: "parse", Reason: "not valid hex", Err: err}
	}
	if len(b) != len(id) {
		return id, &errs.IdentityError{Op: "parse", Reason: "wrong length for endpoint id"}
	}
	copy(id[:], b)
	return id, nil
}

// Identity is the local endpoint's key material plus its user-facing
// display name.
type Identity struct {
	Public      EndpointID
	Private     ed25519.PrivateKey
	DisplayName string
}

// secretFileMode is the only protection the on-disk secret gets, matching
// the teacher's treatment of its own on-disk config and history files.
const secretFileMode = 0600

// DefaultPath returns the identity secret's path under the user's config
// directory, mirroring internal/config's ~/.jend layout. Per spec.md
// §6.1, the file holds exactly the 32 raw secret-key bytes, nothing else.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &errs.IdentityError{Op: "locate", Reason: "no home directory", Kind: errs.IdentityKindIO, Err: err}
	}
	dir := filepath.Join(home, ".jend")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", &errs.IdentityError{Op: "locate", Path: dir, Reason: "cannot create config dir", Kind: errs.IdentityKindIO, Err: err}
	}
	return filepath.Join(dir, "node_secret.key"), nil
}

// LoadOrGenerate reads the 32-byte secret seed at path, generating and
// persisting a fresh one if the file does not exist. It is idempotent:
// calling it twice in a row returns the same public key both times. The
// display name is not part of the on-disk format and is regenerated fresh
// on every call.
func LoadOrGenerate(path string) (*Identity, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, &errs.IdentityError{Op: "lock", Path: path, Reason: "cannot acquire identity lock", Kind: errs.IdentityKindIO, Err: err}
	}
	defer lock.Unlock()

	seed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return generateAndSave(path)
		}
		return nil, &errs.IdentityError{Op: "load", Path: path, Reason: "cannot read identity file", Kind: errs.IdentityKindIO, Err: err}
	}

	if len(seed) != ed25519.SeedSize {
		return nil, &errs.IdentityError{Op: "load", Path: path, Reason: "secret key file has the wrong length", Kind: errs.IdentityKindCorrupt}
	}

	priv := ed25519.NewKeyFromSeed(seed)
	var id EndpointID
	copy(id[:], priv.Public().(ed25519.PublicKey))

	return &Identity{
		Public:      id,
		Private:     priv,
		DisplayName: defaultDisplayName(),
	}, nil
}

// generateAndSave draws a fresh 32-byte secret seed, writes it to path via
// a temp-file-then-rename (spec.md §4.1's atomic-write requirement), and
// derives the full key pair from it.
func generateAndSave(path string) (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, &errs.IdentityError{Op: "generate", Reason: "key generation failed", Kind: errs.IdentityKindIO, Err: err}
	}

	if err := writeFileAtomic(path, seed, secretFileMode); err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(seed)
	var id EndpointID
	copy(id[:], priv.Public().(ed25519.PublicKey))

	return &Identity{Public: id, Private: priv, DisplayName: defaultDisplayName()}, nil
}

// writeFileAtomic writes data to a temp file in path's directory, locks
// down its permissions, then renames it into place so a concurrent reader
// (or a crash mid-write) never observes a partial secret.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errs.IdentityError{Op: "save", Path: path, Reason: "cannot create temp file", Kind: errs.IdentityKindIO, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &errs.IdentityError{Op: "save", Path: path, Reason: "cannot write temp file", Kind: errs.IdentityKindIO, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &errs.IdentityError{Op: "save", Path: path, Reason: "cannot close temp file", Kind: errs.IdentityKindIO, Err: err}
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return &errs.IdentityError{Op: "save", Path: path, Reason: "cannot set secret key permissions", Kind: errs.IdentityKindPermissionsUnsettable, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &errs.IdentityError{Op: "save", Path: path, Reason: "cannot install identity file", Kind: errs.IdentityKindIO, Err: err}
	}
	return nil
}

// defaultDisplayName produces a human-legible default like the teacher's
// audit entry IDs, e.g. "quiet-meadow", so a fresh endpoint is
// identifiable during pairing before the user sets a name of their own.
func defaultDisplayName() string {
	return petname.Generate(2, "-")
}

// Sign produces a detached Ed25519 signature over data, used to
// authenticate pairing confirmations.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.Private, data)
}

// Verify checks a detached Ed25519 signature against a peer's EndpointID.
func Verify(peer EndpointID, data, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(peer[:]), data, sig)
}
