// Package hasher computes BLAKE3 content digests for files (C3). It
// mirrors the warehouse package's habit of streaming through a
// blake3.New hash-writer, but reads the source via mmap when possible
// instead of a plain io.Copy, since whole-file digesting benefits from
// letting the kernel page the file in rather than copying it through a
// Go-side buffer. Small files and non-Unix platforms fall back to a
// buffered read.
package hasher

import (
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"

	"github.com/fathomrelay/jend/internal/errs"
)

// mmapThreshold is the file size at or above which mmap is attempted; below
// it the syscall overhead isn't worth it.
const mmapThreshold = 1 << 16 // 64 KiB

const bufSize = 256 * 1024

// Digest is the hex-encoded BLAKE3-256 digest of the given file.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &errs.IoError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &errs.IoError{Op: "stat", Path: path, Err: err}
	}

	h := blake3.New(32, nil)
	size := info.Size()

	if size >= mmapThreshold {
		if err := hashMmap(f, size, h); err == nil {
			return hex.EncodeToString(h.Sum(nil)), nil
		}
		// mmap failed (e.g. non-Unix, or the file is on a filesystem
		// that doesn't support it); fall through to buffered read.
		h = blake3.New(32, nil)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", &errs.IoError{Op: "seek", Path: path, Err: err}
		}
	}

	if err := hashBuffered(f, h); err != nil {
		return "", &errs.IoError{Op: "read", Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBuffered(r io.Reader, h io.Writer) error {
	buf := make([]byte, bufSize)
	_, err := io.CopyBuffer(h, r, buf)
	return err
}

// Verify reports whether the file at path has the given hex-encoded
// BLAKE3 digest, returning an IntegrityError naming the mismatch if not.
func Verify(path, wantDigest string) error {
	got, err := Digest(path)
	if err != nil {
		return err
	}
	if got != wantDigest {
		return &errs.IntegrityError{File: path, Declared: wantDigest, Actual: got}
	}
	return nil
}
