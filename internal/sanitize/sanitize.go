// Package sanitize turns a peer-supplied logical file name into a safe,
// collision-free name on the local filesystem (C2). It never trusts path
// separators, reserved device names, or null bytes coming off the wire.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var windowsReserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const replacement = "_"

// maxNameBytes is the longest a sanitized name may be, in UTF-8 bytes,
// per spec.md §4.2.
const maxNameBytes = 255

// ErrRejected is returned by FileName (and propagated by UniquePath) when
// a logical name has no safe representation: empty, ".", "..", a reserved
// device name, or over 255 UTF-8 bytes after cleaning. Per spec.md §8's
// Property 1, sanitize(b) is either Rejected or a valid single path
// element; this is the "Rejected" half of that contract.
var ErrRejected = errors.New("sanitize: name rejected")

// FileName strips path components and replaces characters that are
// unsafe on Windows, macOS, or Linux, so the result is a single safe
// path element on any of the three. Inputs with no safe representation
// are rejected rather than silently substituted.
func FileName(name string) (string, error) {
	// Strip any directory components the peer might have sent; only the
	// base element is ever trusted. Both separators are stripped
	// regardless of the local OS, since the peer may run a different one.
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%q: %w", name, ErrRejected)
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune(rune(replacement[0]))
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune(rune(replacement[0]))
		default:
			b.WriteRune(r)
		}
	}
	name = strings.TrimRight(b.String(), " .")
	if name == "" {
		return "", fmt.Errorf("sanitizes to empty: %w", ErrRejected)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if windowsReserved[strings.ToUpper(stem)] {
		return "", fmt.Errorf("%q is a reserved device name: %w", name, ErrRejected)
	}

	if utf8.RuneCountInString(name) > 0 && len(name) > maxNameBytes {
		return "", fmt.Errorf("exceeds %d bytes: %w", maxNameBytes, ErrRejected)
	}

	return name, nil
}

// UniquePath returns a path under dir for the sanitized form of name
// that does not currently exist, appending " (n)" before the extension
// on collision, mirroring how browsers and file managers avoid
// clobbering an existing download. It returns FileName's error, which
// wraps ErrRejected, if name has no safe representation.
func UniquePath(dir, name string) (string, error) {
	clean, err := FileName(name)
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(dir, clean)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(clean)
	stem := strings.TrimSuffix(clean, ext)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}
