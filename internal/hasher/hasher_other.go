//go:build !unix

package hasher

import (
	"io"
	"os"
)

// hashMmap has no portable equivalent on this platform; Digest always
// falls back to hashBuffered here.
func hashMmap(f *os.File, size int64, h io.Writer) error {
	return errUnsupported
}

var errUnsupported = &notSupportedError{}

type notSupportedError struct{}

func (*notSupportedError) Error() string { return "hasher: mmap not supported on this platform" }
