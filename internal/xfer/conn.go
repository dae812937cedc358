package xfer

import (
	"context"
	"io"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fathomrelay/jend/internal/transport"
)

// Stream is the control-stream surface xfer needs: a deadline-bearing
// bidirectional byte stream, matching internal/pairing's Stream, plus
// Close so a grace-period timeout can force the stream's reader to wake
// with an error instead of waiting forever on a peer that never replies.
type Stream interface {
	io.Reader
	io.Writer
	SetDeadline(t time.Time) error
	Close() error
}

// DataSendStream is one file's outbound unidirectional data stream.
// CancelWrite resets the stream (QUIC STOP_SENDING/RESET_STREAM) so an
// in-flight file transfer can be aborted immediately rather than waiting
// for the copy loop to notice a cancelled context, per spec.md §4.5.
type DataSendStream interface {
	io.Writer
	Close() error
	CancelWrite(quic.StreamErrorCode)
}

// DataReceiveStream is one file's inbound unidirectional data stream.
type DataReceiveStream interface {
	io.Reader
	CancelRead(quic.StreamErrorCode)
}

// Conn is the connection surface a transfer session runs over. It is
// satisfied by internal/transport.Connection via connAdapter below, and
// by fakes in tests.
type Conn interface {
	OpenBi(ctx context.Context) (Stream, error)
	AcceptBi(ctx context.Context) (Stream, error)
	OpenUni(ctx context.Context) (DataSendStream, error)
	AcceptUni(ctx context.Context) (DataReceiveStream, error)
}

// WrapConnection adapts a live QUIC connection to Conn.
func WrapConnection(c *transport.Connection) Conn {
	return &connAdapter{c: c}
}

type connAdapter struct {
	c *transport.Connection
}

func (a *connAdapter) OpenBi(ctx context.Context) (Stream, error)   { return a.c.OpenBi(ctx) }
func (a *connAdapter) AcceptBi(ctx context.Context) (Stream, error) { return a.c.AcceptBi(ctx) }

func (a *connAdapter) OpenUni(ctx context.Context) (DataSendStream, error) {
	return a.c.OpenUni(ctx)
}

func (a *connAdapter) AcceptUni(ctx context.Context) (DataReceiveStream, error) {
	return a.c.AcceptUni(ctx)
}
