// Package xfer implements the QUIC transfer session protocol (C5) and
// the bounded-concurrency orchestrator that drives it (C6): SessionBegin
// through SessionEnd/Cancel, one unidirectional data stream per file,
// BLAKE3 digests checked by re-reading each received file once it is
// written (no digest is computed while the bytes stream in), and
// collision-avoided renames on success.
package xfer

import (
	"context"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// SessionState is a TransferSession's position in its state machine,
// spec.md §4.5: Proposed -> Accepted -> Streaming -> (Completed |
// Cancelled | Failed), with Rejected terminal from Proposed.
type SessionState int

const (
	StateProposed SessionState = iota
	StateAccepted
	StateRejected
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Policy bounds what a session may ask for, enforced by the receiver at
// SessionAck time per spec.md §4.5.
type Policy struct {
	MaxTotalBytes int64
	MaxFiles      int
}

// DefaultPolicy matches spec.md's 10 GiB / 10,000 file session caps.
func DefaultPolicy() Policy {
	return Policy{
		MaxTotalBytes: 10 * (1 << 30),
		MaxFiles:      10000,
	}
}

// bufSize bounds every read/write regardless of QUIC's flow-control
// window, per spec.md §4.5.
const bufSize = 256 * 1024

// cancelGrace is how long cooperative cancellation is given to finish
// before watchCancelGrace force-closes the session's control stream;
// the QUIC connection itself is not closed.
const cancelGrace = 5 * time.Second

// cancelStreamCode is the QUIC application error code carried on the
// CancelWrite/CancelRead (stop_sending/reset) issued against a file's
// data stream when its session is cancelled.
const cancelStreamCode quic.StreamErrorCode = 1

// watchCancelGrace force-closes control once sessionCtx is cancelled and
// the session hasn't wound itself down within cancelGrace, so a peer that
// stops cooperating after a Cancel frame doesn't block this side forever.
// done must be closed when the session loop returns.
func watchCancelGrace(sessionCtx context.Context, done <-chan struct{}, control Stream) {
	go func() {
		select {
		case <-sessionCtx.Done():
		case <-done:
			return
		}
		timer := time.NewTimer(cancelGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			control.Close()
		case <-done:
		}
	}()
}

// FileOutcome is one file's result within a completed TransferSession.
type FileOutcome struct {
	Index       int
	LogicalName string
	Size        int64
	OK          bool
	Reason      string
}

// Result is what a Send or Receive call returns once a session reaches
// a terminal state.
type Result struct {
	SessionID string
	State     SessionState
	Files     []FileOutcome
}

// Completed reports whether every file in the result succeeded, per
// spec.md §4.6's "Completed iff every file reached FileAck.ok=true".
func (r *Result) Completed() bool {
	if r.State != StateCompleted {
		return false
	}
	for _, f := range r.Files {
		if !f.OK {
			return false
		}
	}
	return true
}

// sessionRegistry tracks the controlChannel backing every session
// currently streaming in this process, keyed by SessionID, so an
// external caller can actively cancel one by ID without needing a
// reference to its Send/Receive goroutine.
var (
	sessionRegistryMu sync.Mutex
	sessionRegistry   = map[string]*controlChannel{}
)

func registerSession(id string, cc *controlChannel) {
	sessionRegistryMu.Lock()
	sessionRegistry[id] = cc
	sessionRegistryMu.Unlock()
}

func unregisterSession(id string) {
	sessionRegistryMu.Lock()
	delete(sessionRegistry, id)
	sessionRegistryMu.Unlock()
}

// CancelSession actively aborts the running session with the given ID:
// it sends a Cancel frame to the peer and tears down this side's own
// session loop, which in turn issues stop_sending/reset on every
// in-flight data stream (see sendOneFile/receiveOneFile). It reports
// false if no session with that ID is currently streaming in this
// process.
func CancelSession(sessionID, reason string) bool {
	sessionRegistryMu.Lock()
	cc, ok := sessionRegistry[sessionID]
	sessionRegistryMu.Unlock()
	if !ok {
		return false
	}
	cc.sendCancel(reason)
	return true
}
