package xfer

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/fathomrelay/jend/internal/errs"
	"github.com/fathomrelay/jend/pkg/protocol"
)

// controlTimeout bounds a single control-frame write; reads are bounded
// by the caller's context instead, since a receiver may legitimately
// wait a long time between files.
const controlTimeout = 30 * time.Second

// controlChannel demultiplexes the shared control stream so that up to
// K files in flight can each wait for their own FileBegin/FileEnd/
// FileAck without blocking one another, while SessionBegin/SessionAck/
// SessionEnd/Cancel are each delivered once.
type controlChannel struct {
	stream  Stream
	writeMu sync.Mutex

	mu        sync.Mutex
	beginWait map[int]chan protocol.FileBegin
	endWait   map[int]chan protocol.FileEnd
	ackWait   map[int]chan protocol.FileAck

	sessionBeginCh chan protocol.SessionBegin
	sessionAckCh   chan protocol.SessionAck
	sessionEndCh   chan protocol.SessionEnd
	cancelCh       chan protocol.Cancel

	errCh  chan error
	closed chan struct{}
	once   sync.Once

	localCancel context.CancelFunc
}

func newControlChannel(s Stream) *controlChannel {
	cc := &controlChannel{
		stream:         s,
		beginWait:      make(map[int]chan protocol.FileBegin),
		endWait:        make(map[int]chan protocol.FileEnd),
		ackWait:        make(map[int]chan protocol.FileAck),
		sessionBeginCh: make(chan protocol.SessionBegin, 1),
		sessionAckCh:   make(chan protocol.SessionAck, 1),
		sessionEndCh:   make(chan protocol.SessionEnd, 1),
		cancelCh:       make(chan protocol.Cancel, 1),
		errCh:          make(chan error, 1),
		closed:         make(chan struct{}),
	}
	go cc.readLoop()
	return cc
}

func (cc *controlChannel) readLoop() {
	for {
		pType, length, err := protocol.DecodeHeader(cc.stream)
		if err != nil {
			cc.fail(err)
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(cc.stream, body); err != nil {
			cc.fail(err)
			return
		}

		switch pType {
		case protocol.TypeSessionBegin:
			var m protocol.SessionBegin
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.sessionBeginCh <- m
		case protocol.TypeSessionAck:
			var m protocol.SessionAck
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.sessionAckCh <- m
		case protocol.TypeFileBegin:
			var m protocol.FileBegin
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.beginChan(m.Index) <- m
		case protocol.TypeFileEnd:
			var m protocol.FileEnd
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.endChan(m.Index) <- m
		case protocol.TypeFileAck:
			var m protocol.FileAck
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.ackChan(m.Index) <- m
		case protocol.TypeSessionEnd:
			var m protocol.SessionEnd
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.sessionEndCh <- m
		case protocol.TypeCancel:
			var m protocol.Cancel
			if err := decodeBody(body, &m); err != nil {
				cc.fail(err)
				return
			}
			cc.cancelCh <- m
		default:
			cc.fail(&errs.ProtocolError{Expected: "known frame type", Got: "unknown"})
			return
		}
	}
}

func (cc *controlChannel) fail(err error) {
	cc.once.Do(func() {
		cc.errCh <- err
		close(cc.closed)
	})
}

func (cc *controlChannel) beginChan(index int) chan protocol.FileBegin {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	ch, ok := cc.beginWait[index]
	if !ok {
		ch = make(chan protocol.FileBegin, 1)
		cc.beginWait[index] = ch
	}
	return ch
}

func (cc *controlChannel) endChan(index int) chan protocol.FileEnd {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	ch, ok := cc.endWait[index]
	if !ok {
		ch = make(chan protocol.FileEnd, 1)
		cc.endWait[index] = ch
	}
	return ch
}

func (cc *controlChannel) ackChan(index int) chan protocol.FileAck {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	ch, ok := cc.ackWait[index]
	if !ok {
		ch = make(chan protocol.FileAck, 1)
		cc.ackWait[index] = ch
	}
	return ch
}

func decodeBody(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &errs.ProtocolError{Expected: "valid frame body", Err: err}
	}
	return nil
}

// write sends one control frame, serialized against concurrent callers.
func (cc *controlChannel) write(pType uint8, v interface{}) error {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	if err := cc.stream.SetDeadline(time.Now().Add(controlTimeout)); err != nil {
		return &errs.TransportError{Op: "write_deadline", Reason: "cannot set deadline", Err: err}
	}
	if err := protocol.WriteJSON(cc.stream, pType, v); err != nil {
		return &errs.ProtocolError{Expected: "frame write", Err: err}
	}
	return nil
}

// waitSessionBegin blocks for the session's single SessionBegin frame.
func (cc *controlChannel) waitSessionBegin(ctx context.Context) (protocol.SessionBegin, error) {
	select {
	case m := <-cc.sessionBeginCh:
		return m, nil
	case <-cc.cancelCh:
		return protocol.SessionBegin{}, &errs.CancelledError{Reason: "peer cancelled before SessionBegin"}
	case err := <-cc.errCh:
		return protocol.SessionBegin{}, err
	case <-ctx.Done():
		return protocol.SessionBegin{}, ctx.Err()
	}
}

func (cc *controlChannel) waitSessionAck(ctx context.Context) (protocol.SessionAck, error) {
	select {
	case m := <-cc.sessionAckCh:
		return m, nil
	case <-cc.cancelCh:
		return protocol.SessionAck{}, &errs.CancelledError{Reason: "peer cancelled before SessionAck"}
	case err := <-cc.errCh:
		return protocol.SessionAck{}, err
	case <-ctx.Done():
		return protocol.SessionAck{}, ctx.Err()
	}
}

func (cc *controlChannel) waitFileBegin(ctx context.Context, index int) (protocol.FileBegin, error) {
	select {
	case m := <-cc.beginChan(index):
		return m, nil
	case <-cc.cancelCh:
		return protocol.FileBegin{}, &errs.CancelledError{Reason: "session cancelled"}
	case err := <-cc.errCh:
		return protocol.FileBegin{}, err
	case <-ctx.Done():
		return protocol.FileBegin{}, ctx.Err()
	}
}

func (cc *controlChannel) waitFileEnd(ctx context.Context, index int) (protocol.FileEnd, error) {
	select {
	case m := <-cc.endChan(index):
		return m, nil
	case <-cc.cancelCh:
		return protocol.FileEnd{}, &errs.CancelledError{Reason: "session cancelled"}
	case err := <-cc.errCh:
		return protocol.FileEnd{}, err
	case <-ctx.Done():
		return protocol.FileEnd{}, ctx.Err()
	}
}

func (cc *controlChannel) waitFileAck(ctx context.Context, index int) (protocol.FileAck, error) {
	select {
	case m := <-cc.ackChan(index):
		return m, nil
	case <-cc.cancelCh:
		return protocol.FileAck{}, &errs.CancelledError{Reason: "session cancelled"}
	case err := <-cc.errCh:
		return protocol.FileAck{}, err
	case <-ctx.Done():
		return protocol.FileAck{}, ctx.Err()
	}
}

func (cc *controlChannel) waitSessionEnd(ctx context.Context) (protocol.SessionEnd, error) {
	select {
	case m := <-cc.sessionEndCh:
		return m, nil
	case <-cc.cancelCh:
		return protocol.SessionEnd{}, &errs.CancelledError{Reason: "session cancelled"}
	case err := <-cc.errCh:
		return protocol.SessionEnd{}, err
	case <-ctx.Done():
		return protocol.SessionEnd{}, ctx.Err()
	}
}

// waitCancel blocks until a Cancel frame arrives, the stream fails, or
// ctx is done, for the side that needs to watch for cancellation
// without waiting on a specific frame.
func (cc *controlChannel) waitCancel(ctx context.Context) (protocol.Cancel, error) {
	select {
	case m := <-cc.cancelCh:
		return m, nil
	case err := <-cc.errCh:
		return protocol.Cancel{}, err
	case <-ctx.Done():
		return protocol.Cancel{}, ctx.Err()
	}
}

// setLocalCancel registers the session's own context.CancelFunc, so that
// a locally-initiated cancel (sendCancel) tears down this side's session
// loop too, not just the peer's.
func (cc *controlChannel) setLocalCancel(fn context.CancelFunc) {
	cc.mu.Lock()
	cc.localCancel = fn
	cc.mu.Unlock()
}

// sendCancel writes a Cancel frame to the peer and fires the local
// session's own cancellation, giving a caller an active way to abort a
// session rather than only ever reacting to one, per spec.md §4.5.
func (cc *controlChannel) sendCancel(reason string) error {
	err := cc.write(protocol.TypeCancel, protocol.Cancel{Reason: reason})
	cc.mu.Lock()
	fn := cc.localCancel
	cc.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}
