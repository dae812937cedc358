package pairing

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fathomrelay/jend/internal/identity"
)

// pipeStream adapts a net.Conn (from net.Pipe) to the pairing.Stream
// interface; net.Conn already implements SetDeadline.
type pipeStream struct{ net.Conn }

func newPairedStreams() (Stream, Stream) {
	a, b := net.Pipe()
	return pipeStream{a}, pipeStream{b}
}

func newTestIdentity(t *testing.T, seedByte byte) *identity.Identity {
	t.Helper()
	path := t.TempDir() + "/identity.json"
	id, err := identity.LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	id.DisplayName = string(rune('a' + seedByte))
	return id
}

func TestPairingSucceedsWhenBothAccept(t *testing.T) {
	initStream, respStream := newPairedStreams()
	initiator := newTestIdentity(t, 0)
	responder := newTestIdentity(t, 1)

	type outcome struct {
		res *Result
		err error
	}
	initCh := make(chan outcome, 1)
	respCh := make(chan outcome, 1)

	go func() {
		res, err := Run(context.Background(), initStream, initiator, true, func(string) bool { return true })
		initCh <- outcome{res, err}
	}()
	go func() {
		res, err := Run(context.Background(), respStream, responder, false, func(string) bool { return true })
		respCh <- outcome{res, err}
	}()

	initOut := <-initCh
	respOut := <-respCh

	if initOut.err != nil {
		t.Fatalf("initiator error: %v", initOut.err)
	}
	if respOut.err != nil {
		t.Fatalf("responder error: %v", respOut.err)
	}
	if initOut.res.Code != respOut.res.Code {
		t.Fatalf("codes diverged: %s vs %s", initOut.res.Code, respOut.res.Code)
	}
	if len(initOut.res.Code) != 4 {
		t.Fatalf("expected 4-digit code, got %q", initOut.res.Code)
	}
	if initOut.res.PeerID != responder.Public {
		t.Fatal("initiator did not learn responder's endpoint id")
	}
	if respOut.res.PeerID != initiator.Public {
		t.Fatal("responder did not learn initiator's endpoint id")
	}
}

func TestPairingFailsWhenOneDeclines(t *testing.T) {
	initStream, respStream := newPairedStreams()
	initiator := newTestIdentity(t, 0)
	responder := newTestIdentity(t, 1)

	errCh := make(chan error, 2)

	go func() {
		_, err := Run(context.Background(), initStream, initiator, true, func(string) bool { return true })
		errCh <- err
	}()
	go func() {
		_, err := Run(context.Background(), respStream, responder, false, func(string) bool { return false })
		errCh <- err
	}()

	e1 := <-errCh
	e2 := <-errCh
	if e1 == nil && e2 == nil {
		t.Fatal("expected at least one side to report a declined pairing")
	}
}

func TestPairingTimesOutOnSilentPeer(t *testing.T) {
	orig := MessageTimeout
	MessageTimeout = 50 * time.Millisecond
	defer func() { MessageTimeout = orig }()

	initStream, _ := newPairedStreams()
	initiator := newTestIdentity(t, 0)

	_, err := Run(context.Background(), initStream, initiator, true, func(string) bool { return true })
	if err == nil {
		t.Fatal("expected timeout error when peer never responds")
	}
}
