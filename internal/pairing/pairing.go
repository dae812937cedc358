// Package pairing implements the short-code pairing exchange (C4): two
// mutually-unknown endpoints turn into matching PeerRecords after a
// human compares a 4-digit code read aloud or typed on both screens.
//
// The role/stream structure follows the teacher's PerformPAKE: one side
// is Initiator, the other Responder, and every step is a message sent,
// then a message read, never both at once, so the exchange is a strict
// ping-pong over a single stream. Where the teacher derives a session
// key from a password via Argon2id, pairing here derives a display
// code from two nonces via BLAKE3 (there is no shared secret yet — that
// is the whole point of pairing).
package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"lukechampine.com/blake3"

	"github.com/fathomrelay/jend/internal/errs"
	"github.com/fathomrelay/jend/internal/identity"
	"github.com/fathomrelay/jend/pkg/protocol"
)

// ALPN is the dedicated pairing protocol identifier for QUIC connections.
const ALPN = "p2p/pair/1"

// Timeouts per spec.md §5's "Cancellation" table. Declared as vars
// (not const) so tests can shrink them rather than sleeping 30s.
var (
	MessageTimeout = 30 * time.Second
	OverallTimeout = 120 * time.Second
)

// Stream is the minimal surface pairing needs from a QUIC stream: bytes
// in both directions, plus a deadline so a silent peer cannot hang the
// exchange past MessageTimeout.
type Stream interface {
	io.Reader
	io.Writer
	SetDeadline(t time.Time) error
}

// Result is what a successful pairing run yields: a confirmed peer
// identity and display name, ready to be persisted as a PeerRecord.
type Result struct {
	PeerID      identity.EndpointID
	DisplayName string
	Code        string
}

// Decide is called once both sides have independently derived and
// displayed the same code, to get the local user's accept/reject
// decision out-of-band (UI layer).
type Decide func(code string) bool

// Run executes one pairing exchange over stream, in the given role.
// isInitiator selects which side speaks first, matching Hello/HelloAck.
// Every stage refreshes the stream's deadline to MessageTimeout; ctx
// bounds the whole run to OverallTimeout and is checked between stages.
func Run(ctx context.Context, stream Stream, self *identity.Identity, isInitiator bool, decide Decide) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, OverallTimeout)
	defer cancel()

	if isInitiator {
		return runInitiator(ctx, stream, self, decide)
	}
	return runResponder(ctx, stream, self, decide)
}

func runInitiator(ctx context.Context, stream Stream, self *identity.Identity, decide Decide) (*Result, error) {
	nonceA, err := randomNonce()
	if err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "cannot generate nonce", Err: err}
	}

	hello := protocol.Hello{
		EndpointID:  self.Public.String(),
		DisplayName: self.DisplayName,
		Nonce:       nonceA,
	}
	if err := writeStage(ctx, stream, protocol.TypeHello, hello); err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "cannot send Hello", Err: err}
	}

	var ack protocol.HelloAck
	if err := readStage(ctx, stream, protocol.TypeHelloAck, &ack); err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "cannot read HelloAck", Err: err}
	}
	peerID, err := identity.ParseEndpointID(ack.EndpointID)
	if err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "peer sent invalid endpoint id", Err: err}
	}

	code := deriveCode(nonceA, ack.Nonce, self.Public, peerID)
	return confirmExchange(ctx, stream, peerID, ack.DisplayName, code, decide)
}

func runResponder(ctx context.Context, stream Stream, self *identity.Identity, decide Decide) (*Result, error) {
	var hello protocol.Hello
	if err := readStage(ctx, stream, protocol.TypeHello, &hello); err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "cannot read Hello", Err: err}
	}
	peerID, err := identity.ParseEndpointID(hello.EndpointID)
	if err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "peer sent invalid endpoint id", Err: err}
	}

	nonceB, err := randomNonce()
	if err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "cannot generate nonce", Err: err}
	}
	ack := protocol.HelloAck{
		EndpointID:  self.Public.String(),
		DisplayName: self.DisplayName,
		Nonce:       nonceB,
	}
	if err := writeStage(ctx, stream, protocol.TypeHelloAck, ack); err != nil {
		return nil, &errs.PairingError{Stage: "hello", Reason: "cannot send HelloAck", Err: err}
	}

	// Responder derives the code from (initiator's nonce, own nonce,
	// initiator id, responder id) to match the initiator's derivation,
	// which is always keyed (nonce_a, nonce_b, initiator_id, responder_id).
	code := deriveCode(hello.Nonce, nonceB, peerID, self.Public)
	return confirmExchange(ctx, stream, peerID, hello.DisplayName, code, decide)
}

// confirmExchange runs the shared Code/Confirm tail common to both
// roles: exchange the derived code to detect divergence, let the local
// user accept or reject, then exchange Confirm and require both true.
func confirmExchange(ctx context.Context, stream Stream, peerID identity.EndpointID, peerName, code string, decide Decide) (*Result, error) {
	if err := writeStage(ctx, stream, protocol.TypeCode, protocol.Code{Code: code}); err != nil {
		return nil, &errs.PairingError{Stage: "code", Reason: "cannot send Code", Err: err}
	}
	var peerCode protocol.Code
	if err := readStage(ctx, stream, protocol.TypeCode, &peerCode); err != nil {
		return nil, &errs.PairingError{Stage: "code", Reason: "cannot read Code", Err: err}
	}
	if peerCode.Code != code {
		return nil, &errs.PairingError{Stage: "code", Reason: "verification codes diverged"}
	}

	accepted := decide(code)
	if err := writeStage(ctx, stream, protocol.TypeConfirm, protocol.Confirm{Accepted: accepted}); err != nil {
		return nil, &errs.PairingError{Stage: "confirm", Reason: "cannot send Confirm", Err: err}
	}
	var peerConfirm protocol.Confirm
	if err := readStage(ctx, stream, protocol.TypeConfirm, &peerConfirm); err != nil {
		return nil, &errs.PairingError{Stage: "confirm", Reason: "cannot read Confirm", Err: err}
	}

	if !accepted || !peerConfirm.Accepted {
		return nil, &errs.PairingError{Stage: "confirm", Reason: "declined by one side"}
	}

	return &Result{PeerID: peerID, DisplayName: peerName, Code: code}, nil
}

// deriveCode computes the 4-decimal-digit code both sides must agree on:
// the first 4 decimal digits of BLAKE3(nonce_a || nonce_b || initiator_id || responder_id).
func deriveCode(nonceA, nonceB []byte, initiator, responder identity.EndpointID) string {
	h := blake3.New(32, nil)
	h.Write(nonceA)
	h.Write(nonceB)
	h.Write(initiator[:])
	h.Write(responder[:])
	sum := h.Sum(nil)

	// Take the first 4 bytes as a big uint and reduce mod 10000 so every
	// digit string in [0000, 9999] is reachable, then format with
	// leading zeros preserved.
	v := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
	return fmt.Sprintf("%04d", v%10000)
}

func randomNonce() ([]byte, error) {
	n := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, err
	}
	return n, nil
}

func writeStage(ctx context.Context, stream Stream, pType uint8, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = stream.SetDeadline(time.Now().Add(MessageTimeout))
	return protocol.WriteJSON(stream, pType, v)
}

func readStage(ctx context.Context, stream Stream, wantType uint8, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = stream.SetDeadline(time.Now().Add(MessageTimeout))
	gotType, err := protocol.ReadJSON(stream, wantType, v)
	if err != nil {
		if gotType != 0 && gotType != wantType {
			return &errs.ProtocolError{Expected: fmt.Sprintf("type %d", wantType), Got: fmt.Sprintf("type %d", gotType), Err: err}
		}
		return err
	}
	return nil
}
