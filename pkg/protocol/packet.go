// Package protocol defines the length-prefixed wire framing shared by the
// pairing ALPN (p2p/pair/1) and the transfer ALPN (p2p/xfer/1). The wire
// format (a fixed header plus a JSON body) is stable; JSON was chosen over
// CBOR because no CBOR library appears anywhere else in this stack, and
// spec compliance only requires the frame structure, not the encoding.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Frame types. Pairing and transfer streams share one framing format but
// never mix message types on the same stream.
const (
	// Pairing ALPN (p2p/pair/1)
	TypeHello    uint8 = 0
	TypeHelloAck uint8 = 1
	TypeCode     uint8 = 2
	TypeConfirm  uint8 = 3

	// Transfer ALPN (p2p/xfer/1), control stream
	TypeSessionBegin uint8 = 10
	TypeSessionAck   uint8 = 11
	TypeFileBegin    uint8 = 12
	TypeFileEnd      uint8 = 13
	TypeFileAck      uint8 = 14
	TypeSessionEnd   uint8 = 15
	TypeCancel       uint8 = 16

	// Transfer ALPN, data streams
	TypeData uint8 = 20
)

// MaxFrameLength guards against a peer claiming an absurd body size;
// control frames are small JSON objects and never approach this.
const MaxFrameLength = 16 * 1024 * 1024

// EncodeHeader writes the fixed-size frame header: 1 byte type, 4 byte
// big-endian length, per spec.md §6.2.
func EncodeHeader(w io.Writer, pType uint8, length uint32) error {
	var hdr [5]byte
	hdr[0] = pType
	binary.BigEndian.PutUint32(hdr[1:], length)
	_, err := w.Write(hdr[:])
	return err
}

// DecodeHeader reads the fixed-size frame header.
func DecodeHeader(r io.Reader) (pType uint8, length uint32, err error) {
	var hdr [5]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}
	pType = hdr[0]
	length = binary.BigEndian.Uint32(hdr[1:])
	if length > MaxFrameLength {
		return 0, 0, fmt.Errorf("protocol: frame length %d exceeds max %d", length, MaxFrameLength)
	}
	return pType, length, nil
}

// WriteJSON encodes v as JSON and writes it as a single frame of type pType.
func WriteJSON(w io.Writer, pType uint8, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}
	if err := EncodeHeader(w, pType, uint32(len(body))); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadJSON reads the next frame, verifies its type matches wantType, and
// decodes its body into v. It returns the actual type read even on a
// mismatch so callers can report a useful ProtocolError.
func ReadJSON(r io.Reader, wantType uint8, v interface{}) (gotType uint8, err error) {
	gotType, length, err := DecodeHeader(r)
	if err != nil {
		return 0, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return gotType, err
	}
	if gotType != wantType {
		return gotType, fmt.Errorf("protocol: expected frame type %d, got %d", wantType, gotType)
	}
	if v == nil {
		return gotType, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return gotType, fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	return gotType, nil
}

// --- Pairing messages (ALPN p2p/pair/1) ---

// Hello is sent by the Initiator to open a pairing exchange.
type Hello struct {
	EndpointID  string `json:"endpoint_id"` // hex-encoded, 32 bytes
	DisplayName string `json:"display_name"`
	Nonce       []byte `json:"nonce"` // 16 bytes
}

// HelloAck is the Responder's reply to Hello.
type HelloAck struct {
	EndpointID  string `json:"endpoint_id"`
	DisplayName string `json:"display_name"`
	Nonce       []byte `json:"nonce"` // 16 bytes
}

// Code carries the derived 4-digit verification code for display.
type Code struct {
	Code string `json:"code"`
}

// Confirm carries one side's accept/reject decision after the user
// compares verification codes out-of-band.
type Confirm struct {
	Accepted bool `json:"accepted"`
}

// --- Transfer control messages (ALPN p2p/xfer/1) ---

// FileHeader describes one file offered in a SessionBegin.
type FileHeader struct {
	LogicalName string `json:"logical_name"`
	Size        int64  `json:"size"`
	Digest      string `json:"digest,omitempty"` // hex blake3, optional
}

// SessionBegin opens a transfer session: sender -> receiver.
type SessionBegin struct {
	SessionID string       `json:"session_id"` // 128-bit random, hex
	Files     []FileHeader `json:"files"`
}

// SessionAck is the receiver's policy decision on a SessionBegin.
type SessionAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// FileBegin precedes any bytes on a file's data stream.
type FileBegin struct {
	Index int `json:"index"`
}

// FileEnd follows the last byte of a file's data stream.
type FileEnd struct {
	Index  int    `json:"index"`
	Digest string `json:"digest"` // hex blake3 over the bytes just sent
}

// FileAck reports the receiver's integrity verdict for one file.
type FileAck struct {
	Index  int    `json:"index"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// SessionEnd closes the control stream from either side.
type SessionEnd struct {
	OK bool `json:"ok"`
}

// Cancel aborts the session from either side at any time.
type Cancel struct {
	Reason string `json:"reason"`
}
