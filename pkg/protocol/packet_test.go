package protocol

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeHeader(&buf, TypeFileBegin, 42); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	pType, length, err := DecodeHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if pType != TypeFileBegin || length != 42 {
		t.Fatalf("got (%d, %d), want (%d, 42)", pType, length, TypeFileBegin)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := SessionBegin{
		SessionID: "abc123",
		Files: []FileHeader{
			{LogicalName: "hello.txt", Size: 3, Digest: "deadbeef"},
		},
	}
	if err := WriteJSON(&buf, TypeSessionBegin, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out SessionBegin
	gotType, err := ReadJSON(&buf, TypeSessionBegin, &out)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if gotType != TypeSessionBegin {
		t.Fatalf("got type %d, want %d", gotType, TypeSessionBegin)
	}
	if out.SessionID != in.SessionID || len(out.Files) != 1 || out.Files[0].LogicalName != "hello.txt" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestReadJSONTypeMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, TypeCancel, Cancel{Reason: "nope"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var out SessionBegin
	gotType, err := ReadJSON(&buf, TypeSessionBegin, &out)
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
	if gotType != TypeCancel {
		t.Fatalf("got type %d, want %d", gotType, TypeCancel)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeHeader(&buf, TypeData, MaxFrameLength+1); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if _, _, err := DecodeHeader(&buf); err == nil {
		t.Fatal("expected oversized frame to be rejected")
	}
}
