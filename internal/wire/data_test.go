package wire

import (
	"bytes"
	"testing"

	"github.com/bletinyflow/bletinyflow/internal/protoerr"
)

func TestDataRoundTrip(t *testing.T) {
	payload := []byte("hello chunk")
	encoded := EncodeData(42, payload)
	if len(encoded) != DataHeaderLen+len(payload) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), DataHeaderLen+len(payload))
	}

	id, got, err := DecodeData(encoded)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if id != 42 {
		t.Fatalf("chunkID = %d, want 42", id)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestDataEmptyPayload(t *testing.T) {
	encoded := EncodeData(0, nil)
	if len(encoded) != DataHeaderLen {
		t.Fatalf("len = %d, want %d", len(encoded), DataHeaderLen)
	}
	id, payload, err := DecodeData(encoded)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if id != 0 || len(payload) != 0 {
		t.Fatalf("got id=%d payload=%v", id, payload)
	}
}

func TestDecodeDataTooShort(t *testing.T) {
	_, _, err := DecodeData([]byte{1, 2, 3})
	if protoerr.CodeOf(err) != protoerr.CodeDataChunkTooShort {
		t.Fatalf("expected DATA_CHUNK_TOO_SHORT, got %v", err)
	}
}

func TestDecodeDataTrustsObservedLengthOverDeclared(t *testing.T) {
	// Declare payloadLen=10 but only supply 3 trailing bytes: the decoder
	// must normalize to the observed slice rather than fail or truncate.
	buf := EncodeData(7, []byte{0xAA, 0xBB, 0xCC})
	buf[2] = 10
	buf[3] = 0
	id, payload, err := DecodeData(buf)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if id != 7 {
		t.Fatalf("chunkID = %d, want 7", id)
	}
	if !bytes.Equal(payload, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("payload = %v, want [AA BB CC]", payload)
	}
}
