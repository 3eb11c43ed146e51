package wire

import (
	"testing"

	"github.com/bletinyflow/bletinyflow/internal/protoerr"
)

func TestEncodeControlAlwaysProducesFixedLength(t *testing.T) {
	b := EncodeControl(CmdTransferInit, 7, 1024, 512, 2)
	if len(b) != ControlLen {
		t.Fatalf("len = %d, want %d", len(b), ControlLen)
	}
	for i := 15; i < ControlLen; i++ {
		if b[i] != 0 {
			t.Fatalf("reserved byte %d = %d, want 0", i, b[i])
		}
	}
}

func TestControlRoundTrip(t *testing.T) {
	cases := []ControlMessage{
		{Command: CmdTransferInit, Sequence: 0, Param1: 0, Param2: 505, Param3: 0},
		{Command: CmdTransferInit, Sequence: 65535, Param1: 1 << 20, Param2: 505, Param3: 2080},
		{Command: CmdDeviceInfo, Sequence: 1, Param1: 0x0102, Param2: 0x04000300, Param3: 0},
		{Command: CmdChunkRequest, Sequence: 2, Param1: 40, Param2: 40, Param3: 0},
		{Command: CmdTransferCompleteAck, Sequence: 3, Param1: 20200, Param2: 0, Param3: 0},
		{Command: CmdTransferError, Sequence: 4, Param1: uint32(protoerr.CodeDuplicateChunk), Param2: 5, Param3: 0},
	}
	for _, want := range cases {
		encoded := EncodeControl(want.Command, want.Sequence, want.Param1, want.Param2, want.Param3)
		if len(encoded) != ControlLen {
			t.Fatalf("encoded length = %d, want %d", len(encoded), ControlLen)
		}
		got, err := DecodeControl(encoded)
		if err != nil {
			t.Fatalf("DecodeControl: %v", err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestDecodeControlShortMessage(t *testing.T) {
	_, err := DecodeControl(make([]byte, 14))
	if protoerr.CodeOf(err) != protoerr.CodeControlMessageTooShort {
		t.Fatalf("expected CONTROL_MESSAGE_TOO_SHORT, got %v", err)
	}
}

func TestDecodeControlAcceptsShortPaddedTail(t *testing.T) {
	// 15-20 byte messages are valid; trailing bytes beyond the supplied
	// length are treated as zero.
	full := EncodeControl(CmdChunkRequest, 1, 10, 20, 0)
	truncated := full[:15]
	got, err := DecodeControl(truncated)
	if err != nil {
		t.Fatalf("DecodeControl(15 bytes): %v", err)
	}
	want := ControlMessage{Command: CmdChunkRequest, Sequence: 1, Param1: 10, Param2: 20, Param3: 0}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeControlUnknownOpcode(t *testing.T) {
	b := EncodeControl(CmdTransferInit, 0, 0, 0, 0)
	b[0] = 0x7F // unassigned opcode
	_, err := DecodeControl(b)
	if protoerr.CodeOf(err) != protoerr.CodeInvalidCommand {
		t.Fatalf("expected INVALID_COMMAND, got %v", err)
	}
}

func TestDecodeControlHighBitOpcodesAreValid(t *testing.T) {
	// 0x82/0x83/0x84 all have bit 7 set; the decoder must not reject them
	// as a "version bit" violation since the v1 table assigns them.
	for _, cmd := range []Command{CmdChunkRequest, CmdTransferCompleteAck, CmdTransferError} {
		b := EncodeControl(cmd, 0, 0, 0, 0)
		got, err := DecodeControl(b)
		if err != nil {
			t.Fatalf("DecodeControl(%s): %v", cmd, err)
		}
		if got.Command != cmd {
			t.Fatalf("got command %v, want %v", got.Command, cmd)
		}
	}
}
