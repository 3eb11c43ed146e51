// Package wire implements the BLETinyFlow wire format: the fixed 20-byte
// control frame and the variable-length data frame. All integers are
// little-endian, matching the BLE ATT convention the protocol runs over.
package wire

import (
	"encoding/binary"

	"github.com/bletinyflow/bletinyflow/internal/protoerr"
)

// Command is a BLETinyFlow control opcode (spec.md §3).
type Command uint8

const (
	CmdTransferInit        Command = 0x01
	CmdDeviceInfo          Command = 0x02
	CmdChunkRequest        Command = 0x82
	CmdTransferCompleteAck Command = 0x83
	CmdTransferError       Command = 0x84
)

// ControlLen is the fixed on-wire length of a control message.
const ControlLen = 20

// minControlLen is the shortest control frame the decoder will accept;
// trailing bytes up to ControlLen are treated as zero (spec.md §3).
const minControlLen = 15

func (c Command) String() string {
	switch c {
	case CmdTransferInit:
		return "TRANSFER_INIT"
	case CmdDeviceInfo:
		return "DEVICE_INFO"
	case CmdChunkRequest:
		return "CHUNK_REQUEST"
	case CmdTransferCompleteAck:
		return "TRANSFER_COMPLETE_ACK"
	case CmdTransferError:
		return "TRANSFER_ERROR"
	default:
		return "UNKNOWN"
	}
}

func knownCommand(c Command) bool {
	switch c {
	case CmdTransferInit, CmdDeviceInfo, CmdChunkRequest, CmdTransferCompleteAck, CmdTransferError:
		return true
	default:
		return false
	}
}

// DeviceInfo is the advisory payload carried by a DEVICE_INFO message
// (spec.md §3): low byte of param1 is the device type, the next byte is
// battery percent; param2's low/high 16 bits are width/height.
type DeviceInfo struct {
	DeviceType     uint8
	BatteryPercent uint8
	Width          uint16
	Height         uint16
}

// EncodeDeviceInfoParams packs info into the param1/param2 fields of a
// DEVICE_INFO control message.
func EncodeDeviceInfoParams(info DeviceInfo) (p1, p2 uint32) {
	p1 = uint32(info.DeviceType) | uint32(info.BatteryPercent)<<8
	p2 = uint32(info.Width) | uint32(info.Height)<<16
	return p1, p2
}

// DecodeDeviceInfoParams unpacks a DEVICE_INFO message's param1/param2
// fields back into a DeviceInfo.
func DecodeDeviceInfoParams(p1, p2 uint32) DeviceInfo {
	return DeviceInfo{
		DeviceType:     uint8(p1),
		BatteryPercent: uint8(p1 >> 8),
		Width:          uint16(p2),
		Height:         uint16(p2 >> 16),
	}
}

// ControlMessage is the decoded form of a 20-byte control frame.
type ControlMessage struct {
	Command  Command
	Sequence uint16
	Param1   uint32
	Param2   uint32
	Param3   uint32
}

// EncodeControl serializes a control message to a fixed 20-byte frame.
// Reserved trailing bytes are always zeroed.
func EncodeControl(cmd Command, seq uint16, p1, p2, p3 uint32) []byte {
	buf := make([]byte, ControlLen)
	buf[0] = byte(cmd)
	binary.LittleEndian.PutUint16(buf[1:3], seq)
	binary.LittleEndian.PutUint32(buf[3:7], p1)
	binary.LittleEndian.PutUint32(buf[7:11], p2)
	binary.LittleEndian.PutUint32(buf[11:15], p3)
	// buf[15:20] reserved, left zero.
	return buf
}

// DecodeControl parses a control frame. Frames shorter than 15 bytes are
// rejected as CONTROL_MESSAGE_TOO_SHORT; frames with an unknown opcode are
// rejected as INVALID_COMMAND (bit 7 alone is not checked). Frames
// between 15 and 20 bytes are accepted, with any byte beyond the supplied
// length treated as zero.
func DecodeControl(b []byte) (ControlMessage, error) {
	if len(b) < minControlLen {
		return ControlMessage{}, protoerr.NewWireError("decodeControl", protoerr.CodeControlMessageTooShort,
			nil)
	}

	padded := b
	if len(padded) < ControlLen {
		padded = make([]byte, ControlLen)
		copy(padded, b)
	}

	// Bit 7 of the command byte is nominally reserved for a future protocol
	// version, but the v1 opcode table already sets it on the receiver->sender
	// commands 0x82-0x84 (DEVICE_INFO, 0x02, is also receiver->sender and
	// has it clear): it is not a version guard here. Unknown opcodes (whether or not bit 7
	// is set) are the only rejection condition; see DESIGN.md.
	cmd := Command(padded[0])
	if !knownCommand(cmd) {
		return ControlMessage{}, protoerr.NewWireError("decodeControl", protoerr.CodeInvalidCommand, nil)
	}

	return ControlMessage{
		Command:  cmd,
		Sequence: binary.LittleEndian.Uint16(padded[1:3]),
		Param1:   binary.LittleEndian.Uint32(padded[3:7]),
		Param2:   binary.LittleEndian.Uint32(padded[7:11]),
		Param3:   binary.LittleEndian.Uint32(padded[11:15]),
	}, nil
}
