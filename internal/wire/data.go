package wire

import (
	"encoding/binary"

	"github.com/bletinyflow/bletinyflow/internal/protoerr"
	"github.com/rs/zerolog/log"
)

// DataHeaderLen is the size of the chunk-id + payload-length header that
// precedes every data-channel frame (spec.md §3).
const DataHeaderLen = 4

// ATTHeaderLen is the BLE ATT write overhead deducted from the negotiated
// MTU before computing the maximum data payload (spec.md §4.2).
const ATTHeaderLen = 3

// EncodeData serializes a single data-channel frame: a 2-byte little-endian
// chunk id, a 2-byte little-endian payload length, then the payload itself.
func EncodeData(chunkID uint16, payload []byte) []byte {
	buf := make([]byte, DataHeaderLen+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], chunkID)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	return buf
}

// DecodeData parses a data-channel frame. Frames shorter than 4 bytes are
// rejected as DATA_CHUNK_TOO_SHORT. Per spec.md §4.1, the trailing slice
// length is authoritative over the declared payloadLen field: a mismatch is
// logged but does not fail decoding (the on-wire transport is assumed to
// deliver each write atomically, so the slice itself is trustworthy).
func DecodeData(b []byte) (chunkID uint16, payload []byte, err error) {
	if len(b) < DataHeaderLen {
		return 0, nil, protoerr.NewWireError("decodeData", protoerr.CodeDataChunkTooShort, nil)
	}
	chunkID = binary.LittleEndian.Uint16(b[0:2])
	declaredLen := binary.LittleEndian.Uint16(b[2:4])
	payload = b[4:]
	if int(declaredLen) != len(payload) {
		log.Debug().
			Uint16("chunk_id", chunkID).
			Uint16("declared_len", declaredLen).
			Int("observed_len", len(payload)).
			Msg("data frame payload length mismatch, trusting observed slice")
	}
	return chunkID, payload, nil
}
