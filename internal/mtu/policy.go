// Package mtu derives chunk sizing from a negotiated BLE MTU and partitions
// a payload into the deterministic, ordered chunk sequence the rest of the
// engine streams and reassembles (spec.md §4.2).
package mtu

import "github.com/bletinyflow/bletinyflow/internal/wire"

const (
	// MaxMTU is the upper bound on a negotiated MTU this engine will honor.
	MaxMTU = 512
	// DefaultMTU is the BLE baseline MTU assumed before negotiation, and
	// what the receiver resets to after a disconnect (spec.md §4.3).
	DefaultMTU = 23
)

// MaxPayload returns the largest data-frame payload (in bytes) that fits in
// a single transport write at the given negotiated MTU, after deducting the
// ATT header and the data-frame header. A negotiated MTU above MaxMTU is
// clamped to MaxMTU; below the header overhead it returns 0.
func MaxPayload(negotiatedMTU int) int {
	if negotiatedMTU > MaxMTU {
		negotiatedMTU = MaxMTU
	}
	payload := negotiatedMTU - wire.ATTHeaderLen - wire.DataHeaderLen
	if payload < 0 {
		return 0
	}
	return payload
}

// ExpectedChunks returns ceil(totalSize / chunkSize). chunkSize must be > 0.
func ExpectedChunks(totalSize, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return (totalSize + chunkSize - 1) / chunkSize
}

// Range is a half-open byte range [Start, End) within the source payload
// for one chunk.
type Range struct {
	Start, End int
}

// Len reports the number of bytes covered by the range.
func (r Range) Len() int { return r.End - r.Start }

// Chunks returns the deterministic, ordered sequence of chunk boundaries for
// a payload of totalSize bytes split into chunkSize-byte pieces. The final
// range may be shorter than chunkSize. Calling Chunks twice with the same
// arguments always yields identical output (spec.md §8).
func Chunks(totalSize, chunkSize int) []Range {
	n := ExpectedChunks(totalSize, chunkSize)
	if n == 0 {
		return nil
	}
	ranges := make([]Range, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > totalSize {
			end = totalSize
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}
