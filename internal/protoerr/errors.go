// Package protoerr defines the typed error family used across the
// BLETinyFlow engine: wire-level decode failures, state-machine violations,
// and idle timeouts. Each carries enough structure to be both logged locally
// and marshaled onto a TRANSFER_ERROR control message.
package protoerr

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// Code is a receiver->sender TRANSFER_ERROR code, see spec.md §7.
type Code uint8

const (
	CodeUnknown                 Code = 0x01
	CodeTransferTooLarge        Code = 0x02
	CodeChunkSizeTooLarge       Code = 0x03
	CodeMemoryAllocationFailed  Code = 0x04
	CodeBufferOverflow          Code = 0x05
	CodeInvalidChunkID          Code = 0x06
	CodeDuplicateChunk          Code = 0x07
	CodeControlMessageTooShort  Code = 0x08
	CodeDataChunkTooShort       Code = 0x09
	CodeNotificationSendFailed  Code = 0x0A
	CodeInvalidCommand          Code = 0x0B
)

func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "UNKNOWN_ERROR"
	case CodeTransferTooLarge:
		return "TRANSFER_TOO_LARGE"
	case CodeChunkSizeTooLarge:
		return "CHUNK_SIZE_TOO_LARGE"
	case CodeMemoryAllocationFailed:
		return "MEMORY_ALLOCATION_FAILED"
	case CodeBufferOverflow:
		return "BUFFER_OVERFLOW"
	case CodeInvalidChunkID:
		return "INVALID_CHUNK_ID"
	case CodeDuplicateChunk:
		return "DUPLICATE_CHUNK"
	case CodeControlMessageTooShort:
		return "CONTROL_MESSAGE_TOO_SHORT"
	case CodeDataChunkTooShort:
		return "DATA_CHUNK_TOO_SHORT"
	case CodeNotificationSendFailed:
		return "NOTIFICATION_SEND_FAILED"
	case CodeInvalidCommand:
		return "INVALID_COMMAND"
	default:
		return fmt.Sprintf("UNKNOWN_CODE(0x%02X)", uint8(c))
	}
}

// protocolMarker is implemented by every protocol-layer error type here so
// callers can classify an error chain with a single errors.As check.
type protocolMarker interface {
	error
	isProtocol()
}

// WireError indicates a malformed control or data frame on the wire.
type WireError struct {
	Op   string
	Code Code
	Err  error
}

func (e *WireError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wire error: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("wire error: %s: %s: %v", e.Op, e.Code, e.Err)
}
func (e *WireError) Unwrap() error { return e.Err }
func (e *WireError) isProtocol()   {}

// StateError indicates a state-machine violation: an event arrived that the
// current state does not accept, or a validation rule on INIT failed.
type StateError struct {
	Op   string
	Code Code
	Err  error
}

func (e *StateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("state error: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("state error: %s: %s: %v", e.Op, e.Code, e.Err)
}
func (e *StateError) Unwrap() error { return e.Err }
func (e *StateError) isProtocol()   {}

// TimeoutError indicates a session exceeded its idle deadline.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) isProtocol()   {}

// IsTimeout reports whether err is (or wraps) a TimeoutError or a context
// deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	return stdErrors.Is(err, context.DeadlineExceeded)
}

// IsProtocolError reports whether the error chain contains a WireError,
// StateError, or TimeoutError.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// CodeOf extracts the TRANSFER_ERROR code to report to the peer, defaulting
// to CodeUnknown when err carries none.
func CodeOf(err error) Code {
	var we *WireError
	if stdErrors.As(err, &we) {
		return we.Code
	}
	var se *StateError
	if stdErrors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// Constructors. Callers are expected to keep wrapping context with
// fmt.Errorf("...: %w", err) as they propagate.
func NewWireError(op string, code Code, cause error) error {
	return &WireError{Op: op, Code: code, Err: cause}
}
func NewStateError(op string, code Code, cause error) error {
	return &StateError{Op: op, Code: code, Err: cause}
}
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
