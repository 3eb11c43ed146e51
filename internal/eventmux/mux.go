// Package eventmux implements the thin dispatcher shared by the sender and
// receiver state machines (spec.md §4.5): it guarantees single-threaded
// delivery of protocol events into a session's state handler regardless of
// how many goroutines the underlying transport calls back from.
//
// The shape is the teacher's: a bounded channel fed by a non-blocking,
// drop-and-log send (see server.VirtualConn.InjectPacket /
// protocol.DnsPacketConn.WriteTo in the teacher), drained by exactly one
// consumer goroutine.
package eventmux

import "github.com/rs/zerolog/log"

// Kind identifies the transport event carried by an Event.
type Kind uint8

const (
	KindControlFrame Kind = iota
	KindDataFrame
	KindMTUChanged
	KindConnect
	KindDisconnect
	KindTimeout
	KindTransferRequested
)

func (k Kind) String() string {
	switch k {
	case KindControlFrame:
		return "control_frame"
	case KindDataFrame:
		return "data_frame"
	case KindMTUChanged:
		return "mtu_changed"
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindTimeout:
		return "timeout"
	case KindTransferRequested:
		return "transfer_requested"
	default:
		return "unknown"
	}
}

// Event is one transport occurrence queued for serialized handling.
type Event struct {
	Kind    Kind
	Control []byte
	Data    []byte
	MTU     int
	Reason  error
}

// DefaultQueueSize bounds the pending-event queue. A session's event rate
// is bounded by the peer's batch size and control cadence, so this is
// generous headroom rather than a tuned value.
const DefaultQueueSize = 256

// Mux is a bounded, single-consumer event queue. Producers call Dispatch
// from any goroutine; exactly one goroutine should range over Events().
type Mux struct {
	label  string
	events chan Event
}

// New creates a Mux with the given queue capacity. label is used only for
// log context (e.g. "sender", "receiver").
func New(label string, queueSize int) *Mux {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Mux{label: label, events: make(chan Event, queueSize)}
}

// Dispatch enqueues ev without blocking. If the queue is full the event is
// dropped and logged at warn level: a full queue means the consumer has
// fallen far behind, and blocking the transport's callback goroutine would
// risk deadlocking the underlying stack.
func (m *Mux) Dispatch(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("mux", m.label).Str("event", ev.Kind.String()).Msg("event queue full, dropping event")
	}
}

// Events returns the channel to range over for serialized delivery.
func (m *Mux) Events() <-chan Event {
	return m.events
}

// Close signals no further events will be dispatched, allowing a consumer
// range loop to exit once drained. Dispatch after Close panics, matching
// close-channel-send semantics; callers must stop producing before closing.
func (m *Mux) Close() {
	close(m.events)
}
