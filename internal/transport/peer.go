// Package transport defines the narrow boundary between the BLETinyFlow
// protocol engine and whatever GATT stack actually owns the radio. The
// engine never imports a concrete transport: it depends on Peer to send,
// and exposes Listener for the transport to call back into. This mirrors
// the split the teacher draws between its protocol/server packages (wire
// format, session state) and its VirtualConn/DnsPacketConn (the concrete
// net.PacketConn implementation) — neither side here imports the other's
// concrete type, only these two interfaces.
package transport

import "context"

// Peer is the outbound half of the transport contract (spec.md §6): two
// ordered, best-effort, in-order delivery channels plus MTU reporting.
// Implementations are expected to be safe for concurrent use, since the
// sender's data-channel loop may run on a separate goroutine from control
// traffic (spec.md §5).
type Peer interface {
	// SendControl performs a write-with-response on the control
	// characteristic (20-byte frame).
	SendControl(ctx context.Context, frame []byte) error
	// NotifyControl sends a notification/indication from peripheral to
	// central on the control characteristic.
	NotifyControl(ctx context.Context, frame []byte) error
	// SendData performs a write-without-response on the data
	// characteristic.
	SendData(ctx context.Context, frame []byte) error
	// NegotiatedMTU returns the current MTU, or DefaultMTU (23) before
	// negotiation completes.
	NegotiatedMTU() int
}

// Listener is the inbound half of the transport contract: callbacks a
// concrete transport invokes as events arrive. The engine's session types
// implement Listener and immediately hand each event to an
// internal/eventmux.Mux so delivery stays single-threaded regardless of how
// many goroutines the transport calls back from.
type Listener interface {
	OnControlFrame(frame []byte)
	OnDataFrame(frame []byte)
	OnMTUChanged(mtu int)
	OnConnect()
	OnDisconnect(reason error)
}
