// Package memtransport is an in-process transport.Peer pair that wires a
// sender session directly to a receiver session without a real BLE stack.
// It is the demo/test analog of the concrete GATT transport the engine
// never imports directly (internal/transport), grounded on the teacher's
// VirtualConn bridging pattern: a bounded channel per direction, a
// non-blocking enqueue, and a single pump goroutine per channel delivering
// frames to the other side's Listener in FIFO order (spec.md §5 requires
// the transport preserve per-characteristic ordering).
package memtransport

import (
	"context"

	"github.com/rs/zerolog/log"
)

// listener is the subset of transport.Listener this package depends on;
// defined locally to avoid importing internal/transport, since both
// sender.Session and receiver.Session already satisfy it structurally.
type listener interface {
	OnControlFrame([]byte)
	OnDataFrame([]byte)
	OnMTUChanged(int)
	OnConnect()
	OnDisconnect(error)
}

const queueSize = 256

func enqueue(ch chan []byte, frame []byte, label string) {
	select {
	case ch <- append([]byte(nil), frame...):
	default:
		log.Warn().Str("channel", label).Msg("memtransport queue full, dropping frame")
	}
}

func pump(ctx context.Context, ch chan []byte, deliver func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-ch:
			deliver(f)
		}
	}
}

// senderPeer is the transport.Peer handed to a sender.Session: it only ever
// calls SendControl (for TRANSFER_INIT) and SendData (for chunk writes).
type senderPeer struct {
	mtuVal     int
	controlOut chan []byte
	dataOut    chan []byte
}

func (p *senderPeer) SendControl(ctx context.Context, frame []byte) error {
	enqueue(p.controlOut, frame, "sender->receiver:control")
	return nil
}
func (p *senderPeer) NotifyControl(ctx context.Context, frame []byte) error { return nil }
func (p *senderPeer) SendData(ctx context.Context, frame []byte) error {
	enqueue(p.dataOut, frame, "sender->receiver:data")
	return nil
}
func (p *senderPeer) NegotiatedMTU() int { return p.mtuVal }

// receiverPeer is the transport.Peer handed to a receiver.Session: it only
// ever calls NotifyControl (for CHUNK_REQUEST, ACK, TRANSFER_ERROR).
type receiverPeer struct {
	mtuVal     int
	controlOut chan []byte
}

func (p *receiverPeer) SendControl(ctx context.Context, frame []byte) error { return nil }
func (p *receiverPeer) NotifyControl(ctx context.Context, frame []byte) error {
	enqueue(p.controlOut, frame, "receiver->sender:control")
	return nil
}
func (p *receiverPeer) SendData(ctx context.Context, frame []byte) error { return nil }
func (p *receiverPeer) NegotiatedMTU() int                              { return p.mtuVal }

// Link bridges a sender.Session and a receiver.Session in-process.
type Link struct {
	SenderPeer   *senderPeer
	ReceiverPeer *receiverPeer

	senderListener   listener
	receiverListener listener

	cancel context.CancelFunc
}

// Connect wires senderListener and receiverListener together at the given
// negotiated MTU, starts the pump goroutines, then fires OnMTUChanged
// followed by OnConnect on both sides.
func Connect(senderListener, receiverListener listener, mtuVal int) *Link {
	ctx, cancel := context.WithCancel(context.Background())

	s2rControl := make(chan []byte, queueSize)
	s2rData := make(chan []byte, queueSize)
	r2sControl := make(chan []byte, queueSize)

	l := &Link{
		SenderPeer:       &senderPeer{mtuVal: mtuVal, controlOut: s2rControl, dataOut: s2rData},
		ReceiverPeer:     &receiverPeer{mtuVal: mtuVal, controlOut: r2sControl},
		senderListener:   senderListener,
		receiverListener: receiverListener,
		cancel:           cancel,
	}

	go pump(ctx, s2rControl, receiverListener.OnControlFrame)
	go pump(ctx, s2rData, receiverListener.OnDataFrame)
	go pump(ctx, r2sControl, senderListener.OnControlFrame)

	senderListener.OnMTUChanged(mtuVal)
	receiverListener.OnMTUChanged(mtuVal)
	senderListener.OnConnect()
	receiverListener.OnConnect()

	return l
}

// Disconnect fires OnDisconnect on both sides and stops the pump
// goroutines.
func (l *Link) Disconnect(reason error) {
	log.Debug().Err(reason).Msg("memtransport: tearing down link")
	l.senderListener.OnDisconnect(reason)
	l.receiverListener.OnDisconnect(reason)
	l.cancel()
}
