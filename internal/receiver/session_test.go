package receiver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bletinyflow/bletinyflow/internal/config"
	"github.com/bletinyflow/bletinyflow/internal/mtu"
	"github.com/bletinyflow/bletinyflow/internal/wire"
)

// fakePeer is an in-memory transport.Peer recording every notified control
// frame for inspection by the tests.
type fakePeer struct {
	mu       sync.Mutex
	notified [][]byte
	mtuVal   int
}

func newFakePeer(mtuVal int) *fakePeer {
	return &fakePeer{mtuVal: mtuVal}
}

func (p *fakePeer) SendControl(ctx context.Context, frame []byte) error { return nil }

func (p *fakePeer) NotifyControl(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	p.notified = append(p.notified, cp)
	return nil
}

func (p *fakePeer) SendData(ctx context.Context, frame []byte) error { return nil }

func (p *fakePeer) NegotiatedMTU() int { return p.mtuVal }

func (p *fakePeer) last() (wire.ControlMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.notified) == 0 {
		return wire.ControlMessage{}, false
	}
	cm, err := wire.DecodeControl(p.notified[len(p.notified)-1])
	if err != nil {
		return wire.ControlMessage{}, false
	}
	return cm, true
}

func (p *fakePeer) countOf(cmd wire.Command) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.notified {
		cm, err := wire.DecodeControl(f)
		if err == nil && cm.Command == cmd {
			n++
		}
	}
	return n
}

func runSession(t *testing.T, s *Session) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return cancel
}

func TestReceiverEmptyTransferCompletesImmediately(t *testing.T) {
	peer := newFakePeer(512)
	done := make(chan Completion, 1)
	s := New(peer, config.New(), Callbacks{
		OnTransferComplete: func(c Completion) { done <- c },
	})
	s.OnMTUChanged(512)
	cancel := runSession(t, s)
	defer cancel()

	init := wire.EncodeControl(wire.CmdTransferInit, 1, 0, mtu.MaxPayload(512), 0)
	s.OnControlFrame(init)

	select {
	case c := <-done:
		if c.Size != 0 {
			t.Fatalf("Size = %d, want 0", c.Size)
		}
		c.Release()
		c.Release() // must be a safe no-op
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if cm, ok := peer.last(); !ok || cm.Command != wire.CmdTransferCompleteAck {
		t.Fatalf("last notified frame = %+v, want TRANSFER_COMPLETE_ACK", cm)
	}
}

func TestReceiverSingleChunkTransfer(t *testing.T) {
	peer := newFakePeer(512)
	payload := []byte{0xAB}
	done := make(chan Completion, 1)
	s := New(peer, config.New(), Callbacks{
		OnTransferComplete: func(c Completion) { done <- c },
	})
	s.OnMTUChanged(512)
	cancel := runSession(t, s)
	defer cancel()

	chunkSize := mtu.MaxPayload(512)
	init := wire.EncodeControl(wire.CmdTransferInit, 1, uint32(len(payload)), uint32(chunkSize), 1)
	s.OnControlFrame(init)
	s.OnDataFrame(wire.EncodeData(0, payload))

	select {
	case c := <-done:
		if c.Size != 1 || c.Buffer[0] != 0xAB {
			t.Fatalf("completion = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestReceiverBatchBoundaryRequestsNextBatch(t *testing.T) {
	peer := newFakePeer(512)
	s := New(peer, config.New(), Callbacks{})
	s.OnMTUChanged(512)
	cancel := runSession(t, s)
	defer cancel()

	chunkSize := mtu.MaxPayload(512) // 505
	total := chunkSize*40 + 200      // 40 full chunks + a short 41st
	totalChunks := mtu.ExpectedChunks(total, chunkSize)
	init := wire.EncodeControl(wire.CmdTransferInit, 1, uint32(total), uint32(chunkSize), uint32(totalChunks))
	s.OnControlFrame(init)

	for i := 0; i < 40; i++ {
		s.OnDataFrame(wire.EncodeData(uint16(i), make([]byte, chunkSize)))
	}

	deadline := time.After(time.Second)
	for {
		if peer.countOf(wire.CmdChunkRequest) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for second CHUNK_REQUEST")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReceiverDuplicateChunkIsError(t *testing.T) {
	peer := newFakePeer(512)
	errCh := make(chan error, 1)
	s := New(peer, config.New(), Callbacks{
		OnTransferError: func(err error) { errCh <- err },
	})
	s.OnMTUChanged(512)
	cancel := runSession(t, s)
	defer cancel()

	chunkSize := mtu.MaxPayload(512)
	total := chunkSize * 2
	init := wire.EncodeControl(wire.CmdTransferInit, 1, uint32(total), uint32(chunkSize), 2)
	s.OnControlFrame(init)

	s.OnDataFrame(wire.EncodeData(0, make([]byte, chunkSize)))
	s.OnDataFrame(wire.EncodeData(0, make([]byte, chunkSize)))

	select {
	case <-errCh:
		if cm, ok := peer.last(); !ok || cm.Command != wire.CmdTransferError {
			t.Fatalf("expected a TRANSFER_ERROR notification, got %+v", cm)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for duplicate-chunk error")
	}
}

func TestReceiverOversizedInitIsRejected(t *testing.T) {
	peer := newFakePeer(512)
	errCh := make(chan error, 1)
	s := New(peer, config.New().WithMaxTransferSize(100), Callbacks{
		OnTransferError: func(err error) { errCh <- err },
	})
	s.OnMTUChanged(512)
	cancel := runSession(t, s)
	defer cancel()

	init := wire.EncodeControl(wire.CmdTransferInit, 1, 1000, 505, 2)
	s.OnControlFrame(init)

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TRANSFER_TOO_LARGE")
	}
}

func TestReceiverDisconnectResetsMTU(t *testing.T) {
	peer := newFakePeer(512)
	s := New(peer, config.New(), Callbacks{})
	s.OnMTUChanged(512)
	cancel := runSession(t, s)
	defer cancel()

	s.OnDisconnect(nil)
	time.Sleep(50 * time.Millisecond)
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", s.State())
	}
	if s.negotiatedMTU != mtu.DefaultMTU {
		t.Fatalf("negotiatedMTU = %d, want %d", s.negotiatedMTU, mtu.DefaultMTU)
	}
}
