// Package receiver implements the receiver-side (BLE peripheral) half of the
// BLETinyFlow protocol: the state machine that drives an incoming transfer
// by pulling batches of chunks, reassembling them into an owned buffer, and
// handing that buffer to the application exactly once on completion
// (spec.md §4.3).
package receiver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bletinyflow/bletinyflow/internal/config"
	"github.com/bletinyflow/bletinyflow/internal/eventmux"
	"github.com/bletinyflow/bletinyflow/internal/mtu"
	"github.com/bletinyflow/bletinyflow/internal/protoerr"
	"github.com/bletinyflow/bletinyflow/internal/transport"
	"github.com/bletinyflow/bletinyflow/internal/wire"
)

// State is a receiver session state (spec.md §4.3).
type State uint8

const (
	StateIdle State = iota
	StateInitReceived
	StateRequesting
	StateReceiving
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitReceived:
		return "INIT_RECEIVED"
	case StateRequesting:
		return "REQUESTING"
	case StateReceiving:
		return "RECEIVING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Completion is delivered to Callbacks.OnTransferComplete. Buffer is owned
// by the caller only until Release is invoked; Release is safe to call more
// than once.
type Completion struct {
	Buffer    []byte
	Size      int
	JPEGMagic bool
	Release   func()
}

// Callbacks are the application-facing hooks a Session invokes (spec.md §6).
type Callbacks struct {
	OnTransferComplete func(Completion)
	OnTransferError    func(error)
}

// Session is one receiver-side transfer, bound to a single transport.Peer.
// All mutation happens on the goroutine running Run, except the sequence
// increment in SendDeviceInfo, which runs on the caller's goroutine; there is
// no internal locking because events are serialized through eventmux before
// they reach the handlers (spec.md §5).
type Session struct {
	peer      transport.Peer
	cfg       config.Config
	callbacks Callbacks
	mux       *eventmux.Mux

	state State

	totalSize      int
	chunkSize      int
	expectedChunks int

	buffer        []byte
	receivedMap   []bool
	receivedCount int

	batchStart         int
	batchEnd           int
	batchReceivedCount int

	negotiatedMTU int
	maxPayload    int
	sequence      uint16

	released int32 // atomic; 0 = not released, 1 = released

	timer *time.Timer
}

// New creates an idle receiver session bound to peer.
func New(peer transport.Peer, cfg config.Config, callbacks Callbacks) *Session {
	return &Session{
		peer:          peer,
		cfg:           cfg,
		callbacks:     callbacks,
		mux:           eventmux.New("receiver", eventmux.DefaultQueueSize),
		state:         StateIdle,
		negotiatedMTU: mtu.DefaultMTU,
		maxPayload:    mtu.MaxPayload(mtu.DefaultMTU),
	}
}

// Transport event callbacks (transport.Listener). Each immediately hands the
// event to the mux and returns, keeping the transport's calling goroutine
// from ever touching session state directly.

func (s *Session) OnControlFrame(frame []byte) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindControlFrame, Control: frame})
}

func (s *Session) OnDataFrame(frame []byte) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindDataFrame, Data: frame})
}

func (s *Session) OnMTUChanged(newMTU int) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindMTUChanged, MTU: newMTU})
}

func (s *Session) OnConnect() {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindConnect})
}

func (s *Session) OnDisconnect(reason error) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindDisconnect, Reason: reason})
}

// Run drains the session's event queue until ctx is canceled. Callers run
// this on a dedicated goroutine per session.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return
		case ev, ok := <-s.mux.Events():
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev eventmux.Event) {
	switch ev.Kind {
	case eventmux.KindControlFrame:
		s.handleControlFrame(ctx, ev.Control)
	case eventmux.KindDataFrame:
		s.handleDataFrame(ctx, ev.Data)
	case eventmux.KindMTUChanged:
		s.negotiatedMTU = ev.MTU
		s.maxPayload = mtu.MaxPayload(ev.MTU)
	case eventmux.KindConnect:
		// No receiver-side action on connect; DEVICE_INFO (if any) is sent
		// by the application via SendDeviceInfo, not derived here.
	case eventmux.KindDisconnect:
		s.reset()
	case eventmux.KindTimeout:
		s.fail(ctx, ev.Reason)
	}
}

func (s *Session) handleControlFrame(ctx context.Context, frame []byte) {
	cm, err := wire.DecodeControl(frame)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	if cm.Command != wire.CmdTransferInit {
		s.fail(ctx, protoerr.NewStateError("handleControlFrame", protoerr.CodeInvalidCommand, nil))
		return
	}
	s.handleInit(ctx, cm)
}

func (s *Session) handleInit(ctx context.Context, cm wire.ControlMessage) {
	if s.state != StateIdle {
		s.fail(ctx, protoerr.NewStateError("handleInit", protoerr.CodeInvalidCommand,
			fmt.Errorf("INIT received in state %s", s.state)))
		return
	}

	totalSize := int(cm.Param1)
	chunkSize := int(cm.Param2)
	totalChunks := int(cm.Param3)

	if totalSize > s.cfg.MaxTransferSize {
		s.fail(ctx, protoerr.NewStateError("handleInit", protoerr.CodeTransferTooLarge, nil))
		return
	}
	if chunkSize > s.maxPayload {
		s.fail(ctx, protoerr.NewStateError("handleInit", protoerr.CodeChunkSizeTooLarge, nil))
		return
	}
	if totalChunks != mtu.ExpectedChunks(totalSize, chunkSize) {
		s.fail(ctx, protoerr.NewStateError("handleInit", protoerr.CodeInvalidCommand,
			fmt.Errorf("param3=%d != ceil(%d/%d)", totalChunks, totalSize, chunkSize)))
		return
	}

	s.totalSize = totalSize
	s.chunkSize = chunkSize
	s.expectedChunks = totalChunks
	s.buffer = make([]byte, totalSize)
	s.receivedMap = make([]bool, totalChunks)
	s.receivedCount = 0
	atomic.StoreInt32(&s.released, 0)
	s.state = StateInitReceived

	if totalChunks == 0 {
		s.completeTransfer(ctx)
		return
	}

	s.requestNextBatch(ctx, 0)
	s.state = StateRequesting
	s.resetTimer(ctx)
}

func (s *Session) requestNextBatch(ctx context.Context, start int) {
	size := s.cfg.Batch
	if remaining := s.expectedChunks - start; remaining < size {
		size = remaining
	}
	s.batchStart = start
	s.batchEnd = start + size - 1
	s.batchReceivedCount = 0

	s.sequence++
	frame := wire.EncodeControl(wire.CmdChunkRequest, s.sequence, uint32(start), uint32(size), 0)
	if err := s.peer.NotifyControl(ctx, frame); err != nil {
		s.fail(ctx, protoerr.NewWireError("requestNextBatch", protoerr.CodeNotificationSendFailed, err))
	}
}

func (s *Session) handleDataFrame(ctx context.Context, frame []byte) {
	if s.state != StateRequesting && s.state != StateReceiving {
		return
	}
	s.resetTimer(ctx)

	chunkID, payload, err := wire.DecodeData(frame)
	if err != nil {
		s.fail(ctx, err)
		return
	}

	id := int(chunkID)
	if id >= s.expectedChunks {
		s.fail(ctx, protoerr.NewStateError("handleDataFrame", protoerr.CodeInvalidChunkID, nil))
		return
	}
	if s.receivedMap[id] {
		s.fail(ctx, protoerr.NewStateError("handleDataFrame", protoerr.CodeDuplicateChunk, nil))
		return
	}

	offset := id * s.chunkSize
	if offset+len(payload) > s.totalSize {
		s.fail(ctx, protoerr.NewStateError("handleDataFrame", protoerr.CodeBufferOverflow, nil))
		return
	}

	if id < s.batchStart || id > s.batchEnd {
		log.Debug().Int("chunk_id", id).Int("batch_start", s.batchStart).Int("batch_end", s.batchEnd).
			Msg("chunk arrived outside current batch window, accepting anyway")
	}

	copy(s.buffer[offset:], payload)
	s.receivedMap[id] = true
	s.receivedCount++
	if id >= s.batchStart && id <= s.batchEnd {
		s.batchReceivedCount++
	}
	s.state = StateReceiving

	if s.receivedCount == s.expectedChunks {
		s.completeTransfer(ctx)
		return
	}

	if s.batchReceivedCount >= (s.batchEnd-s.batchStart+1) && s.batchEnd+1 < s.expectedChunks {
		s.requestNextBatch(ctx, s.batchEnd+1)
	}
}

func (s *Session) completeTransfer(ctx context.Context) {
	s.stopTimer()
	s.state = StateComplete

	s.sequence++
	frame := wire.EncodeControl(wire.CmdTransferCompleteAck, s.sequence, uint32(s.totalSize), 0, 0)
	if err := s.peer.NotifyControl(ctx, frame); err != nil {
		log.Warn().Err(err).Msg("failed to notify TRANSFER_COMPLETE_ACK")
	}

	jpegMagic := s.totalSize >= 2 && s.buffer[0] == 0xFF && s.buffer[1] == 0xD8
	buffer := s.buffer
	size := s.totalSize

	if s.callbacks.OnTransferComplete != nil {
		s.callbacks.OnTransferComplete(Completion{
			Buffer:    buffer,
			Size:      size,
			JPEGMagic: jpegMagic,
			Release:   s.release,
		})
	}
}

// release marks the current transfer's buffer as released. Safe to call
// more than once; subsequent calls are a no-op with a warning log, matching
// the double-release contract in spec.md §4.3.
func (s *Session) release() {
	if !atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		log.Warn().Msg("receiver buffer released more than once")
		return
	}
	s.buffer = nil
}

func (s *Session) fail(ctx context.Context, err error) {
	if s.state == StateError || s.state == StateComplete {
		return
	}
	s.stopTimer()
	s.state = StateError

	if protoerr.IsProtocolError(err) {
		code := protoerr.CodeOf(err)
		s.sequence++
		frame := wire.EncodeControl(wire.CmdTransferError, s.sequence, uint32(code), 0, 0)
		if sendErr := s.peer.NotifyControl(ctx, frame); sendErr != nil {
			log.Warn().Err(sendErr).Msg("failed to notify TRANSFER_ERROR")
		}
	}

	if s.buffer != nil {
		s.release()
	}
	if s.callbacks.OnTransferError != nil {
		s.callbacks.OnTransferError(err)
	}
}

// reset tears the session down on transport disconnect (spec.md §4.3, §5):
// any in-flight buffer is released and the MTU assumption reverts to the
// BLE baseline for the next connection.
func (s *Session) reset() {
	s.stopTimer()
	if s.buffer != nil {
		s.release()
	}
	s.state = StateIdle
	s.negotiatedMTU = mtu.DefaultMTU
	s.maxPayload = mtu.MaxPayload(mtu.DefaultMTU)
	s.totalSize = 0
	s.chunkSize = 0
	s.expectedChunks = 0
	s.receivedMap = nil
	s.receivedCount = 0
}

func (s *Session) resetTimer(ctx context.Context) {
	s.stopTimer()
	s.timer = time.AfterFunc(s.cfg.Timeout, func() {
		s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindTimeout,
			Reason: protoerr.NewTimeoutError("receiver idle", s.cfg.Timeout, nil)})
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// State reports the session's current state, for observability and tests.
func (s *Session) State() State { return s.state }

// SendDeviceInfo notifies the sender with the optional advisory DEVICE_INFO
// message (spec.md §3). cmd/receiver calls it once per connection, after
// starting Run and before the transport begins delivering frames. It
// increments the session's sequence counter on the caller's goroutine, not
// through the event queue.
func (s *Session) SendDeviceInfo(ctx context.Context, info wire.DeviceInfo) error {
	p1, p2 := wire.EncodeDeviceInfoParams(info)
	s.sequence++
	frame := wire.EncodeControl(wire.CmdDeviceInfo, s.sequence, p1, p2, 0)
	return s.peer.NotifyControl(ctx, frame)
}
