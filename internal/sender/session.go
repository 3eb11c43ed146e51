// Package sender implements the sender-side (BLE central) half of the
// BLETinyFlow protocol: initiating a transfer with TRANSFER_INIT, waiting
// for pull requests, and streaming the requested chunk range on the data
// channel in strict order (spec.md §4.4).
package sender

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bletinyflow/bletinyflow/internal/config"
	"github.com/bletinyflow/bletinyflow/internal/eventmux"
	"github.com/bletinyflow/bletinyflow/internal/mtu"
	"github.com/bletinyflow/bletinyflow/internal/protoerr"
	"github.com/bletinyflow/bletinyflow/internal/transport"
	"github.com/bletinyflow/bletinyflow/internal/wire"
)

// State is a sender session state (spec.md §4.4).
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateSendingInit
	StateWaitingForRequest
	StateSendingData
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateSendingInit:
		return "SENDING_INIT"
	case StateWaitingForRequest:
		return "WAITING_FOR_REQUEST"
	case StateSendingData:
		return "SENDING_DATA"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Sender-local errors (spec.md §7): never placed on the wire.
var (
	ErrFileTooLarge      = &localError{"FILE_TOO_LARGE"}
	ErrNotConnected      = &localError{"NOT_CONNECTED"}
	ErrConnectionTimeout = &localError{"CONNECTION_TIMEOUT"}
)

type localError struct{ name string }

func (e *localError) Error() string { return e.name }

// Progress is delivered to Callbacks.OnProgress, coalesced to no more than
// once every 5 chunks (spec.md §5).
type Progress struct {
	ChunksSent  int
	TotalChunks int
	BytesSent   int
}

// Result is delivered to Callbacks.OnComplete.
type Result struct {
	Size       int
	Elapsed    time.Duration
	Throughput float64 // bytes/sec
}

// Callbacks are the application-facing hooks a Session invokes.
type Callbacks struct {
	OnProgress   func(Progress)
	OnComplete   func(Result)
	OnError      func(error)
	OnDeviceInfo func(wire.DeviceInfo)
}

const progressCoalesceChunks = 5

// Session is one sender-side transfer, bound to a single transport.Peer.
// Like receiver.Session, all mutation happens on the goroutine running Run.
type Session struct {
	peer      transport.Peer
	cfg       config.Config
	callbacks Callbacks
	mux       *eventmux.Mux

	state State

	payload        []byte
	chunkSize      int
	totalChunks    int
	chunks         []mtu.Range
	negotiatedMTU  int
	maxPayload     int
	sequence       uint16
	bytesSent      int
	chunksSent     int
	chunksSinceLog int
	initSentAt     time.Time

	connected bool
	timer     *time.Timer
}

// New creates an idle sender session bound to peer.
func New(peer transport.Peer, cfg config.Config, callbacks Callbacks) *Session {
	return &Session{
		peer:          peer,
		cfg:           cfg,
		callbacks:     callbacks,
		mux:           eventmux.New("sender", eventmux.DefaultQueueSize),
		state:         StateIdle,
		negotiatedMTU: mtu.DefaultMTU,
		maxPayload:    mtu.MaxPayload(mtu.DefaultMTU),
	}
}

// transport.Listener implementation; see receiver.Session for the rationale
// of immediately handing events to the mux.

func (s *Session) OnControlFrame(frame []byte) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindControlFrame, Control: frame})
}

func (s *Session) OnDataFrame(frame []byte) {} // sender never receives data frames

func (s *Session) OnMTUChanged(newMTU int) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindMTUChanged, MTU: newMTU})
}

func (s *Session) OnConnect() {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindConnect})
}

func (s *Session) OnDisconnect(reason error) {
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindDisconnect, Reason: reason})
}

// Run drains the session's event queue until ctx is canceled.
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

// TransferFile begins a transfer (spec.md §4.4 IDLE + transferFile). The
// size check against MAX_FILE_SIZE happens here, synchronously, since it
// never touches session state or the transport (spec.md §8 boundary
// scenario 7); everything past that is handed to the event loop so state
// mutation stays confined to the single goroutine running Run.
func (s *Session) TransferFile(payload []byte) error {
	if len(payload) > s.cfg.MaxTransferSize {
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(ErrFileTooLarge)
		}
		return ErrFileTooLarge
	}
	s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindTransferRequested, Data: payload})
	return nil
}

func (s *Session) handle(ctx context.Context, ev eventmux.Event) {
	switch ev.Kind {
	case eventmux.KindControlFrame:
		s.handleControlFrame(ctx, ev.Control)
	case eventmux.KindMTUChanged:
		s.negotiatedMTU = ev.MTU
		s.maxPayload = mtu.MaxPayload(ev.MTU)
	case eventmux.KindConnect:
		s.connected = true
		if s.state == StateConnecting {
			s.beginInit(ctx)
		}
	case eventmux.KindDisconnect:
		s.connected = false
		s.teardown()
	case eventmux.KindTimeout:
		s.notifyError(protoerr.NewTimeoutError("sender idle", s.cfg.Timeout, ev.Reason))
	case eventmux.KindTransferRequested:
		s.handleTransferRequested(ctx, ev.Data)
	}
}

func (s *Session) handleTransferRequested(ctx context.Context, payload []byte) {
	if s.state != StateIdle {
		s.notifyError(protoerr.NewStateError("transferFile", protoerr.CodeInvalidCommand, nil))
		return
	}
	s.payload = payload
	if !s.connected {
		s.state = StateConnecting
		return
	}
	s.beginInit(ctx)
}

func (s *Session) beginInit(ctx context.Context) {
	s.state = StateSendingInit

	s.chunkSize = s.maxPayload
	if s.chunkSize <= 0 {
		s.notifyError(protoerr.NewStateError("beginInit", protoerr.CodeChunkSizeTooLarge, nil))
		return
	}
	s.totalChunks = mtu.ExpectedChunks(len(s.payload), s.chunkSize)
	s.chunks = mtu.Chunks(len(s.payload), s.chunkSize)
	s.bytesSent = 0
	s.chunksSent = 0
	s.chunksSinceLog = 0

	s.sequence++
	s.initSentAt = time.Now()
	frame := wire.EncodeControl(wire.CmdTransferInit, s.sequence,
		uint32(len(s.payload)), uint32(s.chunkSize), uint32(s.totalChunks))
	if err := s.peer.SendControl(ctx, frame); err != nil {
		s.notifyError(err)
		return
	}

	s.state = StateWaitingForRequest
	s.resetTimer()
}

func (s *Session) handleControlFrame(ctx context.Context, frame []byte) {
	cm, err := wire.DecodeControl(frame)
	if err != nil {
		s.notifyError(err)
		return
	}

	switch cm.Command {
	case wire.CmdChunkRequest:
		s.handleChunkRequest(ctx, cm)
	case wire.CmdTransferCompleteAck:
		s.handleCompleteAck(cm)
	case wire.CmdTransferError:
		s.handleTransferError(cm)
	case wire.CmdDeviceInfo:
		if s.callbacks.OnDeviceInfo != nil {
			s.callbacks.OnDeviceInfo(wire.DecodeDeviceInfoParams(cm.Param1, cm.Param2))
		}
	default:
		s.notifyError(protoerr.NewStateError("handleControlFrame", protoerr.CodeInvalidCommand, nil))
	}
}

func (s *Session) handleChunkRequest(ctx context.Context, cm wire.ControlMessage) {
	if s.state != StateWaitingForRequest && s.state != StateSendingData {
		return
	}
	s.resetTimer()

	start := int(cm.Param1)
	n := int(cm.Param2)
	if start >= s.totalChunks {
		log.Debug().Int("start", start).Int("total_chunks", s.totalChunks).
			Msg("CHUNK_REQUEST past end of transfer, ignoring")
		return
	}

	end := start + n
	if end > s.totalChunks {
		end = s.totalChunks
	}

	s.state = StateSendingData
	for id := start; id < end; id++ {
		r := s.chunks[id]
		frame := wire.EncodeData(uint16(id), s.payload[r.Start:r.End])
		if err := s.peer.SendData(ctx, frame); err != nil {
			s.notifyError(err)
			return
		}
		s.bytesSent += r.Len()
		s.chunksSent++
		s.chunksSinceLog++
		if s.chunksSinceLog >= progressCoalesceChunks {
			s.reportProgress()
		}
	}
	s.state = StateWaitingForRequest
}

func (s *Session) reportProgress() {
	s.chunksSinceLog = 0
	if s.callbacks.OnProgress != nil {
		s.callbacks.OnProgress(Progress{
			ChunksSent:  s.chunksSent,
			TotalChunks: s.totalChunks,
			BytesSent:   s.bytesSent,
		})
	}
}

func (s *Session) handleCompleteAck(cm wire.ControlMessage) {
	if s.state != StateWaitingForRequest && s.state != StateSendingData {
		return
	}
	s.stopTimer()
	s.state = StateCompleted
	elapsed := time.Since(s.initSentAt)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(cm.Param1) / elapsed.Seconds()
	}
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(Result{Size: int(cm.Param1), Elapsed: elapsed, Throughput: throughput})
	}
}

func (s *Session) handleTransferError(cm wire.ControlMessage) {
	if s.state != StateWaitingForRequest && s.state != StateSendingData {
		return
	}
	s.stopTimer()
	s.notifyError(protoerr.NewWireError("handleTransferError", protoerr.Code(cm.Param1), nil))
}

// notifyError transitions to the terminal FAILED state and releases the
// borrowed payload reference. FAILED persists until the transport
// disconnects, when teardown returns the session to IDLE; a transferFile
// issued while FAILED is rejected.
func (s *Session) notifyError(err error) {
	s.stopTimer()
	s.payload = nil
	s.chunks = nil
	s.state = StateFailed
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// teardown returns the session to IDLE on transport disconnect (spec.md
// §5): cancellation is unconditional, any pending writes are abandoned,
// and the session is ready for a new connection.
func (s *Session) teardown() {
	s.stopTimer()
	s.payload = nil
	s.chunks = nil
	s.state = StateIdle
}

func (s *Session) resetTimer() {
	s.stopTimer()
	s.timer = time.AfterFunc(s.cfg.Timeout, func() {
		s.mux.Dispatch(eventmux.Event{Kind: eventmux.KindTimeout})
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
