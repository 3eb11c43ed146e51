// Package tcptransport implements transport.Peer and drives transport.Listener
// over a plain net.Conn. Nothing in the retrieved corpus carries a GATT/BLE
// library, and the protocol engine only ever depends on the narrow
// transport.Peer/Listener boundary (spec.md §6), so the cmd/sender and
// cmd/receiver demo binaries substitute a length-prefixed TCP framing for
// the out-of-scope radio link. This plays the same stand-in role the
// teacher's VirtualConn/DnsPacketConn play for QUIC: a concrete net.Conn
// wrapper the engine itself never imports.
package tcptransport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/bletinyflow/bletinyflow/internal/transport"
)

const (
	kindControl byte = 1
	kindData    byte = 2
)

const headerSize = 5 // 1 byte kind + 4 byte big-endian length

// Conn wraps a net.Conn and implements transport.Peer. A single frame
// format multiplexes both control writes and control notifications onto the
// same byte stream: the receiving side dispatches to OnControlFrame
// regardless of which method on the sending side produced the frame, since
// a given Conn is only ever driven from one direction (sender or receiver).
type Conn struct {
	conn   net.Conn
	mtuVal int32 // atomic

	writeMu sync.Mutex
}

// New wraps conn. NegotiatedMTU reports mtu for the life of the Conn;
// nothing changes it afterwards.
func New(conn net.Conn, mtu int) *Conn {
	c := &Conn{conn: conn}
	atomic.StoreInt32(&c.mtuVal, int32(mtu))
	return c
}

func (c *Conn) SendControl(ctx context.Context, frame []byte) error {
	return c.write(kindControl, frame)
}

func (c *Conn) NotifyControl(ctx context.Context, frame []byte) error {
	return c.write(kindControl, frame)
}

func (c *Conn) SendData(ctx context.Context, frame []byte) error {
	return c.write(kindData, frame)
}

func (c *Conn) NegotiatedMTU() int {
	return int(atomic.LoadInt32(&c.mtuVal))
}

func (c *Conn) write(kind byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := make([]byte, headerSize)
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	_, err := c.conn.Write(payload)
	return err
}

// Run reads frames off conn and dispatches them to listener until the
// connection is closed, reporting OnMTUChanged and OnConnect first and
// OnDisconnect on the way out. Intended to run on its own goroutine; it
// blocks until the peer hangs up or ctx is canceled.
func (c *Conn) Run(ctx context.Context, listener transport.Listener) {
	listener.OnMTUChanged(c.NegotiatedMTU())
	listener.OnConnect()

	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-closed:
		}
	}()

	var disconnectReason error
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			disconnectReason = err
			break
		}
		kind := header[0]
		n := binary.BigEndian.Uint32(header[1:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			disconnectReason = err
			break
		}
		switch kind {
		case kindControl:
			listener.OnControlFrame(payload)
		case kindData:
			listener.OnDataFrame(payload)
		default:
			log.Warn().Uint8("kind", kind).Msg("tcptransport: unknown frame kind, dropping")
		}
	}
	close(closed)
	listener.OnDisconnect(disconnectReason)
}
