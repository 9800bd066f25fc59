package bus

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cec-lip/lipd/internal/lipconst"
)

// frameAddr narrows a wire-carried 16-bit address field back to the
// 4-bit logical address space (plus sentinels), matching the
// adapter-side encoding of lipconst.LogicalAddress.
func frameAddr(v uint16) lipconst.LogicalAddress {
	return lipconst.LogicalAddress(int8(v))
}

// TCPBus frames Frame values over a single TCP connection to an
// external CEC adapter process, the same "one socket, length-prefixed
// frames" shape the teacher uses for its UDP-framed DMR servers,
// adapted to a stream transport since CEC-over-TCP has no natural
// datagram boundary of its own.
//
// Wire framing per message: uint16 initiator, uint16 destination,
// uint32 payload length, payload bytes. All big-endian.
type TCPBus struct {
	mu      sync.Mutex
	conn    net.Conn
	onFrame func(Frame) bool
}

// DialTCPBus connects to addr (an external adapter listening for a
// single client) and returns a Bus ready for RegisterReceive.
func DialTCPBus(addr string) (*TCPBus, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}
	b := &TCPBus{conn: conn}
	go b.readLoop()
	return b, nil
}

// ListenTCPBus listens on addr and accepts exactly one adapter
// connection (a LIP node has a single downstream neighbour, per §1,
// so there is never more than one adapter session to serve).
func ListenTCPBus(addr string) (*TCPBus, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: listen %s: %w", addr, err)
	}
	conn, err := ln.Accept()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("bus: accept on %s: %w", addr, err)
	}
	_ = ln.Close()
	b := &TCPBus{conn: conn}
	go b.readLoop()
	return b, nil
}

func (b *TCPBus) RegisterReceive(fn func(Frame) bool) {
	b.mu.Lock()
	b.onFrame = fn
	b.mu.Unlock()
}

// Transmit writes f to the adapter connection. It never blocks behind
// the core mutex for long: a write to a healthy TCP socket is a local
// buffer copy, and a dead connection fails fast instead of hanging.
func (b *TCPBus) Transmit(f Frame) bool {
	header := make([]byte, 8+len(f.Payload))
	binary.BigEndian.PutUint16(header[0:2], uint16(f.Initiator))
	binary.BigEndian.PutUint16(header[2:4], uint16(f.Destination))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(f.Payload)))
	copy(header[8:], f.Payload)

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return false
	}
	_, err := conn.Write(header)
	return err == nil
}

// Close tears down the underlying connection.
func (b *TCPBus) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close() //nolint:wrapcheck
}

// readLoop decodes frames off the wire and calls the registered
// receive callback for each one directly on this read goroutine
// (unlike SimBus, which starts a goroutine per frame). The callback
// acquires the core mutex; this goroutine never holds it otherwise.
func (b *TCPBus) readLoop() {
	header := make([]byte, 8)
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		initiator := binary.BigEndian.Uint16(header[0:2])
		destination := binary.BigEndian.Uint16(header[2:4])
		length := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		b.mu.Lock()
		fn := b.onFrame
		b.mu.Unlock()
		if fn == nil {
			continue
		}
		frame := Frame{
			Initiator:   frameAddr(initiator),
			Destination: frameAddr(destination),
			Payload:     payload,
		}
		fn(frame)
	}
}
