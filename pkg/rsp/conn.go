// Package rsp implements the packet layer of the GDB Remote Serial
// Protocol as seen from the target side of the link.
// The details of the wire protocol are described here:
//
//	https://sourceware.org/gdb/onlinedocs/gdb/Overview.html#Overview
package rsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/patmos-dbg/rspagent/pkg/logflags"
)

// Registers is the number of 32-bit fields in a 'g' reply.
const Registers = 32 + 6

// MaxPayload is the largest payload the agent accepts or produces,
// a full register dump plus one byte.
const MaxPayload = Registers*8 + 1

const wireMaxLen = 120

var (
	// ErrLinkClosed is returned when the link reports end of stream.
	ErrLinkClosed = errors.New("link closed")
	// ErrTooManyAttempts is returned when the host keeps rejecting a packet.
	ErrTooManyAttempts = errors.New("too many transmit attempts")
)

// Link is a blocking, byte oriented connection to the host debugger.
// Written bytes may be buffered until Flush is called.
type Link interface {
	io.ByteReader
	io.ByteWriter
	Flush() error
}

// Stats counts the traffic that went through a Conn.
type Stats struct {
	Sent     int // packets acknowledged by the host
	Received int // packets acknowledged to the host
	Naks     int // negative acknowledgements sent
	Resends  int // packets sent again after a rejected acknowledgement
}

// Conn frames and deframes packets over a Link.
type Conn struct {
	link Link

	inbuf  []byte
	outbuf bytes.Buffer

	// MaxAttempts bounds the number of times a packet is transmitted
	// before giving up. Zero means retry until the host acknowledges or
	// the link closes.
	MaxAttempts int

	stats Stats
	log   logflags.Logger
}

// NewConn returns a Conn reading and writing on link.
func NewConn(link Link) *Conn {
	return &Conn{
		link:  link,
		inbuf: make([]byte, 0, MaxPayload),
		log:   logflags.RSPWireLogger(),
	}
}

// Stats returns a copy of the traffic counters.
func (conn *Conn) Stats() Stats {
	return conn.stats
}

// Recv reads the next packet whose checksum verifies, acknowledging it
// with '+'. Corrupted packets are rejected with '-' and the whole receive
// starts over. The returned payload is only valid until the next call to
// Recv.
func (conn *Conn) Recv() ([]byte, error) {
	for {
		payload, ok, err := conn.recvOnce()
		if err != nil {
			return nil, err
		}
		if ok {
			conn.stats.Received++
			return payload, nil
		}
	}
}

func (conn *Conn) recvOnce() (payload []byte, ok bool, err error) {
	for {
		ch, err := conn.readByte()
		if err != nil {
			return nil, false, err
		}
		if ch == '$' {
			break
		}
	}

	var sum uint8
	buf := conn.inbuf[:0]
	terminated := false
	for {
		ch, err := conn.readByte()
		if err != nil {
			return nil, false, err
		}
		if ch == '$' {
			sum = 0
			buf = buf[:0]
			continue
		}
		if ch == '#' {
			terminated = true
			break
		}
		// a full buffer still accepts the terminating '#'
		if len(buf) >= MaxPayload-1 {
			break
		}
		sum += ch
		buf = append(buf, ch)
	}
	conn.inbuf = buf

	if !terminated {
		// oversized packet, wait for the host to resend
		conn.log.Debugf("-> packet exceeds %d bytes, dropped", MaxPayload-1)
		return nil, false, nil
	}

	var csum [2]byte
	for i := range csum {
		if csum[i], err = conn.readByte(); err != nil {
			return nil, false, err
		}
	}
	if logflags.RSPWire() {
		conn.logPacket("->", buf, csum[:])
	}

	want, hexok := parseChecksum(csum[:])
	if !hexok || want != sum {
		conn.stats.Naks++
		return nil, false, conn.sendack('-')
	}
	if err := conn.sendack('+'); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// Send transmits payload and waits for the host to acknowledge it. The
// whole packet is sent again for every acknowledgement that isn't '+'.
func (conn *Conn) Send(payload []byte) error {
	conn.outbuf.Reset()
	encode(&conn.outbuf, payload)
	pkt := conn.outbuf.Bytes()

	attempt := 0
	for {
		if logflags.RSPWire() {
			if len(pkt) > wireMaxLen {
				conn.log.Debugf("<- %s...", string(pkt[:wireMaxLen]))
			} else {
				conn.log.Debugf("<- %s", string(pkt))
			}
		}
		for _, ch := range pkt {
			if err := conn.link.WriteByte(ch); err != nil {
				return fmt.Errorf("rsp: write: %w", conn.linkError(err))
			}
		}
		if err := conn.link.Flush(); err != nil {
			return fmt.Errorf("rsp: write: %w", conn.linkError(err))
		}

		ack, err := conn.readack()
		if err != nil {
			return err
		}
		if ack {
			conn.stats.Sent++
			return nil
		}
		attempt++
		if conn.MaxAttempts > 0 && attempt >= conn.MaxAttempts {
			return ErrTooManyAttempts
		}
		conn.stats.Resends++
	}
}

// SendString is a convenience wrapper around Send.
func (conn *Conn) SendString(payload string) error {
	return conn.Send([]byte(payload))
}

// readack reads one byte from the host, returns true if the byte is '+'.
func (conn *Conn) readack() (bool, error) {
	b, err := conn.readByte()
	if err != nil {
		return false, err
	}
	conn.log.Debugf("-> %s", string(b))
	return b == '+', nil
}

// sendack writes an ack character, c must be either '+' or '-'.
func (conn *Conn) sendack(c byte) error {
	if c != '+' && c != '-' {
		panic(fmt.Errorf("sendack(%c)", c))
	}
	if err := conn.link.WriteByte(c); err != nil {
		return fmt.Errorf("rsp: write: %w", conn.linkError(err))
	}
	if err := conn.link.Flush(); err != nil {
		return fmt.Errorf("rsp: write: %w", conn.linkError(err))
	}
	conn.log.Debugf("<- %s", string(c))
	return nil
}

func (conn *Conn) readByte() (byte, error) {
	b, err := conn.link.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrLinkClosed
		}
		return 0, fmt.Errorf("rsp: read: %w", err)
	}
	return b, nil
}

func (conn *Conn) linkError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return ErrLinkClosed
	}
	return err
}

func (conn *Conn) logPacket(dir string, payload, csum []byte) {
	if len(payload) > wireMaxLen {
		conn.log.Debugf("%s $%s...", dir, string(payload[:wireMaxLen]))
		return
	}
	conn.log.Debugf("%s $%s#%s", dir, string(payload), string(csum))
}
