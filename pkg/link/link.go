// Package link provides byte links to the host debugger.
package link

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/pkg/term"
)

// Conn is a buffered byte link over a stream. It implements rsp.Link.
type Conn struct {
	rwc io.ReadWriteCloser
	rdr *bufio.Reader
	wr  *bufio.Writer
}

// New wraps rwc. Written bytes are buffered until Flush.
func New(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		rdr: bufio.NewReader(rwc),
		wr:  bufio.NewWriter(rwc),
	}
}

// ReadByte blocks until the host sends a byte. io.EOF is returned once
// the host is gone.
func (c *Conn) ReadByte() (byte, error) {
	return c.rdr.ReadByte()
}

// WriteByte queues b for transmission.
func (c *Conn) WriteByte(b byte) error {
	return c.wr.WriteByte(b)
}

// Flush transmits queued bytes.
func (c *Conn) Flush() error {
	return c.wr.Flush()
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// Dial connects to a host debugger waiting on a TCP port, as with gdb's
// "target remote | ..." or a terminal server.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// OpenSerial opens a serial device in raw mode at the given baud rate.
func OpenSerial(device string, baud int) (*Conn, error) {
	t, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}
