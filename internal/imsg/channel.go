package imsg

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is a retry signal, not a failure.
	ErrWouldBlock    = errors.New("imsg: operation would block")
	ErrPeerClosed    = errors.New("imsg: peer closed the channel")
	ErrProtocol      = errors.New("imsg: protocol error")
	ErrChannelFull   = errors.New("imsg: output queue is full")
	ErrSerialization = errors.New("imsg: cannot serialize message")
	ErrClosed        = errors.New("imsg: channel is closed")
)

const (
	readChunk = 4 * MaxSize
	// DefaultQueueLimit bounds the bytes waiting in the output queue.
	DefaultQueueLimit = 1 << 20
)

type Message struct {
	Header
	Data []byte
}

// Decode turns the frame into its typed payload.
func (m Message) Decode() (Payload, error) {
	return decodePayload(m.Header.Type, m.Data)
}

// Channel frames typed messages over one connected stream socket. It
// never blocks: Send only queues, Flush and Read do what the socket
// accepts right now. A Channel is owned by a single goroutine.
type Channel struct {
	fd   int
	pid  uint32
	name string

	rbuf []byte
	roff int
	wbuf bytes.Buffer

	queueLimit int
	drainLimit int
	broken     error
	closed     bool
}

// NewChannel takes ownership of fd and switches it to non-blocking mode.
func NewChannel(fd int, name string) (*Channel, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock on %s: %w", name, err)
	}
	return &Channel{
		fd:         fd,
		pid:        uint32(os.Getpid()),
		name:       name,
		rbuf:       make([]byte, 0, readChunk),
		queueLimit: DefaultQueueLimit,
	}, nil
}

func (c *Channel) Fd() int {
	return c.fd
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) SetQueueLimit(limit int) {
	c.queueLimit = limit
	c.drainLimit = 0
}

// SetQueueLimitAfterDrain switches to limit once everything queued so far
// has been written.
func (c *Channel) SetQueueLimitAfterDrain(limit int) {
	if c.wbuf.Len() == 0 {
		c.SetQueueLimit(limit)
		return
	}
	c.drainLimit = limit
}

// Compose queues one raw frame.
func (c *Channel) Compose(typ Type, peerID uint32, data []byte) error {
	if c.closed {
		return ErrClosed
	}
	if !typ.Known() {
		return fmt.Errorf("%w: unknown type %d", ErrSerialization, uint32(typ))
	}
	if len(data) > MaxPayload {
		return fmt.Errorf("%w: %s payload of %d bytes exceeds %d", ErrSerialization, typ, len(data), MaxPayload)
	}
	frameLen := HeaderSize + len(data)
	if c.wbuf.Len()+frameLen > c.queueLimit {
		return fmt.Errorf("%w: %s (%d bytes queued)", ErrChannelFull, c.name, c.wbuf.Len())
	}

	var hdr [HeaderSize]byte
	Header{
		Type:   typ,
		Len:    uint16(frameLen),
		PeerID: peerID,
		PID:    c.pid,
	}.put(hdr[:])
	c.wbuf.Write(hdr[:])
	c.wbuf.Write(data)
	return nil
}

// Send encodes p and queues it.
func (c *Channel) Send(peerID uint32, p Payload) error {
	data, err := encodePayload(p)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSerialization, p.Type(), err)
	}
	return c.Compose(p.Type(), peerID, data)
}

// Pending reports whether queued output waits for Flush.
func (c *Channel) Pending() bool {
	return c.wbuf.Len() > 0
}

// Flush writes as much queued output as the socket takes. A partial
// write keeps the rest queued and returns ErrWouldBlock.
func (c *Channel) Flush() (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	written := 0
	for c.wbuf.Len() > 0 {
		n, err := unix.Write(c.fd, c.wbuf.Bytes())
		if n > 0 {
			written += n
			c.wbuf.Next(n)
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return written, ErrWouldBlock
		case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET):
			return written, fmt.Errorf("%w: %s: %v", ErrPeerClosed, c.name, err)
		default:
			return written, fmt.Errorf("write %s: %w", c.name, err)
		}
	}
	if c.drainLimit > 0 {
		c.SetQueueLimit(c.drainLimit)
	}
	return written, nil
}

// Read pulls whatever the socket has into the reassembly buffer. It
// returns ErrPeerClosed on end of stream and ErrWouldBlock when nothing
// is ready.
func (c *Channel) Read() (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	c.compact()
	for {
		n, err := unix.Read(c.fd, c.rbuf[len(c.rbuf):cap(c.rbuf)])
		switch {
		case err == nil && n == 0:
			return 0, fmt.Errorf("%w: %s", ErrPeerClosed, c.name)
		case err == nil:
			c.rbuf = c.rbuf[:len(c.rbuf)+n]
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		case errors.Is(err, unix.ECONNRESET):
			return 0, fmt.Errorf("%w: %s: %v", ErrPeerClosed, c.name, err)
		default:
			return 0, fmt.Errorf("read %s: %w", c.name, err)
		}
	}
}

func (c *Channel) compact() {
	if c.roff > 0 {
		rest := copy(c.rbuf, c.rbuf[c.roff:])
		c.rbuf = c.rbuf[:rest]
		c.roff = 0
	}
	if cap(c.rbuf)-len(c.rbuf) < MaxSize {
		grown := make([]byte, len(c.rbuf), cap(c.rbuf)+readChunk)
		copy(grown, c.rbuf)
		c.rbuf = grown
	}
}

// Get extracts the next complete frame from the reassembly buffer. ok
// is false when only a partial frame (or nothing) is buffered. A bad
// header breaks the channel for good.
func (c *Channel) Get() (msg Message, ok bool, err error) {
	if c.broken != nil {
		return Message{}, false, c.broken
	}
	avail := c.rbuf[c.roff:]
	if len(avail) < HeaderSize {
		return Message{}, false, nil
	}
	hdr := parseHeader(avail)
	if err := hdr.validate(); err != nil {
		c.broken = fmt.Errorf("%s: %w", c.name, err)
		return Message{}, false, c.broken
	}
	if len(avail) < int(hdr.Len) {
		return Message{}, false, nil
	}
	data := make([]byte, hdr.PayloadLen())
	copy(data, avail[HeaderSize:hdr.Len])
	c.roff += int(hdr.Len)
	return Message{Header: hdr, Data: data}, true, nil
}

// Messages yields the complete frames buffered so far. A trailing
// partial frame stays buffered for the next call.
func (c *Channel) Messages() iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			msg, ok, err := c.Get()
			if err != nil {
				yield(Message{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Receive is Read followed by Messages. ErrWouldBlock is swallowed.
func (c *Channel) Receive() (iter.Seq2[Message, error], error) {
	_, err := c.Read()
	if err != nil && !errors.Is(err, ErrWouldBlock) {
		return func(func(Message, error) bool) {}, err
	}
	return c.Messages(), nil
}

// Close releases the descriptor. Later calls are no-ops.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.wbuf.Reset()
	return unix.Close(c.fd)
}
