package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// FramedBuffer turns a transport into typed reads and writes. Writes
// accumulate an outgoing message until SendMessage; reads consume the
// current incoming message.
type FramedBuffer interface {
	WriteUint8(v uint8) error
	WriteUint16(v uint16) error
	WriteUint32(v uint32) error
	// WriteString appends the raw bytes of s. The length prefix is written
	// by the codec.
	WriteString(s string) error

	ReadUint8() (uint8, error)
	ReadUint16() (uint16, error)
	ReadUint32() (uint32, error)
	// ReadString reads exactly n raw bytes.
	ReadString(n int) (string, error)

	// ReceiveMessage starts a new incoming message.
	ReceiveMessage() error
	// SendMessage transmits everything written since the last send.
	SendMessage() error
	// AssertComplete fails when the current message has unread bytes.
	AssertComplete() error
}

// ---- Reliable stream ----

// StreamBuffer frames a reliable ordered byte stream. Message boundaries are
// implied by the codec; the buffer pulls bytes from the stream only when a
// read needs more than is buffered, and flushes early when a write would
// overflow its outgoing region.
//
// A StreamBuffer is owned by one goroutine at a time. The inbound and
// outbound regions are independent, so one goroutine may read while another
// writes only when each uses its own StreamBuffer over the same stream.
type StreamBuffer struct {
	rw io.ReadWriter

	in         []byte
	rpos, rend int

	out  []byte
	wpos int
}

// NewStreamBuffer wraps rw with StreamBufferSize bytes in each direction.
func NewStreamBuffer(rw io.ReadWriter) *StreamBuffer {
	return &StreamBuffer{
		rw:  rw,
		in:  make([]byte, StreamBufferSize),
		out: make([]byte, StreamBufferSize),
	}
}

// Buffered returns the number of received bytes not yet consumed.
func (b *StreamBuffer) Buffered() int {
	return b.rend - b.rpos
}

// pending returns the number of written bytes not yet sent.
func (b *StreamBuffer) pending() int {
	return b.wpos
}

func (b *StreamBuffer) write(p []byte) error {
	if len(p) > len(b.out) {
		return &FramingError{Op: "write", Msg: fmt.Sprintf("value of %d bytes exceeds buffer capacity %d", len(p), len(b.out))}
	}
	if b.wpos+len(p) > len(b.out) {
		if err := b.SendMessage(); err != nil {
			return err
		}
	}
	b.wpos += copy(b.out[b.wpos:], p)
	return nil
}

func (b *StreamBuffer) WriteUint8(v uint8) error {
	return b.write([]byte{v})
}

func (b *StreamBuffer) WriteUint16(v uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.write(tmp[:])
}

func (b *StreamBuffer) WriteUint32(v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.write(tmp[:])
}

func (b *StreamBuffer) WriteString(s string) error {
	return b.write([]byte(s))
}

// SendMessage writes the bytes produced since the previous send.
func (b *StreamBuffer) SendMessage() error {
	if b.wpos == 0 {
		return nil
	}
	n, err := b.rw.Write(b.out[:b.wpos])
	if err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	if n != b.wpos {
		return &ConnectionError{Op: "write", Err: io.ErrShortWrite}
	}
	b.wpos = 0
	return nil
}

// Fill compacts consumed bytes to the front of the inbound region and then
// blocks until exactly n more bytes have arrived.
func (b *StreamBuffer) Fill(n int) error {
	if b.rpos > 0 {
		b.rend = copy(b.in, b.in[b.rpos:b.rend])
		b.rpos = 0
	}
	if b.rend+n > len(b.in) {
		return &FramingError{Op: "read", Msg: fmt.Sprintf("need %d more bytes, only %d free", n, len(b.in)-b.rend)}
	}
	got, err := io.ReadFull(b.rw, b.in[b.rend:b.rend+n])
	b.rend += got
	if err != nil {
		return &ConnectionError{Op: "read", Err: err}
	}
	return nil
}

func (b *StreamBuffer) next(n int) ([]byte, error) {
	if short := n - b.Buffered(); short > 0 {
		if err := b.Fill(short); err != nil {
			return nil, err
		}
	}
	p := b.in[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

func (b *StreamBuffer) ReadUint8() (uint8, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *StreamBuffer) ReadUint16() (uint16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *StreamBuffer) ReadUint32() (uint32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *StreamBuffer) ReadString(n int) (string, error) {
	if n < 0 {
		return "", &FramingError{Op: "read", Msg: "negative string length"}
	}
	p, err := b.next(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReceiveMessage is a no-op on a stream: bytes are pulled on demand by the
// typed reads.
func (b *StreamBuffer) ReceiveMessage() error {
	return nil
}

// AssertComplete always succeeds on a stream, where buffered bytes belong to
// the next message.
func (b *StreamBuffer) AssertComplete() error {
	return nil
}

// ---- Datagram ----

// DatagramBuffer frames a connectionless packet socket: one datagram is one
// message. Outgoing messages go to a fixed peer.
type DatagramBuffer struct {
	conn net.PacketConn
	peer net.Addr
	from net.Addr

	buf        []byte
	rpos, rend int
	wpos       int
}

// NewDatagramBuffer wraps conn. peer may be nil for a receive-only buffer.
func NewDatagramBuffer(conn net.PacketConn, peer net.Addr) *DatagramBuffer {
	return &DatagramBuffer{
		conn: conn,
		peer: peer,
		buf:  make([]byte, MaxDatagramSize),
	}
}

// Sender returns the source address of the last received datagram.
func (b *DatagramBuffer) Sender() net.Addr {
	return b.from
}

// Peer returns the destination of outgoing datagrams.
func (b *DatagramBuffer) Peer() net.Addr {
	return b.peer
}

func (b *DatagramBuffer) reset() {
	b.rpos, b.rend, b.wpos = 0, 0, 0
}

func (b *DatagramBuffer) write(p []byte) error {
	if b.wpos+len(p) > len(b.buf) {
		return &FramingError{Op: "write", Msg: fmt.Sprintf("message exceeds datagram capacity %d", len(b.buf))}
	}
	b.wpos += copy(b.buf[b.wpos:], p)
	return nil
}

func (b *DatagramBuffer) WriteUint8(v uint8) error {
	return b.write([]byte{v})
}

func (b *DatagramBuffer) WriteUint16(v uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.write(tmp[:])
}

func (b *DatagramBuffer) WriteUint32(v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.write(tmp[:])
}

func (b *DatagramBuffer) WriteString(s string) error {
	return b.write([]byte(s))
}

// SendMessage sends the accumulated bytes as one datagram and resets the
// buffer. The message is discarded even when the send fails.
func (b *DatagramBuffer) SendMessage() error {
	defer b.reset()
	if b.peer == nil {
		return &ConnectionError{Op: "send", Err: errors.New("no peer address")}
	}
	if _, err := b.conn.WriteTo(b.buf[:b.wpos], b.peer); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// ReceiveMessage blocks for one datagram, which becomes the current message.
func (b *DatagramBuffer) ReceiveMessage() error {
	b.reset()
	n, from, err := b.conn.ReadFrom(b.buf)
	if err != nil {
		return &ConnectionError{Op: "receive", Err: err}
	}
	b.rend = n
	b.from = from
	return nil
}

func (b *DatagramBuffer) next(n int) ([]byte, error) {
	if b.rend-b.rpos < n {
		return nil, &ProtocolError{Message: fmt.Sprintf("datagram too short: need %d bytes at offset %d, have %d", n, b.rpos, b.rend-b.rpos)}
	}
	p := b.buf[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

func (b *DatagramBuffer) ReadUint8() (uint8, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *DatagramBuffer) ReadUint16() (uint16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *DatagramBuffer) ReadUint32() (uint32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *DatagramBuffer) ReadString(n int) (string, error) {
	if n < 0 {
		return "", &FramingError{Op: "read", Msg: "negative string length"}
	}
	p, err := b.next(n)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// AssertComplete rejects a datagram carrying bytes beyond the decoded message.
func (b *DatagramBuffer) AssertComplete() error {
	if extra := b.rend - b.rpos; extra > 0 {
		return &FramingError{Op: "read", Msg: fmt.Sprintf("%d trailing bytes after message", extra)}
	}
	return nil
}

var (
	_ FramedBuffer = (*StreamBuffer)(nil)
	_ FramedBuffer = (*DatagramBuffer)(nil)
)
