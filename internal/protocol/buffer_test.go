package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"testing/iotest"
	"time"
)

type splitRW struct {
	io.Reader
	io.Writer
}

type recordingWriter struct {
	writes [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestStreamBufferPrimitives(t *testing.T) {
	var wire bytes.Buffer
	b := NewStreamBuffer(&wire)

	b.WriteUint8(0x42)
	b.WriteUint16(0x1234)
	b.WriteUint32(0xDEADBEEF)
	b.WriteString("robots")
	if err := b.SendMessage(); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	want := []byte{0x42, 0x12, 0x34, 0xDE, 0xAD, 0xBE, 0xEF, 'r', 'o', 'b', 'o', 't', 's'}
	if !bytes.Equal(wire.Bytes(), want) {
		t.Fatalf("wire = % X, want % X", wire.Bytes(), want)
	}

	u8, err := b.ReadUint8()
	if err != nil || u8 != 0x42 {
		t.Errorf("ReadUint8() = %x, %v; want 0x42, nil", u8, err)
	}
	u16, err := b.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Errorf("ReadUint16() = %x, %v; want 0x1234, nil", u16, err)
	}
	u32, err := b.ReadUint32()
	if err != nil || u32 != 0xDEADBEEF {
		t.Errorf("ReadUint32() = %x, %v; want 0xDEADBEEF, nil", u32, err)
	}
	s, err := b.ReadString(6)
	if err != nil || s != "robots" {
		t.Errorf("ReadString(6) = %q, %v; want \"robots\", nil", s, err)
	}
}

func TestStreamBufferSendOnlyNewBytes(t *testing.T) {
	w := &recordingWriter{}
	b := NewStreamBuffer(splitRW{Reader: bytes.NewReader(nil), Writer: w})

	b.WriteUint8(1)
	b.SendMessage()
	b.WriteUint8(2)
	b.WriteUint8(3)
	b.SendMessage()
	b.SendMessage()

	if len(w.writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(w.writes))
	}
	if !bytes.Equal(w.writes[1], []byte{2, 3}) {
		t.Errorf("second write = %v, want [2 3]", w.writes[1])
	}
}

func TestStreamBufferAutoFlush(t *testing.T) {
	w := &recordingWriter{}
	b := NewStreamBuffer(splitRW{Reader: bytes.NewReader(nil), Writer: w})

	for i := 0; i < StreamBufferSize+6; i++ {
		if err := b.WriteUint8(uint8(i)); err != nil {
			t.Fatalf("WriteUint8 #%d error = %v", i, err)
		}
	}
	if len(w.writes) != 1 || len(w.writes[0]) != StreamBufferSize {
		t.Fatalf("expected one automatic flush of %d bytes, got %d writes", StreamBufferSize, len(w.writes))
	}
	if b.pending() != 6 {
		t.Errorf("pending() = %d, want 6", b.pending())
	}

	// A value that does not fit the remaining space flushes before it is written.
	for b.pending() < StreamBufferSize-1 {
		b.WriteUint8(0)
	}
	b.WriteUint32(0xCAFEBABE)
	if len(w.writes) != 2 || len(w.writes[1]) != StreamBufferSize-1 {
		t.Fatalf("expected second flush of %d bytes before the uint32", StreamBufferSize-1)
	}
	if b.pending() != 4 {
		t.Errorf("pending() = %d, want 4", b.pending())
	}
}

func TestStreamBufferFragmentedReads(t *testing.T) {
	var raw bytes.Buffer
	msg := Turn{Turn: 9, Events: []Event{
		PlayerMovedEvent(0, Position{X: 4, Y: 4}),
		BombExplodedEvent(3, []PlayerID{0, 2}, []Position{{X: 1, Y: 1}}),
		BlockPlacedEvent(Position{X: 0, Y: 65535}),
	}}
	if err := SendServerMessage(NewStreamBuffer(&raw), msg); err != nil {
		t.Fatalf("SendServerMessage() error = %v", err)
	}

	whole, err := ReadServerMessage(NewStreamBuffer(bytes.NewBuffer(raw.Bytes())))
	if err != nil {
		t.Fatalf("single pass decode error = %v", err)
	}

	oneByte := iotest.OneByteReader(bytes.NewReader(raw.Bytes()))
	fragmented, err := ReadServerMessage(NewStreamBuffer(splitRW{Reader: oneByte, Writer: io.Discard}))
	if err != nil {
		t.Fatalf("fragmented decode error = %v", err)
	}

	if !messagesEqual(whole, fragmented) {
		t.Errorf("fragmented decode = %+v, want %+v", fragmented, whole)
	}
}

func TestStreamBufferTwoWritesOverPipe(t *testing.T) {
	var raw bytes.Buffer
	msg := AcceptedPlayer{ID: 3, Player: Player{Name: "alice", Address: "[::1]:4000"}}
	SendServerMessage(NewStreamBuffer(&raw), msg)
	data := raw.Bytes()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		server.Write(data[:4])
		time.Sleep(10 * time.Millisecond)
		server.Write(data[4:])
	}()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	got, err := ReadServerMessage(NewStreamBuffer(client))
	if err != nil {
		t.Fatalf("ReadServerMessage() error = %v", err)
	}
	if !messagesEqual(got, msg) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestStreamBufferCompactsConsumedBytes(t *testing.T) {
	// Two full-capacity payloads can only be read if consumed bytes are reclaimed.
	payload := bytes.Repeat([]byte{0xAB}, StreamBufferSize)
	stream := bytes.NewReader(append(append([]byte{}, payload...), payload...))
	b := NewStreamBuffer(splitRW{Reader: stream, Writer: io.Discard})

	for i := 0; i < 2; i++ {
		s, err := b.ReadString(StreamBufferSize)
		if err != nil {
			t.Fatalf("ReadString #%d error = %v", i, err)
		}
		if len(s) != StreamBufferSize {
			t.Fatalf("ReadString #%d returned %d bytes", i, len(s))
		}
	}
}

func TestStreamBufferOversizedRead(t *testing.T) {
	b := NewStreamBuffer(splitRW{Reader: bytes.NewReader(nil), Writer: io.Discard})
	_, err := b.ReadString(StreamBufferSize + 1)
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("ReadString(too long) error = %v, want *FramingError", err)
	}
}

func TestStreamBufferPeerClosed(t *testing.T) {
	b := NewStreamBuffer(splitRW{Reader: bytes.NewReader([]byte{0x01}), Writer: io.Discard})

	_, err := b.ReadUint16()
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("ReadUint16() error = %v, want *ConnectionError", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error %v does not wrap io.ErrUnexpectedEOF", err)
	}
	if Kind(err) != "connection" {
		t.Errorf("Kind() = %q, want connection", Kind(err))
	}
}

func TestStreamBufferFill(t *testing.T) {
	b := NewStreamBuffer(splitRW{Reader: bytes.NewReader([]byte{1, 2, 3, 4, 5}), Writer: io.Discard})
	if err := b.Fill(3); err != nil {
		t.Fatalf("Fill(3) error = %v", err)
	}
	if b.Buffered() != 3 {
		t.Fatalf("Buffered() = %d, want 3", b.Buffered())
	}
	if err := b.Fill(3); err == nil {
		t.Fatal("Fill past end of stream should fail")
	}
}

// ---- Datagram ----

func udpPair(t *testing.T) (net.PacketConn, net.PacketConn) {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		a.Close()
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	deadline := time.Now().Add(2 * time.Second)
	a.SetDeadline(deadline)
	b.SetDeadline(deadline)
	return a, b
}

func TestDatagramRoundTrip(t *testing.T) {
	a, b := udpPair(t)
	out := NewDatagramBuffer(a, b.LocalAddr())
	in := NewDatagramBuffer(b, nil)

	msg := MoveInput{Direction: DirLeft}
	if err := SendInputMessage(out, msg); err != nil {
		t.Fatalf("SendInputMessage() error = %v", err)
	}
	got, err := ReadInputMessage(in)
	if err != nil {
		t.Fatalf("ReadInputMessage() error = %v", err)
	}
	if got != msg {
		t.Errorf("got %+v, want %+v", got, msg)
	}
	if in.Sender().String() != a.LocalAddr().String() {
		t.Errorf("Sender() = %v, want %v", in.Sender(), a.LocalAddr())
	}
}

func TestDatagramMessageBoundaries(t *testing.T) {
	a, b := udpPair(t)
	in := NewDatagramBuffer(b, nil)

	a.WriteTo([]byte{byte(MsgPlaceBombInput)}, b.LocalAddr())
	a.WriteTo([]byte{byte(MsgPlaceBlockInput)}, b.LocalAddr())

	for _, want := range []InputMessage{PlaceBombInput{}, PlaceBlockInput{}} {
		got, err := ReadInputMessage(in)
		if err != nil {
			t.Fatalf("ReadInputMessage() error = %v", err)
		}
		if got != want {
			t.Errorf("got %T, want %T", got, want)
		}
	}
}

func TestDatagramRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		check   func(error) bool
	}{
		{
			name:    "trailing bytes",
			payload: []byte{byte(MsgPlaceBombInput), 0xFF},
			check:   func(err error) bool { var fe *FramingError; return errors.As(err, &fe) },
		},
		{
			name:    "missing direction",
			payload: []byte{byte(MsgMoveInput)},
			check:   func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) },
		},
		{
			name:    "bad direction",
			payload: []byte{byte(MsgMoveInput), 4},
			check: func(err error) bool {
				var ve *ValidationError
				var pe *ProtocolError
				return errors.As(err, &ve) && errors.As(err, &pe)
			},
		},
		{
			name:    "unknown tag",
			payload: []byte{3},
			check:   func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := udpPair(t)
			if _, err := a.WriteTo(tt.payload, b.LocalAddr()); err != nil {
				t.Fatalf("WriteTo: %v", err)
			}
			_, err := ReadInputMessage(NewDatagramBuffer(b, nil))
			if err == nil || !tt.check(err) {
				t.Errorf("ReadInputMessage() error = %v", err)
			}
		})
	}
}

func TestDatagramWriteOverflow(t *testing.T) {
	a, b := udpPair(t)
	out := NewDatagramBuffer(a, b.LocalAddr())

	blocks := make([]Position, 0, 20000)
	for i := 0; i < 20000; i++ {
		blocks = append(blocks, Position{X: uint16(i / 200), Y: uint16(i % 200)})
	}
	err := WriteDisplayMessage(out, GameView{Blocks: blocks})
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("WriteDisplayMessage(oversized) error = %v, want *FramingError", err)
	}
}

func TestDatagramSendWithoutPeer(t *testing.T) {
	a, _ := udpPair(t)
	out := NewDatagramBuffer(a, nil)
	out.WriteUint8(1)
	var ce *ConnectionError
	if err := out.SendMessage(); !errors.As(err, &ce) {
		t.Fatalf("SendMessage() error = %v, want *ConnectionError", err)
	}
}
