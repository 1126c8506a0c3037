package network

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func waitReady(t *testing.T, l *TCPListener) net.Addr {
	t.Helper()
	select {
	case <-l.Ready():
		return l.Addr()
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not bind")
		return nil
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    uint16
		wantErr bool
	}{
		{"localhost:2022", "localhost", 2022, false},
		{"127.0.0.1:10", "127.0.0.1", 10, false},
		{"[::1]:2022", "::1", 2022, false},
		{"::1:2022", "::1", 2022, false},
		{"localhost", "", 0, true},
		{"localhost:", "", 0, true},
		{"localhost:70000", "", 0, true},
		{":2022", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := SplitAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if host != tt.host || port != tt.port {
			t.Errorf("SplitAddress(%q) = %q, %d; want %q, %d", tt.in, host, port, tt.host, tt.port)
		}
	}
}

func TestListenerServesSequentially(t *testing.T) {
	var active, maxActive atomic.Int32
	handler := SessionHandlerFunc(func(ctx context.Context, conn net.Conn) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		buf := make([]byte, 1)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return err
		}
		if buf[0] == 'x' {
			return errors.New("bad client")
		}
		_, err := conn.Write(buf)
		return err
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewTCPListener(0, handler)
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	addr := waitReady(t, l)

	dial := func(b byte) []byte {
		conn, err := net.DialTimeout("tcp", loopback(addr), time.Second)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(2 * time.Second))
		conn.Write([]byte{b})
		reply, _ := io.ReadAll(conn)
		return reply
	}

	if got := dial('x'); len(got) != 0 {
		t.Errorf("failing session replied %q", got)
	}
	if got := dial('a'); string(got) != "a" {
		t.Errorf("reply = %q, want a", got)
	}
	if got := dial('b'); string(got) != "b" {
		t.Errorf("reply = %q, want b", got)
	}

	if l.Failed() != 1 || l.Served() != 2 {
		t.Errorf("failed/served = %d/%d, want 1/2", l.Failed(), l.Served())
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent sessions = %d, want 1", maxActive.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerCancelUnblocksSession(t *testing.T) {
	started := make(chan struct{})
	handler := SessionHandlerFunc(func(ctx context.Context, conn net.Conn) error {
		close(started)
		_, err := conn.Read(make([]byte, 1))
		return err
	})

	ctx, cancel := context.WithCancel(context.Background())
	l := NewTCPListener(0, handler)
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	addr := waitReady(t, l)

	conn, err := net.Dial("tcp", loopback(addr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked session was not interrupted")
	}
}

func TestListenerStopEndsStart(t *testing.T) {
	l := NewTCPListener(0, SessionHandlerFunc(func(ctx context.Context, conn net.Conn) error {
		return nil
	}))
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() before Start error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Start(context.Background()) }()
	waitReady(t, l)

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() still running after Stop")
	}
	if err := l.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestConnectionCounters(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := NewConnection(a)

	go func() {
		buf := make([]byte, 3)
		io.ReadFull(b, buf)
		b.Write([]byte("ok"))
	}()

	conn.Write([]byte("abc"))
	io.ReadFull(conn, make([]byte, 2))

	if conn.BytesWritten() != 3 || conn.BytesRead() != 2 {
		t.Errorf("written/read = %d/%d, want 3/2", conn.BytesWritten(), conn.BytesRead())
	}
	if conn.LastActivity().Before(conn.ConnectedAt()) {
		t.Error("LastActivity before ConnectedAt")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestListenDisplayAndResolve(t *testing.T) {
	pc, err := ListenDisplay(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListenDisplay() error = %v", err)
	}
	defer pc.Close()

	port := pc.LocalAddr().(*net.UDPAddr).Port
	dst, err := ResolveDisplay("127.0.0.1:" + strconv.Itoa(port))
	if err != nil {
		t.Fatalf("ResolveDisplay() error = %v", err)
	}

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sender.Close()
	sender.WriteTo([]byte("ping"), dst)

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := pc.ReadFrom(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Errorf("ReadFrom() = %q, %v", buf[:n], err)
	}
}

func loopback(addr net.Addr) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(addr.(*net.TCPAddr).Port))
}
