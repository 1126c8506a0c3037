package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/robots-arena/robots/internal/util"
)

// SessionHandler services one connection to completion.
type SessionHandler interface {
	Serve(ctx context.Context, conn net.Conn) error
}

// SessionHandlerFunc adapts a function to SessionHandler.
type SessionHandlerFunc func(ctx context.Context, conn net.Conn) error

func (f SessionHandlerFunc) Serve(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

// TCPListener accepts robots clients on a dual-stack port and services
// them one at a time: the next connection is accepted only after the
// current session returned. A failed session is logged and the listener
// keeps accepting.
type TCPListener struct {
	port    uint16
	handler SessionHandler

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	ready    chan struct{}

	served atomic.Uint64
	failed atomic.Uint64
}

// NewTCPListener creates a listener for the given port. Port 0 picks a free
// port, reported by Addr once Start is running.
func NewTCPListener(port uint16, handler SessionHandler) *TCPListener {
	return &TCPListener{
		port:    port,
		handler: handler,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (l *TCPListener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Start bound the socket.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Served returns the number of sessions that completed without error.
func (l *TCPListener) Served() uint64 {
	return l.served.Load()
}

// Failed returns the number of sessions that ended with an error.
func (l *TCPListener) Failed() uint64 {
	return l.failed.Load()
}

// Start binds the port and runs the accept loop until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(int(l.port)))

	// An empty host binds the IPv6 wildcard with IPv4-mapped addresses enabled.
	lc := ListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	close(l.ready)

	log.Info().Str("addr", ln.Addr().String()).Msg("accepting connections")

	stop := context.AfterFunc(ctx, func() { l.Stop() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				log.Info().Msg("TCP listener stopped")
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.serve(ctx, conn)
	}
}

func (l *TCPListener) serve(ctx context.Context, rawConn net.Conn) {
	setNoDelay(rawConn)
	conn := NewConnection(rawConn)
	defer conn.Close()

	// Cancelling ctx unblocks the session's pending reads and writes.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger := util.ComponentLogger("tcp_handler").With().
		Str("remote", rawConn.RemoteAddr().String()).
		Logger()
	logger.Info().Msg("client connected")

	if err := l.handler.Serve(ctx, conn); err != nil {
		l.failed.Add(1)
		if ctx.Err() != nil {
			logger.Info().Err(err).Msg("session interrupted by shutdown")
			return
		}
		logger.Error().Err(err).Msg("session failed, accepting next connection")
		return
	}
	l.served.Add(1)
	logger.Info().
		Uint64("bytes_read", conn.BytesRead()).
		Uint64("bytes_written", conn.BytesWritten()).
		Msg("session completed")
}

// Stop closes the listening socket, which makes Start return once the
// session being served ends. Later calls are no-ops.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil || l.stopped {
		return nil
	}
	l.stopped = true
	return l.listener.Close()
}
