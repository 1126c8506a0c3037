// Package network implements the transport plumbing of the robots server and
// client: the serial session listener, the connection wrapper and the
// display datagram socket.
package network

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robots-arena/robots/internal/util"
)

// Connection wraps an accepted or dialed stream connection and tracks its
// activity. It satisfies net.Conn.
type Connection struct {
	net.Conn

	mu     sync.Mutex
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity atomic.Int64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	closed bool
}

// NewConnection wraps an existing net.Conn.
func NewConnection(conn net.Conn) *Connection {
	now := time.Now()
	c := &Connection{
		Conn:        conn,
		connectedAt: now,
		logger:      util.ComponentLogger("connection").With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.bytesRead.Add(uint64(n))
		c.lastActivity.Store(time.Now().UnixNano())
	}
	return n, err
}

func (c *Connection) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.bytesWritten.Add(uint64(n))
		c.lastActivity.Store(time.Now().UnixNano())
	}
	return n, err
}

// Close closes the connection once; later calls are no-ops.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().
		Uint64("bytes_read", c.bytesRead.Load()).
		Uint64("bytes_written", c.bytesWritten.Load()).
		Dur("duration", time.Since(c.connectedAt)).
		Msg("connection closed")
	return c.Conn.Close()
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// BytesRead returns the number of bytes received so far.
func (c *Connection) BytesRead() uint64 {
	return c.bytesRead.Load()
}

// BytesWritten returns the number of bytes sent so far.
func (c *Connection) BytesWritten() uint64 {
	return c.bytesWritten.Load()
}

// setNoDelay disables Nagle's algorithm on TCP connections; other
// connection types are left untouched.
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			log.Debug().Err(err).Msg("failed to set TCP_NODELAY")
		}
	}
}
