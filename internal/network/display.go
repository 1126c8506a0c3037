package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DialTimeout bounds the connection attempt to the game server.
const DialTimeout = 10 * time.Second

// SplitAddress splits "host:port" at the last colon. Unlike
// net.SplitHostPort it accepts an unbracketed IPv6 host such as "::1:2022".
func SplitAddress(addr string) (host string, port uint16, err error) {
	if h, p, splitErr := net.SplitHostPort(addr); splitErr == nil {
		host = h
		addr = h + ":" + p
	}
	i := strings.LastIndex(addr, ":")
	if i <= 0 || i == len(addr)-1 {
		return "", 0, fmt.Errorf("address %q is not of the form host:port", addr)
	}
	if host == "" {
		host = strings.Trim(addr[:i], "[]")
	}
	n, err := strconv.ParseUint(addr[i+1:], 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in address %q: %w", addr, err)
	}
	return host, uint16(n), nil
}

// ResolveDisplay resolves the address display updates are sent to.
func ResolveDisplay(addr string) (*net.UDPAddr, error) {
	host, port, err := SplitAddress(addr)
	if err != nil {
		return nil, err
	}
	resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve display address %s: %w", addr, err)
	}
	return resolved, nil
}

// ListenDisplay binds the dual-stack datagram socket that receives
// controller input and sends display updates.
func ListenDisplay(ctx context.Context, port uint16) (net.PacketConn, error) {
	addr := net.JoinHostPort("", strconv.Itoa(int(port)))

	lc := ListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind display socket on %s: %w", addr, err)
	}

	log.Info().Str("addr", pc.LocalAddr().String()).Msg("display socket bound")
	return pc, nil
}

// DialServer connects to the game server with TCP_NODELAY set.
func DialServer(ctx context.Context, addr string) (*Connection, error) {
	host, port, err := SplitAddress(addr)
	if err != nil {
		return nil, err
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(port)))

	d := net.Dialer{Timeout: DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server %s: %w", target, err)
	}
	setNoDelay(raw)

	log.Info().Str("server", raw.RemoteAddr().String()).Msg("connected to server")
	return NewConnection(raw), nil
}
