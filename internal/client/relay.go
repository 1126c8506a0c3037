package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/robots-arena/robots/internal/protocol"
	"github.com/robots-arena/robots/internal/util"
)

// Stats counts what the relay has forwarded so far.
type Stats struct {
	InputsForwarded uint64 `json:"inputs_forwarded"`
	InputsRejected  uint64 `json:"inputs_rejected"`
	ServerMessages  uint64 `json:"server_messages"`
	DisplayUpdates  uint64 `json:"display_updates"`
}

// Relay forwards controller input to the server and display updates back
// to the GUI. The two directions run in separate goroutines that share only
// the PhaseState.
type Relay struct {
	name    string
	server  net.Conn
	display net.PacketConn
	gui     net.Addr

	phase  PhaseState
	model  *Model
	logger zerolog.Logger

	forwarded atomic.Uint64
	rejected  atomic.Uint64
	received  atomic.Uint64
	updates   atomic.Uint64
}

// NewRelay creates a relay for player name. Display updates are sent from
// display to gui; controller input is read from display.
func NewRelay(name string, server net.Conn, display net.PacketConn, gui net.Addr) *Relay {
	return &Relay{
		name:    name,
		server:  server,
		display: display,
		gui:     gui,
		model:   NewModel(),
		logger: util.ComponentLogger("relay").With().
			Str("server", server.RemoteAddr().String()).
			Str("gui", gui.String()).
			Logger(),
	}
}

// Phase returns the current relay phase.
func (r *Relay) Phase() Phase {
	return r.phase.Load()
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		InputsForwarded: r.forwarded.Load(),
		InputsRejected:  r.rejected.Load(),
		ServerMessages:  r.received.Load(),
		DisplayUpdates:  r.updates.Load(),
	}
}

// Run relays until the server connection fails, a display update cannot be
// sent, or ctx is cancelled. Cancellation returns nil.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Unblock both readers once either side stops.
	stop := context.AfterFunc(gctx, func() {
		now := time.Now()
		r.server.SetDeadline(now)
		r.display.SetDeadline(now)
	})
	defer stop()

	g.Go(func() error { return r.controllerLoop(gctx) })
	g.Go(func() error { return r.serverLoop(gctx) })

	err := g.Wait()
	st := r.Stats()
	r.logger.Info().
		Uint64("inputs_forwarded", st.InputsForwarded).
		Uint64("inputs_rejected", st.InputsRejected).
		Uint64("server_messages", st.ServerMessages).
		Uint64("display_updates", st.DisplayUpdates).
		Msg("relay stopped")
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// controllerLoop turns every controller datagram into a message to the
// server. Malformed datagrams are logged and skipped.
func (r *Relay) controllerLoop(ctx context.Context) error {
	in := protocol.NewDatagramBuffer(r.display, nil)
	out := protocol.NewStreamBuffer(r.server)

	for {
		input, err := protocol.ReadInputMessage(in)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("display socket: %w", err)
			}
			r.rejected.Add(1)
			from := ""
			if in.Sender() != nil {
				from = in.Sender().String()
			}
			r.logger.Warn().
				Err(err).
				Str("from", from).
				Str("kind", protocol.Kind(err)).
				Msg("rejected controller message")
			continue
		}

		var msg protocol.ClientMessage
		if r.phase.ClaimJoin() {
			msg = protocol.Join{Name: r.name}
		} else {
			msg = protocol.ToClientMessage(input)
		}

		if err := protocol.SendClientMessage(out, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sending %s to server: %w", msg.Type(), err)
		}
		r.forwarded.Add(1)
		r.logger.Debug().
			Str("input", input.Type().String()).
			Str("sent", msg.Type().String()).
			Msg("forwarded controller input")
	}
}

// serverLoop applies every server message to the model and sends the
// resulting view to the display. Any error is fatal.
func (r *Relay) serverLoop(ctx context.Context) error {
	in := protocol.NewStreamBuffer(r.server)
	out := protocol.NewDatagramBuffer(r.display, r.gui)

	for {
		msg, err := protocol.ReadServerMessage(in)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving from server: %w", err)
		}
		r.received.Add(1)
		r.phase.Observe(msg)

		if !r.model.Apply(msg) {
			continue
		}
		view := r.model.View()
		if err := protocol.SendDisplayMessage(out, view); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sending %s view to display %s: %w", view.Type(), out.Peer(), err)
		}
		r.updates.Add(1)
		r.logger.Debug().
			Str("message", msg.Type().String()).
			Str("view", view.Type().String()).
			Bool("in_game", r.model.InGame()).
			Msg("display updated")
	}
}
