// Package cli implements the operator console of the robots server: live
// session status, the results ledger, and the scoreboard printed when a game
// ends.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robots-arena/robots/internal/db"
	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/game"
)

// StatusSource reports the session being served.
type StatusSource interface {
	Current() (game.Status, bool)
	GamesFinished() uint64
	Settings() game.Settings
}

// GameHistory lists finished games.
type GameHistory interface {
	RecentGames(ctx context.Context, limit int) ([]db.GameRecord, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	in       io.Reader
	out      io.Writer
	status   StatusSource
	history  GameHistory
	shutdown func()
}

// NewCLI creates a new CLI handler. history may be nil when the ledger is
// disabled; shutdown is called by the quit command.
func NewCLI(in io.Reader, out io.Writer, status StatusSource, history GameHistory, shutdown func()) *CLI {
	return &CLI{
		in:       in,
		out:      out,
		status:   status,
		history:  history,
		shutdown: shutdown,
	}
}

// Start reads commands until ctx is cancelled or the input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nrobots console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			parts := strings.Fields(line)
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "games", "g":
		return c.printGames(ctx, args)
	case "config":
		c.printConfig()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down robots server...")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "  status         Show the session being served")
	fmt.Fprintln(c.out, "  games [n]      List the last n finished games (default 10)")
	fmt.Fprintln(c.out, "  config         Show the game configuration")
	fmt.Fprintln(c.out, "  quit           Shut the server down")
	fmt.Fprintln(c.out, "  help           Show this help message")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	st, ok := c.status.Current()
	if !ok {
		fmt.Fprintf(c.out, "No active session (%d games finished)\n", c.status.GamesFinished())
		return
	}
	fmt.Fprintf(c.out, "\n  Session:  %d\n", st.SessionID)
	fmt.Fprintf(c.out, "  Remote:   %s\n", st.Remote)
	fmt.Fprintf(c.out, "  Phase:    %s\n", st.Phase)
	fmt.Fprintf(c.out, "  Turn:     %d\n", st.Turn)
	if tr := st.Traffic; tr != nil {
		fmt.Fprintf(c.out, "  Traffic:  %d bytes in, %d bytes out, idle %s\n",
			tr.BytesRead, tr.BytesWritten, time.Since(tr.LastActivity).Truncate(time.Millisecond))
	}
	RenderPlayers(c.out, st)
	fmt.Fprintln(c.out)
}

func (c *CLI) printGames(ctx context.Context, args []string) error {
	if c.history == nil {
		return fmt.Errorf("results ledger is disabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}
	games, err := c.history.RecentGames(ctx, limit)
	if err != nil {
		return err
	}
	RenderGames(c.out, games)
	return nil
}

func (c *CLI) printConfig() {
	s := c.status.Settings()
	g := s.Game
	fmt.Fprintf(c.out, "\n  Server name:      %s\n", g.ServerName)
	fmt.Fprintf(c.out, "  Players:          %d\n", g.PlayerCount)
	fmt.Fprintf(c.out, "  Board:            %dx%d\n", g.SizeX, g.SizeY)
	fmt.Fprintf(c.out, "  Game length:      %d\n", g.GameLength)
	fmt.Fprintf(c.out, "  Explosion radius: %d\n", g.ExplosionRadius)
	fmt.Fprintf(c.out, "  Bomb timer:       %d\n", g.BombTimer)
	fmt.Fprintf(c.out, "  Initial blocks:   %d\n", s.InitialBlocks)
	fmt.Fprintf(c.out, "  Turn duration:    %s\n", s.TurnDuration)
	fmt.Fprintf(c.out, "  Turn generator:   %s\n\n", s.Generator)
}

// SubscribeScoreboard prints the final scoreboard of every game to w.
func SubscribeScoreboard(bus *events.EventBus, w io.Writer) {
	bus.Subscribe(events.EventGameEnded, "cli.scoreboard", func(ctx context.Context, event events.Event) error {
		p, ok := event.Payload.(events.GameEndedPayload)
		if !ok {
			log.Warn().Str("payload", fmt.Sprintf("%T", event.Payload)).Msg("scoreboard: unexpected payload")
			return nil
		}
		RenderScoreboard(w, p)
		return nil
	})
}
