package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/robots-arena/robots/internal/db"
	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/game"
	"github.com/robots-arena/robots/internal/protocol"
)

type fakeStatus struct {
	status   game.Status
	active   bool
	finished uint64
}

func (f *fakeStatus) Current() (game.Status, bool) { return f.status, f.active }
func (f *fakeStatus) GamesFinished() uint64        { return f.finished }
func (f *fakeStatus) Settings() game.Settings {
	return game.Settings{
		Game:          protocol.GameConfig{ServerName: "arena", PlayerCount: 2, SizeX: 8, SizeY: 6},
		TurnDuration:  250 * time.Millisecond,
		InitialBlocks: 4,
		Generator:     game.GeneratorRules,
	}
}

type fakeHistory struct {
	games []db.GameRecord
	err   error
	limit int
}

func (f *fakeHistory) RecentGames(ctx context.Context, limit int) ([]db.GameRecord, error) {
	f.limit = limit
	return f.games, f.err
}

func run(t *testing.T, c *CLI, line string) string {
	t.Helper()
	out := c.out.(*bytes.Buffer)
	out.Reset()
	parts := strings.Fields(line)
	if err := c.execute(context.Background(), parts[0], parts[1:]); err != nil {
		out.WriteString("Error: " + err.Error())
	}
	return out.String()
}

func TestRenderScoreboard(t *testing.T) {
	var buf bytes.Buffer
	RenderScoreboard(&buf, events.GameEndedPayload{
		ServerName: "arena",
		Turns:      42,
		Players: map[protocol.PlayerID]protocol.Player{
			0: {Name: "alice", Address: "[::1]:5000"},
			1: {Name: "bob", Address: "127.0.0.1:6000"},
		},
		Scores: map[protocol.PlayerID]protocol.Score{1: 3, 0: 5},
	})

	out := buf.String()
	if !strings.Contains(out, "Game over on arena after 42 turns") {
		t.Errorf("missing title in:\n%s", out)
	}
	for _, want := range []string{"alice", "bob", "[::1]:5000", "Deaths"} {
		if !strings.Contains(out, want) {
			t.Errorf("scoreboard missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "alice") > strings.Index(out, "bob") {
		t.Errorf("rows not ordered by player id:\n%s", out)
	}
}

func TestSubscribeScoreboard(t *testing.T) {
	var buf bytes.Buffer
	bus := events.NewEventBus()
	defer bus.Stop()
	SubscribeScoreboard(bus, &buf)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventGameEnded,
		Payload: events.GameEndedPayload{ServerName: "s", Scores: map[protocol.PlayerID]protocol.Score{0: 1}},
	})
	if err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Game over on s") {
		t.Errorf("scoreboard not printed: %q", buf.String())
	}

	buf.Reset()
	bus.EmitSync(context.Background(), events.Event{Type: events.EventGameEnded, Payload: 17})
	if buf.Len() != 0 {
		t.Errorf("bad payload printed %q", buf.String())
	}
}

func TestStatusCommand(t *testing.T) {
	st := &fakeStatus{finished: 2}
	c := NewCLI(strings.NewReader(""), &bytes.Buffer{}, st, nil, nil)

	if out := run(t, c, "status"); !strings.Contains(out, "No active session (2 games finished)") {
		t.Errorf("status without session = %q", out)
	}

	st.active = true
	st.status = game.Status{
		SessionID: 7,
		Remote:    "10.0.0.1:4000",
		Phase:     game.PhaseRunning,
		Turn:      12,
		Players:   map[protocol.PlayerID]protocol.Player{0: {Name: "alice"}},
		Scores:    map[protocol.PlayerID]protocol.Score{0: 1},
	}
	out := run(t, c, "s")
	for _, want := range []string{"Session:  7", "running", "Turn:     12", "alice"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestGamesCommand(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &fakeHistory{games: []db.GameRecord{{
		ID:         3,
		ServerName: "arena",
		Turns:      9,
		StartedAt:  start,
		EndedAt:    start.Add(1500 * time.Millisecond),
		Results:    []db.PlayerResult{{Name: "alice", Score: 2}, {Name: "bob"}},
	}}}
	c := NewCLI(strings.NewReader(""), &bytes.Buffer{}, &fakeStatus{}, h, nil)

	out := run(t, c, "games 5")
	if h.limit != 5 {
		t.Errorf("limit = %d, want 5", h.limit)
	}
	for _, want := range []string{"alice=2, bob=0", "1.5s", "arena"} {
		if !strings.Contains(out, want) {
			t.Errorf("games missing %q:\n%s", want, out)
		}
	}

	if out := run(t, c, "games x"); !strings.Contains(out, "invalid count") {
		t.Errorf("games x = %q", out)
	}
	h.err = errors.New("disk gone")
	if out := run(t, c, "g"); !strings.Contains(out, "disk gone") || h.limit != 10 {
		t.Errorf("games with error = %q (limit %d)", out, h.limit)
	}

	noLedger := NewCLI(strings.NewReader(""), &bytes.Buffer{}, &fakeStatus{}, nil, nil)
	if out := run(t, noLedger, "games"); !strings.Contains(out, "disabled") {
		t.Errorf("games without ledger = %q", out)
	}
}

func TestConfigAndUnknownCommands(t *testing.T) {
	c := NewCLI(strings.NewReader(""), &bytes.Buffer{}, &fakeStatus{}, nil, nil)
	out := run(t, c, "config")
	for _, want := range []string{"arena", "8x6", "250ms", "rules"} {
		if !strings.Contains(out, want) {
			t.Errorf("config missing %q:\n%s", want, out)
		}
	}
	if out := run(t, c, "dance"); !strings.Contains(out, "Unknown command: 'dance'") {
		t.Errorf("unknown command output = %q", out)
	}
}

func TestStartRunsUntilQuit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	c := NewCLI(strings.NewReader("help\n\nQUIT\n"), &out, &fakeStatus{}, nil, cancel)

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after quit")
	}
	if ctx.Err() == nil {
		t.Error("quit did not call shutdown")
	}
	if !strings.Contains(out.String(), "games [n]") {
		t.Errorf("help not printed:\n%s", out.String())
	}
}
