package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/protocol"
)

func newStore(t *testing.T) *ResultsStore {
	t.Helper()
	rs, err := NewResultsStore("")
	if err != nil {
		t.Fatalf("NewResultsStore() error = %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs
}

func finished(session uint64, scores map[protocol.PlayerID]protocol.Score) events.GameEndedPayload {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	players := make(map[protocol.PlayerID]protocol.Player, len(scores))
	for id := range scores {
		players[id] = protocol.Player{Name: string(rune('a' + id)), Address: "127.0.0.1:1"}
	}
	return events.GameEndedPayload{
		SessionID:  session,
		ServerName: "ledger",
		Players:    players,
		Scores:     scores,
		Turns:      10,
		StartedAt:  start,
		EndedAt:    start.Add(5 * time.Second),
	}
}

func TestRecordAndListGames(t *testing.T) {
	rs := newStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		if _, err := rs.RecordGame(ctx, finished(i, map[protocol.PlayerID]protocol.Score{1: protocol.Score(i), 0: 7})); err != nil {
			t.Fatalf("RecordGame(%d) error = %v", i, err)
		}
	}

	games, err := rs.RecentGames(ctx, 2)
	if err != nil {
		t.Fatalf("RecentGames() error = %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("got %d games, want 2", len(games))
	}
	if games[0].SessionID != 3 || games[1].SessionID != 2 {
		t.Errorf("sessions = %d, %d; want newest first", games[0].SessionID, games[1].SessionID)
	}

	g := games[0]
	if g.ServerName != "ledger" || g.Turns != 10 || g.EndedAt.Sub(g.StartedAt) != 5*time.Second {
		t.Errorf("game = %+v", g)
	}
	if len(g.Results) != 2 || g.Results[0].PlayerID != 0 || g.Results[1].Score != 3 || g.Results[1].Name != "b" {
		t.Errorf("results = %+v", g.Results)
	}

	n, err := rs.CountGames(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountGames() = %d, %v; want 3", n, err)
	}
}

func TestRecentGamesEmpty(t *testing.T) {
	rs := newStore(t)
	games, err := rs.RecentGames(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentGames() error = %v", err)
	}
	if games == nil || len(games) != 0 {
		t.Errorf("RecentGames() = %v, want empty slice", games)
	}
	if games, _ := rs.RecentGames(context.Background(), 0); len(games) != 0 {
		t.Errorf("limit 0 returned %v", games)
	}
}

func TestGameWithoutScores(t *testing.T) {
	rs := newStore(t)
	ctx := context.Background()
	rs.RecordGame(ctx, finished(9, nil))

	games, err := rs.RecentGames(ctx, 1)
	if err != nil {
		t.Fatalf("RecentGames() error = %v", err)
	}
	if len(games) != 1 || len(games[0].Results) != 0 {
		t.Errorf("games = %+v, want one game without results", games)
	}
}

func TestSubscribeRecordsGameEnded(t *testing.T) {
	rs := newStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	rs.Subscribe(bus)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventGameEnded,
		Payload: finished(4, map[protocol.PlayerID]protocol.Score{0: 1}),
	})
	if err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}
	if n, _ := rs.CountGames(context.Background()); n != 1 {
		t.Errorf("CountGames() = %d, want 1", n)
	}

	err = bus.EmitSync(context.Background(), events.Event{Type: events.EventGameEnded, Payload: "bogus"})
	if err == nil {
		t.Error("EmitSync() with a bad payload should report the handler error")
	}
}

func TestFileBackedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "results.db")
	rs, err := NewResultsStore(path)
	if err != nil {
		t.Fatalf("NewResultsStore(%s) error = %v", path, err)
	}
	defer rs.Close()
	if _, err := rs.RecordGame(context.Background(), finished(1, map[protocol.PlayerID]protocol.Score{0: 0})); err != nil {
		t.Fatalf("RecordGame() error = %v", err)
	}
}

func TestPruneGames(t *testing.T) {
	rs := newStore(t)
	ctx := context.Background()

	old := finished(1, map[protocol.PlayerID]protocol.Score{0: 1, 1: 2})
	recent := finished(2, map[protocol.PlayerID]protocol.Score{0: 3})
	recent.StartedAt = recent.StartedAt.Add(time.Hour)
	recent.EndedAt = recent.EndedAt.Add(time.Hour)
	for _, g := range []events.GameEndedPayload{old, recent} {
		if _, err := rs.RecordGame(ctx, g); err != nil {
			t.Fatalf("RecordGame() error = %v", err)
		}
	}

	n, err := rs.PruneGames(ctx, old.EndedAt.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PruneGames() = %d, %v; want 1", n, err)
	}

	games, err := rs.RecentGames(ctx, 10)
	if err != nil {
		t.Fatalf("RecentGames() error = %v", err)
	}
	if len(games) != 1 || games[0].SessionID != 2 {
		t.Errorf("games after prune = %+v", games)
	}

	rows, err := rs.db.QueryContext(ctx, "SELECT COUNT(*) FROM scores")
	if err != nil {
		t.Fatalf("count scores: %v", err)
	}
	defer rows.Close()
	var scores int
	if rows.Next() {
		rows.Scan(&scores)
	}
	if scores != 1 {
		t.Errorf("scores left = %d, want 1 (cascade delete)", scores)
	}
}
