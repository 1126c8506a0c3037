package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/protocol"
	"github.com/robots-arena/robots/internal/util"
)

// PlayerResult is one row of a finished game's score table.
type PlayerResult struct {
	PlayerID protocol.PlayerID `json:"player_id"`
	Name     string            `json:"name"`
	Address  string            `json:"address"`
	Score    protocol.Score    `json:"score"`
}

// GameRecord is a finished game as stored in the ledger.
type GameRecord struct {
	ID         int64          `json:"id"`
	SessionID  uint64         `json:"session_id"`
	ServerName string         `json:"server_name"`
	Turns      uint16         `json:"turns"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Results    []PlayerResult `json:"results"`
}

// ResultsStore records every finished game and its final scores.
type ResultsStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewResultsStore opens the ledger at dsn (in memory when empty) and
// creates its schema.
func NewResultsStore(dsn string) (*ResultsStore, error) {
	database, err := NewDatabase(dsn)
	if err != nil {
		return nil, err
	}

	rs := &ResultsStore{
		db:     database,
		logger: util.ComponentLogger("results"),
	}

	// Run migrations
	if err := rs.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate results database: %w", err)
	}

	return rs, nil
}

// migrate creates the database schema.
func (rs *ResultsStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS games (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			server_name TEXT NOT NULL,
			turns INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scores (
			game_id INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL,
			PRIMARY KEY (game_id, player_id),
			FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_games_ended_at ON games(ended_at);
	`

	if _, err := rs.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	rs.logger.Debug().Msg("database schema migrated")
	return nil
}

// Close closes the underlying database.
func (rs *ResultsStore) Close() error {
	return rs.db.Close()
}

// RecordGame stores a finished game and returns its ledger id.
func (rs *ResultsStore) RecordGame(ctx context.Context, g events.GameEndedPayload) (int64, error) {
	var id int64
	err := rs.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO games (session_id, server_name, turns, started_at, ended_at) VALUES (?, ?, ?, ?, ?)",
			int64(g.SessionID), g.ServerName, int(g.Turns), g.StartedAt.UnixMilli(), g.EndedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert game: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		for pid, score := range g.Scores {
			p := g.Players[pid]
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO scores (game_id, player_id, name, address, score) VALUES (?, ?, ?, ?, ?)",
				id, int(pid), p.Name, p.Address, int64(score)); err != nil {
				return fmt.Errorf("failed to insert score of player %d: %w", pid, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	rs.logger.Info().
		Int64("game_id", id).
		Uint64("session_id", g.SessionID).
		Int("players", len(g.Scores)).
		Msg("game recorded")
	return id, nil
}

// RecentGames returns up to limit games, newest first, each with its
// results ordered by player id.
func (rs *ResultsStore) RecentGames(ctx context.Context, limit int) ([]GameRecord, error) {
	if limit < 1 {
		return []GameRecord{}, nil
	}

	rows, err := rs.db.QueryContext(ctx, `
		SELECT g.id, g.session_id, g.server_name, g.turns, g.started_at, g.ended_at,
		       s.player_id, s.name, s.address, s.score
		FROM games g
		LEFT JOIN scores s ON s.game_id = g.id
		WHERE g.id IN (SELECT id FROM games ORDER BY id DESC LIMIT ?)
		ORDER BY g.id DESC, s.player_id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	games := []GameRecord{}
	for rows.Next() {
		var (
			g               GameRecord
			sessionID       int64
			turns           int
			started, ended  int64
			playerID, score sql.NullInt64
			name, address   sql.NullString
		)
		if err := rows.Scan(&g.ID, &sessionID, &g.ServerName, &turns, &started, &ended,
			&playerID, &name, &address, &score); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}

		if n := len(games); n == 0 || games[n-1].ID != g.ID {
			g.SessionID = uint64(sessionID)
			g.Turns = uint16(turns)
			g.StartedAt = time.UnixMilli(started).UTC()
			g.EndedAt = time.UnixMilli(ended).UTC()
			g.Results = []PlayerResult{}
			games = append(games, g)
		}
		if playerID.Valid {
			last := &games[len(games)-1]
			last.Results = append(last.Results, PlayerResult{
				PlayerID: protocol.PlayerID(playerID.Int64),
				Name:     name.String,
				Address:  address.String,
				Score:    protocol.Score(score.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return games, nil
}

// CountGames returns the number of recorded games.
func (rs *ResultsStore) CountGames(ctx context.Context) (int, error) {
	rows, err := rs.db.QueryContext(ctx, "SELECT COUNT(*) FROM games")
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// PruneGames deletes games that ended before cutoff together with their
// scores, and returns how many games were removed.
func (rs *ResultsStore) PruneGames(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := rs.db.ExecContext(ctx, "DELETE FROM games WHERE ended_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune games: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		rs.logger.Info().Int64("games", n).Time("cutoff", cutoff).Msg("pruned old games")
	}
	return n, nil
}

// Subscribe records every game_ended event published on bus.
func (rs *ResultsStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventGameEnded, "results.gameEnded", rs.onGameEnded)
}

func (rs *ResultsStore) onGameEnded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.GameEndedPayload)
	if !ok {
		return fmt.Errorf("unexpected game_ended payload %T", event.Payload)
	}
	_, err := rs.RecordGame(ctx, p)
	return err
}
