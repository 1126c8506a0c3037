package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/robots-arena/robots/internal/db"
	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/game"
	"github.com/robots-arena/robots/internal/protocol"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	return tw
}

func sortedIDs[V any](m map[protocol.PlayerID]V) []protocol.PlayerID {
	ids := make([]protocol.PlayerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RenderScoreboard writes the final scores of a game, one row per player in
// id order. A score counts the times the player was destroyed.
func RenderScoreboard(w io.Writer, g events.GameEndedPayload) {
	fmt.Fprintf(w, "\nGame over on %s after %d turns\n", g.ServerName, g.Turns)

	tw := newTable(w, "ID", "Player", "Address", "Deaths")
	for _, id := range sortedIDs(g.Scores) {
		p := g.Players[id]
		tw.Append([]string{
			fmt.Sprintf("%d", id),
			p.Name,
			p.Address,
			fmt.Sprintf("%d", g.Scores[id]),
		})
	}
	tw.Render()
	fmt.Fprintln(w)
}

// RenderPlayers writes the roster of a session with its current scores.
func RenderPlayers(w io.Writer, st game.Status) {
	if len(st.Players) == 0 {
		fmt.Fprintln(w, "  No players yet")
		return
	}
	tw := newTable(w, "ID", "Player", "Deaths")
	for _, id := range sortedIDs(st.Players) {
		tw.Append([]string{
			fmt.Sprintf("%d", id),
			st.Players[id].Name,
			fmt.Sprintf("%d", st.Scores[id]),
		})
	}
	tw.Render()
}

// RenderGames writes one row per finished game, newest first.
func RenderGames(w io.Writer, games []db.GameRecord) {
	if len(games) == 0 {
		fmt.Fprintln(w, "No finished games")
		return
	}
	tw := newTable(w, "Game", "Server", "Turns", "Ended", "Duration", "Scores")
	for _, g := range games {
		scores := ""
		for i, r := range g.Results {
			if i > 0 {
				scores += ", "
			}
			scores += fmt.Sprintf("%s=%d", r.Name, r.Score)
		}
		tw.Append([]string{
			fmt.Sprintf("%d", g.ID),
			g.ServerName,
			fmt.Sprintf("%d", g.Turns),
			g.EndedAt.Format(time.RFC3339),
			g.EndedAt.Sub(g.StartedAt).Round(time.Millisecond).String(),
			scores,
		})
	}
	tw.Render()
}
