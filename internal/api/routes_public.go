package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robots-arena/robots/internal/util"
)

const (
	defaultGamesLimit = 20
	maxGamesLimit     = 500
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "robots",
	})
}

// handleServerInfo returns the game configuration and host information.
func (s *Server) handleServerInfo(c *gin.Context) {
	settings := s.status.Settings()
	_, active := s.status.Current()

	c.JSON(http.StatusOK, gin.H{
		"game":            settings.Game,
		"initial_blocks":  settings.InitialBlocks,
		"turn_duration":   settings.TurnDuration.Milliseconds(),
		"turn_generator":  settings.Generator,
		"session_active":  active,
		"games_finished":  s.status.GamesFinished(),
		"uptime_sec":      int64(time.Since(s.started).Seconds()),
		"system":          util.GetSystemInfo(),
		"resource_usage":  util.GetResourceUsage(s.opts.DataDir),
		"spectators":      s.spectators(),
		"metrics_enabled": s.cfg.EnableMetrics && s.opts.Gatherer != nil,
	})
}

// handleSession returns the status of the session being served.
func (s *Server) handleSession(c *gin.Context) {
	st, ok := s.status.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleGames returns the most recent finished games.
func (s *Server) handleGames(c *gin.Context) {
	if s.opts.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "results ledger is disabled"})
		return
	}

	limit := s.opts.GamesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxGamesLimit)
	}

	games, err := s.opts.History.RecentGames(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := s.opts.History.CountGames(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(games),
		"total": total,
		"games": games,
	})
}

func (s *Server) spectators() int {
	if s.opts.Hub == nil {
		return 0
	}
	return s.opts.Hub.ClientCount()
}
