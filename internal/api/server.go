package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/robots-arena/robots/internal/config"
	"github.com/robots-arena/robots/internal/db"
	"github.com/robots-arena/robots/internal/game"
	"github.com/robots-arena/robots/internal/network"
)

// StatusSource reports the session being served.
type StatusSource interface {
	Current() (game.Status, bool)
	GamesFinished() uint64
	Settings() game.Settings
}

// GameHistory lists and counts finished games.
type GameHistory interface {
	RecentGames(ctx context.Context, limit int) ([]db.GameRecord, error)
	CountGames(ctx context.Context) (int, error)
}

// Options carries the optional collaborators of the API. Nil fields disable
// the routes that need them.
type Options struct {
	History  GameHistory
	Gatherer prometheus.Gatherer
	Hub      *SpectatorHub
	// GamesLimit is the page size of /games when no limit is given.
	GamesLimit int
	// DataDir is the directory whose disk usage /server_info reports.
	DataDir string
}

// Server is the status API server.
type Server struct {
	cfg     config.APIConfig
	status  StatusSource
	opts    Options
	started time.Time

	router     *gin.Engine
	httpServer *http.Server

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, debug bool, status StatusSource, opts Options) *Server {
	// Set Gin mode based on log level
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	if opts.GamesLimit < 1 {
		opts.GamesLimit = defaultGamesLimit
	}

	s := &Server{
		cfg:     cfg,
		status:  status,
		opts:    opts,
		started: time.Now(),
		ready:   make(chan struct{}),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router serving every API route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := network.ListenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	log.Info().Str("addr", ln.Addr().String()).Msg("status API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		if s.opts.Hub != nil {
			s.opts.Hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	if s.cfg.RateLimitRPS > 0 {
		router.Use(NewRateLimiter(s.cfg.RateLimitRPS).Middleware())
	}

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
		public.GET("/session", s.handleSession)
		public.GET("/games", s.handleGames)
		if s.cfg.SpectatorFeed && s.opts.Hub != nil {
			public.GET("/spectate", gin.WrapF(s.opts.Hub.HandleWebSocket))
		}
	}

	if s.cfg.EnableMetrics && s.opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "robots status API is running"})
	})

	return router
}
