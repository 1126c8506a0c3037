package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/robots-arena/robots/internal/api"
	"github.com/robots-arena/robots/internal/cli"
	"github.com/robots-arena/robots/internal/config"
	"github.com/robots-arena/robots/internal/db"
	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/game"
	"github.com/robots-arena/robots/internal/network"
	"github.com/robots-arena/robots/internal/protocol"
	"github.com/robots-arena/robots/internal/scheduler"
	"github.com/robots-arena/robots/internal/telemetry"
	"github.com/robots-arena/robots/internal/util"
)

// statsInterval is how often host resource usage is logged.
const statsInterval = 5 * time.Minute

// settingsFrom converts the server section of the configuration into the
// settings every session starts with.
func settingsFrom(sc config.ServerConfig) game.Settings {
	return game.Settings{
		Game: protocol.GameConfig{
			ServerName:      sc.Name,
			PlayerCount:     sc.PlayerCount,
			SizeX:           sc.SizeX,
			SizeY:           sc.SizeY,
			GameLength:      sc.GameLength,
			ExplosionRadius: sc.ExplosionRadius,
			BombTimer:       sc.BombTimer,
		},
		TurnDuration:  sc.TurnDuration(),
		InitialBlocks: sc.InitialBlocks,
		Seed:          sc.Seed,
		Generator:     sc.TurnGenerator,
	}
}

func serve(ctx context.Context, cfg *config.Config, f serverFlags) error {
	fmt.Printf(banner, version)
	fmt.Println()

	lc := cfg.GetLogging()
	logCfg := util.DefaultLogConfig("robots-server")
	logCfg.Level = lc.Level
	logCfg.Directory = lc.Directory
	logCfg.File = lc.File
	if err := util.InitLogger(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting robots server")

	// Validate configuration
	validation := config.ValidateServer(cfg)
	validation.LogWarnings()
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed: %w", validation.Err())
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize core components
	bus := events.NewEventBus()
	defer bus.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry.NewMetrics(reg).Subscribe(bus)

	cli.SubscribeScoreboard(bus, os.Stdout)

	storage := cfg.GetStorage()
	var history api.GameHistory
	housekeeping := scheduler.Options{StatsInterval: statsInterval}
	if storage.Enabled {
		results, err := db.NewResultsStore(storage.DSN)
		if err != nil {
			return fmt.Errorf("failed to open results ledger: %w", err)
		}
		defer results.Close()
		results.Subscribe(bus)
		history = results
		housekeeping.Ledger = results
		housekeeping.Retention = time.Duration(storage.RetentionHours) * time.Hour
		housekeeping.PruneInterval = time.Duration(storage.PruneIntervalMin) * time.Minute
	}

	sc := cfg.GetServer()
	gameServer, err := game.NewServer(settingsFrom(sc), bus)
	if err != nil {
		return fmt.Errorf("failed to create game server: %w", err)
	}
	listener := network.NewTCPListener(sc.Port, gameServer)

	g, gctx := errgroup.WithContext(ctx)

	// The session listener is the only fatal task, and the server stops with
	// it even when it returns without error.
	g.Go(func() error {
		log.Info().Uint16("port", sc.Port).Msg("starting session listener")
		err := listener.Start(gctx)
		stop()
		return err
	})

	// Observers start once sessions can be accepted.
	select {
	case <-listener.Ready():
	case <-gctx.Done():
	}

	apiCfg := cfg.GetAPI()
	if apiCfg.ListenAddress != "" {
		opts := api.Options{
			History:    history,
			Gatherer:   reg,
			GamesLimit: storage.RecentLimit,
		}
		if apiCfg.SpectatorFeed {
			hub := api.NewSpectatorHub(apiCfg.AllowedOrigins)
			hub.Subscribe(bus)
			opts.Hub = hub
		}
		apiServer := api.NewServer(apiCfg, lc.Level == "debug", gameServer, opts)
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("status API failed (non-fatal)")
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-apiServer.Ready():
				log.Info().Str("url", "http://"+apiServer.Addr().String()+"/api/public/ping").Msg("status API reachable")
			case <-gctx.Done():
			}
			return nil
		})
	}

	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(mqttCfg, sc.Name)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			g.Go(func() error {
				if err := mqttHandler.Start(gctx, bus); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
				return nil
			})
		}
	}

	sched := scheduler.NewScheduler(housekeeping)
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	if f.console {
		console := cli.NewCLI(os.Stdin, os.Stdout, gameServer, history, stop)
		g.Go(func() error {
			console.Start(gctx)
			return nil
		})
	}

	<-gctx.Done()
	log.Info().Msg("initiating graceful shutdown...")
	if err := listener.Stop(); err != nil {
		log.Debug().Err(err).Msg("session listener close")
	}
	bus.EmitSync(context.WithoutCancel(ctx), events.Event{Type: events.EventShutdown, Source: "main"})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().
		Uint64("games_finished", gameServer.GamesFinished()).
		Uint64("sessions_served", listener.Served()).
		Uint64("sessions_failed", listener.Failed()).
		Msg("all tasks stopped gracefully")
	return nil
}
