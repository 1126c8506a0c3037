// Command robots-client relays between a robots GUI, which speaks datagrams,
// and a robots server over TCP. It joins the game on the first controller
// input and forwards every server message to the GUI as a display snapshot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robots-arena/robots/internal/client"
	"github.com/robots-arena/robots/internal/config"
	"github.com/robots-arena/robots/internal/network"
	"github.com/robots-arena/robots/internal/util"
)

// Version information set at build time.
var version = "dev"

type clientFlags struct {
	configPath    string
	logLevel      string
	guiAddress    string
	playerName    string
	port          uint16
	serverAddress string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f clientFlags

	cmd := &cobra.Command{
		Use:           "robots-client",
		Short:         "Relay between a robots GUI and a robots server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.guiAddress, "gui-address", "d", "", "address display updates are sent to (host:port)")
	flags.StringVarP(&f.playerName, "player-name", "n", "", "name to join the game with")
	flags.Uint16VarP(&f.port, "port", "p", 0, "local UDP port receiving controller input")
	flags.StringVarP(&f.serverAddress, "server-address", "s", "", "game server address (host:port)")
	flags.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&f.configPath, "config", config.DefaultPath, "configuration file")
	return cmd
}

// apply overlays every flag set on the command line onto cfg.
func (f *clientFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	cc := cfg.GetClient()
	if set("gui-address") {
		cc.GUIAddress = f.guiAddress
	}
	if set("player-name") {
		cc.PlayerName = f.playerName
	}
	if set("port") {
		cc.Port = f.port
	}
	if set("server-address") {
		cc.ServerAddress = f.serverAddress
	}
	cfg.SetClient(cc)

	if set("log-level") {
		lc := cfg.GetLogging()
		lc.Level = f.logLevel
		cfg.SetLogging(lc)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	lc := cfg.GetLogging()
	logCfg := util.DefaultLogConfig("robots-client")
	logCfg.Level = lc.Level
	logCfg.Directory = lc.Directory
	logCfg.File = lc.File
	if err := util.InitLogger(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	validation := config.ValidateClient(cfg)
	validation.LogWarnings()
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed: %w", validation.Err())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc := cfg.GetClient()
	gui, err := network.ResolveDisplay(cc.GUIAddress)
	if err != nil {
		return err
	}

	display, err := network.ListenDisplay(ctx, cc.Port)
	if err != nil {
		return err
	}
	defer display.Close()

	server, err := network.DialServer(ctx, cc.ServerAddress)
	if err != nil {
		return err
	}
	defer server.Close()

	log.Info().
		Str("player", cc.PlayerName).
		Str("server", cc.ServerAddress).
		Str("gui", gui.String()).
		Msg("relay starting")

	relay := client.NewRelay(cc.PlayerName, server, display, gui)
	if err := relay.Run(ctx); err != nil {
		log.Error().Err(err).Msg("relay stopped")
		return err
	}
	log.Info().Msg("relay stopped")
	return nil
}
