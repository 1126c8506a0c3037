// Command robots-server hosts robots games: it accepts one client connection
// at a time, runs the lobby and the turn loop for it, and publishes what
// happens to the status API, Prometheus, MQTT and the results ledger.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robots-arena/robots/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
  ____       _           _
 |  _ \ ___ | |__   ___ | |_ ___
 | |_) / _ \| '_ \ / _ \| __/ __|
 |  _ < (_) | |_) | (_) | |_\__ \
 |_| \_\___/|_.__/ \___/ \__|___/  server %s
`

// serverFlags mirrors config.ServerConfig; only flags set on the command line
// override the file.
type serverFlags struct {
	configPath string
	console    bool
	logLevel   string

	bombTimer       uint16
	playerCount     uint8
	turnDurationMs  uint64
	explosionRadius uint16
	initialBlocks   uint16
	gameLength      uint16
	serverName      string
	port            uint16
	seed            uint32
	sizeX           uint16
	sizeY           uint16
	generator       string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var f serverFlags

	cmd := &cobra.Command{
		Use:   "robots-server",
		Short: "Authoritative server for the robots arena game",
		Long: `robots-server runs robots games for one connection at a time.

A connecting client receives Hello, registers players with Join until the
lobby is full, then receives one Turn per turn duration until the game ends.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			return serve(cmd.Context(), cfg, f)
		},
	}

	flags := cmd.Flags()
	flags.Uint16VarP(&f.bombTimer, "bomb-timer", "b", 0, "turns until a placed bomb explodes")
	flags.Uint8VarP(&f.playerCount, "players-count", "c", 0, "players needed to start a game")
	flags.Uint64VarP(&f.turnDurationMs, "turn-duration", "d", 0, "turn duration in milliseconds")
	flags.Uint16VarP(&f.explosionRadius, "explosion-radius", "e", 0, "bomb explosion radius")
	flags.Uint16VarP(&f.initialBlocks, "initial-blocks", "k", 0, "blocks placed at turn 0")
	flags.Uint16VarP(&f.gameLength, "game-length", "l", 0, "number of turns in a game")
	flags.StringVarP(&f.serverName, "server-name", "n", "", "server name shown to clients")
	flags.Uint16VarP(&f.port, "port", "p", 0, "TCP port to listen on")
	flags.Uint32VarP(&f.seed, "seed", "s", 0, "random seed (time-based when unset)")
	flags.Uint16VarP(&f.sizeX, "size-x", "x", 0, "board width")
	flags.Uint16VarP(&f.sizeY, "size-y", "y", 0, "board height")
	flags.StringVar(&f.generator, "turn-generator", "", "turn generator: rules or placeholder")
	flags.BoolVar(&f.console, "console", false, "read operator commands from stdin")
	flags.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.PersistentFlags().StringVar(&f.configPath, "config", config.DefaultPath, "configuration file")

	cmd.AddCommand(configCmd(&f))
	return cmd
}

// apply overlays every flag set on the command line onto cfg.
func (f *serverFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	sc := cfg.GetServer()

	if set("bomb-timer") {
		sc.BombTimer = f.bombTimer
	}
	if set("players-count") {
		sc.PlayerCount = f.playerCount
	}
	if set("turn-duration") {
		sc.TurnDurationMs = f.turnDurationMs
	}
	if set("explosion-radius") {
		sc.ExplosionRadius = f.explosionRadius
	}
	if set("initial-blocks") {
		sc.InitialBlocks = f.initialBlocks
	}
	if set("game-length") {
		sc.GameLength = f.gameLength
	}
	if set("server-name") {
		sc.Name = f.serverName
	}
	if set("port") {
		sc.Port = f.port
	}
	if set("seed") {
		seed := f.seed
		sc.Seed = &seed
	}
	if set("size-x") {
		sc.SizeX = f.sizeX
	}
	if set("size-y") {
		sc.SizeY = f.sizeY
	}
	if set("turn-generator") {
		sc.TurnGenerator = f.generator
	}
	cfg.SetServer(sc)

	if set("log-level") {
		lc := cfg.GetLogging()
		lc.Level = f.logLevel
		cfg.SetLogging(lc)
	}
}
