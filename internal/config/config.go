// Package config handles configuration loading, validation, and persistence
// for the robots server and client.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "robots.json"
	DefaultServerPort = 2022
	DefaultClientPort = 2023
	DefaultAPIAddress = ":8090"
)

// DefaultPath is the configuration file used when no --config flag is given.
var DefaultPath = filepath.Join(DefaultConfigDir, DefaultConfigFile)

// Config is the root configuration document shared by both binaries.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server"`
	Client  ClientConfig  `json:"client"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig describes the game every session plays.
type ServerConfig struct {
	Name            string `json:"server_name"`
	Port            uint16 `json:"port"`
	PlayerCount     uint8  `json:"players_count"`
	SizeX           uint16 `json:"size_x"`
	SizeY           uint16 `json:"size_y"`
	GameLength      uint16 `json:"game_length"`
	ExplosionRadius uint16 `json:"explosion_radius"`
	BombTimer       uint16 `json:"bomb_timer"`
	InitialBlocks   uint16 `json:"initial_blocks"`
	TurnDurationMs  uint64 `json:"turn_duration_ms"`

	// Seed is optional; a nil seed is derived from the clock at startup.
	Seed *uint32 `json:"seed,omitempty"`

	// TurnGenerator is "rules" or "placeholder".
	TurnGenerator string `json:"turn_generator"`
}

// TurnDuration returns the configured interval between turns.
func (s ServerConfig) TurnDuration() time.Duration {
	return time.Duration(s.TurnDurationMs) * time.Millisecond
}

// ClientConfig holds the relay client settings.
type ClientConfig struct {
	PlayerName    string `json:"player_name"`
	ServerAddress string `json:"server_address"`
	GUIAddress    string `json:"gui_address"`
	Port          uint16 `json:"port"`
}

// APIConfig holds the status API settings. An empty ListenAddress disables
// the API and a zero RateLimitRPS disables per-client rate limiting.
type APIConfig struct {
	ListenAddress  string   `json:"listen_address"`
	AllowedOrigins []string `json:"allowed_origins"`
	EnableMetrics  bool     `json:"enable_metrics"`
	SpectatorFeed  bool     `json:"spectator_feed"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// StorageConfig holds the results ledger settings. An empty DSN keeps the
// ledger in memory. Games older than RetentionHours are pruned every
// PruneIntervalMin minutes; a zero retention keeps every game.
type StorageConfig struct {
	Enabled          bool   `json:"enabled"`
	DSN              string `json:"dsn"`
	RecentLimit      int    `json:"recent_limit"`
	RetentionHours   int    `json:"retention_hours"`
	PruneIntervalMin int    `json:"prune_interval_min"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	File      bool   `json:"file"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		path: DefaultPath,
		Server: ServerConfig{
			Name:            "robots",
			Port:            DefaultServerPort,
			PlayerCount:     2,
			SizeX:           10,
			SizeY:           10,
			GameLength:      100,
			ExplosionRadius: 3,
			BombTimer:       5,
			InitialBlocks:   10,
			TurnDurationMs:  500,
			TurnGenerator:   "rules",
		},
		Client: ClientConfig{
			ServerAddress: fmt.Sprintf("localhost:%d", DefaultServerPort),
			GUIAddress:    "localhost:2024",
			Port:          DefaultClientPort,
		},
		API: APIConfig{
			ListenAddress:  DefaultAPIAddress,
			AllowedOrigins: []string{"*"},
			EnableMetrics:  true,
			SpectatorFeed:  true,
			RateLimitRPS:   20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			ClientID:    "robots-server",
			TopicPrefix: "robots",
		},
		Storage: StorageConfig{
			Enabled:          true,
			RecentLimit:      20,
			RetentionHours:   24,
			PruneIntervalMin: 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "logs",
		},
	}
}

// Load reads configuration from a JSON file. A missing file yields the
// defaults; the file is only written by Save.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the server configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetClient returns a copy of the client configuration.
func (c *Config) GetClient() ClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Client
}

// SetClient updates the client configuration.
func (c *Config) SetClient(cl ClientConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Client = cl
}

func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

func (c *Config) GetStorage() StorageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage
}

func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

func (c *Config) SetLogging(l LoggingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logging = l
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes the configuration.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}
