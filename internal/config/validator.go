package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxNameLength is the longest name the wire format can carry.
const maxNameLength = 255

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Err returns the first error, or nil when the result is valid.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	return fmt.Errorf("%w (and %d more)", r.Errors[0], len(r.Errors)-1)
}

// LogWarnings writes every warning to the global logger.
func (r *ValidationResult) LogWarnings() {
	for _, w := range r.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
}

// Validate checks every section of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(cfg.GetServer(), result)
	validateClient(cfg.GetClient(), result)
	validateShared(cfg, result)

	return result
}

// ValidateServer checks the sections the server binary uses.
func ValidateServer(cfg *Config) *ValidationResult {
	result := &ValidationResult{}
	validateServer(cfg.GetServer(), result)
	validateShared(cfg, result)
	return result
}

// ValidateClient checks the sections the client binary uses.
func ValidateClient(cfg *Config) *ValidationResult {
	result := &ValidationResult{}
	validateClient(cfg.GetClient(), result)
	validateLogging(cfg.GetLogging(), result)
	return result
}

func validateServer(s ServerConfig, result *ValidationResult) {
	validateName(s.Name, "server.server_name", result)
	validatePort(int(s.Port), "server.port", result)

	if s.SizeX == 0 || s.SizeY == 0 {
		result.AddError("server.size", fmt.Sprintf("board %dx%d has no cells", s.SizeX, s.SizeY))
	}
	if s.PlayerCount == 0 {
		result.AddError("server.players_count", "at least one player is required")
	}
	if s.BombTimer == 0 {
		result.AddError("server.bomb_timer", "bomb timer must be at least 1 turn")
	}

	cells := int(s.SizeX) * int(s.SizeY)
	if cells > 0 && int(s.InitialBlocks) > cells {
		result.AddError("server.initial_blocks",
			fmt.Sprintf("%d initial blocks do not fit on a board of %d cells", s.InitialBlocks, cells))
	}
	if cells > 0 && int(s.PlayerCount) > cells {
		result.AddWarning("server.players_count",
			fmt.Sprintf("%d players share a board of %d cells", s.PlayerCount, cells))
	}

	switch s.TurnGenerator {
	case "", "rules", "placeholder":
	default:
		result.AddError("server.turn_generator",
			fmt.Sprintf("unknown turn generator %q (want rules or placeholder)", s.TurnGenerator))
	}

	if s.GameLength == 0 {
		result.AddWarning("server.game_length", "games end without a single turn")
	}
	if s.ExplosionRadius == 0 {
		result.AddWarning("server.explosion_radius", "explosions only reach the bomb's own cell")
	}
	if s.TurnDurationMs == 0 {
		result.AddWarning("server.turn_duration_ms", "turns are sent without delay")
	}
}

func validateClient(c ClientConfig, result *ValidationResult) {
	if strings.TrimSpace(c.PlayerName) == "" {
		result.AddError("client.player_name", "player name is required")
	}
	validateName(c.PlayerName, "client.player_name", result)
	validateAddress(c.ServerAddress, "client.server_address", result)
	validateAddress(c.GUIAddress, "client.gui_address", result)
	validatePort(int(c.Port), "client.port", result)
}

func validateShared(cfg *Config, result *ValidationResult) {
	api := cfg.GetAPI()
	if api.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(api.ListenAddress); err != nil {
			result.AddError("api.listen_address", fmt.Sprintf("invalid listen address %q: %v", api.ListenAddress, err))
		}
		for _, o := range api.AllowedOrigins {
			if o == "*" {
				result.AddWarning("api.allowed_origins", "API accepts requests from any origin")
				break
			}
		}
		if api.RateLimitRPS < 0 {
			result.AddError("api.rate_limit_rps", "rate limit cannot be negative")
		}
	}

	mqtt := cfg.GetMQTT()
	if mqtt.Enabled {
		if strings.TrimSpace(mqtt.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if mqtt.Port < 1 || mqtt.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if mqtt.UseTLS && mqtt.CertFile != "" && mqtt.KeyFile == "" {
			result.AddError("mqtt.key_file", "client key is required with a client certificate")
		}
	}

	storage := cfg.GetStorage()
	if storage.Enabled && storage.RecentLimit < 1 {
		result.AddWarning("storage.recent_limit", "recent games listing is empty")
	}
	if storage.Enabled && storage.RetentionHours < 0 {
		result.AddError("storage.retention_hours", "retention cannot be negative")
	}
	if storage.Enabled && storage.RetentionHours > 0 && storage.PruneIntervalMin < 1 {
		result.AddError("storage.prune_interval_min", "prune interval must be at least one minute")
	}

	validateLogging(cfg.GetLogging(), result)
}

func validateLogging(l LoggingConfig, result *ValidationResult) {
	switch strings.ToLower(l.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		result.AddWarning("logging.level", fmt.Sprintf("unknown level %q, using info", l.Level))
	}
	if l.File && strings.TrimSpace(l.Directory) == "" {
		result.AddError("logging.directory", "log directory is required when file logging is enabled")
	}
}

func validateName(name, field string, result *ValidationResult) {
	if len(name) > maxNameLength {
		result.AddError(field, fmt.Sprintf("name is %d bytes, the limit is %d", len(name), maxNameLength))
	}
}

func validateAddress(addr, field string, result *ValidationResult) {
	if strings.TrimSpace(addr) == "" {
		result.AddError(field, "address is required")
		return
	}
	i := strings.LastIndex(addr, ":")
	if i <= 0 || i == len(addr)-1 {
		result.AddError(field, fmt.Sprintf("address %q is not of the form host:port", addr))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
