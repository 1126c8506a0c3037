// Package util provides logging setup and host information shared by the
// robots binaries.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	App        string
	Level      string
	Directory  string
	File       bool
	MaxBackups int
	Console    io.Writer
}

// DefaultLogConfig returns the default logging configuration for app.
func DefaultLogConfig(app string) LogConfig {
	return LogConfig{
		App:        app,
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    os.Stderr,
	}
}

// InitLogger initializes the zerolog global logger with console output and,
// when enabled, a JSON log file.
func InitLogger(cfg LogConfig) error {
	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer

	// Console writer (human-readable format)
	if cfg.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        cfg.Console,
			TimeFormat: "15:04:05",
		})
	}

	var logFilePath string
	if cfg.File {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
		}

		// File writer (JSON format for machine parsing)
		logFileName := fmt.Sprintf("%s_%s.log", cfg.App, time.Now().Format("2006-01-02"))
		logFilePath = filepath.Join(cfg.Directory, logFileName)
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, logFile)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", cfg.App).
		Logger()

	ev := log.Debug().Str("level", level.String())
	if logFilePath != "" {
		ev = ev.Str("log_file", logFilePath)
		go cleanOldLogs(cfg.Directory, cfg.App, cfg.MaxBackups)
	}
	ev.Msg("logger initialized")

	return nil
}

// cleanOldLogs keeps the newest maxBackups log files of app.
func cleanOldLogs(directory, app string, maxBackups int) {
	if maxBackups < 1 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(directory, app+"_*.log"))
	if err != nil || len(matches) <= maxBackups {
		return
	}

	// Date-stamped names sort oldest first.
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-maxBackups] {
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
