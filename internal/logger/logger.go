// Package logger provides structured logging using zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLogger zerolog.Logger

// Config selects level, output and format.
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // "json" or "console"
	Output     string `json:"output" yaml:"output"` // "stdout" or "stderr"
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

func init() {
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// DefaultConfig is JSON at info level on stderr. LOG_LEVEL, LOG_FORMAT
// and LOG_OUTPUT override it through the config package.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Output: "stderr"}
}

// ParseLevel accepts zerolog level names, plus "warning". The empty string
// means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// New builds a logger for config writing to w. A nil w selects the
// configured output.
func New(config Config, w io.Writer) (zerolog.Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	if w == nil {
		w = os.Stderr
		if config.Output == "stdout" {
			w = os.Stdout
		}
	}

	switch config.Format {
	case "", "json":
	case "console":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", config.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Init installs config as the process-wide logger, including zerolog's
// global log.Logger.
func Init(config Config) error {
	l, err := New(config, nil)
	if err != nil {
		return err
	}
	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}
	globalLogger = l
	log.Logger = l
	return nil
}

// SetLevel changes the level of the process-wide logger.
func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

// GetLogger returns the process-wide logger.
func GetLogger() zerolog.Logger {
	return globalLogger
}

// WithComponent returns the process-wide logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}
