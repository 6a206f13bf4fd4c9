// Package config loads coordinator and worker settings.
//
// Settings are layered: built-in defaults, then an optional YAML file,
// then environment variables. The commands apply their flags last.
// Validate rejects anything the coordinator cannot start with, which is
// the only class of error allowed to stop the process.
//
// Every setting except log.time_format has an environment override:
//
//	LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT
//	HERD_PLATFORM, HERD_LISTEN_URI, HERD_DELIVERY, HERD_STATUS_ADDR,
//	HERD_LEDGER_PATH, HERD_NATS_QUEUE, HERD_WAIT_INTERVAL,
//	HERD_ERROR_BACKOFF, HERD_LIVENESS_INTERVAL, HERD_STALE_AFTER,
//	HERD_IDLE_TIMEOUT
//	HERD_NATS_SUBJECT (coordinator and worker)
//	HERD_WORKER_ID, HERD_COORDINATOR_URI, HERD_WORKER_DESCRIPTOR,
//	HERD_HEARTBEAT_INTERVAL, HERD_REGISTER_RETRIES
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/herd/internal/logger"
	"github.com/dreamware/herd/internal/transport"
)

var (
	// ErrUnsupportedPlatform is returned for a platform other than AUTO or
	// UNIX, or when AUTO cannot resolve to a supported platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrUnsupportedScheme is returned for a listen URI whose scheme has
	// no transport.
	ErrUnsupportedScheme = errors.New("unsupported listen scheme")

	// ErrInvalid wraps every other validation failure.
	ErrInvalid = errors.New("invalid configuration")
)

const (
	PlatformAuto = "AUTO"
	PlatformUnix = "UNIX"
)

// Config is the full settings tree.
type Config struct {
	Log         logger.Config `yaml:"log"`
	Coordinator Coordinator   `yaml:"coordinator"`
	Worker      Worker        `yaml:"worker"`
}

// Coordinator holds the coordinator process settings.
type Coordinator struct {
	// Platform is AUTO or UNIX.
	Platform string `yaml:"platform"`

	// ListenURI selects the transport by scheme: tcp://host:port or
	// nats://host:port.
	ListenURI string `yaml:"listen_uri"`

	// Delivery is "callback" or "queued".
	Delivery string `yaml:"delivery"`

	// NATSSubject is the subject resources publish to with a nats
	// listen URI.
	NATSSubject string `yaml:"nats_subject"`

	// StatusAddr is where the read-only HTTP status view listens. Empty
	// disables it.
	StatusAddr string `yaml:"status_addr"`

	// LedgerPath is the SQLite job ledger. Empty keeps jobs in memory.
	LedgerPath string `yaml:"ledger_path"`

	// NATSQueue joins a NATS queue group with a nats listen URI.
	NATSQueue string `yaml:"nats_queue"`

	WaitInterval     time.Duration `yaml:"wait_interval"`
	ErrorBackoff     time.Duration `yaml:"error_backoff"`
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`

	// IdleTimeout closes TCP connections silent for this long. Zero
	// keeps them open.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Worker holds the worker process settings.
type Worker struct {
	// ID is the worker's identity. Empty generates one at start.
	ID string `yaml:"id"`

	// CoordinatorURI is where to send registration and heartbeats.
	CoordinatorURI string `yaml:"coordinator_uri"`

	// NATSSubject is used with a nats coordinator URI.
	NATSSubject string `yaml:"nats_subject"`

	// Descriptor is sent with the registration.
	Descriptor string `yaml:"descriptor"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RegisterRetries   int           `yaml:"register_retries"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log: logger.DefaultConfig(),
		Coordinator: Coordinator{
			Platform:         PlatformAuto,
			ListenURI:        "tcp://localhost:9998",
			Delivery:         "callback",
			StatusAddr:       ":8080",
			WaitInterval:     time.Second,
			ErrorBackoff:     100 * time.Millisecond,
			LivenessInterval: 5 * time.Second,
			StaleAfter:       30 * time.Second,
		},
		Worker: Worker{
			CoordinatorURI:    "tcp://localhost:9998",
			HeartbeatInterval: 5 * time.Second,
			RegisterRetries:   5,
		},
	}
}

// Load returns defaults overlaid with the YAML file at path (when path is
// not empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
		}
		*dst = n
		return nil
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_OUTPUT", &c.Log.Output)

	str("HERD_PLATFORM", &c.Coordinator.Platform)
	str("HERD_LISTEN_URI", &c.Coordinator.ListenURI)
	str("HERD_DELIVERY", &c.Coordinator.Delivery)
	str("HERD_NATS_SUBJECT", &c.Coordinator.NATSSubject)
	str("HERD_STATUS_ADDR", &c.Coordinator.StatusAddr)
	str("HERD_LEDGER_PATH", &c.Coordinator.LedgerPath)
	str("HERD_NATS_QUEUE", &c.Coordinator.NATSQueue)

	str("HERD_WORKER_ID", &c.Worker.ID)
	str("HERD_COORDINATOR_URI", &c.Worker.CoordinatorURI)
	str("HERD_NATS_SUBJECT", &c.Worker.NATSSubject)
	str("HERD_WORKER_DESCRIPTOR", &c.Worker.Descriptor)

	return errors.Join(
		dur("HERD_WAIT_INTERVAL", &c.Coordinator.WaitInterval),
		dur("HERD_ERROR_BACKOFF", &c.Coordinator.ErrorBackoff),
		dur("HERD_LIVENESS_INTERVAL", &c.Coordinator.LivenessInterval),
		dur("HERD_STALE_AFTER", &c.Coordinator.StaleAfter),
		dur("HERD_IDLE_TIMEOUT", &c.Coordinator.IdleTimeout),
		dur("HERD_HEARTBEAT_INTERVAL", &c.Worker.HeartbeatInterval),
		num("HERD_REGISTER_RETRIES", &c.Worker.RegisterRetries),
	)
}

// ResolvePlatform maps AUTO to the platform of the running process.
func ResolvePlatform(platform, goos string) (string, error) {
	switch strings.ToUpper(platform) {
	case PlatformUnix:
		return PlatformUnix, nil
	case PlatformAuto, "":
		if goos == "windows" || goos == "plan9" || goos == "js" || goos == "wasip1" {
			return "", fmt.Errorf("%w: no automatic platform for %s", ErrUnsupportedPlatform, goos)
		}
		return PlatformUnix, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
}

// ListenScheme returns the scheme of uri if a transport exists for it.
func ListenScheme(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: listen uri %q: %v", ErrInvalid, uri, err)
	}
	switch u.Scheme {
	case "tcp", "nats":
	default:
		return "", fmt.Errorf("%w: %q in %q", ErrUnsupportedScheme, u.Scheme, uri)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: listen uri %q has no host", ErrInvalid, uri)
	}
	return u.Scheme, nil
}

// Validate checks the coordinator settings.
func (c Coordinator) Validate() error {
	var errs []error
	if _, err := ResolvePlatform(c.Platform, runtime.GOOS); err != nil {
		errs = append(errs, err)
	}
	if _, err := ListenScheme(c.ListenURI); err != nil {
		errs = append(errs, err)
	}
	if _, err := transport.ParseDelivery(c.Delivery); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalid, err))
	}
	for name, d := range map[string]time.Duration{
		"wait_interval":     c.WaitInterval,
		"error_backoff":     c.ErrorBackoff,
		"liveness_interval": c.LivenessInterval,
		"stale_after":       c.StaleAfter,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d))
		}
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: idle_timeout must not be negative, got %s", ErrInvalid, c.IdleTimeout))
	}
	return errors.Join(errs...)
}

// Validate checks the worker settings.
func (w Worker) Validate() error {
	var errs []error
	if _, err := ListenScheme(w.CoordinatorURI); err != nil {
		errs = append(errs, err)
	}
	if w.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalid))
	}
	if w.RegisterRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: register_retries must not be negative", ErrInvalid))
	}
	return errors.Join(errs...)
}
