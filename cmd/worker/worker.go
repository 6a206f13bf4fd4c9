package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/config"
	"github.com/dreamware/herd/internal/identity"
	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/transport/natsbus"
	"github.com/dreamware/herd/internal/transport/tcp"
)

// Sender delivers envelopes to the coordinator. tcp.Client and
// natsbus.Publisher both satisfy it.
type Sender interface {
	Send(ctx context.Context, env *protocol.Envelope) error
	Close() error
}

// DialFunc opens a new Sender.
type DialFunc func(ctx context.Context) (Sender, error)

// dialerFor returns a DialFunc for the coordinator URI scheme.
func dialerFor(cfg config.Worker) (DialFunc, error) {
	scheme, err := config.ListenScheme(cfg.CoordinatorURI)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case tcp.Scheme:
		return func(ctx context.Context) (Sender, error) {
			return tcp.Dial(ctx, cfg.CoordinatorURI)
		}, nil
	case natsbus.Scheme:
		return func(context.Context) (Sender, error) {
			return natsbus.NewPublisher(cfg.CoordinatorURI, cfg.NATSSubject)
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnsupportedScheme, scheme)
}

// Worker is a resource: it registers with the coordinator once and then
// sends heartbeats until stopped.
//
// Connection handling:
//   - The connection is opened lazily and dropped on any send error
//   - After a reconnect the registration is sent again; the coordinator
//     treats a repeated registration as a heartbeat
type Worker struct {
	dial       DialFunc
	sender     Sender
	log        zerolog.Logger
	descriptor []byte
	interval   time.Duration
	retryDelay time.Duration
	retries    int
	id         identity.ID
	registered bool
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Dial              DialFunc
	Logger            zerolog.Logger
	Descriptor        []byte
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	RegisterRetries   int
	ID                identity.ID
}

// NewWorker returns a worker. A zero ID is replaced by a fresh one.
func NewWorker(opts WorkerOptions) *Worker {
	if opts.ID.IsZero() {
		opts.ID = identity.New()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 400 * time.Millisecond
	}
	return &Worker{
		dial:       opts.Dial,
		log:        opts.Logger.With().Str("component", "worker").Str("uuid", opts.ID.String()).Logger(),
		descriptor: opts.Descriptor,
		interval:   opts.HeartbeatInterval,
		retryDelay: opts.RetryDelay,
		retries:    opts.RegisterRetries,
		id:         opts.ID,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() identity.ID { return w.id }

func (w *Worker) send(ctx context.Context, env *protocol.Envelope) error {
	if w.sender == nil {
		s, err := w.dial(ctx)
		if err != nil {
			return err
		}
		w.sender = s
		w.registered = false
	}
	if err := w.sender.Send(ctx, env); err != nil {
		w.disconnect()
		return err
	}
	return nil
}

func (w *Worker) disconnect() {
	if w.sender != nil {
		w.sender.Close()
		w.sender = nil
	}
	w.registered = false
}

// register sends the registration, retrying up to the configured number
// of times with a fixed delay. It returns the last error when every
// attempt fails.
func (w *Worker) register(ctx context.Context) error {
	env := protocol.NewRegistration(w.id.String(), w.descriptor)

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			w.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("register retry")
			select {
			case <-time.After(w.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = w.send(ctx, env); lastErr == nil {
			w.registered = true
			w.log.Info().Int("descriptor_bytes", len(w.descriptor)).Msg("registered with coordinator")
			return nil
		}
	}
	return fmt.Errorf("failed to register with coordinator: %w", lastErr)
}

// heartbeat sends one heartbeat, registering first after a reconnect.
func (w *Worker) heartbeat(ctx context.Context) error {
	if !w.registered || w.sender == nil {
		if err := w.send(ctx, protocol.NewRegistration(w.id.String(), w.descriptor)); err != nil {
			return err
		}
		w.registered = true
		w.log.Info().Msg("re-registered after reconnect")
	}
	return w.send(ctx, protocol.NewHeartbeat(w.id.String()))
}

// Run registers and then heartbeats every interval until ctx is done. It
// returns an error only if the initial registration fails; later send
// failures are logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	defer w.disconnect()

	if err := w.register(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopping")
			return nil
		case <-ticker.C:
			if err := w.heartbeat(ctx); err != nil {
				w.log.Warn().Err(err).Msg("heartbeat failed, reconnecting on next tick")
			}
		}
	}
}
