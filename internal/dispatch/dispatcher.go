// Package dispatch routes decoded envelopes to protocol handlers.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/protocol"
)

// Handler receives the payloads the dispatcher recognizes. Implementations
// must not block on I/O; they run on the run loop or on a transport
// goroutine.
type Handler interface {
	HandleRegistration(ctx context.Context, msg *protocol.RegistrationMessage)
	HandleHeartbeat(ctx context.Context, msg *protocol.HeartbeatMessage)
}

// Dispatcher classifies envelopes by payload kind. It has no side effects
// of its own beyond calling the handler and debug logging.
type Dispatcher struct {
	handler Handler
	log     zerolog.Logger
}

// New returns a dispatcher that routes to handler.
func New(handler Handler, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch invokes the handler once for every known payload in env and
// returns how many were routed.
//
// Behavior:
//   - Registration is handled before heartbeat when both are present.
//   - An envelope with no known payload is ignored; its unrecognized
//     kinds are logged at debug.
//   - A nil envelope is ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, env *protocol.Envelope) int {
	routed := 0
	for _, p := range env.Payloads() {
		switch msg := p.(type) {
		case *protocol.RegistrationMessage:
			d.handler.HandleRegistration(ctx, msg)
		case *protocol.HeartbeatMessage:
			d.handler.HandleHeartbeat(ctx, msg)
		default:
			// Payload is sealed; a new variant without a case here is a
			// programming error, not a peer error.
			d.log.Error().Str("kind", string(p.Kind())).Msg("no handler for payload kind")
			continue
		}
		routed++
	}

	if routed == 0 {
		var unknown []string
		if env != nil {
			unknown = env.Unrecognized
		}
		d.log.Debug().Strs("kinds", unknown).Msg("ignoring envelope without a recognized payload")
	}
	return routed
}
