package coordinator

import (
	"bytes"
	"context"

	"github.com/dreamware/herd/internal/dispatch"
	"github.com/dreamware/herd/internal/identity"
	"github.com/dreamware/herd/internal/protocol"
)

var _ dispatch.Handler = (*Coordinator)(nil)

// HandleRegistration records a resource the first time it registers.
//
// A registration from a known identity is treated as an implicit
// heartbeat: last-seen moves forward and the stored descriptor is kept.
// A different descriptor is logged as a possible recovery and otherwise
// ignored. A malformed identity is counted as a protocol error and the
// message is dropped.
func (c *Coordinator) HandleRegistration(_ context.Context, msg *protocol.RegistrationMessage) {
	id, err := identity.Parse(msg.SenderIdentity)
	if err != nil {
		c.stats.protocolErrors.Add(1)
		c.log.Warn().Err(err).Str("sender", msg.SenderIdentity).Msg("dropping registration with invalid identity")
		return
	}
	now := c.clock()

	if _, known := c.registry.Lookup(id); !known {
		if c.registry.Insert(id, msg.Descriptor, now) {
			c.stats.registrations.Add(1)
			c.log.Info().
				Str("resource", id.String()).
				Int("descriptor_bytes", len(msg.Descriptor)).
				Msg("resource registered")
			return
		}
		// Lost a race with a concurrent registration of the same id.
	}

	c.stats.reregistrations.Add(1)
	c.log.Info().Str("resource", id.String()).Msg("resource already known, checking for recovery")

	prev, _ := c.registry.Lookup(id)
	c.registry.Touch(id, now)

	if !bytes.Equal(prev.Descriptor, msg.Descriptor) {
		c.log.Info().
			Str("resource", id.String()).
			Int("stored_bytes", len(prev.Descriptor)).
			Int("offered_bytes", len(msg.Descriptor)).
			Msg("re-registration offers a different descriptor, keeping the stored one")
	}
}

// HandleHeartbeat refreshes last-seen for a registered resource.
// Heartbeats from identities that never registered change nothing.
func (c *Coordinator) HandleHeartbeat(_ context.Context, msg *protocol.HeartbeatMessage) {
	id, err := identity.Parse(msg.SenderIdentity)
	if err != nil {
		c.stats.protocolErrors.Add(1)
		c.log.Warn().Err(err).Str("sender", msg.SenderIdentity).Msg("dropping heartbeat with invalid identity")
		return
	}

	prev, known := c.registry.Lookup(id)
	if !known {
		c.stats.unknownHeartbeats.Add(1)
		c.log.Warn().Str("resource", id.String()).Msg("heartbeat from unknown resource")
		return
	}

	c.registry.Touch(id, c.clock())
	c.stats.heartbeats.Add(1)
	c.log.Debug().
		Str("resource", id.String()).
		Time("previous_last_seen", prev.LastSeen).
		Msg("heartbeat")
}
