package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dreamware/herd/internal/codec"
)

// ErrMalformed is wrapped by every decode failure caused by the shape of an
// inbound message rather than by the transport carrying it.
var ErrMalformed = errors.New("malformed envelope")

// Kind names a payload variant on the wire. It is the top-level map key
// under which the payload is encoded.
type Kind string

const (
	KindRegistration Kind = "register"
	KindHeartbeat    Kind = "heartbeat"
)

// Payload is the sum type of message bodies this coordinator understands.
// The unexported method seals it to this package.
type Payload interface {
	Kind() Kind
	payload()
}

// RegistrationMessage announces a resource. Descriptor is opaque metadata
// supplied by the resource; the coordinator stores it without
// interpreting it.
type RegistrationMessage struct {
	SenderIdentity string `cbor:"uuid"`
	Descriptor     []byte `cbor:"res_desc,omitempty"`
}

// HeartbeatMessage proves a registered resource is still alive.
type HeartbeatMessage struct {
	SenderIdentity string `cbor:"uuid"`
}

func (*RegistrationMessage) Kind() Kind { return KindRegistration }
func (*RegistrationMessage) payload()   {}
func (*HeartbeatMessage) Kind() Kind    { return KindHeartbeat }
func (*HeartbeatMessage) payload()      {}

// Envelope is a decoded inbound message. A well-formed envelope carries
// exactly one payload, but nothing upstream enforces that: any subset of
// the known payloads may be present, and keys this coordinator does not
// understand are kept by name in Unrecognized.
type Envelope struct {
	Registration *RegistrationMessage
	Heartbeat    *HeartbeatMessage

	// Unrecognized lists top-level kinds that were present on the wire
	// but are not known to this build, sorted.
	Unrecognized []string
}

// NewRegistration builds an envelope carrying only a registration.
func NewRegistration(sender string, descriptor []byte) *Envelope {
	return &Envelope{Registration: &RegistrationMessage{SenderIdentity: sender, Descriptor: descriptor}}
}

// NewHeartbeat builds an envelope carrying only a heartbeat.
func NewHeartbeat(sender string) *Envelope {
	return &Envelope{Heartbeat: &HeartbeatMessage{SenderIdentity: sender}}
}

// Payloads returns the known payloads present in e, registration first.
// The result is empty when e carries nothing this coordinator understands.
func (e *Envelope) Payloads() []Payload {
	if e == nil {
		return nil
	}
	out := make([]Payload, 0, 2)
	if e.Registration != nil {
		out = append(out, e.Registration)
	}
	if e.Heartbeat != nil {
		out = append(out, e.Heartbeat)
	}
	return out
}

// wireEnvelope is the encoded form. Unknown kinds cannot be re-encoded
// because only their names are retained.
type wireEnvelope struct {
	Registration *RegistrationMessage `cbor:"register,omitempty"`
	Heartbeat    *HeartbeatMessage    `cbor:"heartbeat,omitempty"`
}

// Marshal encodes e for the wire.
func Marshal(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	return codec.Marshal(toWire(e))
}

// Encode writes e as the next value on a stream.
func Encode(enc *codec.Encoder, e *Envelope) error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	return enc.Encode(toWire(e))
}

func toWire(e *Envelope) wireEnvelope {
	return wireEnvelope{Registration: e.Registration, Heartbeat: e.Heartbeat}
}

// malformed wraps ErrMalformed and renders the offending value so the
// log line shows what the sender actually sent.
func malformed(data []byte, format string, args ...any) error {
	return fmt.Errorf("%w: %s in %s", ErrMalformed, fmt.Sprintf(format, args...), codec.Diagnose(data))
}

// Unmarshal decodes one envelope. The top level must be a map keyed by
// kind; known kinds must decode into their payload type.
func Unmarshal(data []byte) (*Envelope, error) {
	var top map[string]codec.RawMessage
	if err := codec.Unmarshal(data, &top); err != nil {
		return nil, malformed(data, "%v", err)
	}
	if top == nil {
		return nil, malformed(data, "not a map")
	}

	env := &Envelope{}
	for key, raw := range top {
		switch Kind(key) {
		case KindRegistration:
			var msg RegistrationMessage
			if err := codec.Unmarshal(raw, &msg); err != nil {
				return nil, malformed(data, "%s payload: %v", key, err)
			}
			if len(msg.Descriptor) > codec.MaxMessageSize {
				return nil, fmt.Errorf("%w: descriptor of %d bytes exceeds limit", ErrMalformed, len(msg.Descriptor))
			}
			env.Registration = &msg
		case KindHeartbeat:
			var msg HeartbeatMessage
			if err := codec.Unmarshal(raw, &msg); err != nil {
				return nil, malformed(data, "%s payload: %v", key, err)
			}
			env.Heartbeat = &msg
		default:
			env.Unrecognized = append(env.Unrecognized, key)
		}
	}
	sort.Strings(env.Unrecognized)
	return env, nil
}
