// Package identity generates and parses the identifiers that name the
// coordinator and every resource that registers with it.
//
// Identifiers are 128-bit UUIDs. The coordinator generates its own at
// startup; identifiers received from peers are parsed from their string
// form before any registry lookup. Two identifiers are equal iff their
// canonical string forms (lowercase, hyphenated) are equal, which is what
// comparing the ID values themselves gives you.
package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalid is returned by Parse for strings that are not well-formed
// identifiers.
var ErrInvalid = errors.New("invalid identity")

// ID identifies a resource or a coordinator. The zero value is the nil
// UUID and never names a real resource.
type ID struct {
	u uuid.UUID
}

// New returns a freshly generated random identity.
func New() ID {
	return ID{u: uuid.New()}
}

// Parse converts a peer-supplied identity string into an ID.
//
// Accepted forms are the ones google/uuid understands: canonical
// (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx), braced, urn:uuid: prefixed and
// 32 bare hex digits. The nil UUID is rejected because it is what an
// unset field decodes to.
//
// Returns:
//   - ID on success
//   - error wrapping ErrInvalid otherwise
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w %q: %v", ErrInvalid, s, err)
	}
	if u == uuid.Nil {
		return ID{}, fmt.Errorf("%w %q: nil uuid", ErrInvalid, s)
	}
	return ID{u: u}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and
// tests.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical form.
func (id ID) String() string {
	return id.u.String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.u == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler so IDs render as their
// canonical string in JSON and CBOR.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
