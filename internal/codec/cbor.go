// Package codec configures the wire encoding in one place.
//
// Everything that crosses a transport is CBOR (RFC 8949) in the core
// deterministic form, so equal envelopes encode to equal bytes. CBOR
// values are self-delimiting, which lets the TCP stream carry envelopes
// back to back and read them one value at a time.
package codec

import (
	"encoding/hex"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize is the largest encoded envelope a coordinator accepts.
// The TCP transport stops reading a value once it passes this size, and
// protocol.Unmarshal rejects descriptors above it.
const MaxMessageSize = 1 << 20

// maxDiagnoseBytes caps how much of a value Diagnose renders.
const maxDiagnoseBytes = 256

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}

	// Envelopes are shallow maps; the limits keep a hostile sender from
	// making the decoder allocate deep or wide structures.
	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
}

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes one CBOR value from data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage holds an undecoded value, for decoding a map's entries one
// at a time.
type RawMessage = cbor.RawMessage

// Encoder writes successive values to a stream.
type Encoder = cbor.Encoder

// Decoder reads successive values from a stream.
type Decoder = cbor.Decoder

func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose renders data for a log line: CBOR diagnostic notation when it
// parses, otherwise a hex byte string. Long values are cut short.
func Diagnose(data []byte) string {
	if len(data) > maxDiagnoseBytes {
		return fmt.Sprintf("h'%s'... (%d bytes)", hex.EncodeToString(data[:maxDiagnoseBytes/4]), len(data))
	}
	if diag, err := cbor.Diagnose(data); err == nil {
		return diag
	}
	return "h'" + hex.EncodeToString(data) + "'"
}
