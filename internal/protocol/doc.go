// Package protocol defines the messages exchanged between resources and
// the coordinator, and their encoding.
//
// # Envelope
//
// Every inbound message is an envelope: a CBOR map whose keys name payload
// kinds. Two kinds are understood:
//
//	{"register":  {"uuid": "<identity>", "res_desc": h'<opaque descriptor>'}}
//	{"heartbeat": {"uuid": "<identity>"}}
//
// The envelope is decoded once, at the transport boundary, into an
// Envelope value. Its Payloads method yields the present known payloads as
// the sealed Payload sum type, which the dispatcher matches exhaustively.
//
// Forward compatibility:
//   - Keys for kinds this build does not know are not an error. They are
//     kept by name in Envelope.Unrecognized and otherwise ignored.
//   - An envelope carrying several known kinds is accepted; each payload
//     is handled, registration first.
//
// Failure modes:
//   - A top level that is not a map, or a known kind whose body does not
//     decode, yields an error wrapping ErrMalformed. Callers treat that as
//     a protocol error: log it and drop the message.
//
// Identity strings are carried verbatim; validating them is the job of
// the identity package, invoked by the handlers.
package protocol
