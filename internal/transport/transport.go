// Package transport defines the capability the coordinator needs from a
// network transport, and the delivery machinery shared by every variant.
//
// The coordinator is written once against Transport. Variants (the
// in-memory Loopback here, tcp.Transport, natsbus.Transport) handle
// connections and framing; none of them know anything about the registry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamware/herd/internal/protocol"
)

var (
	// ErrTransport is wrapped by failures of the transport itself: a
	// broken connection, an undecodable stream, a subscription error.
	ErrTransport = errors.New("transport error")

	// ErrClosed is returned by AwaitNextEvent after StopListen.
	ErrClosed = errors.New("transport closed")

	// ErrNotListening is returned by AwaitNextEvent before Listen.
	ErrNotListening = errors.New("transport not listening")

	// ErrAlreadyListening is returned by a second Listen.
	ErrAlreadyListening = errors.New("transport already listening")
)

// Event is one decoded inbound message.
type Event struct {
	Envelope *protocol.Envelope

	// Source describes the sender for logs: a remote address or subject.
	Source string
}

// ReceiptFunc is invoked from a transport goroutine for every event when
// the transport delivers asynchronously, and for every receive error
// regardless of delivery mode. Exactly one of ev.Envelope and err is set.
type ReceiptFunc func(ev Event, err error)

// Transport is the capability interface the coordinator is parameterized
// over.
type Transport interface {
	// Listen starts accepting traffic at address. The format of address
	// is variant specific (tcp://host:port, nats://host:port, ...).
	Listen(ctx context.Context, address string) error

	// StopListen stops accepting traffic, closes connections and waits
	// for the transport's own goroutines to exit. Safe to call more than
	// once.
	StopListen() error

	// RegisterAsyncReceiptCallback installs fn. It may be called before
	// or after Listen.
	RegisterAsyncReceiptCallback(fn ReceiptFunc)

	// AwaitNextEvent blocks for at most wait for the next queued event.
	//
	// Returns:
	//   - ev, true, nil when an event arrived
	//   - zero, false, nil when wait elapsed
	//   - zero, false, ctx.Err() when ctx was cancelled
	//   - zero, false, ErrClosed / ErrNotListening outside Listening
	AwaitNextEvent(ctx context.Context, wait time.Duration) (Event, bool, error)
}

// Delivery selects how a transport hands events to the coordinator.
type Delivery int

const (
	// Callback invokes the registered ReceiptFunc from the I/O goroutine
	// that decoded the message. Falls back to Queued while no callback is
	// registered.
	Callback Delivery = iota

	// Queued buffers events for AwaitNextEvent; the run loop dispatches
	// them inline.
	Queued
)

func (d Delivery) String() string {
	switch d {
	case Callback:
		return "callback"
	case Queued:
		return "queued"
	}
	return fmt.Sprintf("Delivery(%d)", int(d))
}

// ParseDelivery parses "callback" or "queued". The empty string means
// Callback.
func ParseDelivery(s string) (Delivery, error) {
	switch s {
	case "", "callback", "async":
		return Callback, nil
	case "queued", "sync":
		return Queued, nil
	}
	return Callback, fmt.Errorf("unknown delivery mode %q", s)
}
