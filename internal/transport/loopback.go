package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/protocol"
)

// Loopback is an in-process transport. Messages are injected with Send or
// SendRaw instead of arriving over a network. It is what tests and
// embedded coordinators use, and it counts StopListen calls so shutdown
// sequencing can be asserted.
type Loopback struct {
	inbox     *Inbox
	address   string
	stopCalls atomic.Int32
	mu        sync.Mutex
}

// NewLoopback returns an idle loopback transport.
func NewLoopback(mode Delivery, log zerolog.Logger) *Loopback {
	return &Loopback{
		inbox: NewInbox(mode, DefaultQueueSize, log.With().Str("component", "transport.loopback").Logger()),
	}
}

// Listen records address and starts accepting injected messages.
func (l *Loopback) Listen(_ context.Context, address string) error {
	if err := l.inbox.Open(); err != nil {
		return err
	}
	l.mu.Lock()
	l.address = address
	l.mu.Unlock()
	return nil
}

// StopListen closes the inbox. Every call is counted.
func (l *Loopback) StopListen() error {
	l.stopCalls.Add(1)
	l.inbox.Close()
	return nil
}

func (l *Loopback) RegisterAsyncReceiptCallback(fn ReceiptFunc) {
	l.inbox.SetCallback(fn)
}

func (l *Loopback) AwaitNextEvent(ctx context.Context, wait time.Duration) (Event, bool, error) {
	return l.inbox.Await(ctx, wait)
}

// Send delivers env as if it had arrived from the network. It reports
// whether the transport accepted it.
func (l *Loopback) Send(env *protocol.Envelope) bool {
	return l.inbox.Deliver(Event{Envelope: env, Source: "loopback"})
}

// SendRaw decodes data and delivers the result. Decode failures are
// reported through the receipt callback like any other receive error.
func (l *Loopback) SendRaw(data []byte) bool {
	env, err := protocol.Unmarshal(data)
	if err != nil {
		l.inbox.Fail(err)
		return false
	}
	return l.Send(env)
}

// Fail injects a transport-level receive error.
func (l *Loopback) Fail(cause error) {
	l.inbox.Fail(fmt.Errorf("%w: %v", ErrTransport, cause))
}

// StopListenCalls returns how many times StopListen was called.
func (l *Loopback) StopListenCalls() int {
	return int(l.stopCalls.Load())
}

// Address returns the address passed to Listen.
func (l *Loopback) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}
