package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultQueueSize is the queued-delivery buffer used when none is
// configured.
const DefaultQueueSize = 256

const (
	inboxIdle int32 = iota
	inboxOpen
	inboxClosed
)

// Inbox is the delivery half every transport variant embeds. Variants
// decode messages on their own goroutines and hand them to Deliver or
// Fail; the Inbox decides whether they reach the callback or the queue.
//
// Thread Safety:
// All methods are safe for concurrent use. Deliver blocks while the queue
// is full (backpressure onto the reading goroutine) but never after Close.
type Inbox struct {
	queue     chan Event
	closed    chan struct{}
	callback  ReceiptFunc
	log       zerolog.Logger
	mode      Delivery
	state     atomic.Int32
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewInbox returns an idle inbox. size <= 0 selects DefaultQueueSize.
func NewInbox(mode Delivery, size int, log zerolog.Logger) *Inbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Inbox{
		queue:  make(chan Event, size),
		closed: make(chan struct{}),
		log:    log,
		mode:   mode,
	}
}

// Mode returns the configured delivery mode.
func (b *Inbox) Mode() Delivery { return b.mode }

// SetCallback installs the receipt callback.
func (b *Inbox) SetCallback(fn ReceiptFunc) {
	b.mu.Lock()
	b.callback = fn
	b.mu.Unlock()
}

func (b *Inbox) currentCallback() ReceiptFunc {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.callback
}

// Open moves the inbox from idle to open. It fails if the inbox was
// already opened, including after Close.
func (b *Inbox) Open() error {
	if !b.state.CompareAndSwap(inboxIdle, inboxOpen) {
		if b.state.Load() == inboxClosed {
			return ErrClosed
		}
		return ErrAlreadyListening
	}
	return nil
}

// Close stops delivery. Blocked Deliver and Await calls return.
func (b *Inbox) Close() {
	b.closeOnce.Do(func() {
		b.state.Store(inboxClosed)
		close(b.closed)
	})
}

// Done is closed once Close has been called.
func (b *Inbox) Done() <-chan struct{} { return b.closed }

// IsOpen reports whether the inbox is accepting events.
func (b *Inbox) IsOpen() bool { return b.state.Load() == inboxOpen }

// Deliver hands ev to the callback or the queue and reports whether it
// was accepted. Events arriving while the inbox is not open are dropped.
func (b *Inbox) Deliver(ev Event) bool {
	if !b.IsOpen() {
		return false
	}
	if b.mode == Callback {
		if fn := b.currentCallback(); fn != nil {
			fn(ev, nil)
			return true
		}
	}
	select {
	case b.queue <- ev:
		return true
	case <-b.closed:
		return false
	}
}

// Fail reports a receive error. It goes to the callback when one is
// registered, whatever the delivery mode, and is logged otherwise.
func (b *Inbox) Fail(err error) {
	if fn := b.currentCallback(); fn != nil {
		fn(Event{}, err)
		return
	}
	b.log.Warn().Err(err).Msg("receive failed and no receipt callback is registered")
}

// Await implements Transport.AwaitNextEvent. A non-positive wait polls
// without blocking.
func (b *Inbox) Await(ctx context.Context, wait time.Duration) (Event, bool, error) {
	switch b.state.Load() {
	case inboxIdle:
		return Event{}, false, ErrNotListening
	case inboxClosed:
		return Event{}, false, ErrClosed
	}

	if wait <= 0 {
		select {
		case ev := <-b.queue:
			return ev, true, nil
		default:
			return Event{}, false, nil
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev := <-b.queue:
		return ev, true, nil
	case <-timer.C:
		return Event{}, false, nil
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	case <-b.closed:
		return Event{}, false, ErrClosed
	}
}
