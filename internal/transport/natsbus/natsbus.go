// Package natsbus is the NATS transport. Resources publish CBOR envelopes
// to a subject; the coordinator subscribes to it. The bus takes care of
// connection management, so a resource needs no long-lived socket to the
// coordinator.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/transport"
)

// Scheme is the URI scheme this transport listens on.
const Scheme = "nats"

// DefaultSubject is where resources publish when nothing else is
// configured.
const DefaultSubject = "herd.coordinator.inbound"

// Options configures a Transport.
type Options struct {
	// Subject to subscribe to. Empty selects DefaultSubject.
	Subject string

	// Queue, when set, joins a NATS queue group: each envelope reaches
	// one member of the group instead of every subscriber.
	Queue string

	Delivery  transport.Delivery
	QueueSize int
	Logger    zerolog.Logger
}

// Transport subscribes to a NATS subject.
//
// Thread Safety:
// NATS invokes the subscription handler on one goroutine per
// subscription, so callback delivery is serialized per transport.
type Transport struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	inbox    *transport.Inbox
	log      zerolog.Logger
	opts     Options
	mu       sync.Mutex
	stopOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New returns an idle transport.
func New(opts Options) *Transport {
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	log := opts.Logger.With().Str("component", "transport.nats").Str("subject", opts.Subject).Logger()
	return &Transport{
		inbox: transport.NewInbox(opts.Delivery, opts.QueueSize, log),
		log:   log,
		opts:  opts,
	}
}

// ServerURL validates a nats:// address and returns it in the form
// nats.Connect expects.
func ServerURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parsing nats address %q: %w", address, err)
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("unsupported scheme %q for nats transport", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("nats address %q has no host", address)
	}
	return u.String(), nil
}

// Listen connects to the server at address and subscribes.
func (t *Transport) Listen(ctx context.Context, address string) error {
	serverURL, err := ServerURL(address)
	if err != nil {
		return err
	}
	if err := t.inbox.Open(); err != nil {
		return err
	}

	opts := []nats.Option{
		nats.Name("herd-coordinator"),
		nats.RetryOnFailedConnect(false),
		nats.ErrorHandler(t.asyncError),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.inbox.Fail(fmt.Errorf("%w: disconnected: %v", transport.ErrTransport, err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			t.log.Info().Str("server", nc.ConnectedUrl()).Msg("reconnected")
		}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			opts = append(opts, nats.Timeout(remaining))
		}
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		t.inbox.Close()
		return fmt.Errorf("connecting to NATS at %s: %w", serverURL, err)
	}

	var sub *nats.Subscription
	if t.opts.Queue != "" {
		sub, err = nc.QueueSubscribe(t.opts.Subject, t.opts.Queue, t.receive)
	} else {
		sub, err = nc.Subscribe(t.opts.Subject, t.receive)
	}
	if err != nil {
		nc.Close()
		t.inbox.Close()
		return fmt.Errorf("subscribing to %s: %w", t.opts.Subject, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		nc.Close()
		t.inbox.Close()
		return fmt.Errorf("flushing subscription: %w", err)
	}

	t.mu.Lock()
	t.nc = nc
	t.sub = sub
	t.mu.Unlock()

	t.log.Info().Str("server", serverURL).Msg("subscribed for resources")
	return nil
}

// receive is the subscription handler.
func (t *Transport) receive(msg *nats.Msg) {
	env, err := protocol.Unmarshal(msg.Data)
	if err != nil {
		t.inbox.Fail(fmt.Errorf("on %s: %w", msg.Subject, err))
		return
	}
	source := msg.Subject
	if msg.Reply != "" {
		source = msg.Reply
	}
	t.inbox.Deliver(transport.Event{Envelope: env, Source: source})
}

func (t *Transport) asyncError(_ *nats.Conn, _ *nats.Subscription, err error) {
	t.inbox.Fail(fmt.Errorf("%w: %v", transport.ErrTransport, err))
}

// StopListen unsubscribes and closes the connection.
func (t *Transport) StopListen() error {
	var err error
	t.stopOnce.Do(func() {
		t.inbox.Close()

		t.mu.Lock()
		nc, sub := t.nc, t.sub
		t.mu.Unlock()

		if sub != nil {
			if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
				err = fmt.Errorf("unsubscribing: %w", uerr)
			}
		}
		if nc != nil {
			nc.Close()
		}
		t.log.Info().Msg("stopped listening")
	})
	return err
}

func (t *Transport) RegisterAsyncReceiptCallback(fn transport.ReceiptFunc) {
	t.inbox.SetCallback(fn)
}

func (t *Transport) AwaitNextEvent(ctx context.Context, wait time.Duration) (transport.Event, bool, error) {
	return t.inbox.Await(ctx, wait)
}

const flushTimeout = 5 * time.Second

// Publisher is the resource side: it publishes envelopes to the
// coordinator's subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to the server at address.
func NewPublisher(address, subject string) (*Publisher, error) {
	serverURL, err := ServerURL(address)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(serverURL, nats.Name("herd-worker"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", serverURL, err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// Send publishes env and flushes so delivery errors surface here.
func (p *Publisher) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, data)
}

// SendRaw publishes pre-encoded bytes.
func (p *Publisher) SendRaw(ctx context.Context, data []byte) error {
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	// FlushWithContext insists on a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing publish: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
