// Package tcp is the stream-socket transport. Each resource holds a TCP
// connection to the coordinator and writes a sequence of CBOR envelopes on
// it. CBOR values are self-delimiting, so the stream needs no extra
// framing: the reader decodes one value at a time.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/codec"
	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/transport"
)

// Scheme is the URI scheme this transport listens on.
const Scheme = "tcp"

// Options configures a Transport.
type Options struct {
	// Delivery selects callback or queued delivery.
	Delivery transport.Delivery

	// QueueSize bounds queued events. Zero selects the default.
	QueueSize int

	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables the timeout; resources heartbeat, so a silent
	// connection is usually a dead one.
	IdleTimeout time.Duration

	// MaxMessageSize bounds one envelope on the stream. Zero selects
	// codec.MaxMessageSize.
	MaxMessageSize int

	Logger zerolog.Logger
}

// Transport accepts resource connections on a TCP listener.
//
// Thread Safety:
// Safe for concurrent use. One goroutine accepts, one goroutine per
// connection reads; all of them are tracked and StopListen waits for them.
// StopListen must not be called from the receipt callback.
type Transport struct {
	listener net.Listener
	inbox    *transport.Inbox
	conns    map[net.Conn]struct{}
	log      zerolog.Logger
	opts     Options
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopOnce sync.Once
	stopped  bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns an idle transport.
func New(opts Options) *Transport {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = codec.MaxMessageSize
	}
	log := opts.Logger.With().Str("component", "transport.tcp").Logger()
	return &Transport{
		inbox: transport.NewInbox(opts.Delivery, opts.QueueSize, log),
		conns: make(map[net.Conn]struct{}),
		log:   log,
		opts:  opts,
	}
}

// HostPort extracts host:port from a tcp:// URI. A bare host:port is
// accepted as is.
func HostPort(address string) (string, error) {
	if !strings.Contains(address, "://") {
		return address, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parsing listen address %q: %w", address, err)
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("unsupported scheme %q for tcp transport", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("listen address %q has no host:port", address)
	}
	return u.Host, nil
}

// Listen binds address and starts accepting connections.
func (t *Transport) Listen(ctx context.Context, address string) error {
	hostport, err := HostPort(address)
	if err != nil {
		return err
	}
	if err := t.inbox.Open(); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", hostport)
	if err != nil {
		t.inbox.Close()
		return fmt.Errorf("listening on %s: %w", hostport, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	t.log.Info().Str("addr", ln.Addr().String()).Msg("listening for resources")

	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// StopListen closes the listener and every open connection, then waits
// for the accept and reader goroutines to exit.
func (t *Transport) StopListen() error {
	var err error
	t.stopOnce.Do(func() {
		t.inbox.Close()

		t.mu.Lock()
		t.stopped = true
		ln := t.listener
		conns := make([]net.Conn, 0, len(t.conns))
		for c := range t.conns {
			conns = append(conns, c)
		}
		t.mu.Unlock()

		if ln != nil {
			if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = fmt.Errorf("closing listener: %w", cerr)
			}
		}
		for _, c := range conns {
			c.Close()
		}
		t.wg.Wait()
		t.log.Info().Int("connections_closed", len(conns)).Msg("stopped listening")
	})
	return err
}

func (t *Transport) RegisterAsyncReceiptCallback(fn transport.ReceiptFunc) {
	t.inbox.SetCallback(fn)
}

func (t *Transport) AwaitNextEvent(ctx context.Context, wait time.Duration) (transport.Event, bool, error) {
	return t.inbox.Await(ctx, wait)
}

// acceptBackoff spaces out retries after a non-fatal Accept error.
const acceptBackoff = 50 * time.Millisecond

func (t *Transport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !t.inbox.IsOpen() {
				return
			}
			t.inbox.Fail(fmt.Errorf("%w: accept: %v", transport.ErrTransport, err))
			select {
			case <-t.inbox.Done():
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}

		if !t.track(conn) {
			conn.Close()
			return
		}
		go t.serve(conn)
	}
}

// track registers conn and its reader goroutine. It refuses once
// StopListen has begun.
func (t *Transport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.conns[conn] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *Transport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// errValueTooLarge stops the decoder when one value runs past the limit.
var errValueTooLarge = errors.New("value too large")

// valueLimit caps how many bytes the decoder may read from the
// connection while decoding one value. The decoder reads ahead, so bytes
// of the next value can count against the current one; a value still
// fails once its own unread part exceeds the limit.
type valueLimit struct {
	r         io.Reader
	max       int
	remaining int
}

func (l *valueLimit) reset() { l.remaining = l.max }

func (l *valueLimit) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, errValueTooLarge
	}
	if len(p) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= n
	return n, err
}

// serve reads envelopes from one connection until EOF, a stream error,
// an idle timeout or shutdown.
func (t *Transport) serve(conn net.Conn) {
	defer t.wg.Done()
	defer t.untrack(conn)
	defer conn.Close()

	source := conn.RemoteAddr().String()
	t.log.Debug().Str("remote", source).Msg("resource connected")

	limit := &valueLimit{r: conn, max: t.opts.MaxMessageSize}
	decoder := codec.NewDecoder(limit)
	for {
		if t.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.opts.IdleTimeout))
		}
		limit.reset()

		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			switch {
			case errors.Is(err, io.EOF) || !t.inbox.IsOpen():
				t.log.Debug().Str("remote", source).Msg("resource disconnected")
			case errors.Is(err, os.ErrDeadlineExceeded):
				t.log.Info().Str("remote", source).Dur("idle_timeout", t.opts.IdleTimeout).Msg("closing idle connection")
			case errors.Is(err, errValueTooLarge):
				t.inbox.Fail(fmt.Errorf("%w: value from %s exceeds %d bytes", protocol.ErrMalformed, source, t.opts.MaxMessageSize))
			default:
				// A broken CBOR stream cannot be resynchronized; drop the
				// connection and let the resource reconnect.
				t.inbox.Fail(fmt.Errorf("%w: reading from %s: %v", transport.ErrTransport, source, err))
			}
			return
		}

		env, err := protocol.Unmarshal(raw)
		if err != nil {
			t.inbox.Fail(fmt.Errorf("from %s: %w", source, err))
			continue
		}
		if !t.inbox.Deliver(transport.Event{Envelope: env, Source: source}) {
			return
		}
	}
}
