package natsbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/herd/internal/codec"
	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/transport"
)

const sender = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

// TestServerURL covers address validation.
func TestServerURL(t *testing.T) {
	got, err := ServerURL("nats://127.0.0.1:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://127.0.0.1:4222", got)

	_, err = ServerURL("tcp://127.0.0.1:4222")
	assert.Error(t, err)
	_, err = ServerURL("nats://")
	assert.Error(t, err)
}

// TestPublishCallbackDelivery verifies published envelopes reach the
// receipt callback, and malformed payloads are reported as errors.
func TestPublishCallbackDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}
	srv := runServer(t)

	tr := New(Options{Subject: "test.inbound", Delivery: transport.Callback, Logger: zerolog.Nop()})

	var (
		mu     sync.Mutex
		events []transport.Event
		errs   []error
	)
	tr.RegisterAsyncReceiptCallback(func(ev transport.Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		events = append(events, ev)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.Listen(ctx, srv.ClientURL()))
	t.Cleanup(func() { tr.StopListen() })

	pub, err := NewPublisher(srv.ClientURL(), "test.inbound")
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	require.NoError(t, pub.Send(ctx, protocol.NewRegistration(sender, []byte("D1"))))
	bad, err := codec.Marshal("not an envelope")
	require.NoError(t, err)
	require.NoError(t, pub.SendRaw(ctx, bad))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1 && len(errs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, events[0].Envelope.Registration)
	assert.Equal(t, []byte("D1"), events[0].Envelope.Registration.Descriptor)
	assert.Equal(t, "test.inbound", events[0].Source)
	assert.ErrorIs(t, errs[0], protocol.ErrMalformed)
}

// TestPublishQueuedDelivery verifies the queued path and stop semantics.
func TestPublishQueuedDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}
	srv := runServer(t)

	tr := New(Options{Delivery: transport.Queued, Logger: zerolog.Nop()})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, tr.Listen(ctx, srv.ClientURL()))

	pub, err := NewPublisher(srv.ClientURL(), "")
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Send(ctx, protocol.NewHeartbeat(sender)))

	ev, ok, err := tr.AwaitNextEvent(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ev.Envelope.Heartbeat)
	assert.Equal(t, DefaultSubject, ev.Source)

	require.NoError(t, tr.StopListen())
	require.NoError(t, tr.StopListen())

	_, _, err = tr.AwaitNextEvent(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

// TestListenUnreachable verifies connection failures are returned from
// Listen.
func TestListenUnreachable(t *testing.T) {
	tr := New(Options{Logger: zerolog.Nop()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Port 1 on loopback refuses connections.
	err := tr.Listen(ctx, "nats://127.0.0.1:1")
	assert.Error(t, err)
}

// TestQueueGroupDeliversOnce verifies transports in one queue group split
// the traffic instead of each receiving every envelope.
func TestQueueGroupDeliversOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}
	srv := runServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	received := 0
	count := func(ev transport.Event, err error) {
		if err == nil {
			mu.Lock()
			received++
			mu.Unlock()
		}
	}
	total := func() int {
		mu.Lock()
		defer mu.Unlock()
		return received
	}

	for i := 0; i < 2; i++ {
		tr := New(Options{Subject: "test.group", Queue: "coordinators", Delivery: transport.Callback, Logger: zerolog.Nop()})
		tr.RegisterAsyncReceiptCallback(count)
		require.NoError(t, tr.Listen(ctx, srv.ClientURL()))
		t.Cleanup(func() { tr.StopListen() })
	}

	pub, err := NewPublisher(srv.ClientURL(), "test.group")
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	const sent = 20
	for i := 0; i < sent; i++ {
		require.NoError(t, pub.Send(ctx, protocol.NewHeartbeat(sender)))
	}

	require.Eventually(t, func() bool { return total() == sent }, 5*time.Second, 10*time.Millisecond)
	// Without the group each transport would see every envelope.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, sent, total())
}
