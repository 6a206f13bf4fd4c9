package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/herd/internal/config"
	"github.com/dreamware/herd/internal/identity"
	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/transport"
	"github.com/dreamware/herd/internal/transport/tcp"
)

const workerID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

var errRefused = errors.New("connection refused")

// recorder collects envelopes from every sender it hands out.
type recorder struct {
	mu       sync.Mutex
	sent     []*protocol.Envelope
	dials    int
	failDial int  // dials that fail before one succeeds
	failSend bool // next Send fails once
	closed   int
}

type fakeSender struct{ r *recorder }

func (s *fakeSender) Send(_ context.Context, env *protocol.Envelope) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.failSend {
		s.r.failSend = false
		return errRefused
	}
	s.r.sent = append(s.r.sent, env)
	return nil
}

func (s *fakeSender) Close() error {
	s.r.mu.Lock()
	s.r.closed++
	s.r.mu.Unlock()
	return nil
}

func (r *recorder) dial(context.Context) (Sender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if r.dials <= r.failDial {
		return nil, errRefused
	}
	return &fakeSender{r: r}, nil
}

func (r *recorder) envelopes() []*protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Envelope(nil), r.sent...)
}

func (r *recorder) setFailSend() {
	r.mu.Lock()
	r.failSend = true
	r.mu.Unlock()
}

func newTestWorker(r *recorder, retries int) *Worker {
	return NewWorker(WorkerOptions{
		ID:                identity.MustParse(workerID),
		Dial:              r.dial,
		Descriptor:        []byte("cpu=4"),
		HeartbeatInterval: 5 * time.Millisecond,
		RetryDelay:        time.Millisecond,
		RegisterRetries:   retries,
		Logger:            zerolog.Nop(),
	})
}

// TestWorkerRegistersThenHeartbeats verifies the first envelope is the
// registration and the rest are heartbeats.
func TestWorkerRegistersThenHeartbeats(t *testing.T) {
	r := &recorder{}
	w := newTestWorker(r, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.envelopes()) >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sent := r.envelopes()
	require.NotNil(t, sent[0].Registration)
	assert.Equal(t, workerID, sent[0].Registration.SenderIdentity)
	assert.Equal(t, []byte("cpu=4"), sent[0].Registration.Descriptor)
	for _, env := range sent[1:] {
		require.NotNil(t, env.Heartbeat)
		assert.Equal(t, workerID, env.Heartbeat.SenderIdentity)
	}
	assert.Equal(t, 1, r.closed)
}

// TestWorkerRetriesRegistration verifies dial failures are retried.
func TestWorkerRetriesRegistration(t *testing.T) {
	r := &recorder{failDial: 2}
	w := newTestWorker(r, 3)

	require.NoError(t, w.register(context.Background()))
	assert.Equal(t, 3, r.dials)
	require.Len(t, r.envelopes(), 1)
	w.disconnect()
}

// TestWorkerRegistrationGivesUp verifies the last error is returned
// after every attempt fails.
func TestWorkerRegistrationGivesUp(t *testing.T) {
	r := &recorder{failDial: 100}
	w := newTestWorker(r, 2)

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 3, r.dials)
}

// TestWorkerRegistrationCancelled verifies cancellation during retries
// is a clean stop.
func TestWorkerRegistrationCancelled(t *testing.T) {
	r := &recorder{failDial: 100}
	w := NewWorker(WorkerOptions{
		Dial:              r.dial,
		HeartbeatInterval: time.Second,
		RetryDelay:        time.Hour,
		RegisterRetries:   5,
		Logger:            zerolog.Nop(),
	})
	assert.False(t, w.ID().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.dials == 1
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// TestWorkerReregistersAfterSendFailure verifies a heartbeat failure
// drops the connection and the next tick registers again.
func TestWorkerReregistersAfterSendFailure(t *testing.T) {
	r := &recorder{}
	w := newTestWorker(r, 0)
	ctx := context.Background()

	require.NoError(t, w.register(ctx))
	r.setFailSend()
	assert.ErrorIs(t, w.heartbeat(ctx), errRefused)
	assert.False(t, w.registered)

	require.NoError(t, w.heartbeat(ctx))
	sent := r.envelopes()
	require.Len(t, sent, 3)
	assert.NotNil(t, sent[0].Registration)
	assert.NotNil(t, sent[1].Registration)
	assert.NotNil(t, sent[2].Heartbeat)
	assert.Equal(t, 2, r.dials)
	w.disconnect()
}

// TestWorkerOverTCP runs a worker against a real TCP transport and reads
// what arrives.
func TestWorkerOverTCP(t *testing.T) {
	tr := tcp.New(tcp.Options{Delivery: transport.Queued, Logger: zerolog.Nop()})
	require.NoError(t, tr.Listen(context.Background(), "tcp://127.0.0.1:0"))
	defer tr.StopListen()

	cfg := config.Default().Worker
	cfg.ID = workerID
	cfg.CoordinatorURI = "tcp://" + tr.Addr().String()
	cfg.HeartbeatInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWorker(ctx, cfg) }()

	ev, ok, err := tr.AwaitNextEvent(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ev.Envelope.Registration)
	assert.Equal(t, workerID, ev.Envelope.Registration.SenderIdentity)

	ev, ok, err = tr.AwaitNextEvent(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ev.Envelope.Heartbeat)

	cancel()
	require.NoError(t, <-done)
}

func TestRunWorkerRejectsBadConfig(t *testing.T) {
	cfg := config.Default().Worker
	cfg.CoordinatorURI = "udp://localhost:1"
	assert.ErrorIs(t, runWorker(context.Background(), cfg), config.ErrUnsupportedScheme)

	cfg = config.Default().Worker
	cfg.ID = "not-a-uuid"
	assert.ErrorIs(t, runWorker(context.Background(), cfg), identity.ErrInvalid)
}

func TestWorkerVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "herd worker "+version)
}
