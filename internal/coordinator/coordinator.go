package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/herd/internal/dispatch"
	"github.com/dreamware/herd/internal/identity"
	"github.com/dreamware/herd/internal/jobs"
	"github.com/dreamware/herd/internal/protocol"
	"github.com/dreamware/herd/internal/registry"
	"github.com/dreamware/herd/internal/transport"
)

const (
	// DefaultWaitInterval bounds how long one run loop iteration waits
	// for an event, and so how long a shutdown request can go unobserved.
	DefaultWaitInterval = time.Second

	// DefaultErrorBackoff is the pause after a transport error before the
	// run loop waits again.
	DefaultErrorBackoff = 100 * time.Millisecond
)

var (
	// ErrShutdown is returned when an operation needs a coordinator that
	// has not been asked to shut down.
	ErrShutdown = errors.New("coordinator is shutting down")

	// ErrInvalidState is returned by Start and Run outside the states
	// they apply to.
	ErrInvalidState = errors.New("invalid coordinator state")
)

// RegistryView is the read-only face of the resource registry.
type RegistryView interface {
	Lookup(id identity.ID) (registry.Record, bool)
	Len() int
	Snapshot() []registry.Entry
}

var _ RegistryView = (*registry.Registry)(nil)

// Options configures a Coordinator.
type Options struct {
	// Transport delivers envelopes. Required.
	Transport transport.Transport

	// Ledger records submitted jobs. Defaults to an in-memory ledger.
	Ledger jobs.Ledger

	// Clock supplies registration and heartbeat times. Defaults to
	// time.Now.
	Clock func() time.Time

	Logger zerolog.Logger

	// ListenURI is passed to Transport.Listen.
	ListenURI string

	// ID overrides the generated coordinator identity.
	ID identity.ID

	WaitInterval time.Duration
	ErrorBackoff time.Duration
}

// Coordinator owns the resource registry and drives the transport.
//
// Registry updates arrive from two places: the run loop, which dispatches
// queued events inline, and transport goroutines, which dispatch through
// the receipt callback. Shutdown can be requested from anywhere,
// including the signal bridge.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Coordinator struct {
	startedAt  time.Time
	transport  transport.Transport
	ledger     jobs.Ledger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	clock      func() time.Time
	stopCh     chan struct{}
	reason     atomic.Value
	log        zerolog.Logger
	listenURI  string
	stats      counters

	waitInterval time.Duration
	errorBackoff time.Duration

	// gate orders dispatch admission against the shutdown flag: a
	// dispatch joins inflight only under the read lock with the flag
	// clear, and the flag is set under the write lock.
	gate     sync.RWMutex
	inflight sync.WaitGroup

	lifecycleMu  sync.Mutex
	stopOnce     sync.Once
	teardownOnce sync.Once
	id           identity.ID
	state        atomic.Int32
	stopping     atomic.Bool
	started      bool
}

// New returns a coordinator in the Created state.
func New(opts Options) (*Coordinator, error) {
	if opts.Transport == nil {
		return nil, errors.New("coordinator: transport is required")
	}
	if opts.Ledger == nil {
		opts.Ledger = jobs.NewMemoryLedger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = DefaultWaitInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.ID.IsZero() {
		opts.ID = identity.New()
	}

	c := &Coordinator{
		id:           opts.ID,
		transport:    opts.Transport,
		ledger:       opts.Ledger,
		registry:     registry.New(),
		clock:        opts.Clock,
		stopCh:       make(chan struct{}),
		listenURI:    opts.ListenURI,
		waitInterval: opts.WaitInterval,
		errorBackoff: opts.ErrorBackoff,
		log:          opts.Logger.With().Str("component", "coordinator").Str("coordinator", opts.ID.String()).Logger(),
	}
	c.dispatcher = dispatch.New(c, opts.Logger)
	c.state.Store(int32(StateCreated))
	return c, nil
}

// ID returns the coordinator's own identity.
func (c *Coordinator) ID() identity.ID { return c.id }

// State returns the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Registry returns a read-only view of the resource registry.
func (c *Coordinator) Registry() RegistryView { return c.registry }

// StartedAt returns when Start succeeded, or the zero time.
func (c *Coordinator) StartedAt() time.Time {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.startedAt
}

// ShutdownReason returns the reason given to the first shutdown request.
func (c *Coordinator) ShutdownReason() string {
	if r, ok := c.reason.Load().(string); ok {
		return r
	}
	return ""
}

// Start registers the receipt callback and starts the transport
// listening.
//
// Returns:
//   - ErrShutdown if shutdown was already requested
//   - ErrInvalidState if Start already ran
//   - the Listen error, wrapped, in which case the coordinator is Stopped
func (c *Coordinator) Start(ctx context.Context) error {
	listenErr, err := c.start(ctx)
	if listenErr != nil {
		c.Shutdown("listen failed")
		return fmt.Errorf("listening on %s: %w", c.listenURI, listenErr)
	}
	return err
}

func (c *Coordinator) start(ctx context.Context) (listenErr, err error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.stopping.Load() {
		return nil, ErrShutdown
	}
	if c.State() != StateCreated {
		return nil, fmt.Errorf("%w: start from %s", ErrInvalidState, c.State())
	}

	c.transport.RegisterAsyncReceiptCallback(c.receive)
	if err := c.transport.Listen(ctx, c.listenURI); err != nil {
		return err, nil
	}

	c.started = true
	c.startedAt = c.clock()
	c.state.Store(int32(StateListening))
	c.log.Info().Str("listen", c.listenURI).Msg("coordinator listening")
	return nil, nil
}

// Run starts the coordinator if needed and runs the loop until shutdown
// is requested or ctx is cancelled, then tears down. It returns nil after
// an orderly shutdown and an error only when the coordinator could not
// start.
//
// Each iteration waits at most the configured wait interval for an
// event, so a shutdown request is observed within one interval even when
// no traffic arrives. The wait also ends as soon as shutdown is requested.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.State() == StateCreated && !c.stopping.Load() {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	if !c.state.CompareAndSwap(int32(StateListening), int32(StateRunning)) {
		if c.stopping.Load() {
			c.Shutdown(c.ShutdownReason())
			return nil
		}
		return fmt.Errorf("%w: run from %s", ErrInvalidState, c.State())
	}
	c.log.Info().Dur("wait_interval", c.waitInterval).Msg("coordinator running")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	for {
		if c.stopping.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			c.RequestShutdown("context cancelled")
			break
		}

		ev, ok, err := c.transport.AwaitNextEvent(loopCtx, c.waitInterval)
		switch {
		case err != nil:
			c.awaitFailed(loopCtx, err)
		case ok:
			c.dispatch(loopCtx, ev)
		}
	}

	c.Shutdown(c.ShutdownReason())
	return nil
}

func (c *Coordinator) awaitFailed(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		// Shutdown or cancellation; the loop top sees it.
	case errors.Is(err, transport.ErrClosed):
		c.log.Warn().Msg("transport closed underneath the run loop")
		c.RequestShutdown("transport closed")
	default:
		c.stats.transportErrors.Add(1)
		c.log.Warn().Err(err).Dur("backoff", c.errorBackoff).Msg("waiting for next event failed")
		timer := time.NewTimer(c.errorBackoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
}

// RequestShutdown sets the shutdown flag and reports whether this call
// set it. It never blocks on teardown, so it is what the signal bridge
// calls.
func (c *Coordinator) RequestShutdown(reason string) bool {
	first := c.requestShutdown(reason)
	if first {
		c.log.Info().Str("reason", reason).Msg("shutdown requested")
	}
	return first
}

func (c *Coordinator) requestShutdown(reason string) bool {
	first := false
	c.stopOnce.Do(func() {
		first = true
		c.reason.Store(reason)
		c.gate.Lock()
		c.stopping.Store(true)
		c.gate.Unlock()
		close(c.stopCh)
	})
	return first
}

// Shutdown requests shutdown and tears down. Teardown happens once:
// dispatch admission is already closed by the request, in-flight
// dispatches are allowed to finish, then the transport stops listening.
// Concurrent and repeated calls block until teardown is complete and do
// nothing else.
func (c *Coordinator) Shutdown(reason string) {
	c.RequestShutdown(reason)
	c.teardownOnce.Do(c.teardown)
}

func (c *Coordinator) teardown() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	from := c.State()
	c.state.Store(int32(StateShuttingDown))
	c.log.Info().Str("from", from.String()).Str("reason", c.ShutdownReason()).Msg("coordinator shutting down")

	c.inflight.Wait()
	if c.started {
		if err := c.transport.StopListen(); err != nil {
			c.log.Warn().Err(err).Msg("stopping transport")
		}
	}

	c.state.Store(int32(StateStopped))
	c.log.Info().Int("resources", c.registry.Len()).Msg("coordinator stopped")
}

// receive is the transport receipt callback.
func (c *Coordinator) receive(ev transport.Event, err error) {
	if err != nil {
		c.receiveFailed(err)
		return
	}
	c.dispatch(context.Background(), ev)
}

func (c *Coordinator) receiveFailed(err error) {
	if errors.Is(err, protocol.ErrMalformed) {
		c.stats.protocolErrors.Add(1)
		c.log.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}
	c.stats.transportErrors.Add(1)
	c.log.Warn().Err(err).Msg("transport receive failed")
}

// dispatch routes one event unless shutdown has been requested.
func (c *Coordinator) dispatch(ctx context.Context, ev transport.Event) {
	c.gate.RLock()
	if c.stopping.Load() {
		c.gate.RUnlock()
		c.stats.dropped.Add(1)
		return
	}
	c.inflight.Add(1)
	c.gate.RUnlock()
	defer c.inflight.Done()

	c.stats.dispatched.Add(1)
	c.dispatcher.Dispatch(ctx, ev.Envelope)
}

// SubmitJob records the intent to run a job and returns its handle. No
// scheduling happens: the job is logged and written to the ledger.
func (c *Coordinator) SubmitJob(ctx context.Context, desc jobs.Descriptor) (jobs.Handle, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}

	job := jobs.Job{
		Handle:      jobs.NewHandle(),
		Name:        desc.Name,
		Payload:     append([]byte(nil), desc.Payload...),
		SubmittedAt: c.clock(),
	}
	if err := c.ledger.Record(ctx, job); err != nil {
		return "", fmt.Errorf("recording job %q: %w", desc.Name, err)
	}

	c.stats.jobsSubmitted.Add(1)
	c.log.Info().
		Str("job", job.Handle.String()).
		Str("name", job.Name).
		Int("payload_bytes", len(job.Payload)).
		Msg("job submitted; scheduling is not implemented, intent recorded")
	return job.Handle, nil
}

// ResourceStale counts a resource the liveness monitor found stale. The
// resource stays registered; a later heartbeat makes it alive again.
func (c *Coordinator) ResourceStale(identity.ID) {
	c.stats.staleResources.Add(1)
}

// CheckHealth reports whether the coordinator can serve: it must not be
// stopping and the job ledger must answer.
func (c *Coordinator) CheckHealth(ctx context.Context) error {
	if c.stopping.Load() {
		return fmt.Errorf("%w: %s", ErrShutdown, c.State())
	}
	if err := c.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("job ledger: %w", err)
	}
	return nil
}

// Jobs returns the recorded jobs in submission order.
func (c *Coordinator) Jobs(ctx context.Context) ([]jobs.Job, error) {
	return c.ledger.List(ctx)
}

// Job returns one recorded job.
func (c *Coordinator) Job(ctx context.Context, handle jobs.Handle) (jobs.Job, error) {
	return c.ledger.Get(ctx, handle)
}
