// Package coordinator implements the control plane of a herd cluster: it
// accepts resources over a transport, keeps the registry of known
// resources current, and runs the lifecycle that ends in an orderly
// shutdown.
//
// # Overview
//
// A resource announces itself with a registration message carrying its
// identity and an opaque descriptor, then proves it is still alive with
// periodic heartbeats. The coordinator records the first registration
// for each identity and moves last-seen forward on every later message.
// Nothing is ever removed from the registry; the liveness monitor only
// classifies resources as alive or stale.
//
// # Architecture
//
//	┌──────────────┐   callback (I/O goroutine)   ┌──────────────┐
//	│  Transport   │ ───────────────────────────▶ │              │
//	│ tcp / nats / │                              │  Dispatcher  │──▶ HandleRegistration
//	│  loopback    │ ──▶ AwaitNextEvent ──▶ Run ─▶│              │──▶ HandleHeartbeat
//	└──────────────┘                              └──────────────┘
//	                                                      │
//	      SignalBridge ──▶ RequestShutdown                ▼
//	                              │               ┌──────────────┐
//	                              ▼               │   Registry   │
//	                     shutdown flag + channel  └──────────────┘
//
// Events reach the dispatcher two ways. With callback delivery the
// transport's reading goroutine dispatches directly; with queued delivery
// the run loop pulls events with AwaitNextEvent and dispatches inline.
// Both paths pass the same admission gate.
//
// # Lifecycle
//
//	Created ──Start──▶ Listening ──Run──▶ Running ──flag──▶ ShuttingDown ──▶ Stopped
//
// Shutdown is requested by RequestShutdown, Shutdown, a watched signal,
// or cancellation of the context given to Run. The request sets an atomic
// flag, closes a broadcast channel and closes the dispatch gate, so no
// dispatch starts afterwards. Teardown then waits for dispatches already
// running, stops the transport exactly once, and marks the coordinator
// Stopped. Stopped is terminal.
//
// # Concurrency
//
//   - Registry: one RWMutex, each operation a single critical section.
//   - Shutdown flag: atomic.Bool plus a channel closed under sync.Once.
//   - Dispatch gate: RWMutex plus WaitGroup; a dispatch is admitted under
//     the read lock only while the flag is clear.
//   - Teardown: sync.Once, so concurrent Shutdown calls block until it is
//     done and StopListen runs once.
//
// Handlers never block on I/O, which bounds how long teardown waits.
//
// # Usage Example
//
//	tr := tcp.New(tcp.Options{Logger: log})
//	c, err := coordinator.New(coordinator.Options{
//	    Transport: tr,
//	    ListenURI: "tcp://0.0.0.0:9998",
//	    Logger:    log,
//	})
//	if err != nil {
//	    return err
//	}
//	bridge := coordinator.WatchSignals(c)
//	defer bridge.Stop()
//	return c.Run(ctx)
//
// # See Also
//
//   - internal/registry: the resource registry
//   - internal/transport: the transport capability and its variants
//   - cmd/coordinator: the coordinator process and its status view
package coordinator
