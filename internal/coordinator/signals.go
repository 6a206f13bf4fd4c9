package coordinator

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownRequester is what the signal bridge drives. *Coordinator
// implements it.
type ShutdownRequester interface {
	RequestShutdown(reason string) bool
}

// SignalBridge turns OS signals into shutdown requests.
//
// Signals are received on a channel by an ordinary goroutine (os/signal
// never runs Go code in signal context), and the only effect is setting
// the shutdown flag. The run loop notices the flag and performs the
// teardown itself.
type SignalBridge struct {
	ch       chan os.Signal
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// WatchSignals starts forwarding sigs to target. With no sigs it watches
// SIGINT and SIGTERM.
//
// Example:
//
//	bridge := coordinator.WatchSignals(c)
//	defer bridge.Stop()
//	err := c.Run(ctx)
func WatchSignals(target ShutdownRequester, sigs ...os.Signal) *SignalBridge {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	b := &SignalBridge{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(b.ch, sigs...)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case sig := <-b.ch:
				target.RequestShutdown("received signal " + sig.String())
			case <-b.done:
				return
			}
		}
	}()
	return b
}

// Stop unregisters the signals and waits for the forwarding goroutine.
// Safe to call more than once.
func (b *SignalBridge) Stop() {
	b.stopOnce.Do(func() {
		signal.Stop(b.ch)
		close(b.done)
		b.wg.Wait()
	})
}
