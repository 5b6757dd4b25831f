// Package shutdown coordinates process teardown.
//
// Components register teardown callbacks (closing the store, stopping the
// metrics server). Begin flips the shutting-down flag first and then runs the
// callbacks in reverse registration order, exactly once. Code that may fail
// because a resource was torn down underneath it consults ShuttingDown to
// tell an expected failure from a real one.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Coordinator runs registered teardown callbacks once.
//
// Thread-safety: All methods are safe for concurrent use.
type Coordinator struct {
	mu        sync.Mutex
	callbacks []namedCallback
	down      atomic.Bool
	once      sync.Once
	err       error
	done      chan struct{}
	logger    *slog.Logger

	notify     func(c chan<- os.Signal, sig ...os.Signal)
	stopNotify func(c chan<- os.Signal)
}

type namedCallback struct {
	name string
	fn   func() error
}

// New creates a Coordinator. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		done:       make(chan struct{}),
		logger:     logger,
		notify:     signal.Notify,
		stopNotify: signal.Stop,
	}
}

// Register adds a teardown callback. Callbacks registered after Begin has
// started are run immediately.
func (c *Coordinator) Register(name string, fn func() error) {
	c.mu.Lock()
	if !c.down.Load() {
		c.callbacks = append(c.callbacks, namedCallback{name: name, fn: fn})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.logger.Debug("late teardown callback failed", "name", name, "error", err)
	}
}

// ShuttingDown reports whether Begin has been called.
func (c *Coordinator) ShuttingDown() bool {
	return c.down.Load()
}

// Begin marks the process as shutting down and runs every callback in
// reverse registration order. Later calls return the first call's error.
func (c *Coordinator) Begin() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.down.Store(true)
		callbacks := c.callbacks
		c.callbacks = nil
		c.mu.Unlock()
		close(c.done)

		var errs []error
		for i := len(callbacks) - 1; i >= 0; i-- {
			cb := callbacks[i]
			c.logger.Debug("running teardown callback", "name", cb.name)
			if err := cb.fn(); err != nil {
				c.logger.Error("teardown callback failed", "name", cb.name, "error", err)
				errs = append(errs, err)
			}
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}

// Done is closed once Begin has been called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// OnSignal calls Begin when SIGINT or SIGTERM arrives. The returned context
// is cancelled once shutdown begins, whatever started it. Only the first
// signal is handled; a second one gets the default behavior and terminates
// the process. The returned stop function releases the signal handler.
func (c *Coordinator) OnSignal(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	c.notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			c.stopNotify(sigChan)
			c.logger.Info("received signal, shutting down", "signal", sig)
			_ = c.Begin()
			cancel()
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		c.stopNotify(sigChan)
		cancel()
	}
}
