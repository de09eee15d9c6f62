// Package lifecycle provides the task dispatcher that drives module lifecycle
// operations off the caller's goroutine.
package lifecycle

import (
	"context"
	"time"
)

// Task is a unit of work executed on the serial queue of one key. The
// context is cancelled when the dispatcher is cancelled.
type Task func(ctx context.Context)

// PanicHandler is notified when a task panics. The worker survives and moves
// on to the next task of the same key.
type PanicHandler func(key, name string, recovered any)

// DispatchConfig configures a Dispatcher.
type DispatchConfig struct {
	// IdleTimeout is how long a worker waits for more tasks on its key
	// before exiting. A new worker is spawned on the next submission.
	IdleTimeout time.Duration

	// OnPanic receives panics raised by tasks.
	OnPanic PanicHandler
}

// DefaultIdleTimeout is used when DispatchConfig.IdleTimeout is not set.
const DefaultIdleTimeout = 10 * time.Second

// TaskDispatcher is the contract of Dispatcher, useful for fakes.
type TaskDispatcher interface {
	// Submit queues fn behind every task previously submitted for key and
	// returns a channel closed once fn has returned.
	Submit(key, name string, fn Task) (<-chan struct{}, error)

	// Close stops accepting new tasks. Already queued tasks still run.
	Close()

	// Wait blocks until all workers exit or ctx is done.
	Wait(ctx context.Context) error
}

var _ TaskDispatcher = (*Dispatcher)(nil)
