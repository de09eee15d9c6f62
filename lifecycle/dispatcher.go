package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Static errors for lifecycle package
var (
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	ErrTaskCannotBeNil  = errors.New("task cannot be nil")
)

// Dispatcher runs tasks grouped by key. Tasks sharing a key execute one at
// a time in submission order; tasks of different keys run concurrently.
// Each key gets its own worker goroutine on demand, which lingers for the
// idle timeout and then exits. There is no cap on the number of workers.
type Dispatcher struct {
	mu      sync.Mutex
	queues  map[string]*queue
	closed  bool
	idle    time.Duration
	onPanic PanicHandler
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

type queue struct {
	pending []*pendingTask
	wake    chan struct{}
}

type pendingTask struct {
	name string
	fn   Task
	done chan struct{}
}

// NewDispatcher creates a new task dispatcher
func NewDispatcher(config *DispatchConfig) *Dispatcher {
	if config == nil {
		config = &DispatchConfig{}
	}
	idle := config.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queues:  make(map[string]*queue),
		idle:    idle,
		onPanic: config.OnPanic,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit queues fn on the serial queue of key. The returned channel is
// closed when fn returns (or panics).
func (d *Dispatcher) Submit(key, name string, fn Task) (<-chan struct{}, error) {
	if fn == nil {
		return nil, ErrTaskCannotBeNil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDispatcherClosed
	}

	t := &pendingTask{name: name, fn: fn, done: make(chan struct{})}
	q, ok := d.queues[key]
	if !ok {
		q = &queue{wake: make(chan struct{}, 1)}
		d.queues[key] = q
		d.wg.Add(1)
		go d.work(key, q)
	}
	q.pending = append(q.pending, t)
	q.signal()

	return t.done, nil
}

// Pending returns the number of tasks waiting for key, excluding the one
// currently executing.
func (d *Dispatcher) Pending(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[key]; ok {
		return len(q.pending)
	}
	return 0
}

// Workers returns the number of live worker goroutines.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting tasks. Queued tasks still run; idle workers exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, q := range d.queues {
		q.signal()
	}
}

// IsClosed reports whether Close has been called.
func (d *Dispatcher) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Cancel cancels the context handed to tasks. Running tasks are not
// interrupted otherwise.
func (d *Dispatcher) Cancel() {
	d.cancel()
}

// Wait blocks until every worker has exited or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(key string, q *queue) {
	defer d.wg.Done()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		d.mu.Lock()
		if len(q.pending) > 0 {
			t := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			d.mu.Unlock()

			d.run(key, t)
			continue
		}
		if d.closed {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		timer.Reset(d.idle)
		select {
		case <-q.wake:
		case <-timer.C:
			d.mu.Lock()
			if len(q.pending) == 0 {
				delete(d.queues, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		}
	}
}

func (d *Dispatcher) run(key string, t *pendingTask) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(key, t.name, r)
		}
	}()
	t.fn(d.ctx)
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
