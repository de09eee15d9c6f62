// Package eventlog writes registry and module events to a journal of
// CloudEvents, one JSON document per line.
package eventlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/gobwas/glob"

	"github.com/GoCodeAlone/modhub"
)

var ErrJournalClosed = errors.New("journal is closed")

// DefaultBufferSize is the number of events queued before new ones are
// dropped.
const DefaultBufferSize = 256

// Journal receives events on lifecycle goroutines, queues them without
// blocking and writes them from Run.
type Journal struct {
	w      *bufio.Writer
	closer io.Closer
	logger modhub.Logger
	filter glob.Glob

	queue   chan cloudevents.Event
	dropped atomic.Int64
	written atomic.Int64

	mu     sync.Mutex
	reg    *modhub.Registry
	tap    *modhub.FuncListener
	closed bool
}

// Option configures a Journal.
type Option func(*Journal) error

// WithLogger sets the logger for write failures.
func WithLogger(l modhub.Logger) Option {
	return func(j *Journal) error {
		j.logger = l
		return nil
	}
}

// WithTypes keeps only CloudEvents whose type matches the glob pattern,
// e.g. "com.modhub.module.*".
func WithTypes(pattern string) Option {
	return func(j *Journal) error {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("invalid event type pattern %q: %w", pattern, err)
		}
		j.filter = g
		return nil
	}
}

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(j *Journal) error {
		if n <= 0 {
			return fmt.Errorf("buffer size must be positive, got %d", n)
		}
		j.queue = make(chan cloudevents.Event, n)
		return nil
	}
}

// New creates a journal writing to w.
func New(w io.Writer, opts ...Option) (*Journal, error) {
	j := &Journal{
		w:      bufio.NewWriter(w),
		logger: modhub.NopLogger(),
		queue:  make(chan cloudevents.Event, DefaultBufferSize),
	}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	j.tap = modhub.NewFuncListener(j.handleData)
	return j, nil
}

// Open creates a journal appending to the file at path.
func Open(path string, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	j, err := New(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return j, nil
}

// Attach records the registry notifications and the module events it
// republishes, plus the data events of every loaded module.
func (j *Journal) Attach(reg *modhub.Registry) {
	j.mu.Lock()
	j.reg = reg
	j.mu.Unlock()

	reg.RegisterListener(j)
	for _, m := range reg.LoadedModules() {
		m.RegisterListener(j.tap)
	}
}

// Detach stops recording.
func (j *Journal) Detach() {
	j.mu.Lock()
	reg := j.reg
	j.reg = nil
	j.mu.Unlock()
	if reg == nil {
		return
	}
	reg.UnregisterListener(j)
	for _, m := range reg.LoadedModules() {
		m.UnregisterListener(j.tap)
	}
}

// HandleEvent queues registry events and follows modules coming and going.
func (j *Journal) HandleEvent(e modhub.Event) {
	if me, ok := e.(*modhub.ModuleEvent); ok && me.Module != nil {
		switch me.Type {
		case modhub.EventLoaded:
			me.Module.RegisterListener(j.tap)
		case modhub.EventUnloaded, modhub.EventDeleted:
			me.Module.UnregisterListener(j.tap)
		}
	}
	j.Record(e)
}

// data events only; module events arrive through the registry
func (j *Journal) handleData(e modhub.Event) {
	if _, ok := e.(*modhub.DataEvent); ok {
		j.Record(e)
	}
}

// Record converts e and queues it. It never blocks; when the queue is full
// the event is dropped and counted.
func (j *Journal) Record(e modhub.Event) {
	ce, err := modhub.ToCloudEvent(e)
	if err != nil {
		j.logger.Debug("Event not journaled", "source", e.SourceID(), "error", err)
		return
	}
	if j.filter != nil && !j.filter.Match(ce.Type()) {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- ce:
	default:
		if j.dropped.Add(1) == 1 {
			j.logger.Warn("Event journal buffer full, dropping events", "capacity", cap(j.queue))
		}
	}
}

// Run writes queued events until ctx is done or Close is called, then
// writes what is still queued and flushes.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case ce, ok := <-j.queue:
			if !ok {
				return j.flush()
			}
			j.write(ce)
			if len(j.queue) == 0 {
				_ = j.flush()
			}
		case <-ctx.Done():
			j.drain()
			return j.flush()
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case ce, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(ce)
		default:
			return
		}
	}
}

func (j *Journal) write(ce cloudevents.Event) {
	line, err := ce.MarshalJSON()
	if err == nil {
		line = append(line, '\n')
		_, err = j.w.Write(line)
	}
	if err != nil {
		j.logger.Error("Cannot write event journal", "type", ce.Type(), "error", err)
		return
	}
	j.written.Add(1)
}

func (j *Journal) flush() error {
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush event journal: %w", err)
	}
	return nil
}

// Close detaches the journal and stops accepting events. Run returns after
// writing the queued ones.
func (j *Journal) Close() error {
	j.Detach()
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	return nil
}

// CloseFile flushes and closes the underlying writer. Call it after Run
// returned.
func (j *Journal) CloseFile() error {
	if err := j.flush(); err != nil {
		return err
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// Written returns the number of events written.
func (j *Journal) Written() int64 { return j.written.Load() }

// Dropped returns the number of events dropped on a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }
