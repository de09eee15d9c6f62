// Package heartbeat provides a module that publishes a numbered beat at a
// fixed interval. It is the smallest useful module the hub ships with: it
// produces data events, keeps its sequence number across restarts through
// the state manager and stands for a uniquely identified emitter.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/modhub"
)

// Type is the type tag stored in module configurations.
const Type = "modhub.heartbeat"

// Topic is the default topic of published beats.
const Topic = "heartbeat"

const (
	sequenceKey = "sequence"
	lastBeatKey = "lastBeat"

	defaultInterval = time.Second
)

var (
	ErrInvalidInterval = errors.New("heartbeat interval must be positive")
	ErrStalled         = errors.New("heartbeat stalled")
)

// Options is the options block of a heartbeat configuration.
type Options struct {
	// Interval between beats. Defaults to one second.
	Interval time.Duration `yaml:"interval"`

	// Serial identifies the emitter. Defaults to the module id.
	Serial string `yaml:"serial"`

	// Topic of the published data events.
	Topic string `yaml:"topic"`
}

// DefaultOptions returns the options of a new heartbeat configuration.
func DefaultOptions() Options {
	return Options{Interval: defaultInterval, Topic: Topic}
}

// Beat is the payload of every published data event.
type Beat struct {
	Serial   string    `json:"serial"`
	Sequence int64     `json:"sequence"`
	Time     time.Time `json:"time"`
}

// Module publishes a Beat every Interval while started.
type Module struct {
	*modhub.BaseModule

	mu   sync.Mutex
	opts Options

	sequence atomic.Int64
	lastBeat atomic.Int64 // unix nanos

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ modhub.Module = (*Module)(nil)
	_ modhub.Entity = (*Module)(nil)
)

// New builds a heartbeat module. Options are read on Init.
func New(hub *modhub.Hub, _ *modhub.ModuleConfig) (*Module, error) {
	m := &Module{opts: DefaultOptions()}
	m.BaseModule = modhub.NewBaseModule(hub, m)
	return m, nil
}

// Register installs the heartbeat provider.
func Register(p *modhub.ProviderRegistry) error {
	return modhub.RegisterProvider(p, modhub.ProviderInfo{
		Type:           Type,
		Name:           "Heartbeat",
		Description:    "Publishes a numbered beat at a fixed interval",
		Version:        "1.0.0",
		Vendor:         "GoCodeAlone",
		DefaultOptions: func() any { return DefaultOptions() },
	}, New)
}

// Options returns the options read by the last Init.
func (m *Module) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Sequence returns the number of the last published beat.
func (m *Module) Sequence() int64 { return m.sequence.Load() }

// UniqueIdentifier implements modhub.Entity.
func (m *Module) UniqueIdentifier() string {
	return "HB-" + m.Options().Serial
}

func (m *Module) Init(context.Context) error {
	opts := DefaultOptions()
	if err := m.Configuration().DecodeOptions(&opts); err != nil {
		return fmt.Errorf("cannot decode heartbeat options: %w", err)
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, opts.Interval)
	}
	if opts.Serial == "" {
		opts.Serial = m.ID()
	}
	if opts.Topic == "" {
		opts.Topic = Topic
	}

	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
	return nil
}

func (m *Module) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	// the loop outlives the lifecycle task that starts it
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.lastBeat.Store(time.Now().UnixNano())

	m.wg.Add(1)
	go m.run(ctx, m.opts)
	m.ReportStatus(fmt.Sprintf("beating every %s", m.opts.Interval))
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("heartbeat loop did not stop: %w", ctx.Err())
	}
}

func (m *Module) run(ctx context.Context, opts Options) {
	defer m.wg.Done()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.beat(opts, now)
		}
	}
}

func (m *Module) beat(opts Options, now time.Time) {
	b := Beat{Serial: opts.Serial, Sequence: m.sequence.Add(1), Time: now}
	m.lastBeat.Store(now.UnixNano())
	m.PublishEvent(modhub.NewDataEvent(m.ID(), opts.Topic, b))
}

// HealthCheck fails when a started module missed three beats in a row.
func (m *Module) HealthCheck(context.Context) error {
	if !m.IsStarted() {
		return nil
	}
	last := time.Unix(0, m.lastBeat.Load())
	if since := time.Since(last); since > 3*m.Options().Interval {
		return fmt.Errorf("%w: no beat for %s", ErrStalled, since.Round(time.Millisecond))
	}
	return nil
}

func (m *Module) SaveState(sm modhub.StateManager) error {
	sm.Put(sequenceKey, m.sequence.Load())
	if ns := m.lastBeat.Load(); ns != 0 {
		sm.Put(lastBeatKey, time.Unix(0, ns).UTC().Format(time.RFC3339Nano))
	}
	return nil
}

func (m *Module) LoadState(sm modhub.StateManager) error {
	if v, ok := sm.Int64(sequenceKey); ok {
		m.sequence.Store(v)
	}
	return nil
}

// Cleanup restarts the sequence from zero.
func (m *Module) Cleanup() error {
	m.sequence.Store(0)
	m.lastBeat.Store(0)
	return nil
}
