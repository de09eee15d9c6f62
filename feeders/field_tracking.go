package feeders

import "sync"

// FieldPopulation records one field set by a feeder.
type FieldPopulation struct {
	FieldPath  string // dotted key path, e.g. "admin.address"
	FeederType string // feeder that set it
	SourceType string // env, yaml, toml or json
	SourceKey  string // variable name or file path
	Value      any
}

// FieldTracker lets feeders report which fields they populate.
type FieldTracker interface {
	RecordFieldPopulation(fp FieldPopulation)
}

// DefaultFieldTracker keeps every population in order.
type DefaultFieldTracker struct {
	mu          sync.Mutex
	populations []FieldPopulation
}

func NewDefaultFieldTracker() *DefaultFieldTracker {
	return &DefaultFieldTracker{}
}

func (t *DefaultFieldTracker) RecordFieldPopulation(fp FieldPopulation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.populations = append(t.populations, fp)
}

// GetFieldPopulations returns all recorded populations.
func (t *DefaultFieldTracker) GetFieldPopulations() []FieldPopulation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FieldPopulation(nil), t.populations...)
}

// Latest returns the last population of a field path, which is the one in
// effect after all feeders ran.
func (t *DefaultFieldTracker) Latest(fieldPath string) (FieldPopulation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.populations) - 1; i >= 0; i-- {
		if t.populations[i].FieldPath == fieldPath {
			return t.populations[i], true
		}
	}
	return FieldPopulation{}, false
}
