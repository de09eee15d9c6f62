package modhub

import (
	"fmt"
	"strings"
)

// ModuleState is the lifecycle state of a module. The declaration order is
// the order of the happy path; ERROR can be entered from any state.
type ModuleState int

const (
	StateLoaded ModuleState = iota
	StateInitializing
	StateInitialized
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{
	StateLoaded:       "LOADED",
	StateInitializing: "INITIALIZING",
	StateInitialized:  "INITIALIZED",
	StateStarting:     "STARTING",
	StateStarted:      "STARTED",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

func (s ModuleState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ModuleState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s ModuleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name, case-insensitively.
func (s *ModuleState) UnmarshalText(text []byte) error {
	parsed, err := ParseModuleState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseModuleState returns the state with the given name.
func ParseModuleState(name string) (ModuleState, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return ModuleState(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

// IsTransitional reports whether the state is one a module passes through
// while a lifecycle primitive is running.
func (s ModuleState) IsTransitional() bool {
	return s == StateInitializing || s == StateStarting || s == StateStopping
}

// validTransitions lists the legal successors of each state. ERROR is legal
// from everywhere and is not listed.
//
// Stopping is accepted from every state that is not already stopping or
// stopped so that shutdown can bring any module down, including one that
// never got initialized or one that failed.
var validTransitions = map[ModuleState][]ModuleState{
	StateLoaded:       {StateInitializing, StateStopping},
	StateInitializing: {StateInitialized, StateStopping},
	StateInitialized:  {StateInitializing, StateStarting, StateStopping},
	StateStarting:     {StateStarted, StateStopping},
	StateStarted:      {StateStopping},
	StateStopping:     {StateStopped},
	StateStopped:      {StateInitializing, StateStarting},
	StateError:        {StateInitializing, StateStopping},
}

// CanTransition reports whether a module may move from one state to another.
func CanTransition(from, to ModuleState) bool {
	if to == StateError {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
