// setpoints.go
package internal

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownPhase is returned when a setpoint operation references a
// phase profile that is not tracked.
var ErrUnknownPhase = errors.New("unknown phase")

// ErrSetpointRange indicates that the provided setpoint falls outside
// the permitted range.
var ErrSetpointRange = errors.New("setpoint outside configured range")

// PhaseSetpoints stores the per-phase AHU working setpoints protected
// by a RWMutex to permit concurrent reads from the engine while HTTP
// handlers update values. The structure also tracks the allowable range
// so that HTTP validation can be shared with config reload logic.
type PhaseSetpoints struct {
	mu     sync.RWMutex
	values map[string]float64
	min    float64
	max    float64
}

// NewPhaseSetpoints builds the runtime store from the parsed
// configuration. Each phase must have an initial value within the
// configured range so the engine never operates on undefined data.
func NewPhaseSetpoints(cfg AHUConfig) (*PhaseSetpoints, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("setpoints: no phase profiles configured")
	}
	sp := &PhaseSetpoints{
		values: make(map[string]float64, len(cfg.Profiles)),
		min:    cfg.SetpointMinC,
		max:    cfg.SetpointMaxC,
	}
	for phase, val := range cfg.Profiles {
		if val < sp.min || val > sp.max {
			return nil, fmt.Errorf("setpoints: phase %s initial %.2f outside %.2f..%.2f", phase, val, sp.min, sp.max)
		}
		sp.values[phase] = val
	}
	return sp, nil
}

// Get returns the current setpoint for the requested phase. The boolean
// indicates whether the phase was known to the store.
func (s *PhaseSetpoints) Get(phase string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[phase]
	return v, ok
}

// All returns a copy of the current setpoints. Callers receive their
// own map so they can safely marshal results without affecting the
// underlying store.
func (s *PhaseSetpoints) All() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.values))
	for p, v := range s.values {
		out[p] = v
	}
	return out
}

// Set updates the setpoint for the provided phase after validating that
// the value stays in range. Errors are wrapped with sentinel values so
// HTTP handlers can translate them into correct status codes.
func (s *PhaseSetpoints) Set(phase string, value float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[phase]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
	}
	if value < s.min || value > s.max {
		return 0, fmt.Errorf("%w: %.2f", ErrSetpointRange, value)
	}
	s.values[phase] = value
	return value, nil
}

// Reset replaces all phase setpoints with the provided profile values.
// Used when configuration is reloaded so the runtime store mirrors the
// latest file. Any validation failure leaves the previous values
// untouched.
func (s *PhaseSetpoints) Reset(profiles map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phase := range s.values {
		val, ok := profiles[phase]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPhase, phase)
		}
		if val < s.min || val > s.max {
			return fmt.Errorf("%w: %.2f", ErrSetpointRange, val)
		}
	}
	for phase := range s.values {
		s.values[phase] = profiles[phase]
	}
	return nil
}

// Range exposes the allowable bounds so that HTTP validation can
// present user-friendly error messages without duplicating
// configuration knowledge.
func (s *PhaseSetpoints) Range() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.min, s.max
}
