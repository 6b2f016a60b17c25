// Package circuitbreaker implements the per-backend three-state failure
// automaton: CLOSED passes requests through, OPEN fails fast, HALF_OPEN
// admits a bounded number of probes to test recovery.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders a State as its string name so the health snapshot
// reports "OPEN" rather than an opaque integer.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the string names MarshalJSON emits.
func (s *State) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"CLOSED"`:
		*s = Closed
	case `"OPEN"`:
		*s = Open
	case `"HALF_OPEN"`:
		*s = HalfOpen
	default:
		return fmt.Errorf("unknown circuit breaker state %s", data)
	}
	return nil
}

// Transition records one state change with its timestamp, kept in a
// bounded log for observability.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// transitionLogSize bounds the ring buffer of recorded transitions.
const transitionLogSize = 10

// Config holds breaker parameters; zero fields take defaults.
type Config struct {
	FailureThreshold int
	MonitorWindow    time.Duration
	ResetTimeout     time.Duration
	HalfOpenMax      int
	Clock            func() time.Time // defaults to time.Now; tests may override
}

// CircuitBreaker is a single backend's failure-tracking state machine.
// All four mutators (CanRequest, OnSuccess, OnFailure, State) are
// serialized per instance; different breakers are fully independent.
type CircuitBreaker struct {
	failureThreshold int
	monitorWindow    time.Duration
	resetTimeout     time.Duration
	halfOpenMax      int
	clock            func() time.Time

	mu               sync.Mutex
	state            State
	failureLog       []time.Time // pruned to monitorWindow on each observation
	openedAt         time.Time
	halfOpenAttempts int
	transitions      []Transition
}

// New builds a CircuitBreaker in the CLOSED state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.MonitorWindow <= 0 {
		cfg.MonitorWindow = 10 * time.Second
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 15 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		monitorWindow:    cfg.MonitorWindow,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMax:      cfg.HalfOpenMax,
		clock:            cfg.Clock,
		state:            Closed,
	}
}

// CanRequest reports whether a request may proceed, triggering the
// OPEN -> HALF_OPEN transition (and admitting the single probe that
// triggered it) when resetTimeout has elapsed.
func (cb *CircuitBreaker) CanRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if cb.clock().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.transitionLocked(HalfOpen)
			cb.halfOpenAttempts = 1 // this call is the probe
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenAttempts < cb.halfOpenMax {
			cb.halfOpenAttempts++
			return true
		}
		return false
	default:
		return false
	}
}

// State returns the current state, applying the same time-driven
// OPEN -> HALF_OPEN transition CanRequest does, so an observer polling
// State sees HALF_OPEN once resetTimeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == Open && cb.clock().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.transitionLocked(HalfOpen)
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen {
		cb.transitionLocked(Closed)
		cb.failureLog = nil
	}
}

// OnFailure records a failed call, pruning the failure log to the
// monitor window and tripping CLOSED -> OPEN once the threshold is met
// within that window.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	cb.failureLog = prune(cb.failureLog, now, cb.monitorWindow)
	cb.failureLog = append(cb.failureLog, now)

	switch cb.state {
	case Closed:
		if len(cb.failureLog) >= cb.failureThreshold {
			cb.openLocked(now)
		}
	case HalfOpen:
		cb.openLocked(now)
	}
}

func (cb *CircuitBreaker) openLocked(now time.Time) {
	cb.transitionLocked(Open)
	cb.openedAt = now
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	if from == to {
		return
	}
	cb.transitions = append(cb.transitions, Transition{From: from, To: to, At: cb.clock()})
	if len(cb.transitions) > transitionLogSize {
		cb.transitions = cb.transitions[len(cb.transitions)-transitionLogSize:]
	}
}

func prune(log []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := log[:0]
	for _, ts := range log {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Reset forces the breaker back to CLOSED and clears its failure log and
// transition history, per the control surface's breaker reset endpoint.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.failureLog = nil
	cb.halfOpenAttempts = 0
	cb.transitions = nil
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	State            string       `json:"state"`
	Failures         int          `json:"failures"`
	HalfOpenAttempts int          `json:"halfOpenAttempts"`
	OpenedAt         *time.Time   `json:"openedAt,omitempty"`
	Transitions      []Transition `json:"transitions"`
}

// Stats returns a snapshot of the breaker's observability state.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		State:            cb.state.String(),
		Failures:         len(cb.failureLog),
		HalfOpenAttempts: cb.halfOpenAttempts,
		Transitions:      append([]Transition(nil), cb.transitions...),
	}
	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}
