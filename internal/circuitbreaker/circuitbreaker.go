// Package circuitbreaker implements the per-upstream failure isolation
// state machine of spec §4.1: CLOSED / OPEN / HALF_OPEN, with typed
// transition events for observers.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"goa.design/tools-provider/internal/telemetry"
	"goa.design/tools-provider/internal/toolserr"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Reason names why a transition occurred, attached to every TransitionEvent.
type Reason string

const (
	ReasonFailureThresholdReached Reason = "FAILURE_THRESHOLD_REACHED"
	ReasonRecoveryTimeoutElapsed  Reason = "RECOVERY_TIMEOUT_ELAPSED"
	ReasonTestCallSucceeded       Reason = "TEST_CALL_SUCCEEDED"
	ReasonTestCallFailed          Reason = "TEST_CALL_FAILED"
	ReasonManualReset             Reason = "MANUAL_RESET"
)

// TransitionEvent is emitted on every state transition, including
// reset-while-closed (§4.1, reset on an already-CLOSED breaker still emits a
// MANUAL_RESET event).
type TransitionEvent struct {
	CircuitID   string
	CircuitType string
	SourceID    string
	From        State
	To          State
	Reason      Reason
	FailureCount int
	OccurredAt  time.Time
}

// Observer receives every TransitionEvent. Observer errors must never drop
// an event or abort the call the breaker is guarding; callers are expected
// to log and swallow.
type Observer func(ctx context.Context, ev TransitionEvent)

// Options configures a Registry's default breaker parameters.
type Options struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	Logger           telemetry.Logger
}

func defaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
		Logger:           telemetry.NewNoopLogger(),
	}
}

// Option mutates Options.
type Option func(*Options)

func WithFailureThreshold(n int) Option { return func(o *Options) { o.FailureThreshold = n } }
func WithRecoveryTimeout(d time.Duration) Option {
	return func(o *Options) { o.RecoveryTimeout = d }
}
func WithHalfOpenMaxCalls(n int) Option { return func(o *Options) { o.HalfOpenMaxCalls = n } }
func WithLogger(l telemetry.Logger) Option { return func(o *Options) { o.Logger = l } }

// Breaker guards a single logical upstream key (source id or base URL).
// State decisions are protected by mu; mu must never be held while the
// wrapped call runs (§5).
type Breaker struct {
	circuitID   string
	circuitType string
	sourceID    string
	opts        Options
	observers   []Observer

	mu                 sync.Mutex
	state              State
	failureCount       int
	lastFailureTime    time.Time
	halfOpenInFlight   int
}

// newBreaker constructs a CLOSED breaker for the given key.
func newBreaker(circuitID, circuitType, sourceID string, opts Options) *Breaker {
	return &Breaker{
		circuitID:   circuitID,
		circuitType: circuitType,
		sourceID:    sourceID,
		opts:        opts,
		state:       StateClosed,
	}
}

// Registry owns one Breaker per logical upstream key.
type Registry struct {
	opts      Options
	observers []Observer

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry. The key passed to Get is the source id
// or base URL identifying the logical upstream (§4.1).
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{opts: o, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for key, creating it (CLOSED) on first use.
// circuitType distinguishes logical circuits sharing a key, e.g.
// "token_exchange" vs. "tool_execution" (§4.3 uses circuitType="token_exchange").
func (r *Registry) Get(key, circuitType string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := circuitType + ":" + key
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b := newBreaker(id, circuitType, key, r.opts)
	for _, obs := range r.observers {
		b.addObserver(obs)
	}
	r.breakers[id] = b
	return b
}

// Observe registers an observer invoked on every transition across every
// breaker created by this registry, including ones already created.
func (r *Registry) Observe(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.addObserver(obs)
	}
	r.observers = append(r.observers, obs)
}

func (b *Breaker) addObserver(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// admit decides, under the lock, whether a call may proceed. It returns a
// release function invoked after the call completes (admitting a HALF_OPEN
// test call increments halfOpenInFlight, which must be decremented).
func (b *Breaker) admit(ctx context.Context) (admitted bool, release func(), rejectErr error) {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true, func() {}, nil
	case StateOpen:
		if time.Since(b.lastFailureTime) < b.opts.RecoveryTimeout {
			b.mu.Unlock()
			return false, nil, toolserr.New(toolserr.KindCircuitOpen, "circuit breaker open for "+b.sourceID)
		}
		from := b.state
		b.transitionLocked(StateHalfOpen, ReasonRecoveryTimeoutElapsed)
		b.halfOpenInFlight = 1
		failureCount := b.failureCount
		observers := append([]Observer(nil), b.observers...)
		b.mu.Unlock()
		b.notify(ctx, observers, TransitionEvent{
			CircuitID: b.circuitID, CircuitType: b.circuitType, SourceID: b.sourceID,
			From: from, To: StateHalfOpen, Reason: ReasonRecoveryTimeoutElapsed,
			FailureCount: failureCount, OccurredAt: time.Now(),
		})
		return true, func() { b.releaseHalfOpen() }, nil
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.opts.HalfOpenMaxCalls {
			b.mu.Unlock()
			return false, nil, toolserr.New(toolserr.KindCircuitTesting, "circuit breaker testing for "+b.sourceID)
		}
		b.halfOpenInFlight++
		b.mu.Unlock()
		return true, func() { b.releaseHalfOpen() }, nil
	default:
		b.mu.Unlock()
		return true, func() {}, nil
	}
}

func (b *Breaker) releaseHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// Call executes fn if the breaker admits the call, recording success or
// failure against the breaker's state. The mutex is held only for state
// decisions, never while fn runs.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	admitted, release, rejectErr := b.admit(ctx)
	if !admitted {
		return rejectErr
	}
	defer release()

	err := fn(ctx)
	if err != nil {
		b.recordFailure(ctx)
		return err
	}
	b.recordSuccess(ctx)
	return nil
}

func (b *Breaker) recordSuccess(ctx context.Context) {
	b.mu.Lock()
	var ev *TransitionEvent
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		from := b.state
		b.transitionLocked(StateClosed, ReasonTestCallSucceeded)
		b.failureCount = 0
		ev = &TransitionEvent{
			CircuitID: b.circuitID, CircuitType: b.circuitType, SourceID: b.sourceID,
			From: from, To: StateClosed, Reason: ReasonTestCallSucceeded,
			FailureCount: 0, OccurredAt: time.Now(),
		}
	}
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()
	if ev != nil {
		b.notify(ctx, observers, *ev)
	}
}

func (b *Breaker) recordFailure(ctx context.Context) {
	b.mu.Lock()
	var ev *TransitionEvent
	switch b.state {
	case StateClosed:
		b.failureCount++
		b.lastFailureTime = time.Now()
		if b.failureCount >= b.opts.FailureThreshold {
			from := b.state
			b.transitionLocked(StateOpen, ReasonFailureThresholdReached)
			ev = &TransitionEvent{
				CircuitID: b.circuitID, CircuitType: b.circuitType, SourceID: b.sourceID,
				From: from, To: StateOpen, Reason: ReasonFailureThresholdReached,
				FailureCount: b.failureCount, OccurredAt: time.Now(),
			}
		}
	case StateHalfOpen:
		from := b.state
		b.lastFailureTime = time.Now()
		b.transitionLocked(StateOpen, ReasonTestCallFailed)
		ev = &TransitionEvent{
			CircuitID: b.circuitID, CircuitType: b.circuitType, SourceID: b.sourceID,
			From: from, To: StateOpen, Reason: ReasonTestCallFailed,
			FailureCount: b.failureCount, OccurredAt: time.Now(),
		}
	}
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()
	if ev != nil {
		b.notify(ctx, observers, *ev)
	}
}

// Reset forces the breaker to CLOSED, always emitting a MANUAL_RESET
// transition event even if it was already CLOSED (§4.1, §8).
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenInFlight = 0
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()

	ev := TransitionEvent{
		CircuitID: b.circuitID, CircuitType: b.circuitType, SourceID: b.sourceID,
		From: from, To: StateClosed, Reason: ReasonManualReset,
		FailureCount: 0, OccurredAt: time.Now(),
	}
	b.notify(ctx, observers, ev)
}

// transitionLocked must be called with mu held.
func (b *Breaker) transitionLocked(to State, _ Reason) {
	b.state = to
}

func (b *Breaker) notify(ctx context.Context, observers []Observer, ev TransitionEvent) {
	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.opts.Logger.Error(ctx, "circuit breaker observer panicked", "circuit_id", b.circuitID, "panic", r)
				}
			}()
			obs(ctx, ev)
		}()
	}
}
