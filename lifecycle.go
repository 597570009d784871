package quizhub

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"go.uber.org/zap"
)

// State is a round lifecycle phase.
type State string

// Lifecycle states.
const (
	StateIdle          State = "idle"
	StateActive        State = "active"
	StateLocked        State = "locked"
	StateTransitioning State = "transitioning"
)

// Hook event keys for lifecycle observability.
const (
	LifecycleEventTransition = hookz.Key("lifecycle.transition")
	LifecycleEventIllegal    = hookz.Key("lifecycle.illegal_transition")
)

// allowedTransitions is the complete legal transition table. Anything absent
// here is a logic bug in the caller.
var allowedTransitions = map[State]map[State]bool{
	StateIdle:          {StateActive: true},
	StateActive:        {StateLocked: true, StateIdle: true},
	StateLocked:        {StateTransitioning: true},
	StateTransitioning: {StateActive: true, StateIdle: true},
}

// TransitionRecord is one entry in the machine's append-only history.
type TransitionRecord struct {
	At      time.Time
	Context map[string]any
	From    State
	To      State
}

// TransitionEvent is emitted via hooks for every attempted transition,
// legal or not.
type TransitionEvent struct {
	At      time.Time
	Context map[string]any
	From    State
	To      State
	Legal   bool
}

// LifecycleMachine tags the current round with one of four phases and
// enforces the legal transition table. Illegal transitions are logged as
// warnings and NOT performed: the machine keeps its previous state rather
// than silently corrupting the round phase.
//
// The machine records an append-only transition history plus per-state visit
// counts and dwell times for diagnostics.
//
// LifecycleMachine is safe for concurrent use, though in normal operation the
// Hub is its only writer.
type LifecycleMachine struct {
	enteredAt time.Time
	clock     clockz.Clock
	logger    *zap.Logger
	visits    map[State]int
	departs   map[State]int
	dwell     map[State]time.Duration
	hooks     *hookz.Hooks[TransitionEvent]
	state     State
	history   []TransitionRecord
	mu        sync.Mutex
}

// NewLifecycleMachine creates a machine in the Idle state.
func NewLifecycleMachine() *LifecycleMachine {
	m := &LifecycleMachine{
		state:   StateIdle,
		visits:  map[State]int{StateIdle: 1},
		departs: make(map[State]int),
		dwell:   make(map[State]time.Duration),
		hooks:   hookz.New[TransitionEvent](),
		logger:  zap.NewNop(),
	}
	m.enteredAt = m.getClock().Now()
	return m
}

// WithClock sets a custom clock for transition timestamps and dwell tracking.
func (m *LifecycleMachine) WithClock(clock clockz.Clock) *LifecycleMachine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	m.enteredAt = clock.Now()
	return m
}

// WithLogger sets the logger used for illegal-transition warnings.
func (m *LifecycleMachine) WithLogger(logger *zap.Logger) *LifecycleMachine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
	return m
}

// getClock returns the clock to use. Caller holds mu.
func (m *LifecycleMachine) getClock() clockz.Clock {
	if m.clock == nil {
		return clockz.RealClock
	}
	return m.clock
}

// Transition moves the machine to target, appending a record to the history.
// An illegal transition is logged, emitted as an event, and refused: the
// machine keeps its previous state and Transition returns false.
func (m *LifecycleMachine) Transition(target State, ctxData map[string]any) bool {
	m.mu.Lock()
	from := m.state
	now := m.getClock().Now()

	if !allowedTransitions[from][target] {
		logger := m.logger
		m.mu.Unlock()

		logger.Warn("illegal lifecycle transition refused",
			zap.String("from", string(from)),
			zap.String("to", string(target)),
		)
		_ = m.hooks.Emit(context.Background(), LifecycleEventIllegal, TransitionEvent{ //nolint:errcheck
			From:    from,
			To:      target,
			At:      now,
			Context: ctxData,
			Legal:   false,
		})
		return false
	}

	m.dwell[from] += now.Sub(m.enteredAt)
	m.departs[from]++
	m.visits[target]++
	m.state = target
	m.enteredAt = now
	m.history = append(m.history, TransitionRecord{
		From:    from,
		To:      target,
		At:      now,
		Context: ctxData,
	})
	m.mu.Unlock()

	_ = m.hooks.Emit(context.Background(), LifecycleEventTransition, TransitionEvent{ //nolint:errcheck
		From:    from,
		To:      target,
		At:      now,
		Context: ctxData,
		Legal:   true,
	})
	return true
}

// State returns the current lifecycle phase.
func (m *LifecycleMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the append-only transition log.
func (m *LifecycleMachine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// VisitCounts returns how many times each state has been entered. The initial
// Idle state counts as one visit.
func (m *LifecycleMachine) VisitCounts() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[State]int, len(m.visits))
	for s, n := range m.visits {
		out[s] = n
	}
	return out
}

// MeanDwell returns the mean time spent in state across completed stays. The
// current stay, still in progress, is excluded. Returns zero if the state has
// never been departed.
func (m *LifecycleMachine) MeanDwell(state State) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.departs[state]
	if n == 0 {
		return 0
	}
	return m.dwell[state] / time.Duration(n)
}

// OnTransition registers a handler called asynchronously after every legal
// transition.
func (m *LifecycleMachine) OnTransition(handler func(TransitionEvent) error) error {
	_, err := m.hooks.Hook(LifecycleEventTransition, func(_ context.Context, ev TransitionEvent) error {
		return handler(ev)
	})
	return err
}

// OnIllegalTransition registers a handler called asynchronously whenever an
// illegal transition is refused.
func (m *LifecycleMachine) OnIllegalTransition(handler func(TransitionEvent) error) error {
	_, err := m.hooks.Hook(LifecycleEventIllegal, func(_ context.Context, ev TransitionEvent) error {
		return handler(ev)
	})
	return err
}

// Close releases the machine's hook resources.
func (m *LifecycleMachine) Close() error {
	m.hooks.Close()
	return nil
}
