package quizhub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"go.uber.org/zap"
)

// Hub defaults.
const (
	// DefaultWinnerDisplayDuration is the time between a winner being
	// declared and the next question being issued.
	DefaultWinnerDisplayDuration = 3 * time.Second

	// DefaultPostLockHandoffDelay is the time between the Locked transition
	// and the Transitioning transition. Purely observational: the rotation
	// timer starts at the Locked moment, not at Transitioning entry.
	DefaultPostLockHandoffDelay = 100 * time.Millisecond

	// DefaultDifficulty is used for rounds with no explicit difficulty.
	DefaultDifficulty = Medium
)

// Metric keys for Hub observability.
const (
	HubSubmissionsTotal    = metricz.Key("hub.submissions.total")
	HubSubmissionsAccepted = metricz.Key("hub.submissions.accepted")
	HubSubmissionsRejected = metricz.Key("hub.submissions.rejected")
	HubSubmissionErrors    = metricz.Key("hub.submissions.errors")
	HubWinsTotal           = metricz.Key("hub.wins.total")
	HubRoundsTotal         = metricz.Key("hub.rounds.total")
	HubIllegalTransitions  = metricz.Key("hub.transitions.illegal")
	HubParticipantsOnline  = metricz.Key("hub.participants.online")
	HubRoundSubmissions    = metricz.Key("hub.round.submissions")
)

// Span names for Hub tracing.
const (
	HubSubmitSpan  = tracez.Key("hub.submit")
	HubConnectSpan = tracez.Key("hub.connect")
	HubRotateSpan  = tracez.Key("hub.rotate")
)

// Span tags for Hub tracing.
const (
	HubTagConnID     = tracez.Tag("hub.conn_id")
	HubTagQuestionID = tracez.Tag("hub.question_id")
	HubTagCorrect    = tracez.Tag("hub.correct")
	HubTagWinner     = tracez.Tag("hub.winner")
	HubTagReason     = tracez.Tag("hub.reason")
)

// Hook event keys for Hub observability.
const (
	HubEventRoundStarted       = hookz.Key("hub.round_started")
	HubEventWinnerDeclared     = hookz.Key("hub.winner_declared")
	HubEventSubmissionRejected = hookz.Key("hub.submission_rejected")
)

// HubEvent is the payload emitted via Hub hooks.
type HubEvent struct {
	Timestamp  time.Time
	ConnID     ConnID
	QuestionID string
	Question   string
	Reason     Reason
	Answer     int
}

// RoundSnapshot is the diagnostic view of the current round.
type RoundSnapshot struct {
	QuestionID  string          `json:"questionId"`
	Question    string          `json:"question"`
	Difficulty  Difficulty      `json:"difficulty"`
	Winner      ConnID          `json:"winner"`
	Submissions int             `json:"submissions"`
	Locked      bool            `json:"locked"`
	HasQuestion bool            `json:"hasQuestion"`
}

// MachineSnapshot is the diagnostic view of the lifecycle machine.
type MachineSnapshot struct {
	State       State         `json:"state"`
	Transitions int           `json:"transitions"`
	VisitCounts map[State]int `json:"visitCounts"`
}

// Snapshot is the full diagnostic view returned by Hub.Snapshot.
type Snapshot struct {
	Stats   map[string]float64 `json:"stats"`
	Round   RoundSnapshot      `json:"round"`
	Machine MachineSnapshot    `json:"machine"`
}

// Hub is the single authoritative orchestrator of the quiz. It owns the
// round state, the lifecycle machine, the participant registry, and the
// round-rotation timer, and it is their sole writer: every inbound event and
// timer callback runs to completion under one exclusive lock, so the "first"
// correct answer is simply the first one the lock admits.
//
// CRITICAL: Hub is a STATEFUL, process-wide value. Construct one per process
// (or per test) and route every transport event through it - do NOT create a
// Hub per connection or per message.
//
// Outbound sends are issued from inside the critical section to preserve
// ordering relative to state changes, but the Transport contract requires
// them to be queued, so the lock is never held across network waits.
//
// Key behaviors:
//   - Exactly one winner per round, elected by RoundState.AttemptWin
//   - A winner schedules the next round; rounds never advance on their own
//   - Arming a rotation cancels any previously pending rotation
//   - Disconnecting retains the participant's submission for the round
//
// # Observability
//
// Metrics:
//   - hub.submissions.total / .accepted / .rejected / .errors
//   - hub.wins.total, hub.rounds.total, hub.transitions.illegal
//   - hub.participants.online, hub.round.submissions (gauges)
//
// Traces:
//   - hub.submit, hub.connect, hub.rotate
//
// Events (via hooks):
//   - hub.round_started, hub.winner_declared, hub.submission_rejected
type Hub struct {
	transport Transport
	round     *RoundState
	machine   *LifecycleMachine
	registry  *ParticipantRegistry
	generator *Generator

	clock   clockz.Clock
	logger  *zap.Logger
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[HubEvent]

	rotateCancel chan struct{}

	winnerDisplay time.Duration
	handoffDelay  time.Duration
	difficulty    Difficulty

	mu      sync.Mutex
	started bool
}

// NewHub creates a Hub bound to the given transport, with default timings and
// difficulty. Call Start to issue the first question.
func NewHub(transport Transport) *Hub {
	registry := metricz.New()
	registry.Counter(HubSubmissionsTotal)
	registry.Counter(HubSubmissionsAccepted)
	registry.Counter(HubSubmissionsRejected)
	registry.Counter(HubSubmissionErrors)
	registry.Counter(HubWinsTotal)
	registry.Counter(HubRoundsTotal)
	registry.Counter(HubIllegalTransitions)
	registry.Gauge(HubParticipantsOnline)
	registry.Gauge(HubRoundSubmissions)

	h := &Hub{
		transport:     transport,
		round:         NewRoundState(),
		machine:       NewLifecycleMachine(),
		registry:      NewParticipantRegistry(),
		generator:     NewGenerator(),
		logger:        zap.NewNop(),
		metrics:       registry,
		tracer:        tracez.New(),
		hooks:         hookz.New[HubEvent](),
		winnerDisplay: DefaultWinnerDisplayDuration,
		handoffDelay:  DefaultPostLockHandoffDelay,
		difficulty:    DefaultDifficulty,
	}

	// Surface machine bugs in the hub's own metrics.
	_ = h.machine.OnIllegalTransition(func(TransitionEvent) error { //nolint:errcheck
		h.metrics.Counter(HubIllegalTransitions).Inc()
		return nil
	})
	return h
}

// WithClock sets a custom clock for timestamps and rotation timers, and
// propagates it to the owned components.
func (h *Hub) WithClock(clock clockz.Clock) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = clock
	h.machine.WithClock(clock)
	h.registry.WithClock(clock)
	h.generator.WithClock(clock)
	return h
}

// WithLogger sets the hub logger and propagates it to the lifecycle machine.
func (h *Hub) WithLogger(logger *zap.Logger) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = logger
	h.machine.WithLogger(logger)
	return h
}

// SetWinnerDisplayDuration updates the delay between a winner being declared
// and the next question.
func (h *Hub) SetWinnerDisplayDuration(d time.Duration) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.winnerDisplay = d
	return h
}

// SetPostLockHandoffDelay updates the delay between the Locked and
// Transitioning transitions.
func (h *Hub) SetPostLockHandoffDelay(d time.Duration) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handoffDelay = d
	return h
}

// SetDefaultDifficulty updates the difficulty used for new rounds.
func (h *Hub) SetDefaultDifficulty(d Difficulty) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.difficulty = d
	return h
}

// Round exposes the round state for diagnostics and tests.
func (h *Hub) Round() *RoundState { return h.round }

// Machine exposes the lifecycle machine for diagnostics and tests.
func (h *Hub) Machine() *LifecycleMachine { return h.machine }

// Registry exposes the participant registry for diagnostics and tests.
func (h *Hub) Registry() *ParticipantRegistry { return h.registry }

// Generator exposes the question generator.
func (h *Hub) Generator() *Generator { return h.generator }

// Metrics returns the hub's metrics registry.
func (h *Hub) Metrics() *metricz.Registry { return h.metrics }

// Tracer returns the hub's tracer.
func (h *Hub) Tracer() *tracez.Tracer { return h.tracer }

// getClock returns the clock to use.
func (h *Hub) getClock() clockz.Clock {
	if h.clock == nil {
		return clockz.RealClock
	}
	return h.clock
}

// Start issues the first question: Idle becomes Active and new-question is
// broadcast. Returns ErrAlreadyStarted on a second call.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrAlreadyStarted
	}
	h.started = true
	h.startRoundLocked(h.difficulty)
	return nil
}

// Connect registers a new live connection: the online count is broadcast and
// the in-flight question (or a waiting notice) is sent to this connection
// alone. The current round is not disturbed.
func (h *Hub) Connect(connID ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, span := h.tracer.StartSpan(context.Background(), HubConnectSpan)
	defer span.Finish()
	span.SetTag(HubTagConnID, string(connID))

	h.registry.Add(connID)
	h.metrics.Gauge(HubParticipantsOnline).Set(float64(h.registry.Count()))
	h.broadcast(EventUserCount, h.registry.Count())
	h.sendQuestionLocked(connID)
}

// Disconnect removes a connection from the registry and broadcasts the new
// online count. Any submission the participant made this round is retained,
// so a disconnect-reconnect loop cannot buy a second attempt.
func (h *Hub) Disconnect(connID ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.registry.Remove(connID)
	h.metrics.Gauge(HubParticipantsOnline).Set(float64(h.registry.Count()))
	h.broadcast(EventUserCount, h.registry.Count())
}

// RequestQuestion re-sends the current question (or a waiting notice) to one
// connection.
func (h *Hub) RequestQuestion(connID ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendQuestionLocked(connID)
}

// SubmitAnswer handles one answer attempt. The submission is stamped with the
// server clock at the moment handling begins; client times are never used.
func (h *Hub) SubmitAnswer(connID ConnID, raw any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.getClock().Now()
	h.metrics.Counter(HubSubmissionsTotal).Inc()

	_, span := h.tracer.StartSpan(context.Background(), HubSubmitSpan)
	defer span.Finish()
	span.SetTag(HubTagConnID, string(connID))

	if emptyAnswer(raw) {
		h.metrics.Counter(HubSubmissionErrors).Inc()
		span.SetTag(HubTagReason, "empty-answer")
		h.sendTo(connID, EventSubmissionError, SubmissionErrorPayload{
			Error:     "empty-answer",
			Message:   "Answer cannot be empty.",
			Timestamp: t.UnixMilli(),
		})
		return
	}

	if err := h.round.RecordSubmission(connID, raw, t); err != nil {
		reason, _ := RejectionReason(err)
		h.metrics.Counter(HubSubmissionsRejected).Inc()
		span.SetTag(HubTagReason, string(reason))

		q, _ := h.round.CurrentQuestion()
		_ = h.hooks.Emit(context.Background(), HubEventSubmissionRejected, HubEvent{ //nolint:errcheck
			ConnID:     connID,
			QuestionID: q.ID,
			Reason:     reason,
			Timestamp:  t,
		})
		h.sendTo(connID, EventSubmissionRejected, SubmissionRejectedPayload{
			Reason:    reason,
			Message:   rejectionMessage(reason),
			Timestamp: t.UnixMilli(),
		})
		return
	}

	h.metrics.Counter(HubSubmissionsAccepted).Inc()
	h.metrics.Gauge(HubRoundSubmissions).Set(float64(h.round.SubmissionCount()))

	q, _ := h.round.CurrentQuestion()
	span.SetTag(HubTagQuestionID, q.ID)

	isCorrect := h.generator.Validate(raw, q.Answer)
	span.SetTag(HubTagCorrect, fmt.Sprintf("%t", isCorrect))

	if h.round.AttemptWin(connID, isCorrect) {
		span.SetTag(HubTagWinner, "true")
		h.declareWinnerLocked(connID, q, t)
		return
	}

	if isCorrect {
		// Correct but lost the race to the lock.
		h.sendTo(connID, EventSubmissionResult, SubmissionResultPayload{
			Correct:   true,
			Winner:    false,
			Message:   "Correct, but another player answered first.",
			Timestamp: t.UnixMilli(),
		})
		return
	}

	h.sendTo(connID, EventSubmissionResult, SubmissionResultPayload{
		Correct:   false,
		Winner:    false,
		Message:   "Incorrect answer.",
		Timestamp: t.UnixMilli(),
	})
}

// ForceNewQuestion is an administrative escape hatch: it cancels any pending
// rotation and starts a new round immediately. An empty difficulty uses the
// hub default.
func (h *Hub) ForceNewQuestion(difficulty Difficulty) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return ErrNotStarted
	}
	if difficulty == "" {
		difficulty = h.difficulty
	}
	h.startRoundLocked(difficulty)
	return nil
}

// ResetRound is an administrative hook that cancels any pending rotation,
// clears the round, and returns the lifecycle to Idle. Participants are told
// to wait for the next question.
func (h *Hub) ResetRound() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return ErrNotStarted
	}

	h.cancelRotationLocked()
	h.round.Reset()
	h.metrics.Gauge(HubRoundSubmissions).Set(0)

	switch h.machine.State() {
	case StateLocked:
		h.machine.Transition(StateTransitioning, map[string]any{"cause": "reset"})
		h.machine.Transition(StateIdle, map[string]any{"cause": "reset"})
	case StateActive, StateTransitioning:
		h.machine.Transition(StateIdle, map[string]any{"cause": "reset"})
	case StateIdle:
	}

	h.broadcast(EventWaitingForQuestion, WaitingPayload{
		Message:   "Waiting for the next question.",
		Timestamp: h.getClock().Now().UnixMilli(),
	})
	return nil
}

// Snapshot returns a diagnostic view of the round, the hub counters, and the
// lifecycle machine.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	var round RoundSnapshot
	if q, ok := h.round.CurrentQuestion(); ok {
		round.HasQuestion = true
		round.QuestionID = q.ID
		round.Question = q.Text
		round.Difficulty = q.Difficulty
	}
	round.Locked = h.round.Locked()
	round.Winner, _ = h.round.Winner()
	round.Submissions = h.round.SubmissionCount()

	stats := make(map[string]float64)
	for _, key := range []metricz.Key{
		HubSubmissionsTotal, HubSubmissionsAccepted, HubSubmissionsRejected,
		HubSubmissionErrors, HubWinsTotal, HubRoundsTotal, HubIllegalTransitions,
	} {
		stats[string(key)] = h.metrics.Counter(key).Value()
	}
	stats[string(HubParticipantsOnline)] = h.metrics.Gauge(HubParticipantsOnline).Value()
	stats[string(HubRoundSubmissions)] = h.metrics.Gauge(HubRoundSubmissions).Value()

	return Snapshot{
		Round: round,
		Stats: stats,
		Machine: MachineSnapshot{
			State:       h.machine.State(),
			Transitions: len(h.machine.History()),
			VisitCounts: h.machine.VisitCounts(),
		},
	}
}

// Close cancels any pending rotation and releases observability resources.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.cancelRotationLocked()
	h.mu.Unlock()

	h.hooks.Close()
	_ = h.machine.Close() //nolint:errcheck
	h.tracer.Close()
	return nil
}

// OnRoundStarted registers a handler called asynchronously when a new round's
// question is broadcast.
func (h *Hub) OnRoundStarted(handler func(HubEvent) error) error {
	_, err := h.hooks.Hook(HubEventRoundStarted, func(_ context.Context, ev HubEvent) error {
		return handler(ev)
	})
	return err
}

// OnWinnerDeclared registers a handler called asynchronously when a round
// locks with a winner.
func (h *Hub) OnWinnerDeclared(handler func(HubEvent) error) error {
	_, err := h.hooks.Hook(HubEventWinnerDeclared, func(_ context.Context, ev HubEvent) error {
		return handler(ev)
	})
	return err
}

// OnSubmissionRejected registers a handler called asynchronously for every
// policy rejection.
func (h *Hub) OnSubmissionRejected(handler func(HubEvent) error) error {
	_, err := h.hooks.Hook(HubEventSubmissionRejected, func(_ context.Context, ev HubEvent) error {
		return handler(ev)
	})
	return err
}

// declareWinnerLocked runs the winner flow: Locked transition, broadcast,
// winner-only notice, and rotation scheduling. Caller holds mu; connID has
// already won the AttemptWin election.
func (h *Hub) declareWinnerLocked(connID ConnID, q Question, submittedAt time.Time) {
	h.metrics.Counter(HubWinsTotal).Inc()
	h.machine.Transition(StateLocked, map[string]any{
		"winner":   string(connID),
		"question": q.Text,
		"answer":   q.Answer,
	})

	now := h.getClock().Now()
	h.broadcast(EventWinnerDeclared, WinnerDeclaredPayload{
		WinnerID:       string(connID),
		Question:       q.Text,
		QuestionID:     q.ID,
		CorrectAnswer:  q.Answer,
		SubmissionTime: submittedAt.UnixMilli(),
		NextQuestionIn: h.winnerDisplay.Milliseconds(),
		Timestamp:      now.UnixMilli(),
	})
	h.sendTo(connID, EventYouWon, YouWonPayload{
		Message:       "Correct! You won this round.",
		Question:      q.Text,
		CorrectAnswer: q.Answer,
		Timestamp:     now.UnixMilli(),
	})

	_ = h.hooks.Emit(context.Background(), HubEventWinnerDeclared, HubEvent{ //nolint:errcheck
		ConnID:     connID,
		QuestionID: q.ID,
		Question:   q.Text,
		Answer:     q.Answer,
		Timestamp:  now,
	})

	h.armRotationLocked()
}

// startRoundLocked cancels any pending rotation, walks the machine to Active
// through legal transitions, installs a fresh question, and broadcasts it.
// Caller holds mu.
func (h *Hub) startRoundLocked(difficulty Difficulty) {
	h.cancelRotationLocked()

	_, span := h.tracer.StartSpan(context.Background(), HubRotateSpan)
	defer span.Finish()

	switch h.machine.State() {
	case StateLocked:
		h.machine.Transition(StateTransitioning, nil)
		h.machine.Transition(StateActive, nil)
	case StateTransitioning, StateIdle:
		h.machine.Transition(StateActive, nil)
	case StateActive:
		// Already active: force-rotating within a live round.
	}

	q := h.generator.Generate(difficulty)
	h.round.SetQuestion(q)
	h.metrics.Counter(HubRoundsTotal).Inc()
	h.metrics.Gauge(HubRoundSubmissions).Set(0)
	span.SetTag(HubTagQuestionID, q.ID)

	now := h.getClock().Now()
	h.broadcast(EventNewQuestion, QuestionPayload{
		Question:   q.Text,
		QuestionID: q.ID,
		Difficulty: q.Difficulty,
		Timestamp:  now.UnixMilli(),
	})
	h.logger.Info("round started",
		zap.String("question_id", q.ID),
		zap.String("difficulty", string(q.Difficulty)),
	)

	_ = h.hooks.Emit(context.Background(), HubEventRoundStarted, HubEvent{ //nolint:errcheck
		QuestionID: q.ID,
		Question:   q.Text,
		Answer:     q.Answer,
		Timestamp:  now,
	})
}

// armRotationLocked schedules the post-lock handoff and the next round,
// cancelling any previously pending rotation first. The timer channels are
// acquired synchronously so the deadlines are fixed at the Locked moment.
// Caller holds mu.
func (h *Hub) armRotationLocked() {
	h.cancelRotationLocked()

	cancel := make(chan struct{})
	h.rotateCancel = cancel
	handoffCh := h.getClock().After(h.handoffDelay)
	rotateCh := h.getClock().After(h.winnerDisplay)

	go h.runRotation(cancel, handoffCh, rotateCh)
}

// cancelRotationLocked cancels the pending rotation, if any. Caller holds mu.
func (h *Hub) cancelRotationLocked() {
	if h.rotateCancel != nil {
		close(h.rotateCancel)
		h.rotateCancel = nil
	}
}

// runRotation waits out the handoff and rotation deadlines. The cancel
// channel identity doubles as a generation token: a fired timer that lost a
// cancellation race becomes a no-op.
func (h *Hub) runRotation(cancel chan struct{}, handoffCh, rotateCh <-chan time.Time) {
	select {
	case <-cancel:
		return
	case <-handoffCh:
		h.handoffFired(cancel)
	case <-rotateCh:
		// Both deadlines may be reached in one clock step; rotation
		// subsumes the handoff.
		h.rotateFired(cancel)
		return
	}

	select {
	case <-cancel:
		return
	case <-rotateCh:
		h.rotateFired(cancel)
	}
}

// handoffFired performs Locked to Transitioning, unless this rotation has
// been superseded.
func (h *Hub) handoffFired(cancel chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rotateCancel != cancel {
		return
	}
	if h.machine.State() == StateLocked {
		h.machine.Transition(StateTransitioning, map[string]any{"cause": "post-lock handoff"})
	}
}

// rotateFired starts the next round, unless this rotation has been superseded.
func (h *Hub) rotateFired(cancel chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rotateCancel != cancel {
		return
	}
	h.rotateCancel = nil
	h.startRoundLocked(h.difficulty)
}

// sendQuestionLocked sends the in-flight question, or a waiting notice, to
// one connection. Caller holds mu.
func (h *Hub) sendQuestionLocked(connID ConnID) {
	now := h.getClock().Now()
	if q, ok := h.round.CurrentQuestion(); ok {
		h.sendTo(connID, EventCurrentQuestion, QuestionPayload{
			Question:   q.Text,
			QuestionID: q.ID,
			Difficulty: q.Difficulty,
			Timestamp:  now.UnixMilli(),
		})
		return
	}
	h.sendTo(connID, EventWaitingForQuestion, WaitingPayload{
		Message:   "Waiting for the next question.",
		Timestamp: now.UnixMilli(),
	})
}

// sendTo delivers to one connection, logging adapter failures without
// interrupting the critical section.
func (h *Hub) sendTo(connID ConnID, event EventName, payload any) {
	if err := h.transport.SendTo(connID, event, payload); err != nil {
		h.logger.Warn("transport send failed",
			zap.String("conn_id", string(connID)),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

// broadcast delivers to every connection, logging adapter failures without
// interrupting the critical section.
func (h *Hub) broadcast(event EventName, payload any) {
	if err := h.transport.Broadcast(event, payload); err != nil {
		h.logger.Warn("transport broadcast failed",
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

// emptyAnswer reports whether raw is the malformed-input case: absent, or a
// string that trims to nothing. Any other value is recorded and validated.
func emptyAnswer(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
