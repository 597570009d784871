package quizhub

import (
	"sort"
	"sync"
	"time"
)

// DefaultGracePeriod is the diagnostic grace window applied to new rounds.
const DefaultGracePeriod = 100 * time.Millisecond

// Submission records one answer received from one connection during a round.
// The timestamp is assigned by the server at the moment the Hub began
// handling the message; client-provided times are never used.
type Submission struct {
	At     time.Time
	Raw    any
	ConnID ConnID
}

// RoundState holds the mutable state of the current round: the question in
// flight, every submission received for it, and the winner lock.
//
// CRITICAL: AttemptWin is the single point where a winner is elected. Its
// check-then-set runs entirely under the state mutex, so among any number of
// concurrent correct submissions exactly one caller observes true.
//
// Invariants maintained at every externally observable point:
//   - locked implies a winner is set, and vice versa
//   - at most one submission is stored per connection per round
//   - no question means no submissions, no lock, no winner
//
// RoundState is safe for concurrent use, though in normal operation the Hub
// is its only writer.
type RoundState struct {
	question    *Question
	submissions map[ConnID]Submission
	winner      ConnID
	order       []Submission
	grace       time.Duration
	mu          sync.Mutex
	locked      bool
}

// NewRoundState creates an empty RoundState with the default grace period.
func NewRoundState() *RoundState {
	return &RoundState{
		submissions: make(map[ConnID]Submission),
		grace:       DefaultGracePeriod,
	}
}

// SetQuestion atomically installs q as the current question and clears all
// per-round state: submissions, arrival order, lock, and winner.
func (r *RoundState) SetQuestion(q Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.question = &q
	r.clearLocked()
}

// Reset returns the round to a fully empty state with no current question.
func (r *RoundState) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.question = nil
	r.clearLocked()
}

// clearLocked wipes submissions, order, lock and winner. Caller holds mu.
func (r *RoundState) clearLocked() {
	r.submissions = make(map[ConnID]Submission)
	r.order = nil
	r.locked = false
	r.winner = ""
}

// RecordSubmission stores a new submission for connID stamped with the
// server-assigned time at. Rejections are reported as a RejectionError with
// the first applicable reason, checked in order: question-locked,
// already-submitted, no-question.
func (r *RoundState) RecordSubmission(connID ConnID, raw any, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked {
		return &RejectionError{ConnID: connID, Reason: ReasonQuestionLocked, Timestamp: at}
	}
	if _, dup := r.submissions[connID]; dup {
		return &RejectionError{ConnID: connID, Reason: ReasonAlreadySubmitted, Timestamp: at}
	}
	if r.question == nil {
		return &RejectionError{ConnID: connID, Reason: ReasonNoQuestion, Timestamp: at}
	}

	sub := Submission{ConnID: connID, Raw: raw, At: at}
	r.submissions[connID] = sub
	r.order = append(r.order, sub)
	return nil
}

// AttemptWin elects connID as the round winner if the answer was correct and
// no winner has been elected yet. The check-and-set is indivisible with
// respect to other AttemptWin calls: exactly one correct submitter per round
// observes true.
func (r *RoundState) AttemptWin(connID ConnID, isCorrect bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked || !isCorrect {
		return false
	}
	r.locked = true
	r.winner = connID
	return true
}

// CurrentQuestion returns the question in flight and whether one is set.
func (r *RoundState) CurrentQuestion() (Question, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.question == nil {
		return Question{}, false
	}
	return *r.question, true
}

// HasSubmitted reports whether connID already submitted this round.
func (r *RoundState) HasSubmitted(connID ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.submissions[connID]
	return ok
}

// Submission returns the stored submission for connID, if any.
func (r *RoundState) Submission(connID ConnID) (Submission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[connID]
	return sub, ok
}

// Winner returns the winning connection id and whether one has been elected.
func (r *RoundState) Winner() (ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.winner, r.locked
}

// Locked reports whether the round's winner lock has been taken.
func (r *RoundState) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// SubmissionCount returns the number of submissions stored for this round.
func (r *RoundState) SubmissionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submissions)
}

// SubmissionsOrdered returns a copy of all submissions sorted by timestamp
// ascending, ties broken by arrival order.
func (r *RoundState) SubmissionsOrdered() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Submission, len(r.order))
	copy(out, r.order)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}

// GracePeriodSubmissions returns the prefix of the ordered submission list
// whose timestamps fall within the grace window after the first submission,
// inclusive. Diagnostic only: winner election never consults it.
func (r *RoundState) GracePeriodSubmissions() []Submission {
	ordered := r.SubmissionsOrdered()
	if len(ordered) == 0 {
		return nil
	}

	r.mu.Lock()
	grace := r.grace
	r.mu.Unlock()

	cutoff := ordered[0].At.Add(grace)
	out := make([]Submission, 0, len(ordered))
	for _, sub := range ordered {
		if sub.At.After(cutoff) {
			break
		}
		out = append(out, sub)
	}
	return out
}

// SetGracePeriod updates the diagnostic grace window. Negative durations are
// rejected with ErrNegativeGracePeriod.
func (r *RoundState) SetGracePeriod(d time.Duration) error {
	if d < 0 {
		return ErrNegativeGracePeriod
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grace = d
	return nil
}

// GracePeriod returns the current diagnostic grace window.
func (r *RoundState) GracePeriod() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grace
}
