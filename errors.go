package quizhub

import (
	"errors"
	"fmt"
	"time"
)

// Reason identifies why a submission was rejected by the round.
type Reason string

// Rejection reasons, checked in this order by RecordSubmission.
const (
	ReasonQuestionLocked   Reason = "question-locked"
	ReasonAlreadySubmitted Reason = "already-submitted"
	ReasonNoQuestion       Reason = "no-question"
)

// Sentinel errors.
var (
	// ErrNegativeGracePeriod is returned when SetGracePeriod receives a
	// negative duration.
	ErrNegativeGracePeriod = errors.New("grace period cannot be negative")

	// ErrAlreadyStarted is returned when Start is called on a running Hub.
	ErrAlreadyStarted = errors.New("hub already started")

	// ErrNotStarted is returned by administrative operations that require a
	// started Hub.
	ErrNotStarted = errors.New("hub not started")
)

// RejectionError reports a policy rejection of a submission. It carries the
// specific reason so callers can relay it to the submitting participant
// without string matching.
type RejectionError struct {
	Timestamp time.Time
	ConnID    ConnID
	Reason    Reason
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("submission from %q rejected: %s", e.ConnID, e.Reason)
}

// rejectionMessage maps a rejection reason to the human-readable notice sent
// to the participant.
func rejectionMessage(reason Reason) string {
	switch reason {
	case ReasonQuestionLocked:
		return "This question has already been answered."
	case ReasonAlreadySubmitted:
		return "You have already submitted an answer for this question."
	case ReasonNoQuestion:
		return "There is no active question right now."
	default:
		return "Submission rejected."
	}
}

// RejectionReason extracts the rejection reason from err, if err is a
// RejectionError anywhere in its chain. The second return reports whether a
// reason was found.
func RejectionReason(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
