package quizhub

// Outbound per-connection events.
const (
	// EventCurrentQuestion carries the in-flight question to one connection,
	// on connect or on request.
	EventCurrentQuestion EventName = "current-question"

	// EventWaitingForQuestion tells one connection no question is active.
	EventWaitingForQuestion EventName = "waiting-for-question"

	// EventYouWon is sent to the round winner only.
	EventYouWon EventName = "you-won"

	// EventSubmissionResult is sent to non-winning submitters: correct
	// losers of the race and wrong answers alike.
	EventSubmissionResult EventName = "submission-result"

	// EventSubmissionRejected reports a policy rejection with its reason.
	EventSubmissionRejected EventName = "submission-rejected"

	// EventSubmissionError reports malformed input back to the sender.
	EventSubmissionError EventName = "submission-error"
)

// Outbound broadcast events.
const (
	// EventNewQuestion announces each round's question to every connection.
	EventNewQuestion EventName = "new-question"

	// EventWinnerDeclared announces the round winner to every connection at
	// the moment the round locks.
	EventWinnerDeclared EventName = "winner-declared"

	// EventUserCount announces the online count at every registry mutation.
	EventUserCount EventName = "user-count"
)

// Inbound events, handled by transport adapters.
const (
	// EventSubmitAnswer carries a participant's answer attempt.
	EventSubmitAnswer EventName = "submit-answer"

	// EventRequestQuestion asks for the current question to be re-sent.
	EventRequestQuestion EventName = "request-question"
)

// QuestionPayload is the body of new-question and current-question events.
type QuestionPayload struct {
	Question   string     `json:"question"`
	QuestionID string     `json:"questionId"`
	Difficulty Difficulty `json:"difficulty"`
	Timestamp  int64      `json:"timestamp"`
}

// WaitingPayload is the body of waiting-for-question events.
type WaitingPayload struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// YouWonPayload is the body of the winner-only you-won event.
type YouWonPayload struct {
	Message       string `json:"message"`
	Question      string `json:"question"`
	CorrectAnswer int    `json:"correctAnswer"`
	Timestamp     int64  `json:"timestamp"`
}

// SubmissionResultPayload is the body of submission-result events.
type SubmissionResultPayload struct {
	Message   string `json:"message"`
	Correct   bool   `json:"correct"`
	Winner    bool   `json:"winner"`
	Timestamp int64  `json:"timestamp"`
}

// SubmissionRejectedPayload is the body of submission-rejected events.
type SubmissionRejectedPayload struct {
	Reason    Reason `json:"reason"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// SubmissionErrorPayload is the body of submission-error events.
type SubmissionErrorPayload struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// WinnerDeclaredPayload is the body of the winner-declared broadcast.
type WinnerDeclaredPayload struct {
	WinnerID       string `json:"winnerId"`
	Question       string `json:"question"`
	QuestionID     string `json:"questionId"`
	CorrectAnswer  int    `json:"correctAnswer"`
	SubmissionTime int64  `json:"submissionTime"`
	NextQuestionIn int64  `json:"nextQuestionIn"`
	Timestamp      int64  `json:"timestamp"`
}
