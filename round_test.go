package quizhub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testQuestion(id string) Question {
	return Question{
		ID:         id,
		Text:       "7 + 8",
		Answer:     15,
		Difficulty: Medium,
		CreatedAt:  time.Unix(0, 0),
	}
}

func TestRoundState(t *testing.T) {
	base := time.Unix(1000, 0)

	t.Run("SetQuestion Resets All Round State", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if err := r.RecordSubmission("a", "15", base); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		if !r.AttemptWin("a", true) {
			t.Fatal("expected win")
		}

		r.SetQuestion(testQuestion("q2"))

		if r.Locked() {
			t.Error("lock survived SetQuestion")
		}
		if _, ok := r.Winner(); ok {
			t.Error("winner survived SetQuestion")
		}
		if r.SubmissionCount() != 0 {
			t.Error("submissions survived SetQuestion")
		}
		if len(r.SubmissionsOrdered()) != 0 {
			t.Error("order list survived SetQuestion")
		}
		if q, ok := r.CurrentQuestion(); !ok || q.ID != "q2" {
			t.Errorf("expected q2 current, got %+v ok=%t", q, ok)
		}
	})

	t.Run("Reset Clears Question Too", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		r.Reset()
		if _, ok := r.CurrentQuestion(); ok {
			t.Error("question survived Reset")
		}
		if r.Locked() || r.SubmissionCount() != 0 {
			t.Error("state survived Reset")
		}
	})

	t.Run("Rejects Without A Question", func(t *testing.T) {
		r := NewRoundState()
		err := r.RecordSubmission("a", "15", base)
		if reason, ok := RejectionReason(err); !ok || reason != ReasonNoQuestion {
			t.Errorf("expected no-question rejection, got %v", err)
		}
	})

	t.Run("Rejects Duplicate Submissions", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if err := r.RecordSubmission("a", "99", base); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		err := r.RecordSubmission("a", "15", base.Add(time.Second))
		if reason, ok := RejectionReason(err); !ok || reason != ReasonAlreadySubmitted {
			t.Errorf("expected already-submitted rejection, got %v", err)
		}
		// The original submission is untouched.
		if sub, ok := r.Submission("a"); !ok || sub.Raw != "99" {
			t.Errorf("original submission mutated: %+v", sub)
		}
	})

	t.Run("Rejects After Lock", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if err := r.RecordSubmission("a", "15", base); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		r.AttemptWin("a", true)

		err := r.RecordSubmission("b", "15", base.Add(time.Second))
		if reason, ok := RejectionReason(err); !ok || reason != ReasonQuestionLocked {
			t.Errorf("expected question-locked rejection, got %v", err)
		}
	})

	t.Run("Locked Outranks Already-Submitted", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if err := r.RecordSubmission("a", "15", base); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		r.AttemptWin("a", true)

		// "a" already submitted AND the round is locked; the lock reason wins.
		err := r.RecordSubmission("a", "15", base.Add(time.Second))
		if reason, ok := RejectionReason(err); !ok || reason != ReasonQuestionLocked {
			t.Errorf("expected question-locked rejection, got %v", err)
		}
	})

	t.Run("Wrong Answers Never Win", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if r.AttemptWin("a", false) {
			t.Fatal("incorrect answer won")
		}
		if r.Locked() {
			t.Error("wrong answer locked the round")
		}
	})

	t.Run("Lock Implies Winner", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		r.AttemptWin("a", true)

		winner, ok := r.Winner()
		if !r.Locked() || !ok || winner != "a" {
			t.Errorf("locked=%t winner=%q ok=%t, want locked with winner a", r.Locked(), winner, ok)
		}
	})

	t.Run("Second Correct Answer Loses The Race", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if !r.AttemptWin("a", true) {
			t.Fatal("first correct answer should win")
		}
		if r.AttemptWin("b", true) {
			t.Fatal("second correct answer should lose")
		}
		if winner, _ := r.Winner(); winner != "a" {
			t.Errorf("winner changed to %q", winner)
		}
	})

	t.Run("Exactly One Winner Under Concurrency", func(t *testing.T) {
		for trial := 0; trial < 20; trial++ {
			r := NewRoundState()
			r.SetQuestion(testQuestion("q1"))

			const contenders = 50
			var wins int64
			var mu sync.Mutex
			var wg sync.WaitGroup
			start := make(chan struct{})

			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					<-start
					if r.AttemptWin(ConnID(fmt.Sprintf("conn-%d", n)), true) {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if wins != 1 {
				t.Fatalf("trial %d: %d winners, want exactly 1", trial, wins)
			}
		}
	})

	t.Run("SubmissionsOrdered Sorts By Timestamp", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		// Deliberately recorded out of timestamp order.
		if err := r.RecordSubmission("late", "1", base.Add(200*time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		if err := r.RecordSubmission("early", "2", base); err != nil {
			t.Fatal(err)
		}
		if err := r.RecordSubmission("mid", "3", base.Add(100*time.Millisecond)); err != nil {
			t.Fatal(err)
		}

		ordered := r.SubmissionsOrdered()
		want := []ConnID{"early", "mid", "late"}
		for i, id := range want {
			if ordered[i].ConnID != id {
				t.Fatalf("position %d: got %q, want %q", i, ordered[i].ConnID, id)
			}
		}
	})

	t.Run("SubmissionsOrdered Breaks Ties By Arrival", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		for _, id := range []ConnID{"first", "second", "third"} {
			if err := r.RecordSubmission(id, "15", base); err != nil {
				t.Fatal(err)
			}
		}
		ordered := r.SubmissionsOrdered()
		want := []ConnID{"first", "second", "third"}
		for i, id := range want {
			if ordered[i].ConnID != id {
				t.Fatalf("position %d: got %q, want %q", i, ordered[i].ConnID, id)
			}
		}
	})

	t.Run("Grace Period Window Is Inclusive", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if err := r.SetGracePeriod(100 * time.Millisecond); err != nil {
			t.Fatal(err)
		}

		mustRecord := func(id ConnID, at time.Time) {
			t.Helper()
			if err := r.RecordSubmission(id, "15", at); err != nil {
				t.Fatal(err)
			}
		}
		mustRecord("a", base)
		mustRecord("b", base.Add(50*time.Millisecond))
		mustRecord("c", base.Add(100*time.Millisecond)) // boundary: included
		mustRecord("d", base.Add(101*time.Millisecond)) // outside

		within := r.GracePeriodSubmissions()
		if len(within) != 3 {
			t.Fatalf("expected 3 submissions in grace window, got %d", len(within))
		}
		if within[0].ConnID != "a" || within[2].ConnID != "c" {
			t.Errorf("unexpected grace window contents: %+v", within)
		}
	})

	t.Run("Grace Period Empty Round", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if got := r.GracePeriodSubmissions(); len(got) != 0 {
			t.Errorf("expected empty grace window, got %d entries", len(got))
		}
	})

	t.Run("Negative Grace Period Rejected", func(t *testing.T) {
		r := NewRoundState()
		if err := r.SetGracePeriod(-time.Millisecond); !errors.Is(err, ErrNegativeGracePeriod) {
			t.Errorf("expected ErrNegativeGracePeriod, got %v", err)
		}
		if r.GracePeriod() != DefaultGracePeriod {
			t.Error("rejected grace period was applied")
		}
	})

	t.Run("Winner Submission Is First Among Later Ones", func(t *testing.T) {
		r := NewRoundState()
		r.SetQuestion(testQuestion("q1"))
		if err := r.RecordSubmission("w", "15", base); err != nil {
			t.Fatal(err)
		}
		r.AttemptWin("w", true)

		winner, _ := r.Winner()
		sub, ok := r.Submission(winner)
		if !ok {
			t.Fatal("no submission stored for winner")
		}
		for _, other := range r.SubmissionsOrdered() {
			if sub.At.After(other.At) {
				t.Errorf("winner stamped %v after submission %q at %v", sub.At, other.ConnID, other.At)
			}
		}
	})
}

func TestRejectionError(t *testing.T) {
	err := fmt.Errorf("handling submission: %w", &RejectionError{
		ConnID: "a",
		Reason: ReasonQuestionLocked,
	})

	reason, ok := RejectionReason(err)
	if !ok || reason != ReasonQuestionLocked {
		t.Errorf("expected question-locked through wrapping, got %q ok=%t", reason, ok)
	}

	if _, ok := RejectionReason(errors.New("plain")); ok {
		t.Error("plain error should carry no rejection reason")
	}
}
