package quiz

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted   = errors.New("quiz session already started")
	ErrNotActive        = errors.New("quiz session is not in progress")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrUnknownQuestion  = errors.New("question is not part of this attempt")
	ErrOptionOutOfRange = errors.New("option index out of range")
	ErrNoQuestions      = errors.New("quiz has no questions")
)

// SessionStartError is returned when the backend refuses to open an attempt.
// The controller stays NotStarted so Start may be retried.
type SessionStartError struct {
	QuizID string
	Err    error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("start quiz %s: %v", e.QuizID, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }

// SubmissionError is returned when submitting answers fails. Unless Terminal
// is set the session is back in progress with its answers intact.
type SubmissionError struct {
	AttemptID string
	Auto      bool // triggered by the countdown
	Terminal  bool
	Err       error
}

func (e *SubmissionError) Error() string {
	kind := "submit"
	if e.Auto {
		kind = "auto-submit"
	}
	return fmt.Sprintf("%s attempt %s: %v", kind, e.AttemptID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
