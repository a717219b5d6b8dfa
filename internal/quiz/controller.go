// Package quiz runs a single timed quiz attempt: it opens the attempt on the
// backend, records answers, counts down the time limit and submits exactly once.
package quiz

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/pavelanni/medcode/internal/api"
	"github.com/pavelanni/medcode/internal/model"
)

// State is the lifecycle position of an attempt.
type State int

const (
	NotStarted State = iota
	InProgress
	Submitting
	Finished
	Abandoned
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Submitting:
		return "submitting"
	case Finished:
		return "finished"
	case Abandoned:
		return "abandoned"
	}
	return "unknown"
}

// Backend opens and grades attempts. *api.Session satisfies it.
type Backend interface {
	StartQuiz(ctx context.Context, quizID string) (*model.StartedAttempt, error)
	SubmitQuiz(ctx context.Context, sub model.Submission) (*model.GradedResult, error)
}

// Controller holds the client side of one attempt. All methods are safe for
// concurrent use; the countdown and a user submit never both reach the backend.
type Controller struct {
	backend Backend
	clock   Clock

	mu            sync.Mutex
	state         State
	starting      bool
	quizID        string
	attemptID     string
	quiz          model.Quiz
	questions     []model.Question
	byID          map[string]int
	current       int
	answers       map[string]int
	remaining     int
	inFlight      bool
	autoSubmitted bool
	startedAt     time.Time
	endedAt       time.Time
	result        *model.GradedResult
	lastErr       error

	done     chan struct{}
	doneOnce sync.Once
}

// NewController returns a controller in the NotStarted state.
func NewController(backend Backend, clock Clock) *Controller {
	if clock == nil {
		clock = RealClock()
	}
	return &Controller{
		backend: backend,
		clock:   clock,
		answers: make(map[string]int),
		done:    make(chan struct{}),
	}
}

// Start opens a new attempt for quizID. A quiz with no questions starts in an
// empty state without a countdown.
func (c *Controller) Start(ctx context.Context, quizID string) error {
	c.mu.Lock()
	if c.state != NotStarted || c.starting {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()

	att, err := c.backend.StartQuiz(ctx, quizID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return &SessionStartError{QuizID: quizID, Err: err}
	}
	c.quizID = quizID
	c.attemptID = att.AttemptID
	c.quiz = att.Quiz
	c.questions = att.Questions
	c.byID = make(map[string]int, len(att.Questions))
	for i, q := range att.Questions {
		c.byID[q.ID] = i
	}
	c.remaining = max(att.Quiz.TimeLimit, 0) * 60
	c.startedAt = c.clock.Now()
	c.state = InProgress
	slog.Debug("quiz attempt started", "quiz", quizID, "attempt", att.AttemptID,
		"questions", len(att.Questions), "seconds", c.remaining)
	return nil
}

// SelectAnswer records option for questionID, replacing any earlier choice.
func (c *Controller) SelectAnswer(questionID string, option int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != InProgress {
		return ErrNotActive
	}
	i, ok := c.byID[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if option < 0 || option >= len(c.questions[i].Options) {
		return ErrOptionOutOfRange
	}
	c.answers[questionID] = option
	return nil
}

// Advance moves the current question by direction, clamped to the question
// list, and returns the new index.
func (c *Controller) Advance(direction int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seek(c.current + direction)
}

// Seek jumps to question i, clamped to the question list.
func (c *Controller) Seek(i int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seek(i)
}

func (c *Controller) seek(i int) int {
	if c.state == NotStarted || len(c.questions) == 0 {
		return c.current
	}
	c.current = min(max(i, 0), len(c.questions)-1)
	return c.current
}

// Tick takes one second off the countdown. When the countdown reaches zero
// and nothing is in flight, the attempt is submitted automatically, once.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	if (c.state != InProgress && c.state != Submitting) || len(c.questions) == 0 {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	fire := c.remaining == 0 && c.state == InProgress && !c.inFlight && !c.autoSubmitted
	c.mu.Unlock()

	if fire {
		slog.Info("time is up, submitting attempt", "attempt", c.AttemptID())
		if err := c.submit(ctx, true); err != nil {
			slog.Warn("auto-submit failed", "attempt", c.AttemptID(), "error", err)
		}
	}
}

// Submit sends the current answers for grading.
func (c *Controller) Submit(ctx context.Context) error {
	return c.submit(ctx, false)
}

func (c *Controller) submit(ctx context.Context, auto bool) error {
	c.mu.Lock()
	switch {
	case c.inFlight || c.state == Submitting:
		c.mu.Unlock()
		return ErrSubmitInFlight
	case c.state != InProgress:
		c.mu.Unlock()
		return ErrNotActive
	case len(c.questions) == 0:
		c.mu.Unlock()
		return ErrNoQuestions
	case auto && c.autoSubmitted:
		c.mu.Unlock()
		return nil
	}
	if auto {
		c.autoSubmitted = true
	}
	c.inFlight = true
	c.state = Submitting
	sub := model.Submission{AttemptID: c.attemptID, Answers: maps.Clone(c.answers)}
	c.mu.Unlock()

	res, err := c.backend.SubmitQuiz(ctx, sub)

	c.mu.Lock()
	c.inFlight = false
	if err == nil {
		c.result = res
		c.lastErr = nil
		c.state = Finished
		c.finishLocked()
		c.mu.Unlock()
		return nil
	}

	serr := &SubmissionError{AttemptID: c.attemptID, Auto: auto, Err: err}
	c.lastErr = serr
	switch {
	case auto || nonRetryable(err):
		serr.Terminal = true
		c.state = Abandoned
		c.finishLocked()
		c.mu.Unlock()
		return serr
	case c.remaining == 0 && !c.autoSubmitted:
		// Time ran out while the manual submit was in flight.
		c.state = InProgress
		c.mu.Unlock()
		slog.Info("submit failed after time expired, forcing submit", "attempt", sub.AttemptID, "error", err)
		// The failed request may have died with its caller; the forced submit must not.
		return c.submit(context.WithoutCancel(ctx), true)
	default:
		c.state = InProgress
		c.mu.Unlock()
		return serr
	}
}

// nonRetryable errors mean resubmitting the same attempt cannot succeed: the
// backend already graded it, or the user is no longer signed in.
func nonRetryable(err error) bool {
	return api.IsAuthExpired(err) || api.StatusCode(err) == http.StatusConflict
}

func (c *Controller) finishLocked() {
	c.endedAt = c.clock.Now()
	c.doneOnce.Do(func() { close(c.done) })
}

// Cancel abandons an unfinished attempt without submitting it.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Finished || c.state == Abandoned {
		return
	}
	c.state = Abandoned
	c.finishLocked()
}

// Run drives the countdown from the clock until the attempt ends or ctx is
// cancelled. It returns immediately for an empty quiz.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	idle := c.state != InProgress || len(c.questions) == 0
	expired := c.remaining == 0
	c.mu.Unlock()
	if idle {
		return
	}

	t := c.clock.NewTicker(time.Second)
	defer t.Stop()
	if expired {
		c.Tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C():
			c.Tick(ctx)
		}
	}
}

// Done is closed when the attempt is finished or abandoned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// AttemptID returns the backend attempt id, empty before Start.
func (c *Controller) AttemptID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attemptID
}

// EndedAt returns when the attempt finished or was abandoned.
func (c *Controller) EndedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endedAt, !c.endedAt.IsZero()
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	State     State
	QuizID    string
	AttemptID string
	Quiz      model.Quiz
	Questions []model.Question
	Current   int
	Answers   map[string]int
	Remaining int
	InFlight  bool
	StartedAt time.Time
	Result    *model.GradedResult
	Err       error
}

// Snapshot returns the current state. Questions are shared and must not be modified.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		QuizID:    c.quizID,
		AttemptID: c.attemptID,
		Quiz:      c.quiz,
		Questions: c.questions,
		Current:   c.current,
		Answers:   maps.Clone(c.answers),
		Remaining: c.remaining,
		InFlight:  c.inFlight,
		StartedAt: c.startedAt,
		Result:    c.result,
		Err:       c.lastErr,
	}
}

// Empty reports a started attempt without questions.
func (s Snapshot) Empty() bool { return s.State != NotStarted && len(s.Questions) == 0 }

// Question returns the current question, or nil.
func (s Snapshot) Question() *model.Question {
	if s.Current < 0 || s.Current >= len(s.Questions) {
		return nil
	}
	return &s.Questions[s.Current]
}

// Selected returns the recorded option for questionID.
func (s Snapshot) Selected(questionID string) (int, bool) {
	v, ok := s.Answers[questionID]
	return v, ok
}

// IsSelected reports whether option is the recorded choice for questionID.
func (s Snapshot) IsSelected(questionID string, option int) bool {
	v, ok := s.Answers[questionID]
	return ok && v == option
}

// CanProceed reports whether the current question has been answered.
func (s Snapshot) CanProceed() bool {
	q := s.Question()
	if q == nil {
		return false
	}
	_, ok := s.Answers[q.ID]
	return ok
}

// IsLast reports whether the current question is the last one.
func (s Snapshot) IsLast() bool { return s.Current == len(s.Questions)-1 }

// Terminal reports whether the last submission failure ended the attempt.
func (s Snapshot) Terminal() bool {
	var se *SubmissionError
	return errors.As(s.Err, &se) && se.Terminal
}
