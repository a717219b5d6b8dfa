package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/medcode/internal/api"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/quiz"
)

// QuizCard is one row of the quiz list.
type QuizCard struct {
	Quiz     model.Quiz
	Chapter  string
	Attempts int
	Best     float64
}

// ResultRow pairs a question with its graded outcome.
type ResultRow struct {
	Question   model.Question
	Result     model.AnswerResult
	Answered   bool
	Selected   int
	HasCorrect bool
	Correct    int
}

type ResultData struct {
	Quiz   model.Quiz
	Result *model.GradedResult
	Rows   []ResultRow
}

func resultRows(snap quiz.Snapshot) []ResultRow {
	rows := make([]ResultRow, 0, len(snap.Questions))
	for _, q := range snap.Questions {
		row := ResultRow{Question: q}
		res, graded := snap.Result.ResultFor(q.ID)
		if graded {
			row.Result = res
		}
		sel, ok := snap.Selected(q.ID)
		if graded && res.SelectedAnswer != nil {
			sel, ok = *res.SelectedAnswer, true
		}
		if ok && sel >= 0 && sel < len(q.Options) {
			row.Answered, row.Selected = true, sel
		}
		if graded && res.CorrectAnswer != nil && *res.CorrectAnswer >= 0 && *res.CorrectAnswer < len(q.Options) {
			row.HasCorrect, row.Correct = true, *res.CorrectAnswer
		}
		rows = append(rows, row)
	}
	return rows
}

func (h *Handler) handleQuizList(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var (
		quizzes  []model.Quiz
		chapters []model.Chapter
		attempts []model.AttemptSummary
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { quizzes, err = s.Quizzes(ctx); return })
	g.Go(func() (err error) { chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { attempts, err = s.MyAttempts(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}

	titles := make(map[string]string, len(chapters))
	for _, c := range chapters {
		titles[c.ID] = c.Title
	}
	cards := make([]QuizCard, 0, len(quizzes))
	for _, q := range quizzes {
		card := QuizCard{Quiz: q, Chapter: titles[q.ChapterID]}
		for _, a := range attempts {
			if a.QuizID != q.ID {
				continue
			}
			card.Attempts++
			card.Best = max(card.Best, a.Percentage)
		}
		cards = append(cards, card)
	}
	h.render(w, r, http.StatusOK, "quizzes", "Quizzes", "quizzes", cards)
}

// running returns the attempt this browser has open for quizID, or nil.
func (h *Handler) running(r *http.Request, quizID string) *quiz.Controller {
	ctrl := h.quizzes.Get(model.SessionIDFromContext(r.Context()))
	if ctrl == nil || ctrl.Snapshot().QuizID != quizID {
		return nil
	}
	return ctrl
}

func (h *Handler) handleQuizPage(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	if ctrl := h.running(r, quizID); ctrl != nil {
		snap := ctrl.Snapshot()
		switch snap.State {
		case quiz.Finished:
			http.Redirect(w, r, h.path("/dashboard/quizzes/", quizID, "/result"), http.StatusSeeOther)
			return
		case quiz.InProgress, quiz.Submitting:
			h.render(w, r, http.StatusOK, "quiz", "Quizzes", "quizzes", snap)
			return
		case quiz.Abandoned:
			// Usually the countdown's submit failed while nobody was watching.
			slog.Warn("quiz attempt lost", "attempt", snap.AttemptID, "error", snap.Err)
			h.quizzes.Drop(model.SessionIDFromContext(r.Context()))
			h.flash(w, r, flashError, lostAttemptMessage(r, snap.Err))
			http.Redirect(w, r, h.path("/dashboard/quizzes/", quizID), http.StatusSeeOther)
			return
		}
	}

	q, err := h.backend(r).Quiz(r.Context(), quizID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "quiz_intro", "Quizzes", "quizzes", q)
}

func (h *Handler) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	sid := model.SessionIDFromContext(r.Context())
	if _, err := h.quizzes.Start(r.Context(), sid, h.backend(r), quizID); err != nil {
		// Back to the intro page, whose start button is the retry.
		h.fail(w, r, err, "/dashboard/quizzes/"+quizID)
		return
	}
	http.Redirect(w, r, h.path("/dashboard/quizzes/", quizID), http.StatusSeeOther)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	back := "/dashboard/quizzes/" + quizID
	ctrl := h.running(r, quizID)
	if ctrl == nil {
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
		return
	}

	if opt := r.FormValue("option"); opt != "" {
		option, err := strconv.Atoi(opt)
		if err != nil {
			option = -1
		}
		if err := ctrl.SelectAnswer(r.FormValue("question_id"), option); err != nil {
			h.answerError(w, r, err, back)
			return
		}
	}

	switch r.FormValue("action") {
	case "prev":
		ctrl.Advance(-1)
	case "next":
		if !ctrl.Snapshot().CanProceed() {
			h.flash(w, r, flashError, appI18n.T(r.Context(), "AnswerFirst"))
			break
		}
		ctrl.Advance(1)
	}
	if idx := r.FormValue("index"); idx != "" {
		if i, err := strconv.Atoi(idx); err == nil {
			ctrl.Seek(i)
		}
	}
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}

func (h *Handler) answerError(w http.ResponseWriter, r *http.Request, err error, back string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, quiz.ErrNotActive):
		h.flash(w, r, flashError, appI18n.T(ctx, "QuizNotActive"))
	default:
		h.flash(w, r, flashError, appI18n.T(ctx, "InvalidAnswer"))
	}
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}

func (h *Handler) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	back := "/dashboard/quizzes/" + quizID
	ctrl := h.running(r, quizID)
	if ctrl == nil {
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
		return
	}

	err := ctrl.Submit(r.Context())
	var se *quiz.SubmissionError
	switch {
	case err == nil:
		http.Redirect(w, r, h.path(back, "/result"), http.StatusSeeOther)
	case errors.Is(err, quiz.ErrSubmitInFlight):
		h.flash(w, r, flashError, appI18n.T(r.Context(), "SubmitInFlight"))
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
	case errors.Is(err, quiz.ErrNotActive):
		// The countdown got there first.
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
	case errors.As(err, &se) && se.Terminal:
		slog.Warn("quiz attempt abandoned", "attempt", se.AttemptID, "error", se.Err)
		h.quizzes.Drop(model.SessionIDFromContext(r.Context()))
		h.fail(w, r, err, "/dashboard/quizzes")
	case errors.As(err, &se):
		h.flash(w, r, flashError, appI18n.T(r.Context(), "SubmitFailed"))
		h.fail(w, r, se.Err, back)
	default:
		h.fail(w, r, err, back)
	}
}

// lostAttemptMessage is the backend's reason for the failed submit, or a
// generic notice that the attempt is gone.
func lostAttemptMessage(r *http.Request, err error) string {
	fallback := appI18n.T(r.Context(), "AttemptLost")
	var re *api.RequestError
	if errors.As(err, &re) {
		return re.UserMessage(fallback)
	}
	return fallback
}

func (h *Handler) handleQuizResult(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	ctrl := h.running(r, quizID)
	if ctrl == nil {
		http.Redirect(w, r, h.path("/dashboard/quizzes/", quizID), http.StatusSeeOther)
		return
	}
	snap := ctrl.Snapshot()
	if snap.State != quiz.Finished || snap.Result == nil {
		http.Redirect(w, r, h.path("/dashboard/quizzes/", quizID), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "quiz_result", "Quizzes", "quizzes", ResultData{
		Quiz:   snap.Quiz,
		Result: snap.Result,
		Rows:   resultRows(snap),
	})
}
