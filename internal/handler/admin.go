package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/medcode/internal/api"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
)

type AdminOverview struct {
	Users    int
	Chapters int
	Quizzes  int
	Attempts int
	PassRate float64
	Reports  []model.QuizReport
}

type AdminChapters struct {
	Chapters []model.Chapter
	Editing  *model.Chapter
}

type AdminLessons struct {
	Chapters  []model.Chapter
	ChapterID string
	Lessons   []model.Lesson
	Editing   *model.Lesson
}

type AdminQuizzes struct {
	Quizzes  []model.Quiz
	Chapters []model.Chapter
	Editing  *model.Quiz
}

// AdminQuestions lists the questions of a quiz (editable) or of a chapter's bank.
type AdminQuestions struct {
	Heading      string
	QuizID       string
	Back         string
	Questions    []model.Question
	Editing      *model.Question
	Difficulties []model.Difficulty
}

// Slots enumerates the fixed option positions of the question form.
func (a AdminQuestions) Slots() []int {
	s := make([]int, model.OptionCount)
	for i := range s {
		s[i] = i
	}
	return s
}

// Option returns option i of the question being edited.
func (a AdminQuestions) Option(i int) string {
	if a.Editing == nil || i >= len(a.Editing.Options) {
		return ""
	}
	return a.Editing.Options[i]
}

// IsCorrect reports whether option i is marked correct in the form.
func (a AdminQuestions) IsCorrect(i int) bool {
	if a.Editing == nil {
		return i == 0
	}
	return a.Editing.CorrectAnswer == i
}

type AdminUpload struct {
	Chapters []model.Chapter
	Quizzes  []model.Quiz
}

type AdminReports struct {
	Reports  []model.QuizReport
	Attempts []model.AttemptSummary
	PassRate float64
}

func (h *Handler) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var (
		users    []model.User
		chapters []model.Chapter
		quizzes  []model.Quiz
		attempts []model.AttemptSummary
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { users, err = s.Users(ctx); return })
	g.Go(func() (err error) { chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { quizzes, err = s.Quizzes(ctx); return })
	g.Go(func() (err error) { attempts, err = s.AllAttempts(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "admin_overview", "AdminOverview", "admin", AdminOverview{
		Users:    len(users),
		Chapters: len(chapters),
		Quizzes:  len(quizzes),
		Attempts: len(attempts),
		PassRate: model.PassRate(attempts),
		Reports:  model.BuildQuizReports(attempts),
	})
}

// Chapters

func (h *Handler) handleAdminChapters(w http.ResponseWriter, r *http.Request) {
	chapters, err := h.backend(r).Chapters(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Order < chapters[j].Order })
	data := AdminChapters{Chapters: chapters}
	if id := r.URL.Query().Get("edit"); id != "" {
		for i := range chapters {
			if chapters[i].ID == id {
				data.Editing = &chapters[i]
			}
		}
	}
	h.render(w, r, http.StatusOK, "admin_chapters", "Chapters", "admin", data)
}

func (h *Handler) handleCreateChapter(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard/admin/chapters"
	var in api.ChapterInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	if _, err := h.backend(r).CreateChapter(r.Context(), in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleUpdateChapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chapterID")
	const back = "/dashboard/admin/chapters"
	var in api.ChapterInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, back+"?edit="+url.QueryEscape(id))
		return
	}
	if _, err := h.backend(r).UpdateChapter(r.Context(), id, in); err != nil {
		h.fail(w, r, err, back+"?edit="+url.QueryEscape(id))
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleDeleteChapter(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard/admin/chapters"
	if err := h.backend(r).DeleteChapter(r.Context(), chi.URLParam(r, "chapterID")); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.deleted(w, r, back)
}

func (h *Handler) handleChapterQuestions(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	s := h.backend(r)
	var (
		chapter   *model.Chapter
		questions []model.Question
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { chapter, err = s.Chapter(ctx, chapterID); return })
	g.Go(func() (err error) { questions, err = s.ChapterQuestions(ctx, chapterID); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "admin_questions", "QuestionBank", "admin", AdminQuestions{
		Heading:   chapter.Title,
		Back:      "/dashboard/admin/chapters/" + chapterID + "/questions",
		Questions: questions,
	})
}

// Lessons

func (h *Handler) handleAdminLessons(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	chapters, err := s.Chapters(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Order < chapters[j].Order })
	data := AdminLessons{Chapters: chapters, ChapterID: r.URL.Query().Get("chapter")}
	if data.ChapterID == "" && len(chapters) > 0 {
		data.ChapterID = chapters[0].ID
	}
	if data.ChapterID != "" {
		data.Lessons, err = s.LessonsByChapter(r.Context(), data.ChapterID)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		sort.SliceStable(data.Lessons, func(i, j int) bool { return data.Lessons[i].Order < data.Lessons[j].Order })
	}
	if id := r.URL.Query().Get("edit"); id != "" {
		for i := range data.Lessons {
			if data.Lessons[i].ID == id {
				data.Editing = &data.Lessons[i]
			}
		}
	}
	h.render(w, r, http.StatusOK, "admin_lessons", "Lessons", "admin", data)
}

func lessonsPath(chapterID string) string {
	return "/dashboard/admin/lessons?chapter=" + url.QueryEscape(chapterID)
}

func (h *Handler) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	var in api.LessonInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, lessonsPath(r.FormValue("chapter_id")))
		return
	}
	back := lessonsPath(in.ChapterID)
	if _, err := h.backend(r).CreateLesson(r.Context(), in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleUpdateLesson(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "lessonID")
	var in api.LessonInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, lessonsPath(r.FormValue("chapter_id")))
		return
	}
	back := lessonsPath(in.ChapterID)
	if _, err := h.backend(r).UpdateLesson(r.Context(), id, in); err != nil {
		h.fail(w, r, err, back+"&edit="+url.QueryEscape(id))
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleDeleteLesson(w http.ResponseWriter, r *http.Request) {
	back := lessonsPath(r.FormValue("chapter_id"))
	if err := h.backend(r).DeleteLesson(r.Context(), chi.URLParam(r, "lessonID")); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.deleted(w, r, back)
}

// Quizzes

func (h *Handler) handleAdminQuizzes(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var data AdminQuizzes
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { data.Quizzes, err = s.Quizzes(ctx); return })
	g.Go(func() (err error) { data.Chapters, err = s.Chapters(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	if id := r.URL.Query().Get("edit"); id != "" {
		for i := range data.Quizzes {
			if data.Quizzes[i].ID == id {
				data.Editing = &data.Quizzes[i]
			}
		}
	}
	h.render(w, r, http.StatusOK, "admin_quizzes", "Quizzes", "admin", data)
}

func (h *Handler) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard/admin/quizzes"
	var in api.QuizInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	q, err := h.backend(r).CreateQuiz(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.saved(w, r, "/dashboard/admin/quizzes/"+q.ID+"/questions")
}

func (h *Handler) handleUpdateQuiz(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "quizID")
	const back = "/dashboard/admin/quizzes"
	var in api.QuizInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, back+"?edit="+url.QueryEscape(id))
		return
	}
	if _, err := h.backend(r).UpdateQuiz(r.Context(), id, in); err != nil {
		h.fail(w, r, err, back+"?edit="+url.QueryEscape(id))
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard/admin/quizzes"
	if err := h.backend(r).DeleteQuiz(r.Context(), chi.URLParam(r, "quizID")); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.deleted(w, r, back)
}

// Questions

func (h *Handler) handleQuizQuestions(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	s := h.backend(r)
	var (
		q         *model.Quiz
		questions []model.Question
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { q, err = s.Quiz(ctx, quizID); return })
	g.Go(func() (err error) { questions, err = s.QuizQuestions(ctx, quizID); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	data := AdminQuestions{
		Heading:      q.Title,
		QuizID:       quizID,
		Back:         "/dashboard/admin/quizzes/" + quizID + "/questions",
		Questions:    questions,
		Difficulties: []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard},
	}
	if id := r.URL.Query().Get("edit"); id != "" {
		for i := range questions {
			if questions[i].ID == id {
				data.Editing = &questions[i]
			}
		}
	}
	h.render(w, r, http.StatusOK, "admin_questions", "Questions", "admin", data)
}

// questionsBack returns the page a question form came from.
func questionsBack(r *http.Request) string {
	back := r.FormValue("back")
	if u, err := url.Parse(back); err != nil || u.IsAbs() || u.Host != "" || len(back) == 0 || back[0] != '/' {
		return "/dashboard/admin/quizzes"
	}
	return back
}

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "quizID")
	back := "/dashboard/admin/quizzes/" + quizID + "/questions"
	var in api.QuestionInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	if _, err := h.backend(r).AddQuestion(r.Context(), quizID, in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "questionID")
	back := questionsBack(r)
	var in api.QuestionInput
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	if _, err := h.backend(r).UpdateQuestion(r.Context(), id, in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.saved(w, r, back)
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	back := questionsBack(r)
	if err := h.backend(r).DeleteQuestion(r.Context(), chi.URLParam(r, "questionID")); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.deleted(w, r, back)
}

// Bulk upload

func (h *Handler) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var data AdminUpload
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { data.Chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { data.Quizzes, err = s.Quizzes(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "admin_upload", "BulkUpload", "admin", data)
}

// handleUpload forwards a question file to the backend, refusing a file that
// was already imported unchanged under the same name.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	const back = "/dashboard/admin/upload"
	ctx := r.Context()
	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		h.flash(w, r, flashError, appI18n.T(ctx, "UploadTooLarge"))
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.flash(w, r, flashError, appI18n.T(ctx, "UploadNoFile"))
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxUploadSize+1))
	if err != nil {
		h.fail(w, r, err, back)
		return
	}
	if int64(len(data)) > h.config.MaxUploadSize {
		h.flash(w, r, flashError, appI18n.T(ctx, "UploadTooLarge"))
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.imports.GetImportedFileHash(header.Filename)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		h.fail(w, r, err, back)
		return
	}
	if storedHash == hash {
		h.flash(w, r, flashError, appI18n.T(ctx, "UploadDuplicate"))
		http.Redirect(w, r, h.path(back), http.StatusSeeOther)
		return
	}

	in := api.BulkUpload{Filename: header.Filename, Data: data}
	if err := decodeValues(r.MultipartForm.Value, &in); err != nil {
		h.fail(w, r, err, back)
		return
	}
	res, err := h.backend(r).BulkUploadQuestions(ctx, in)
	if err != nil {
		h.fail(w, r, err, back)
		return
	}

	if err := h.imports.SetImportedFileHash(header.Filename, hash, in.ChapterID); err != nil {
		slog.Error("failed to record import", "error", err)
	}
	slog.Info("uploaded questions via admin", "filename", header.Filename, "inserted", res.Inserted, "skipped", res.Skipped)

	msg := res.Message
	if msg == "" {
		msg = appI18n.Tp(ctx, "UploadSuccess", res.Inserted)
	}
	h.flash(w, r, flashSuccess, msg)
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}

// Users and reports

func (h *Handler) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.backend(r).Users(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "admin_users", "Users", "admin", users)
}

func (h *Handler) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.backend(r).AllAttempts(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	sort.SliceStable(attempts, func(i, j int) bool { return attempts[i].CreatedAt.After(attempts[j].CreatedAt) })
	h.render(w, r, http.StatusOK, "admin_reports", "Reports", "admin", AdminReports{
		Reports:  model.BuildQuizReports(attempts),
		Attempts: attempts,
		PassRate: model.PassRate(attempts),
	})
}

func (h *Handler) saved(w http.ResponseWriter, r *http.Request, back string) {
	h.flash(w, r, flashSuccess, appI18n.T(r.Context(), "Saved"))
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}

func (h *Handler) deleted(w http.ResponseWriter, r *http.Request, back string) {
	h.flash(w, r, flashSuccess, appI18n.T(r.Context(), "Deleted"))
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}
