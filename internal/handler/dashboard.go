package handler

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
)

// CourseCard is a chapter with the user's progress through it.
type CourseCard struct {
	Chapter  model.Chapter
	Progress model.ChapterProgress
}

type DashboardData struct {
	Courses          []CourseCard
	Quizzes          []model.Quiz
	Stats            model.AttemptStats
	CompletedLessons int
}

type CoursesData struct {
	Courses []CourseCard
}

// ModuleView is a chapter with its lessons.
type ModuleView struct {
	Chapter  model.Chapter
	Lessons  []model.Lesson
	progress *model.Progress
}

func (m ModuleView) Completed(lessonID string) bool { return m.progress.Completed(lessonID) }

type ModulesData struct {
	Modules []ModuleView
}

type CourseData struct {
	Chapter  model.Chapter
	Lessons  []model.Lesson
	Quizzes  []model.Quiz
	Progress model.ChapterProgress
	progress *model.Progress
}

func (c CourseData) Completed(lessonID string) bool { return c.progress.Completed(lessonID) }

type LessonData struct {
	Lesson    model.Lesson
	Completed bool
	Prev      *model.Lesson
	Next      *model.Lesson
}

type AnalyticsData struct {
	Courses []CourseCard
	Stats   model.AttemptStats
}

func courseCards(chapters []model.Chapter, progress *model.Progress) []CourseCard {
	sorted := make([]model.Chapter, len(chapters))
	copy(sorted, chapters)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	cards := make([]CourseCard, 0, len(sorted))
	for _, c := range sorted {
		cards = append(cards, CourseCard{Chapter: c, Progress: progress.ForChapter(c.ID)})
	}
	return cards
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var (
		chapters []model.Chapter
		progress *model.Progress
		quizzes  []model.Quiz
		attempts []model.AttemptSummary
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { progress, err = s.Progress(ctx); return })
	g.Go(func() (err error) { quizzes, err = s.Quizzes(ctx); return })
	g.Go(func() (err error) { attempts, err = s.MyAttempts(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, "dashboard", "Dashboard", "dashboard", DashboardData{
		Courses:          courseCards(chapters, progress),
		Quizzes:          quizzes,
		Stats:            model.ComputeAttemptStats(attempts),
		CompletedLessons: len(progress.CompletedLessons),
	})
}

func (h *Handler) handleMyCourses(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var (
		chapters []model.Chapter
		progress *model.Progress
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { progress, err = s.Progress(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "my_courses", "MyCourses", "courses", CoursesData{Courses: courseCards(chapters, progress)})
}

func (h *Handler) handleModules(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	ctx := r.Context()
	chapters, err := s.Chapters(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	cards := courseCards(chapters, nil)

	modules := make([]ModuleView, len(cards))
	var progress *model.Progress
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() (err error) { progress, err = s.Progress(gctx); return })
	for i, c := range cards {
		modules[i].Chapter = c.Chapter
		g.Go(func() (err error) {
			modules[i].Lessons, err = s.LessonsByChapter(gctx, c.Chapter.ID)
			return
		})
	}
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	for i := range modules {
		modules[i].progress = progress
	}
	h.render(w, r, http.StatusOK, "modules", "Modules", "modules", ModulesData{Modules: modules})
}

func (h *Handler) handleCourse(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	s := h.backend(r)
	var (
		chapter  *model.Chapter
		lessons  []model.Lesson
		quizzes  []model.Quiz
		progress *model.Progress
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { chapter, err = s.Chapter(ctx, chapterID); return })
	g.Go(func() (err error) { lessons, err = s.LessonsByChapter(ctx, chapterID); return })
	g.Go(func() (err error) { quizzes, err = s.Quizzes(ctx); return })
	g.Go(func() (err error) { progress, err = s.Progress(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}

	var own []model.Quiz
	for _, q := range quizzes {
		if q.ChapterID == chapterID {
			own = append(own, q)
		}
	}
	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Order < lessons[j].Order })
	h.render(w, r, http.StatusOK, "course", "MyCourses", "courses", CourseData{
		Chapter:  *chapter,
		Lessons:  lessons,
		Quizzes:  own,
		Progress: progress.ForChapter(chapterID),
		progress: progress,
	})
}

func (h *Handler) handleLesson(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonID")
	s := h.backend(r)
	var (
		lesson   *model.Lesson
		progress *model.Progress
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { lesson, err = s.Lesson(ctx, lessonID); return })
	g.Go(func() (err error) { progress, err = s.Progress(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}

	data := LessonData{Lesson: *lesson, Completed: progress.Completed(lesson.ID)}
	if lesson.ChapterID != "" {
		siblings, err := s.LessonsByChapter(r.Context(), lesson.ChapterID)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].Order < siblings[j].Order })
		for i, l := range siblings {
			if l.ID != lesson.ID {
				continue
			}
			if i > 0 {
				data.Prev = &siblings[i-1]
			}
			if i+1 < len(siblings) {
				data.Next = &siblings[i+1]
			}
		}
	}
	h.render(w, r, http.StatusOK, "lesson", "Lesson", "modules", data)
}

func (h *Handler) handleCompleteLesson(w http.ResponseWriter, r *http.Request) {
	lessonID := chi.URLParam(r, "lessonID")
	back := "/dashboard/lessons/" + lessonID
	if err := h.backend(r).CompleteLesson(r.Context(), lessonID); err != nil {
		h.fail(w, r, err, back)
		return
	}
	h.flash(w, r, flashSuccess, appI18n.T(r.Context(), "LessonCompleted"))
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var (
		chapters []model.Chapter
		progress *model.Progress
		attempts []model.AttemptSummary
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { progress, err = s.Progress(ctx); return })
	g.Go(func() (err error) { attempts, err = s.MyAttempts(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "analytics", "Analytics", "analytics", AnalyticsData{
		Courses: courseCards(chapters, progress),
		Stats:   model.ComputeAttemptStats(attempts),
	})
}

func (h *Handler) handleCertificates(w http.ResponseWriter, r *http.Request) {
	s := h.backend(r)
	var (
		chapters []model.Chapter
		progress *model.Progress
		attempts []model.AttemptSummary
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { chapters, err = s.Chapters(ctx); return })
	g.Go(func() (err error) { progress, err = s.Progress(ctx); return })
	g.Go(func() (err error) { attempts, err = s.MyAttempts(ctx); return })
	if err := g.Wait(); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "certificates", "Certificates", "certificates",
		model.DeriveCertificates(chapters, progress, attempts))
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.backend(r).Leaderboard(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "leaderboard", "Leaderboard", "leaderboard", entries)
}
