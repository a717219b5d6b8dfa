package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/pavelanni/medcode/internal/api"
	"github.com/pavelanni/medcode/internal/handler/views"
	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/quiz"
)

// ImportLedger remembers which bulk-upload files were already forwarded.
type ImportLedger interface {
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash, chapterID string) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	client  *api.Client
	quizzes *quiz.Registry
	imports ImportLedger
	cookies sessions.Store
	config  model.FrontendConfig
}

// New creates a new Handler.
func New(client *api.Client, quizzes *quiz.Registry, imports ImportLedger, cookies sessions.Store, cfg model.FrontendConfig) (*Handler, error) {
	return &Handler{client: client, quizzes: quizzes, imports: imports, cookies: cookies, config: cfg}, nil
}

// OnLogout is registered with the API client; it drops the running quiz of a
// session that was logged out.
func (h *Handler) OnLogout(_ context.Context, sessionID string) {
	h.quizzes.Drop(sessionID)
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.sessionMiddleware)
	r.Use(h.csrfMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, h.path("/dashboard"), http.StatusSeeOther)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireGuest)
		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Get("/register", h.handleRegisterPage)
		r.Post("/register", h.handleRegister)
		r.Get("/verify-otp", h.handleVerifyOTPPage)
		r.Post("/verify-otp", h.handleVerifyOTP)
		r.Get("/forgot-password", h.handleForgotPasswordPage)
		r.Post("/forgot-password", h.handleForgotPassword)
		r.Get("/reset-password", h.handleResetPasswordPage)
		r.Post("/reset-password", h.handleResetPassword)
	})
	r.Post("/logout", h.handleLogout)

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.handleDashboard)
		r.Get("/my-courses", h.handleMyCourses)
		r.Get("/modules", h.handleModules)
		r.Get("/courses/{chapterID}", h.handleCourse)
		r.Get("/lessons/{lessonID}", h.handleLesson)
		r.Post("/lessons/{lessonID}/complete", h.handleCompleteLesson)
		r.Get("/analytics", h.handleAnalytics)
		r.Get("/certificates", h.handleCertificates)
		r.Get("/leaderboard", h.handleLeaderboard)

		r.Get("/quizzes", h.handleQuizList)
		r.Get("/quizzes/{quizID}", h.handleQuizPage)
		r.Post("/quizzes/{quizID}/start", h.handleStartQuiz)
		r.Post("/quizzes/{quizID}/answer", h.handleAnswer)
		r.Post("/quizzes/{quizID}/submit", h.handleSubmitQuiz)
		r.Get("/quizzes/{quizID}/result", h.handleQuizResult)

		r.Get("/settings", h.handleSettingsPage)
		r.Post("/settings/profile", h.handleUpdateProfile)
		r.Post("/settings/password", h.handleChangePassword)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/", h.handleAdminOverview)
			r.Get("/chapters", h.handleAdminChapters)
			r.Post("/chapters", h.handleCreateChapter)
			r.Post("/chapters/{chapterID}", h.handleUpdateChapter)
			r.Post("/chapters/{chapterID}/delete", h.handleDeleteChapter)
			r.Get("/chapters/{chapterID}/questions", h.handleChapterQuestions)
			r.Get("/lessons", h.handleAdminLessons)
			r.Post("/lessons", h.handleCreateLesson)
			r.Post("/lessons/{lessonID}", h.handleUpdateLesson)
			r.Post("/lessons/{lessonID}/delete", h.handleDeleteLesson)
			r.Get("/quizzes", h.handleAdminQuizzes)
			r.Post("/quizzes", h.handleCreateQuiz)
			r.Post("/quizzes/{quizID}", h.handleUpdateQuiz)
			r.Post("/quizzes/{quizID}/delete", h.handleDeleteQuiz)
			r.Get("/quizzes/{quizID}/questions", h.handleQuizQuestions)
			r.Post("/quizzes/{quizID}/questions", h.handleAddQuestion)
			r.Post("/questions/{questionID}", h.handleUpdateQuestion)
			r.Post("/questions/{questionID}/delete", h.handleDeleteQuestion)
			r.Get("/upload", h.handleUploadPage)
			r.Post("/upload", h.handleUpload)
			r.Get("/users", h.handleAdminUsers)
			r.Get("/reports", h.handleAdminReports)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes an absolute route with the base path.
func (h *Handler) path(p ...string) string {
	return h.config.BasePath + strings.Join(p, "")
}

// backend returns the API handle for the browser session of r.
func (h *Handler) backend(r *http.Request) *api.Session {
	return h.client.Session(model.SessionIDFromContext(r.Context()))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title, nav string, data any) {
	p := views.NewPage(r.Context(), title, nav, data)
	p.Flashes = h.takeFlashes(w, r)
	h.renderPage(w, r, status, name, p)
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, p *views.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.Render(name, p).Render(r.Context(), w); err != nil {
		slog.Error("render error", "page", name, "error", err)
	}
}
