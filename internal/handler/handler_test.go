package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/medcode/internal/api"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/quiz"
	"github.com/pavelanni/medcode/internal/session"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeBackend is a minimal stand-in for the learning platform API.
type fakeBackend struct {
	mu          sync.Mutex
	submissions []model.Submission
	uploads     int

	noTimeLeft bool   // attempts start with the countdown already at zero
	gradeError string // when set, /quiz/submit answers 503 with this message
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in api.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "secret123" {
			writeEnvelope(w, http.StatusUnauthorized, false, "Invalid credentials", nil)
			return
		}
		role := model.UserRoleStudent
		if strings.HasPrefix(in.Email, "admin") {
			role = model.UserRoleAdmin
		}
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "r-" + string(role), HttpOnly: true})
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{
			"accessToken": "tok-" + string(role),
			"user":        model.User{ID: "u-" + string(role), Name: "Pat", Email: in.Email, Role: role},
		})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "Logged out", nil)
	})
	mux.HandleFunc("GET /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, false, "Refresh token expired", nil)
	})

	authed := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
				writeEnvelope(w, http.StatusUnauthorized, false, "Unauthorized", nil)
				return
			}
			fn(w, r)
		}
	}
	mux.HandleFunc("GET /chapters", authed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", []model.Chapter{{ID: "c1", Title: "ICD-10 Basics"}})
	}))
	mux.HandleFunc("GET /quiz", authed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", []model.Quiz{testQuiz()})
	}))
	mux.HandleFunc("GET /quiz/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "q1" {
			writeEnvelope(w, http.StatusNotFound, false, "Quiz not found", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, true, "", testQuiz())
	}))
	mux.HandleFunc("POST /quiz/{id}/start", authed(func(w http.ResponseWriter, r *http.Request) {
		q := testQuiz()
		b.mu.Lock()
		if b.noTimeLeft {
			q.TimeLimit = 0
		}
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, true, "", model.StartedAttempt{
			AttemptID: "att-1",
			Quiz:      q,
			Questions: []model.Question{
				{ID: "q1", Question: "Which chapter covers neoplasms?", Options: []string{"1", "2", "3", "4"}, Marks: 1},
				{ID: "q2", Question: "What does CPT stand for?", Options: []string{"a", "b", "c", "d"}, Marks: 1},
			},
		})
	}))
	mux.HandleFunc("POST /quiz/submit", authed(func(w http.ResponseWriter, r *http.Request) {
		var sub model.Submission
		_ = json.NewDecoder(r.Body).Decode(&sub)
		b.mu.Lock()
		b.submissions = append(b.submissions, sub)
		gradeError := b.gradeError
		b.mu.Unlock()
		if gradeError != "" {
			writeEnvelope(w, http.StatusServiceUnavailable, false, gradeError, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, true, "", model.GradedResult{
			Score: 2, Total: 2, Percentage: 100, Passed: true, TimeTaken: 42,
		})
	}))
	mux.HandleFunc("POST /quiz/bulk-upload", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.uploads++
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, true, "", api.BulkUploadResult{Inserted: 12})
	}))
	return http.StripPrefix("/api", mux)
}

func (b *fakeBackend) submitted() []model.Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Submission(nil), b.submissions...)
}

func (b *fakeBackend) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

func testQuiz() model.Quiz {
	return model.Quiz{ID: "q1", Title: "Coding Fundamentals", ChapterID: "c1", TimeLimit: 10, TotalMarks: 2, PassPercentage: 70}
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": success, "message": msg, "data": data})
}

// memLedger is an in-memory ImportLedger.
type memLedger struct {
	mu     sync.Mutex
	hashes map[string]string
}

func (l *memLedger) GetImportedFileHash(path string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hashes[path], nil
}

func (l *memLedger) SetImportedFileHash(path, hash, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes[path] = hash
	return nil
}

// browser drives the front-end like a user agent that keeps cookies but
// does not follow redirects.
type browser struct {
	t    *testing.T
	srv  *httptest.Server
	http *http.Client
}

type testEnv struct {
	backend  *fakeBackend
	registry *quiz.Registry
	browser  *browser
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fb := &fakeBackend{}
	apiSrv := httptest.NewServer(fb.handler())
	t.Cleanup(apiSrv.Close)

	cfg := model.FrontendConfig{SessionTTL: time.Hour, MaxUploadSize: 1 << 20}
	registry := quiz.NewRegistry(quiz.RealClock(), time.Minute)
	cookies := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))

	var h *Handler
	client := api.New(apiSrv.URL+"/api", session.NewCache(nil, cfg.SessionTTL),
		api.WithLogoutHook(func(ctx context.Context, sid string) { h.OnLogout(ctx, sid) }))
	h, err := New(client, registry, &memLedger{hashes: map[string]string{}}, cookies, cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		backend:  fb,
		registry: registry,
		browser: &browser{t: t, srv: srv, http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}},
	}
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.http.Get(b.srv.URL + path)
	require.NoError(b.t, err)
	return resp, readAll(b.t, resp)
}

func (b *browser) csrfToken() string {
	u, _ := url.Parse(b.srv.URL)
	for _, c := range b.http.Jar.Cookies(u) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	return ""
}

// post submits a form, adding the CSRF token the last response issued.
func (b *browser) post(path string, form url.Values) *http.Response {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if form.Get("csrf_token") == "" {
		form.Set("csrf_token", b.csrfToken())
	}
	resp, err := b.http.PostForm(b.srv.URL+path, form)
	require.NoError(b.t, err)
	readAll(b.t, resp)
	return resp
}

func (b *browser) login(email string) {
	b.t.Helper()
	b.get("/login")
	resp := b.post("/login", url.Values{"email": {email}, "password": {"secret123"}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(b.t, "/dashboard", resp.Header.Get("Location"))
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestDashboardRequiresSignIn(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.browser.get("/dashboard/quizzes")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.browser.get("/login")
	resp := env.browser.post("/login", url.Values{
		"email": {"pat@example.com"}, "password": {"secret123"}, "csrf_token": {"forged"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoginFailureRerendersForm(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser
	b.get("/login")
	form := url.Values{"email": {"pat@example.com"}, "password": {"wrong"}, "csrf_token": {b.csrfToken()}}
	resp, err := b.http.PostForm(b.srv.URL+"/login", form)
	require.NoError(t, err)
	body := readAll(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid credentials")
	assert.Contains(t, body, `value="pat@example.com"`)
}

func TestSignedInUserSkipsLoginPage(t *testing.T) {
	env := newTestEnv(t)
	env.browser.login("pat@example.com")
	resp, _ := env.browser.get("/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestQuizAttemptFlow(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser
	b.login("pat@example.com")

	resp, body := b.get("/dashboard/quizzes/q1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Start quiz")

	resp = b.post("/dashboard/quizzes/q1/start", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard/quizzes/q1", resp.Header.Get("Location"))
	assert.Equal(t, 1, env.registry.Len())

	resp, body = b.get("/dashboard/quizzes/q1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Which chapter covers neoplasms?")
	assert.Contains(t, body, "10:00")

	resp = b.post("/dashboard/quizzes/q1/answer", url.Values{
		"question_id": {"q1"}, "option": {"1"}, "action": {"next"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body = b.get("/dashboard/quizzes/q1")
	assert.Contains(t, body, "What does CPT stand for?")
	assert.Contains(t, body, "1 question answered")

	b.post("/dashboard/quizzes/q1/answer", url.Values{
		"question_id": {"q2"}, "option": {"0"}, "action": {"save"},
	})

	resp = b.post("/dashboard/quizzes/q1/submit", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard/quizzes/q1/result", resp.Header.Get("Location"))

	subs := env.backend.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "att-1", subs[0].AttemptID)
	assert.Equal(t, map[string]int{"q1": 1, "q2": 0}, subs[0].Answers)

	resp, body = b.get("/dashboard/quizzes/q1/result")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Passed")
	assert.Contains(t, body, "0:42")

	// A second submit finds the attempt finished and does not reach the backend.
	resp = b.post("/dashboard/quizzes/q1/submit", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Len(t, env.backend.submitted(), 1)
}

func TestInvalidAnswerIsFlashed(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser
	b.login("pat@example.com")
	b.get("/dashboard/quizzes/q1")
	b.post("/dashboard/quizzes/q1/start", nil)

	resp := b.post("/dashboard/quizzes/q1/answer", url.Values{"question_id": {"q1"}, "option": {"7"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body := b.get("/dashboard/quizzes/q1")
	assert.Contains(t, body, "That answer could not be recorded.")
	assert.Contains(t, body, "0 questions answered")
}

func TestNextNeedsAnAnswer(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser
	b.login("pat@example.com")
	b.get("/dashboard/quizzes/q1")
	b.post("/dashboard/quizzes/q1/start", nil)

	resp := b.post("/dashboard/quizzes/q1/answer", url.Values{"question_id": {"q1"}, "action": {"next"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	_, body := b.get("/dashboard/quizzes/q1")
	assert.Contains(t, body, "Choose an answer before moving to the next question.")
	assert.Contains(t, body, "Which chapter covers neoplasms?")
}

func TestLostAttemptIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.backend.noTimeLeft = true
	env.backend.gradeError = "Grading service unavailable"
	b := env.browser
	b.login("pat@example.com")
	b.get("/dashboard/quizzes/q1")
	resp := b.post("/dashboard/quizzes/q1/start", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	// The countdown submits on its own and the backend refuses it.
	require.Eventually(t, func() bool { return len(env.backend.submitted()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := b.http.Get(b.srv.URL + "/dashboard/quizzes/q1")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusSeeOther
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, env.registry.Len())

	resp, body := b.get("/dashboard/quizzes/q1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Grading service unavailable")
	assert.Contains(t, body, "Start quiz")
	assert.Len(t, env.backend.submitted(), 1, "a lost attempt is not resubmitted")
}

func TestLogoutDropsRunningQuiz(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser
	b.login("pat@example.com")
	b.get("/dashboard/quizzes/q1")
	b.post("/dashboard/quizzes/q1/start", nil)
	require.Equal(t, 1, env.registry.Len())

	resp := b.post("/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, 0, env.registry.Len())

	resp, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestAdminConsoleRequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	env.browser.login("pat@example.com")
	resp, _ := env.browser.get("/dashboard/admin/upload")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func (b *browser) upload(filename string, content []byte) *http.Response {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(b.t, mw.WriteField("csrf_token", b.csrfToken()))
	require.NoError(b.t, mw.WriteField("chapter_id", "c1"))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(b.t, err)
	_, err = fw.Write(content)
	require.NoError(b.t, err)
	require.NoError(b.t, mw.Close())

	resp, err := b.http.Post(b.srv.URL+"/dashboard/admin/upload", mw.FormDataContentType(), &buf)
	require.NoError(b.t, err)
	readAll(b.t, resp)
	return resp
}

func TestUploadSkipsAlreadyImportedFile(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser
	b.login("admin@example.com")

	resp, _ := b.get("/dashboard/admin/upload")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pdf := []byte("%PDF-1.4 questions")
	resp = b.upload("questions.pdf", pdf)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body := b.get("/dashboard/admin/upload")
	assert.Contains(t, body, "Imported 12 questions.")

	b.upload("questions.pdf", pdf)
	_, body = b.get("/dashboard/admin/upload")
	assert.Contains(t, body, "This file was already imported.")
	assert.Equal(t, 1, env.backend.uploadCount())

	// Same name, new content goes through.
	b.upload("questions.pdf", []byte("%PDF-1.4 revised"))
	assert.Equal(t, 2, env.backend.uploadCount())
}
