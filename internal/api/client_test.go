package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/session"
	"github.com/pavelanni/medcode/internal/validate"
)

var testUser = &model.User{ID: "u1", Name: "Dana", Email: "dana@example.com", Role: model.UserRoleStudent}

// backend is a scripted stand-in for the REST API mounted under /api.
type backend struct {
	mu           sync.Mutex
	validToken   string
	refreshToken string
	refreshFails bool
	refreshCalls int
	refreshGate  chan struct{} // when set, refresh waits for it to close
	lastAuth     string
	lastReqID    string
	mux          *http.ServeMux
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{validToken: "fresh", refreshToken: "r1", mux: http.NewServeMux()}
	b.mux.HandleFunc("GET /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refreshCalls++
		fails, gate := b.refreshFails, b.refreshGate
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		ck, err := r.Cookie("refreshToken")
		if fails || err != nil || ck.Value != b.refreshToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Refresh token expired"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "r2", HttpOnly: true})
		writeData(w, map[string]any{"accessToken": b.validToken, "user": testUser})
	})
	b.mux.HandleFunc("GET /chapters", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Token expired"})
			return
		}
		writeData(w, []model.Chapter{{ID: "c1", Title: "ICD-10 Basics"}})
	})
	srv := httptest.NewServer(http.StripPrefix("/api", b.mux))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) authorized(r *http.Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAuth = r.Header.Get("Authorization")
	b.lastReqID = r.Header.Get("X-Request-ID")
	return b.lastAuth == "Bearer "+b.validToken
}

func (b *backend) refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) (*Client, *session.Cache) {
	t.Helper()
	cache := session.NewCache(nil, time.Hour)
	return New(srv.URL+"/api", cache, opts...), cache
}

func seed(t *testing.T, cache *session.Cache, id, access, refresh string) {
	t.Helper()
	require.NoError(t, cache.Put(context.Background(), &model.AuthSession{
		ID: id, AccessToken: access, RefreshToken: refresh, User: testUser,
	}))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestRequestAttachesBearerToken(t *testing.T) {
	b, srv := newBackend(t)
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "fresh", "r1")

	chapters, err := c.Session("s1").Chapters(context.Background())
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, "ICD-10 Basics", chapters[0].Title)
	assert.Equal(t, "Bearer fresh", b.lastAuth)
	assert.NotEmpty(t, b.lastReqID)
	assert.Equal(t, 0, b.refreshes())
}

func TestPresetAuthorizationIsKept(t *testing.T) {
	b, srv := newBackend(t)
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "cached", "r1")

	req, err := c.NewRequest(context.Background(), http.MethodGet, "/chapters", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer fresh")

	var out []model.Chapter
	require.NoError(t, c.Session("s1").Do(req, &out))
	assert.Equal(t, "Bearer fresh", b.lastAuth)
}

func TestExpiredTokenRefreshesAndRetries(t *testing.T) {
	b, srv := newBackend(t)
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "stale", "r1")

	chapters, err := c.Session("s1").Chapters(context.Background())
	require.NoError(t, err, "the user should not observe the expired token")
	assert.Len(t, chapters, 1)
	assert.Equal(t, 1, b.refreshes())

	sess, err := cache.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sess.AccessToken)
	assert.Equal(t, "r2", sess.RefreshToken, "rotated refresh cookie is kept")
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	b, srv := newBackend(t)
	var loggedOut []string
	var mu sync.Mutex
	c, cache := newTestClient(t, srv, WithLogoutHook(func(_ context.Context, id string) {
		mu.Lock()
		loggedOut = append(loggedOut, id)
		mu.Unlock()
	}))
	seed(t, cache, "s1", "stale", "r1")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Session("s1").Chapters(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, 1, b.refreshes(), "the rotated refresh cookie must be used only once")
	assert.Empty(t, loggedOut)
}

func TestCancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	b, srv := newBackend(t)
	gate := make(chan struct{})
	b.refreshGate = gate
	var loggedOut []string
	var mu sync.Mutex
	c, cache := newTestClient(t, srv, WithLogoutHook(func(_ context.Context, id string) {
		mu.Lock()
		loggedOut = append(loggedOut, id)
		mu.Unlock()
	}))
	seed(t, cache, "s1", "stale", "r1")

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Session("s1").Chapters(ctxA)
		errA <- err
	}()
	require.Eventually(t, func() bool { return b.refreshes() == 1 }, 5*time.Second, 5*time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		_, err := c.Session("s1").Chapters(context.Background())
		errB <- err
	}()

	cancelA()
	err := <-errA
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsAuthExpired(err))

	close(gate)
	require.NoError(t, <-errB)

	assert.Equal(t, 1, b.refreshes())
	sess, err := cache.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, sess, "session must survive a cancelled waiter")
	assert.Equal(t, "fresh", sess.AccessToken)
	mu.Lock()
	assert.Empty(t, loggedOut)
	mu.Unlock()
}

// putFails is a token store whose full writes fail.
type putFails struct {
	*session.Cache
	mu    sync.Mutex
	calls int
}

func (p *putFails) Put(context.Context, *model.AuthSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("disk full")
}

func TestRefreshedUserWriteFailureKeepsRequestAlive(t *testing.T) {
	b, srv := newBackend(t)
	cache := session.NewCache(nil, time.Hour)
	seed(t, cache, "s1", "stale", "r1")
	store := &putFails{Cache: cache}
	c := New(srv.URL+"/api", store)

	chapters, err := c.Session("s1").Chapters(context.Background())
	require.NoError(t, err)
	assert.Len(t, chapters, 1)
	assert.Equal(t, 1, b.refreshes())
	store.mu.Lock()
	assert.Equal(t, 1, store.calls, "the refreshed user is written back once")
	store.mu.Unlock()

	sess, err := cache.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sess.AccessToken, "token rotation does not depend on the user write")
}

func TestRefreshFailureLogsOut(t *testing.T) {
	b, srv := newBackend(t)
	b.refreshFails = true

	var loggedOut []string
	c, cache := newTestClient(t, srv, WithLogoutHook(func(_ context.Context, id string) {
		loggedOut = append(loggedOut, id)
	}))
	seed(t, cache, "s1", "stale", "r1")

	_, err := c.Session("s1").Chapters(context.Background())
	require.Error(t, err)

	var ae *AuthExpiredError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Equal(t, 1, b.refreshes(), "refresh is never retried")
	assert.Equal(t, []string{"s1"}, loggedOut)

	sess, err := cache.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, sess, "session is cleared")

	// A further request without a session fails without another refresh.
	_, err = c.Session("s1").Chapters(context.Background())
	assert.True(t, IsAuthExpired(err))
	assert.Equal(t, 2, len(loggedOut))
	assert.Equal(t, 1, b.refreshes())
}

func TestRetryRejectedDoesNotRefreshAgain(t *testing.T) {
	b, srv := newBackend(t)
	b.validToken = "never-accepted"
	b.mux.HandleFunc("GET /progress", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "nope"})
	})
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "stale", "r1")

	_, err := c.Session("s1").Progress(context.Background())
	assert.True(t, IsAuthExpired(err))
	assert.Equal(t, 1, b.refreshes())
}

func TestProactiveRefreshCountsAsTheOnlyRefresh(t *testing.T) {
	b, srv := newBackend(t)
	b.validToken = "never-accepted"
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", signedToken(t, time.Now().Add(-time.Minute)), "r1")

	_, err := c.Session("s1").Chapters(context.Background())
	assert.True(t, IsAuthExpired(err))
	assert.Equal(t, 1, b.refreshes())
}

func TestValidTokenIsNotRefreshed(t *testing.T) {
	b, srv := newBackend(t)
	tok := signedToken(t, time.Now().Add(time.Hour))
	b.validToken = tok
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", tok, "r1")

	_, err := c.Session("s1").Chapters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, b.refreshes())
}

func TestLoginStoresSession(t *testing.T) {
	b, srv := newBackend(t)
	b.mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "correct-horse" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "r1", HttpOnly: true})
		writeData(w, map[string]any{"accessToken": "fresh", "user": testUser})
	})
	c, cache := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.Session("s1").Login(ctx, LoginRequest{Email: "dana@example.com", Password: "wrong"})
	var re *RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "Invalid credentials", re.UserMessage("fallback"))
	assert.Equal(t, 0, b.refreshes(), "bad credentials never trigger a refresh")

	u, err := c.Session("s1").Login(ctx, LoginRequest{Email: "dana@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	sess, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.IsAuthenticated())
	assert.Equal(t, "fresh", sess.AccessToken)
	assert.Equal(t, "r1", sess.RefreshToken)
}

func TestLoginValidationHappensBeforeRequest(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	t.Cleanup(srv.Close)
	c, _ := newTestClient(t, srv)

	_, err := c.Session("s1").Login(context.Background(), LoginRequest{Email: "not-an-email"})
	var ve *validate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields, "password")
	assert.Equal(t, 0, calls)
}

func TestBootstrapFromRefreshCookieOnly(t *testing.T) {
	b, srv := newBackend(t)
	b.mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, nil)
			return
		}
		writeData(w, testUser)
	})
	c, cache := newTestClient(t, srv)
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, &model.AuthSession{ID: "s1", RefreshToken: "r1"}))

	sess, err := c.Session("s1").Bootstrap(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "fresh", sess.AccessToken)
	assert.Equal(t, "dana@example.com", sess.User.Email)
	assert.Equal(t, 1, b.refreshes())

	none, err := c.Session("unknown").Bootstrap(ctx)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestRequestErrorFallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "fresh", "r1")

	_, err := c.Session("s1").Quizzes(context.Background())
	var re *RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusInternalServerError, re.Status)
	assert.Equal(t, "Something went wrong", re.UserMessage("Something went wrong"))
}

func TestInvalidResponseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]any{{"title": "no id"}})
	}))
	t.Cleanup(srv.Close)
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "fresh", "r1")

	_, err := c.Session("s1").Chapters(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestBareResponseWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []model.Quiz{{ID: "q1", Title: "Modifiers", TimeLimit: 20}})
	}))
	t.Cleanup(srv.Close)
	c, cache := newTestClient(t, srv)
	seed(t, cache, "s1", "fresh", "r1")

	quizzes, err := c.Session("s1").Quizzes(context.Background())
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.Equal(t, 20, quizzes[0].TimeLimit)
}

func TestLogoutClearsSessionEvenOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	var hooked bool
	c, cache := newTestClient(t, srv, WithLogoutHook(func(context.Context, string) { hooked = true }))
	seed(t, cache, "s1", "fresh", "r1")

	err := c.Session("s1").Logout(context.Background())
	assert.Error(t, err)
	assert.True(t, hooked)
	sess, _ := cache.Get(context.Background(), "s1")
	assert.Nil(t, sess)
}
