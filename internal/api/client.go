// Package api is the authenticated client of the learning platform's REST backend.
//
// Every call goes through Session.Do, which attaches the cached bearer token
// and, on a 401, trades the refresh cookie for a new access token exactly once
// before retrying the original request. A failed refresh logs the session out.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/medcode/internal/model"
)

const (
	refreshCookieName = "refreshToken"
	refreshPath       = "/auth/refresh"
	defaultTimeout    = 30 * time.Second
	refreshTimeout    = 15 * time.Second
)

// noRefreshPaths answer 401 for bad credentials, not for an expired token.
var noRefreshPaths = map[string]bool{
	"/auth/login":           true,
	"/auth/register":        true,
	"/auth/verify-otp":      true,
	"/auth/forgot-password": true,
	"/auth/reset-password":  true,
	refreshPath:             true,
}

// TokenStore is the two-tier session cache the client reads tokens from.
type TokenStore interface {
	Get(ctx context.Context, id string) (*model.AuthSession, error)
	Put(ctx context.Context, sess *model.AuthSession) error
	UpdateTokens(ctx context.Context, id, access, refresh string, accessExpires time.Time) error
	Delete(ctx context.Context, id string) error
}

// LogoutHook runs after a session has been cleared.
type LogoutHook func(ctx context.Context, sessionID string)

// Client is shared by all sessions; it is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenStore
	refresh  singleflight.Group
	onLogout []LogoutHook
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogoutHook registers fn to run whenever a session is logged out,
// whether by the user or by an unrecoverable refresh failure.
func WithLogoutHook(fn LogoutHook) Option {
	return func(c *Client) { c.onLogout = append(c.onLogout, fn) }
}

// New creates a client for the backend rooted at baseURL (e.g. "http://localhost:5000/api").
func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns a handle scoped to one auth session id.
func (c *Client) Session(id string) *Session {
	return &Session{c: c, id: id}
}

// Session issues requests on behalf of one auth session.
type Session struct {
	c  *Client
	id string
}

// ID returns the auth session id.
func (s *Session) ID() string { return s.id }

// Auth returns a copy of the cached AuthSession, or nil.
func (s *Session) Auth(ctx context.Context) (*model.AuthSession, error) {
	return s.c.tokens.Get(ctx, s.id)
}

// NewRequest builds a request against the backend. body is JSON-encoded unless
// it is an io.Reader, in which case contentType must be set by the caller.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var (
		rd          io.Reader
		contentType string
	)
	switch b := body.(type) {
	case nil:
	case *bytes.Buffer:
		rd = bytes.NewReader(b.Bytes())
	case io.Reader:
		rd = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// Request sends method/path with a JSON body and decodes the response data into out.
func (s *Session) Request(ctx context.Context, method, path string, body, out any) error {
	req, err := s.c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return s.Do(req, out)
}

// Do sends req with the session's bearer token unless an Authorization header
// is already set. On 401 it refreshes once and retries once; a second failure
// returns *AuthExpiredError and logs the session out.
func (s *Session) Do(req *http.Request, out any) error {
	ctx := req.Context()
	attach := req.Header.Get("Authorization") == ""
	canRefresh := !noRefreshPaths[s.c.pathOf(req)]
	refreshed := false

	var token string
	if attach {
		sess, err := s.c.tokens.Get(ctx, s.id)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess != nil {
			token = sess.AccessToken
			if canRefresh && token != "" && sess.RefreshToken != "" && s.c.tokenExpired(token) {
				slog.Debug("access token expired, refreshing before request", "session", s.id)
				newToken, err := s.refreshOnce(ctx, token)
				if err != nil {
					if ctx.Err() != nil {
						return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ctx.Err())
					}
					s.c.logout(ctx, s.id)
					return &AuthExpiredError{Err: fmt.Errorf("access token expired"), RefreshErr: err}
				}
				token = newToken
				refreshed = true
			}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusUnauthorized || !canRefresh {
		return decodeResponse(req, resp, out)
	}

	body, _ := readBody(resp)
	origErr := newRequestError(req, resp.StatusCode, body)
	if refreshed {
		s.c.logout(ctx, s.id)
		return &AuthExpiredError{Err: origErr}
	}

	newToken, err := s.refreshOnce(ctx, strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "))
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; the session itself is fine.
			return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ctx.Err())
		}
		slog.Info("token refresh failed, logging out", "session", s.id, "error", err)
		s.c.logout(ctx, s.id)
		return &AuthExpiredError{Err: origErr, RefreshErr: err}
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return err
	}
	if attach {
		retry.Header.Set("Authorization", "Bearer "+newToken)
	}
	resp, err = s.c.http.Do(retry)
	if err != nil {
		return fmt.Errorf("%s %s (retry): %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := readBody(resp)
		s.c.logout(ctx, s.id)
		return &AuthExpiredError{Err: newRequestError(retry, resp.StatusCode, body)}
	}
	return decodeResponse(retry, resp, out)
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("%s %s: request body cannot be replayed", req.Method, req.URL.Path)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("X-Request-ID", uuid.NewString())
	return retry, nil
}

// pathOf strips the base URL's own path so noRefreshPaths can match.
func (c *Client) pathOf(req *http.Request) string {
	p := req.URL.Path
	if i := strings.Index(c.baseURL, "://"); i >= 0 {
		rest := c.baseURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			p = strings.TrimPrefix(p, rest[j:])
		}
	}
	return p
}

// tokenExpired reads the exp claim without verifying the signature; the
// backend remains the authority, this only saves a guaranteed 401.
func (c *Client) tokenExpired(token string) bool {
	exp, ok := tokenExpiry(token)
	return ok && !c.now().Before(exp)
}

func tokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// refreshOnce coalesces concurrent refreshes of the same session into one call.
// stale is the access token the caller saw rejected; a request that lost the
// race to a refresh that already finished picks up the new token instead.
// The shared call is detached from ctx so one waiter leaving does not fail the
// refresh for the others; a cancelled ctx only stops this caller waiting.
func (s *Session) refreshOnce(ctx context.Context, stale string) (string, error) {
	ch := s.c.refresh.DoChan(s.id, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.c.doRefresh(rctx, s.id, stale)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// tokenResponse is what login, OTP verification and refresh return.
type tokenResponse struct {
	AccessToken string      `json:"accessToken"`
	User        *model.User `json:"user"`
}

// doRefresh calls GET /auth/refresh with the stored refresh cookie. It never
// goes through Do, so a failing refresh can't trigger another refresh.
func (c *Client) doRefresh(ctx context.Context, id, stale string) (string, error) {
	sess, err := c.tokens.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}
	if sess.AccessToken != "" && sess.AccessToken != stale && !c.tokenExpired(sess.AccessToken) {
		return sess.AccessToken, nil
	}

	req, err := c.NewRequest(ctx, http.MethodGet, refreshPath, nil)
	if err != nil {
		return "", err
	}
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: sess.RefreshToken})
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	var tr tokenResponse
	if err := decodeResponse(req, resp, &tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh returned no access token", ErrInvalidResponse)
	}

	exp, _ := tokenExpiry(tr.AccessToken)
	if err := c.tokens.UpdateTokens(ctx, id, tr.AccessToken, refreshCookie(resp), exp); err != nil {
		return "", err
	}
	if tr.User != nil {
		if updated, err := c.tokens.Get(ctx, id); err == nil && updated != nil {
			updated.User = tr.User
			if err := c.tokens.Put(ctx, updated); err != nil {
				slog.Warn("failed to store refreshed user", "session", id, "error", err)
			}
		}
	}
	slog.Debug("refreshed access token", "session", id)
	return tr.AccessToken, nil
}

func refreshCookie(resp *http.Response) string {
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookieName && ck.MaxAge >= 0 {
			return ck.Value
		}
	}
	return ""
}

// logout clears the session and runs hooks. Cancellation of the request
// context must not leave a half-cleared session behind.
func (c *Client) logout(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := c.tokens.Delete(ctx, id); err != nil {
		slog.Error("failed to clear session", "session", id, "error", err)
	}
	for _, fn := range c.onLogout {
		fn(ctx, id)
	}
}
