package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level as issued by the backend.
type UserRole string

const (
	// UserRoleStudent is a learner taking courses and quizzes.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin manages curriculum, questions and users.
	UserRoleAdmin UserRole = "admin"
)

// User is the backend's view of the signed-in account.
type User struct {
	ID    string   `json:"id" validate:"required"`
	Name  string   `json:"name"`
	Email string   `json:"email" validate:"required"`
	Role  UserRole `json:"role" validate:"required,oneof=student admin"`
}

// IsAdmin reports whether the user may open the admin console.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}

// AuthSession is the per-browser (or per-CLI) authentication state.
//
// AccessToken is the short-lived bearer token; RefreshToken is the value of the
// backend's http-only refreshToken cookie, held here on behalf of the browser.
type AuthSession struct {
	ID              string    `json:"id"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	User            *User     `json:"user,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	AccessExpiresAt time.Time `json:"access_expires_at,omitzero"`
}

// IsAuthenticated reports whether the session carries a user and a token.
func (s *AuthSession) IsAuthenticated() bool {
	return s != nil && s.User != nil && (s.AccessToken != "" || s.RefreshToken != "")
}

// Clone returns a deep copy so callers can't mutate cached state.
func (s *AuthSession) Clone() *AuthSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	return &c
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type sessionIDCtxKey struct{}

// ContextWithSessionID stores the browser session id in context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDCtxKey{}, id)
}

// SessionIDFromContext returns the browser session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDCtxKey{}).(string)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// FrontendConfig holds runtime parameters of the web front-end set via CLI flags.
type FrontendConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/learn")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	SessionTTL    time.Duration
	MaxUploadSize int64 // bulk upload limit in bytes
}
