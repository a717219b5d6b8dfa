package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/pavelanni/medcode/internal/api"
	"github.com/pavelanni/medcode/internal/handler/views"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/session"
)

const (
	cookieSessionName = "medcode"
	csrfCookieName    = "csrf_token"
	sidKey            = "sid"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

// issueCSRFToken sets a fresh token cookie and exposes it to templates.
func (h *Handler) issueCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return r, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return r.WithContext(model.ContextWithCSRFToken(r.Context(), token)), true
}

func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			cookie, err := r.Cookie(csrfCookieName)
			if err != nil || cookie.Value == "" {
				slog.Warn("CSRF cookie missing")
				http.Error(w, "csrf token missing", http.StatusForbidden)
				return
			}

			formToken := r.FormValue("csrf_token")
			if formToken == "" {
				slog.Warn("CSRF form token missing")
				http.Error(w, "csrf token missing", http.StatusForbidden)
				return
			}

			if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
				slog.Warn("CSRF token mismatch")
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}
		}

		r, ok := h.issueCSRFToken(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionMiddleware assigns every browser an opaque session id, kept in a
// signed cookie. The id keys the AuthSession cache and the quiz registry.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := h.cookies.Get(r, cookieSessionName)
		if err != nil {
			slog.Debug("discarding unreadable session cookie", "error", err)
		}
		sid, _ := s.Values[sidKey].(string)
		if sid == "" {
			sid = session.NewID()
			s.Values[sidKey] = sid
			if err := s.Save(r, w); err != nil {
				slog.Error("failed to save session cookie", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		ctx := model.ContextWithSessionID(r.Context(), sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// setSessionID rebinds the browser to sid, used after sign-in and sign-out.
func (h *Handler) setSessionID(w http.ResponseWriter, r *http.Request, sid string) {
	s, _ := h.cookies.Get(r, cookieSessionName)
	s.Values[sidKey] = sid
	if err := s.Save(r, w); err != nil {
		slog.Error("failed to save session cookie", "error", err)
	}
}

// requireAuth restores the AuthSession of the browser, refreshing the access
// token if only the refresh cookie survived, and redirects to login otherwise.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.backend(r).Bootstrap(r.Context())
		if err != nil {
			if !api.IsAuthExpired(err) {
				slog.Error("failed to restore session", "error", err)
			}
			h.redirectToLogin(w, r)
			return
		}
		if !sess.IsAuthenticated() {
			h.redirectToLogin(w, r)
			return
		}

		ctx := model.ContextWithUser(r.Context(), sess.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireGuest keeps signed-in users away from the auth pages.
func (h *Handler) requireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.backend(r).Auth(r.Context())
		if err == nil && sess.IsAuthenticated() {
			http.Redirect(w, r, h.path("/dashboard"), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginPath := h.path("/login")
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", loginPath)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login", "SignIn", "", nil)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in api.LoginRequest
	if err := decodeForm(r, &in); err != nil {
		h.renderFormError(w, r, "login", "SignIn", err)
		return
	}

	// A fresh id on sign-in so a pre-login cookie can't be reused.
	sid := session.NewID()
	user, err := h.client.Session(sid).Login(r.Context(), in)
	if err != nil {
		h.renderFormError(w, r, "login", "SignIn", err)
		return
	}
	h.quizzes.Drop(model.SessionIDFromContext(r.Context()))
	h.setSessionID(w, r, sid)
	slog.Info("user signed in", "user", user.ID, "role", user.Role)
	http.Redirect(w, r, h.path("/dashboard"), http.StatusSeeOther)
}

func (h *Handler) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register", "Register", "", nil)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in api.RegisterRequest
	if err := decodeForm(r, &in); err != nil {
		h.renderFormError(w, r, "register", "Register", err)
		return
	}
	msg, err := h.backend(r).Register(r.Context(), in)
	if err != nil {
		h.renderFormError(w, r, "register", "Register", err)
		return
	}
	if msg == "" {
		msg = appI18n.T(r.Context(), "RegisterSuccess")
	}
	h.flash(w, r, flashSuccess, msg)
	http.Redirect(w, r, h.path("/verify-otp?email=", url.QueryEscape(in.Email)), http.StatusSeeOther)
}

func (h *Handler) handleVerifyOTPPage(w http.ResponseWriter, r *http.Request) {
	p := views.NewPage(r.Context(), "VerifyEmail", "", nil)
	p.Flashes = h.takeFlashes(w, r)
	p.Form = url.Values{"email": {r.URL.Query().Get("email")}}
	h.renderPage(w, r, http.StatusOK, "verify_otp", p)
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in api.VerifyOTPRequest
	if err := decodeForm(r, &in); err != nil {
		h.renderFormError(w, r, "verify_otp", "VerifyEmail", err)
		return
	}
	sid := session.NewID()
	if _, err := h.client.Session(sid).VerifyOTP(r.Context(), in); err != nil {
		h.renderFormError(w, r, "verify_otp", "VerifyEmail", err)
		return
	}
	h.setSessionID(w, r, sid)
	http.Redirect(w, r, h.path("/dashboard"), http.StatusSeeOther)
}

func (h *Handler) handleForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "forgot_password", "ForgotPassword", "", nil)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in api.ForgotPasswordRequest
	if err := decodeForm(r, &in); err != nil {
		h.renderFormError(w, r, "forgot_password", "ForgotPassword", err)
		return
	}
	msg, err := h.backend(r).ForgotPassword(r.Context(), in)
	if err != nil {
		h.renderFormError(w, r, "forgot_password", "ForgotPassword", err)
		return
	}
	if msg == "" {
		msg = appI18n.T(r.Context(), "ResetLinkSent")
	}
	h.flash(w, r, flashSuccess, msg)
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) handleResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	p := views.NewPage(r.Context(), "ResetPassword", "", nil)
	p.Flashes = h.takeFlashes(w, r)
	p.Form = url.Values{"token": {r.URL.Query().Get("token")}}
	h.renderPage(w, r, http.StatusOK, "reset_password", p)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in api.ResetPasswordRequest
	if err := decodeForm(r, &in); err != nil {
		h.renderFormError(w, r, "reset_password", "ResetPassword", err)
		return
	}
	msg, err := h.backend(r).ResetPassword(r.Context(), in)
	if err != nil {
		h.renderFormError(w, r, "reset_password", "ResetPassword", err)
		return
	}
	if msg == "" {
		msg = appI18n.T(r.Context(), "PasswordResetDone")
	}
	h.flash(w, r, flashSuccess, msg)
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.backend(r).Logout(r.Context()); err != nil {
		slog.Warn("backend logout failed, session cleared locally", "error", err)
	}
	h.setSessionID(w, r, session.NewID())
	h.flash(w, r, flashSuccess, appI18n.T(r.Context(), "LoggedOut"))
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}
