package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/validate"
)

// Login exchanges credentials for a token pair and stores a new AuthSession
// under this session's id.
func (s *Session) Login(ctx context.Context, in LoginRequest) (*model.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	return s.exchange(ctx, "/auth/login", in)
}

// VerifyOTP confirms a registration code; the backend signs the user in on success.
func (s *Session) VerifyOTP(ctx context.Context, in VerifyOTPRequest) (*model.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	return s.exchange(ctx, "/auth/verify-otp", in)
}

// exchange posts credentials and turns the token response into a session.
func (s *Session) exchange(ctx context.Context, path string, body any) (*model.User, error) {
	req, err := s.c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := s.c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	var tr tokenResponse
	if err := decodeResponse(req, resp, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s returned no access token", ErrInvalidResponse, path)
	}

	sess := &model.AuthSession{
		ID:           s.id,
		AccessToken:  tr.AccessToken,
		RefreshToken: refreshCookie(resp),
		User:         tr.User,
	}
	sess.AccessExpiresAt, _ = tokenExpiry(tr.AccessToken)
	if sess.User == nil {
		if err := s.c.tokens.Put(ctx, sess); err != nil {
			return nil, err
		}
		u, err := s.Me(ctx)
		if err != nil {
			return nil, err
		}
		sess.User = u
	}
	if err := s.c.tokens.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess.User, nil
}

// Register creates an account; the backend answers with a confirmation message
// and emails a one-time code.
func (s *Session) Register(ctx context.Context, in RegisterRequest) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", err
	}
	return s.postMessage(ctx, "/auth/register", in)
}

// ForgotPassword asks the backend to email a reset link.
func (s *Session) ForgotPassword(ctx context.Context, in ForgotPasswordRequest) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", err
	}
	return s.postMessage(ctx, "/auth/forgot-password", in)
}

// ResetPassword sets a new password using the emailed token.
func (s *Session) ResetPassword(ctx context.Context, in ResetPasswordRequest) (string, error) {
	if err := validate.Struct(in); err != nil {
		return "", err
	}
	return s.postMessage(ctx, "/auth/reset-password", in)
}

func (s *Session) postMessage(ctx context.Context, path string, body any) (string, error) {
	req, err := s.c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	resp, err := s.c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", path, err)
	}
	data, err := readBody(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newRequestError(req, resp.StatusCode, data)
	}
	return messageOf(data), nil
}

// Me returns the user the backend associates with the current token.
func (s *Session) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := s.Request(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Bootstrap restores a session after a reload: a session holding only a
// refresh cookie is silently refreshed, and a missing user is fetched.
// It returns nil, nil when there is nothing to restore.
func (s *Session) Bootstrap(ctx context.Context) (*model.AuthSession, error) {
	sess, err := s.c.tokens.Get(ctx, s.id)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		if _, err := s.refreshOnce(ctx, ""); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.c.logout(ctx, s.id)
			return nil, &AuthExpiredError{Err: fmt.Errorf("no access token"), RefreshErr: err}
		}
	}
	if sess.User == nil {
		u, err := s.Me(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.setUser(ctx, u); err != nil {
			return nil, err
		}
	}
	return s.c.tokens.Get(ctx, s.id)
}

// Logout tells the backend to revoke the refresh token and always clears the
// local session, even when the backend call fails.
func (s *Session) Logout(ctx context.Context) error {
	sess, _ := s.c.tokens.Get(ctx, s.id)
	req, err := s.c.NewRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		s.c.logout(ctx, s.id)
		return err
	}
	if sess != nil {
		if sess.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		}
		if sess.RefreshToken != "" {
			req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: sess.RefreshToken})
		}
	}
	resp, err := s.c.http.Do(req)
	s.c.logout(ctx, s.id)
	if err != nil {
		return fmt.Errorf("POST /auth/logout: %w", err)
	}
	return decodeResponse(req, resp, nil)
}

// UpdateProfile changes name/email and refreshes the cached user.
func (s *Session) UpdateProfile(ctx context.Context, in ProfileUpdate) (*model.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	var u model.User
	if err := s.Request(ctx, http.MethodPatch, "/auth/profile", in, &u); err != nil {
		return nil, err
	}
	if err := s.setUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword updates the password of the signed-in user.
func (s *Session) ChangePassword(ctx context.Context, in PasswordChange) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	return s.Request(ctx, http.MethodPatch, "/auth/password", in, nil)
}

func (s *Session) setUser(ctx context.Context, u *model.User) error {
	sess, err := s.c.tokens.Get(ctx, s.id)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	sess.User = u
	return s.c.tokens.Put(ctx, sess)
}
