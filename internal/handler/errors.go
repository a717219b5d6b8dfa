package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/medcode/internal/api"
	"github.com/pavelanni/medcode/internal/handler/views"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/validate"
)

const (
	flashError   = "error"
	flashSuccess = "success"
)

func (h *Handler) flash(w http.ResponseWriter, r *http.Request, kind, msg string) {
	s, _ := h.cookies.Get(r, cookieSessionName)
	s.AddFlash(msg, kind)
	if err := s.Save(r, w); err != nil {
		slog.Error("failed to save flash", "error", err)
	}
}

// takeFlashes pops pending notifications. It must run before the response
// header is written.
func (h *Handler) takeFlashes(w http.ResponseWriter, r *http.Request) []views.Flash {
	s, err := h.cookies.Get(r, cookieSessionName)
	if err != nil {
		return nil
	}
	var out []views.Flash
	for _, kind := range []string{flashError, flashSuccess} {
		for _, f := range s.Flashes(kind) {
			if msg, ok := f.(string); ok {
				out = append(out, views.Flash{Kind: kind, Message: msg})
			}
		}
	}
	if len(out) > 0 {
		if err := s.Save(r, w); err != nil {
			slog.Error("failed to save session after reading flashes", "error", err)
		}
	}
	return out
}

// errorMessages turns err into what the user is shown: field messages for a
// ValidationError, the backend message (or a fallback) for a RequestError.
func errorMessages(r *http.Request, err error) []string {
	ctx := r.Context()
	var (
		ve *validate.ValidationError
		re *api.RequestError
	)
	switch {
	case api.IsAuthExpired(err):
		return []string{appI18n.T(ctx, "SessionExpired")}
	case errors.As(err, &ve):
		return ve.Messages()
	case errors.As(err, &re):
		if re.Status >= http.StatusInternalServerError {
			slog.Error("backend request failed", "method", re.Method, "path", re.Path, "status", re.Status, "message", re.Message)
		}
		return []string{re.UserMessage(appI18n.T(ctx, "RequestFailed"))}
	case errors.Is(err, api.ErrInvalidResponse):
		slog.Error("unexpected backend response", "error", err)
		return []string{appI18n.T(ctx, "RequestFailed")}
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		return []string{appI18n.T(ctx, "SomethingWentWrong")}
	}
}

// fail reports a failed mutation as a flash and redirects to back. An expired
// session goes to the login page instead.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, back string) {
	for _, msg := range errorMessages(r, err) {
		h.flash(w, r, flashError, msg)
	}
	if api.IsAuthExpired(err) {
		h.redirectToLogin(w, r)
		return
	}
	http.Redirect(w, r, h.path(back), http.StatusSeeOther)
}

// renderFormError re-renders an auth form with the submitted values and the
// error messages.
func (h *Handler) renderFormError(w http.ResponseWriter, r *http.Request, name, title string, err error) {
	p := views.NewPage(r.Context(), title, "", nil)
	p.Flashes = h.takeFlashes(w, r)
	for _, msg := range errorMessages(r, err) {
		p.Flashes = append(p.Flashes, views.Flash{Kind: flashError, Message: msg})
	}
	p.Form = r.PostForm
	h.renderPage(w, r, statusFor(err), name, p)
}

// renderError shows a page that could not be loaded.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if api.IsAuthExpired(err) {
		h.flash(w, r, flashError, appI18n.T(r.Context(), "SessionExpired"))
		h.redirectToLogin(w, r)
		return
	}
	msgs := errorMessages(r, err)
	h.render(w, r, statusFor(err), "error", "ErrorTitle", "", msgs[0])
}

func statusFor(err error) int {
	var ve *validate.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case api.IsAuthExpired(err):
		return http.StatusUnauthorized
	}
	if code := api.StatusCode(err); code >= 400 && code < 500 {
		return code
	}
	return http.StatusBadGateway
}
