package handler

import (
	"net/http"

	"github.com/pavelanni/medcode/internal/api"
	appI18n "github.com/pavelanni/medcode/internal/i18n"
)

const settingsPath = "/dashboard/settings"

func (h *Handler) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "settings", "Settings", "settings", nil)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in api.ProfileUpdate
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, settingsPath)
		return
	}
	if _, err := h.backend(r).UpdateProfile(r.Context(), in); err != nil {
		h.fail(w, r, err, settingsPath)
		return
	}
	h.flash(w, r, flashSuccess, appI18n.T(r.Context(), "ProfileUpdated"))
	http.Redirect(w, r, h.path(settingsPath), http.StatusSeeOther)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in api.PasswordChange
	if err := decodeForm(r, &in); err != nil {
		h.fail(w, r, err, settingsPath)
		return
	}
	if err := h.backend(r).ChangePassword(r.Context(), in); err != nil {
		h.fail(w, r, err, settingsPath)
		return
	}
	h.flash(w, r, flashSuccess, appI18n.T(r.Context(), "PasswordChanged"))
	http.Redirect(w, r, h.path(settingsPath), http.StatusSeeOther)
}
