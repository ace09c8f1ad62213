package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/service"
)

// UserHandler serves the dashboard endpoints under /api/user. Every route is
// behind RequireAuth and acts on the session user only.
type UserHandler struct {
	accounts      *service.AccountService
	linker        *service.AccountLinker
	secureCookies bool
}

func NewUserHandler(accounts *service.AccountService, linker *service.AccountLinker, secureCookies bool) *UserHandler {
	return &UserHandler{
		accounts:      accounts,
		linker:        linker,
		secureCookies: secureCookies,
	}
}

// HandleProfile returns the mirrored profile.
//
// HTTP: GET /api/user/profile
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	profile, err := h.accounts.GetProfile(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleSyncProfile pulls fresh statistics from TikTok.
//
// HTTP: POST /api/user/profile/sync
func (h *UserHandler) HandleSyncProfile(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	profile, err := h.linker.SyncProfile(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleActivity returns the newest activity entries.
//
// HTTP: GET /api/user/activity?limit=10
func (h *UserHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, apperror.ValidationFailed("limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.accounts.ListActivity(r.Context(), email, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGetAutomation / HandleUpdateAutomation
//
// HTTP: GET|POST /api/user/automation
// REQUEST BODY: {"enabled": true, "schedule": ["09:00"], "config": {"auto_reply": true}}
func (h *UserHandler) HandleGetAutomation(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	settings, err := h.accounts.GetAutomation(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *UserHandler) HandleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	var req model.AutomationSettings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	settings, err := h.accounts.UpdateAutomation(r.Context(), email, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// HandleGetSettings / HandleUpdateSettings cover notification preferences.
//
// HTTP: GET|POST /api/user/settings
func (h *UserHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	settings, err := h.accounts.GetNotifications(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *UserHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	var req model.NotificationSettings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	settings, err := h.accounts.UpdateNotifications(r.Context(), email, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// HandleSetUsername
//
// HTTP: POST /api/user/username
// REQUEST BODY: {"username": "mochi_fan"}
func (h *UserHandler) HandleSetUsername(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.SetUsername(r.Context(), email, req.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// HTTP: GET /api/user/devices
func (h *UserHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	devices, err := h.accounts.ListDevices(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// HTTP: DELETE /api/user/devices/{id}
func (h *UserHandler) HandleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	if err := h.accounts.RemoveDevice(r.Context(), email, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// HandleDeleteAccount deletes the user and ends the session.
//
// HTTP: DELETE /api/user
func (h *UserHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	if err := h.accounts.DeleteAccount(r.Context(), email); err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, okResponse)
}
