package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/mochi-mirror/internal/apperror"
	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/service"
)

// StateCookie holds the TikTok OAuth state between the redirect and the
// return trip.
const StateCookie = "tiktok_oauth_state"

// stateTTL is long enough to approve on TikTok, short enough to limit replay.
const stateTTL = 600 // seconds

// LinkHandler exposes the AccountLinker:
//   - HandleAuthorize → GET  /api/auth/tiktok           (redirect to TikTok)
//   - HandleCallback  → GET  /api/auth/tiktok/callback  (browser return trip)
//   - HandleLink      → POST /api/auth/tiktok/link      (SPA posts {code, state})
//   - HandleUnlink    → POST /api/user/unlink
type LinkHandler struct {
	linker        *service.AccountLinker
	dashboardURL  string
	secureCookies bool
	logger        *slog.Logger
}

func NewLinkHandler(linker *service.AccountLinker, dashboardURL string, secureCookies bool, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{
		linker:        linker,
		dashboardURL:  dashboardURL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleAuthorize starts a link: a fresh state goes into an HttpOnly cookie
// and the browser is sent to TikTok with the same value.
//
// HTTP: GET /api/auth/tiktok
func (h *LinkHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	authz, err := h.linker.BeginAuthorization()
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    authz.State,
		Path:     "/",
		MaxAge:   stateTTL,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authz.URL, http.StatusFound)
}

type linkRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// HandleLink completes a link from a code the frontend picked up.
//
// HTTP: POST /api/auth/tiktok/link
// REQUEST BODY: {"code": "...", "state": "..."}
// RESPONSE: 200 {"success": true} | 400 | 401 | 409 {"code": "ACCOUNT_ALREADY_LINKED"} | 500
func (h *LinkHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.consumeState(w, r, req.State); err != nil {
		writeError(w, err)
		return
	}

	if err := h.linker.LinkAccount(r.Context(), email, req.Code); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse)
}

// HandleCallback is the redirect URI TikTok sends the browser back to. The
// outcome is reported to the dashboard through query parameters.
//
// HTTP: GET /api/auth/tiktok/callback?code=xxx&state=yyy
func (h *LinkHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())
	q := r.URL.Query()

	if err := h.consumeState(w, r, q.Get("state")); err != nil {
		writeError(w, err)
		return
	}

	// The user declined on TikTok's consent screen.
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("TikTok authorization denied", slog.String("error", errParam))
		h.redirectToDashboard(w, r, url.Values{"tiktok": {"denied"}})
		return
	}

	err := h.linker.LinkAccount(r.Context(), email, q.Get("code"))
	switch {
	case err == nil:
		h.redirectToDashboard(w, r, url.Values{"tiktok": {"linked"}})
	case errors.Is(err, apperror.ErrAccountLinked):
		h.redirectToDashboard(w, r, url.Values{"tiktok": {"error"}, "code": {apperror.CodeAccountAlreadyLinked}})
	case errors.Is(err, apperror.ErrUnauthenticated), errors.Is(err, apperror.ErrValidation):
		writeError(w, err)
	default:
		h.logger.Error("TikTok link from callback failed", slog.String("error", err.Error()))
		h.redirectToDashboard(w, r, url.Values{"tiktok": {"error"}})
	}
}

// HandleUnlink disconnects the TikTok account. Always succeeds for a signed-in
// user, linked or not.
//
// HTTP: POST /api/user/unlink
func (h *LinkHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	if err := h.linker.UnlinkAccount(r.Context(), email); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse)
}

// consumeState checks returned against the state cookie and clears the
// cookie either way: a state is good for one attempt.
func (h *LinkHandler) consumeState(w http.ResponseWriter, r *http.Request, returned string) error {
	var stored string
	if c, err := r.Cookie(StateCookie); err == nil {
		stored = c.Value
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if !auth.StateMatches(stored, returned) {
		h.logger.Warn("TikTok OAuth state mismatch",
			slog.Bool("cookiePresent", stored != ""),
			slog.Bool("statePresent", returned != ""),
		)
		return apperror.ValidationFailed("state", "invalid OAuth state")
	}
	return nil
}

func (h *LinkHandler) redirectToDashboard(w http.ResponseWriter, r *http.Request, params url.Values) {
	http.Redirect(w, r, h.dashboardURL+"?"+params.Encode(), http.StatusSeeOther)
}
