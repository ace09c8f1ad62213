package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/service"
)

const googleStateCookie = "google_oauth_state"

// IdentityProvider is the sign-in side of Google OAuth. *auth.GoogleProvider
// implements it.
type IdentityProvider interface {
	Configured() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// AuthHandler manages the Google login flow and the session cookie.
//
//   - HandleGoogleLogin    → redirect the browser to Google
//   - HandleGoogleCallback → exchange the code, sign in, set the session cookie
//   - HandleLogout         → clear the session cookie
//   - HandleMe             → the signed-in user's record
type AuthHandler struct {
	google        IdentityProvider
	sessions      *service.SessionService
	accounts      *service.AccountService
	tokens        *auth.TokenService
	homeURL       string
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(
	google IdentityProvider,
	sessions *service.SessionService,
	accounts *service.AccountService,
	tokens *auth.TokenService,
	homeURL string,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		google:        google,
		sessions:      sessions,
		accounts:      accounts,
		tokens:        tokens,
		homeURL:       homeURL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleGoogleLogin redirects the user to Google's consent page.
//
// HTTP: GET /auth/google/login
//
// The state goes into a 10-minute HttpOnly cookie and comes back as a query
// parameter; HandleGoogleCallback refuses the callback unless they match.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.google.Configured() {
		h.logger.Error("Google client credentials are not configured")
		http.Error(w, "sign-in is not configured", http.StatusInternalServerError)
		return
	}

	state, err := auth.NewState()
	if err != nil {
		h.logger.Error("auth login: generating state", slog.String("error", err.Error()))
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     googleStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   stateTTL,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the sign-in.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a verified Google identity
//  3. SessionService.SignIn: upsert user, touch device, issue JWT
//  4. Set the session cookie and redirect home
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var stored string
	if c, err := r.Cookie(googleStateCookie); err == nil {
		stored = c.Value
	}
	http.SetCookie(w, &http.Cookie{Name: googleStateCookie, Value: "", Path: "/", MaxAge: -1})

	if !auth.StateMatches(stored, q.Get("state")) {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.homeURL+"/login?auth=denied", http.StatusSeeOther)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	gUser, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: Google exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadRequest)
		return
	}

	result, err := h.sessions.SignIn(r.Context(), gUser, r.UserAgent(), clientIP(r))
	if err != nil {
		h.logger.Error("auth callback: sign-in failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	h.setSessionCookie(w, result.Token, int(h.tokens.TTL().Seconds()))
	http.Redirect(w, r, h.homeURL+"/dashboard", http.StatusSeeOther)
}

// HandleLogout clears the session cookie. The JWT stays valid until it
// expires, but the browser no longer sends it.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in user's record. Tokens are never serialised.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	email, _ := auth.SessionEmail(r.Context())

	user, err := h.accounts.GetUser(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already replaced it with X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
