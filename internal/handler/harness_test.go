package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/handler"
	sqliteRepo "github.com/sakif/mochi-mirror/internal/repository/sqlite"
	"github.com/sakif/mochi-mirror/internal/service"
	"github.com/sakif/mochi-mirror/internal/tiktok"
)

// fakeTikTokServer accepts "validcode123" and "samecode" (both for oid1) and
// rejects every other code with invalid_grant.
func fakeTikTokServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth/token/", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("code") {
		case "validcode123", "samecode":
			w.Write([]byte(`{"access_token":"at1","refresh_token":"rt1","open_id":"oid1","expires_in":86400,"token_type":"Bearer"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Authorization code is expired."}`))
		}
	})
	mux.HandleFunc("/v2/user/info/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":{"open_id":"oid1","display_name":"Alice","avatar_url":"http://x/a.png","follower_count":42}},"error":{"code":"ok"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	router   http.Handler
	db       *sqliteRepo.DB
	tokens   *auth.TokenService
	sessions *service.SessionService
}

// newHarness wires real services over an in-memory database and a fake
// TikTok. Pass configured=false to simulate missing client credentials.
func newHarness(t *testing.T, configured bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	require.NoError(t, err)

	tt := fakeTikTokServer(t)
	cfg := tiktok.Config{
		RedirectURI: "http://mirror.test/api/auth/tiktok/callback",
		TokenURL:    tt.URL + "/v2/oauth/token/",
		UserInfoURL: tt.URL + "/v2/user/info/",
	}
	if configured {
		cfg.ClientKey, cfg.ClientSecret = "ck", "cs"
	}

	sessions := service.NewSessionService(db, db, db, tokens, logger)
	accounts := service.NewAccountService(db, db, db, logger)
	linker := service.NewAccountLinker(db, db, tiktok.New(cfg), logger)

	link := handler.NewLinkHandler(linker, "http://mirror.test/dashboard", false, logger)
	user := handler.NewUserHandler(accounts, linker, false)

	r := chi.NewRouter()
	r.Get("/api/auth/tiktok", link.HandleAuthorize)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/api/auth/tiktok/callback", link.HandleCallback)
		r.Post("/api/auth/tiktok/link", link.HandleLink)
		r.Post("/api/user/unlink", link.HandleUnlink)
		r.Get("/api/user/profile", user.HandleProfile)
		r.Post("/api/user/profile/sync", user.HandleSyncProfile)
		r.Get("/api/user/activity", user.HandleActivity)
		r.Get("/api/user/automation", user.HandleGetAutomation)
		r.Post("/api/user/automation", user.HandleUpdateAutomation)
		r.Get("/api/user/settings", user.HandleGetSettings)
		r.Post("/api/user/settings", user.HandleUpdateSettings)
		r.Post("/api/user/username", user.HandleSetUsername)
		r.Get("/api/user/devices", user.HandleListDevices)
		r.Delete("/api/user/devices/{id}", user.HandleRemoveDevice)
		r.Delete("/api/user", user.HandleDeleteAccount)
	})

	return &harness{router: r, db: db, tokens: tokens, sessions: sessions}
}

// signIn creates the user the way Google sign-in does and returns the
// session cookie.
func (h *harness) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	res, err := h.sessions.SignIn(context.Background(), &auth.GoogleUser{Email: email, Name: "Test"}, "go-test", "127.0.0.1")
	require.NoError(t, err)
	return &http.Cookie{Name: auth.SessionCookie, Value: res.Token}
}

// do sends a request with the given cookies; body is JSON-encoded when non-nil.
func (h *harness) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

// authorize runs GET /api/auth/tiktok and returns the state cookie.
func (h *harness) authorize(t *testing.T) *http.Cookie {
	t.Helper()
	rr := h.do(t, http.MethodGet, "/api/auth/tiktok", nil)
	require.Equal(t, http.StatusFound, rr.Code)
	for _, c := range rr.Result().Cookies() {
		if c.Name == handler.StateCookie {
			return c
		}
	}
	t.Fatal("authorize did not set the state cookie")
	return nil
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}
