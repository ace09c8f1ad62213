package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/model"
	"github.com/sakif/mochi-mirror/internal/tiktok"
)

// fakeProviders serves both Google and TikTok from one httptest server.
func fakeProviders(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/google/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"g-at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/google/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"1","email":"a@x.com","email_verified":true,"name":"Ada"}`))
	})
	mux.HandleFunc("/tiktok/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tiktok-access-secret","refresh_token":"tiktok-refresh-secret","open_id":"oid1","expires_in":86400,"token_type":"Bearer"}`))
	})
	mux.HandleFunc("/tiktok/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":{"open_id":"oid1","display_name":"Alice"}},"error":{"code":"ok"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, rateLimit int) *Server {
	t.Helper()
	fake := fakeProviders(t)

	cfg := Config{
		DBPath:     ":memory:",
		JWTSecret:  "test-secret-at-least-16-chars!!",
		SessionTTL: time.Hour,
		Google: auth.GoogleConfig{
			ClientID:     "gid",
			ClientSecret: "gsecret",
			CallbackURL:  "http://mirror.test/auth/google/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  fake.URL + "/google/auth",
				TokenURL: fake.URL + "/google/token",
			},
			UserInfoURL: fake.URL + "/google/userinfo",
		},
		TikTok: tiktok.Config{
			ClientKey:    "ck",
			ClientSecret: "cs",
			RedirectURI:  "http://mirror.test/api/auth/tiktok/callback",
			TokenURL:     fake.URL + "/tiktok/token",
			UserInfoURL:  fake.URL + "/tiktok/userinfo",
		},
		AppBaseURL:    "http://mirror.test/",
		LinkRateLimit: rateLimit,
	}

	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// browser carries cookies across requests the way a real one would.
type browser struct {
	handler http.Handler
	cookies map[string]*http.Cookie
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.send(http.MethodGet, path)
}

func (b *browser) send(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)

	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rr
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, 0)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t, 0)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/me"},
		{http.MethodGet, "/api/user/profile"},
		{http.MethodPost, "/api/user/unlink"},
		{http.MethodPost, "/api/auth/tiktok/link"},
		{http.MethodGet, "/api/auth/tiktok/callback"},
	} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func TestSignInAndLinkFlow(t *testing.T) {
	s := newTestServer(t, 0)
	b := &browser{handler: s.Handler(), cookies: map[string]*http.Cookie{}}

	// Google sign-in.
	rr := b.get("/auth/google/login")
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)

	rr = b.get("/auth/google/callback?code=g-code&state=" + url.QueryEscape(loc.Query().Get("state")))
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	assert.Equal(t, "http://mirror.test/dashboard", rr.Header().Get("Location"))
	require.Contains(t, b.cookies, auth.SessionCookie)

	// TikTok authorization and return trip.
	rr = b.get("/api/auth/tiktok")
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err = url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "ck", loc.Query().Get("client_key"))

	rr = b.get("/api/auth/tiktok/callback?code=validcode123&state=" + url.QueryEscape(loc.Query().Get("state")))
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	assert.Equal(t, "http://mirror.test/dashboard?tiktok=linked", rr.Header().Get("Location"))
	assert.NotContains(t, b.cookies, "tiktok_oauth_state", "state is single use")

	rr = b.get("/api/user/profile")
	require.Equal(t, http.StatusOK, rr.Code)
	var profile model.Profile
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&profile))
	assert.True(t, profile.IsLinked)
	assert.Equal(t, "Alice", profile.DisplayName)

	rr = b.get("/api/me")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"email":"a@x.com"`)
	assert.NotContains(t, rr.Body.String(), "tiktok-access-secret", "tokens never leave the server")

	rr = b.send(http.MethodPost, "/auth/logout")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusUnauthorized, b.get("/api/me").Code)
}

func TestLinkEndpointsAreRateLimited(t *testing.T) {
	s := newTestServer(t, 1)

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/tiktok", nil)
		req.RemoteAddr = "198.51.100.7:40000"
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusFound, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
