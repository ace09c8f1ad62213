package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGoogle serves the token and userinfo endpoints.
func fakeGoogle(t *testing.T, user GoogleUser) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"g-access","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer g-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogle(srv *httptest.Server) *GoogleProvider {
	return NewGoogleProvider(GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		CallbackURL:  "http://localhost/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: srv.URL + "/userinfo",
	})
}

func TestGoogleProvider_AuthURL(t *testing.T) {
	p := NewGoogleProvider(GoogleConfig{ClientID: "client", ClientSecret: "secret", CallbackURL: "http://localhost/cb"})

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "email")
	assert.True(t, p.Configured())
}

func TestGoogleProvider_Exchange(t *testing.T) {
	srv := fakeGoogle(t, GoogleUser{Subject: "g1", Email: "a@x.com", EmailVerified: true, Name: "Alice"})
	p := newTestGoogle(srv)

	user, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "Alice", user.Name)
}

func TestGoogleProvider_ExchangeRejectedCode(t *testing.T) {
	srv := fakeGoogle(t, GoogleUser{Email: "a@x.com", EmailVerified: true})
	p := newTestGoogle(srv)

	_, err := p.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGoogleProvider_UnverifiedEmail(t *testing.T) {
	srv := fakeGoogle(t, GoogleUser{Email: "a@x.com", EmailVerified: false})
	p := newTestGoogle(srv)

	_, err := p.Exchange(context.Background(), "good-code")
	assert.ErrorContains(t, err, "not verified")
}

func TestGoogleProvider_NotConfigured(t *testing.T) {
	p := NewGoogleProvider(GoogleConfig{})
	assert.False(t, p.Configured())
}
