// Package tiktok is a small client for the TikTok v2 Login Kit: building the
// authorize URL, exchanging and refreshing tokens, and reading the user's
// profile. Token calls go through golang.org/x/oauth2.
package tiktok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL     = "https://www.tiktok.com/v2/auth/authorize/"
	DefaultTokenURL    = "https://open.tiktokapis.com/v2/oauth/token/"
	DefaultUserInfoURL = "https://open.tiktokapis.com/v2/user/info/"

	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 10 * time.Second
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"user.info.basic", "user.info.profile", "user.info.stats"}

// profileFields is the field list sent to the user info endpoint.
const profileFields = "open_id,display_name,avatar_url,bio_description,is_verified,follower_count,following_count,likes_count,video_count"

// Config is the TikTok app registration plus endpoint overrides for tests.
type Config struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	Timeout     time.Duration
}

// Token is the result of a code exchange or refresh.
type Token struct {
	OpenID       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
}

// Client talks to TikTok. It is safe for concurrent use.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

// New fills endpoint defaults and builds the client.
func New(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = DefaultUserInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientKey,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &clientKeyTransport{tokenURL: cfg.TokenURL, next: http.DefaultTransport},
		},
	}
}

// Configured reports whether both client credentials are set.
func (c *Client) Configured() bool {
	return c.cfg.ClientKey != "" && c.cfg.ClientSecret != ""
}

// AuthURL builds the authorize redirect. TikTok expects client_key instead of
// client_id and a comma-separated scope list, so the URL is built by hand
// rather than with oauth2.Config.AuthCodeURL.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_key", c.cfg.ClientKey)
	q.Set("scope", strings.Join(c.cfg.Scopes, ","))
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("state", state)

	sep := "?"
	if strings.Contains(c.cfg.AuthURL, "?") {
		sep = "&"
	}
	return c.cfg.AuthURL + sep + q.Encode()
}

// Exchange trades an authorization code for tokens. One attempt, bounded by
// the configured timeout.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("tiktok: exchanging code: %w", describe(err))
	}
	return tokenFrom(tok)
}

// Refresh obtains a new access token. TikTok may rotate the refresh token;
// when it does not, the old one is carried over.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, errors.New("tiktok: no refresh token")
	}
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("tiktok: refreshing token: %w", describe(err))
	}
	return tokenFrom(tok)
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokenFrom(tok *oauth2.Token) (*Token, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("tiktok: token response has no access_token")
	}
	openID, _ := tok.Extra("open_id").(string)
	if openID == "" {
		return nil, errors.New("tiktok: token response has no open_id")
	}

	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	scope, _ := tok.Extra("scope").(string)

	return &Token{
		OpenID:       openID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		Scope:        scope,
	}, nil
}

// describe turns an oauth2.RetrieveError into TikTok's error and description
// so the caller sees what the provider said rather than a raw body dump.
func describe(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	if re.ErrorCode == "" {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return fmt.Errorf("provider returned status %d", status)
	}
	if re.ErrorDescription != "" {
		return fmt.Errorf("%s: %s", re.ErrorCode, re.ErrorDescription)
	}
	return errors.New(re.ErrorCode)
}
