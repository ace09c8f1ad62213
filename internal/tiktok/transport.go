package tiktok

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// clientKeyTransport copies client_id into client_key on token requests.
// oauth2 only knows client_id; TikTok's token endpoint only reads client_key.
type clientKeyTransport struct {
	tokenURL string
	next     http.RoundTripper
}

func (t *clientKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil || !sameEndpoint(req.URL, t.tokenURL) {
		return t.next.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("tiktok: reading token request: %w", err)
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("tiktok: parsing token request: %w", err)
	}
	if form.Get("client_key") == "" && form.Get("client_id") != "" {
		form.Set("client_key", form.Get("client_id"))
		form.Del("client_id")
	}
	encoded := form.Encode()

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(strings.NewReader(encoded))
	out.ContentLength = int64(len(encoded))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(encoded))), nil
	}
	return t.next.RoundTrip(out)
}

func sameEndpoint(u *url.URL, raw string) bool {
	target, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == target.Scheme && u.Host == target.Host &&
		strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(target.Path, "/")
}
