package auth

import (
	"context"
	"net/http"
)

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const sessionEmailKey contextKey = "sessionEmail"

// SessionCookie is the name of the HttpOnly cookie carrying the session JWT.
const SessionCookie = "token"

// RequireAuth rejects requests without a valid session cookie with 401 and
// otherwise stores the session email in the request context.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, err := extractEmail(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}` + "\n"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSessionEmail(r.Context(), email)))
		})
	}
}

// WithSessionEmail returns a copy of ctx carrying email as the session identity.
// Handler tests use it to skip the cookie round trip.
func WithSessionEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, sessionEmailKey, email)
}

// SessionEmail retrieves the authenticated user's email from the request context.
// Returns ("", false) for anonymous requests.
func SessionEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(sessionEmailKey).(string)
	return email, ok && email != ""
}

func extractEmail(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}

	return tokens.Validate(cookie.Value)
}
