package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the subject.
type contextKey string

const subjectKey contextKey = "subject"

// CookieName is the cookie browsers carry the token in.
const CookieName = "token"

// RequireAuth rejects requests without a valid token and stores the token's
// subject in the request context.
//
// A nil TokenService means auth is disabled and every request passes through
// anonymously.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it.
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := extractSubject(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="notebook-playground"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}` + "\n"))
				return
			}

			ctx := WithSubject(r.Context(), subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithSubject returns a context carrying subject. Handlers and tests use it;
// production requests get it from RequireAuth.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the authenticated subject, or "" for anonymous
// requests (including every request when auth is disabled).
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// extractSubject reads the token from the Authorization header, falling back
// to the cookie, and validates it.
func extractSubject(r *http.Request, tokens *TokenService) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			token, ok = strings.CutPrefix(h, "bearer ")
		}
		if ok {
			return tokens.Validate(strings.TrimSpace(token))
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
