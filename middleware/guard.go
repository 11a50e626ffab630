package middleware

import (
	"context"
	"net/http"

	authcore "github.com/authcore-dev/authcore"
)

type sessionContextKey struct{}

// SessionFromContext returns the pair injected by [Guard] or [Optional].
func SessionFromContext(ctx context.Context) (*authcore.SessionResult, bool) {
	res, ok := ctx.Value(sessionContextKey{}).(*authcore.SessionResult)
	return res, ok
}

// Guard rejects requests that do not carry a valid session.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			result, err := engine.SessionFromRequest(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional injects the session when one is present and passes anonymous
// requests through untouched.
func Optional(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine != nil {
				if result, err := engine.SessionFromRequest(r); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), sessionContextKey{}, result))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
