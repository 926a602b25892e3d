package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// TokenValidator is satisfied by *goGuard.Engine.
type TokenValidator interface {
	ValidateAccessToken(token string) (*goGuard.SessionClaims, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the claims stored by a guard.
func SessionFromContext(ctx context.Context) (*goGuard.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionContextKey{}).(*goGuard.SessionClaims)
	return claims, ok
}

func withSession(ctx context.Context, claims *goGuard.SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

// Guard rejects requests without a valid bearer access token.
func Guard(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), claims)))
		})
	}
}

// ClientIP attaches the peer address to the request context for rate
// limiting and audit. Proxy headers are not consulted.
func ClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			next.ServeHTTP(w, r.WithContext(goGuard.WithClientIP(r.Context(), ip)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
