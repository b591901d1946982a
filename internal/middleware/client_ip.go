package middleware

import (
	"context"
	"net/http"

	pkghttp "github.com/BradenHooton/authguard/pkg/http"
)

type clientIPKey struct{}

// ClientIP resolves the client address once per request, honouring forwarding
// headers only from trusted proxies, and stores it in the request context
func ClientIP(cfg *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, cfg)
			ctx := context.WithValue(r.Context(), clientIPKey{}, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the address resolved by ClientIP, or the peer address
// when the middleware is not mounted
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok {
		return ip
	}
	return pkghttp.ExtractClientIP(r, nil)
}
