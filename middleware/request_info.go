package middleware

import (
	"net"
	"net/http"

	"github.com/studydeck/accounts"
)

// CaptureRequestInfo stores the request's client metadata with
// accounts.WithRequestInfo. RemoteAddr is used as-is; deployments behind a
// proxy must rewrite it first.
func CaptureRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := accounts.WithRequestInfo(r.Context(), accounts.RequestInfo{
			Accept:         r.Header.Get("Accept"),
			AcceptEncoding: r.Header.Get("Accept-Encoding"),
			AcceptLanguage: r.Header.Get("Accept-Language"),
			RemoteIP:       ip,
			UserAgent:      r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
