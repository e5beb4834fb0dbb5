package accounts

import (
	"context"

	"github.com/studydeck/accounts/internal/audit"
)

// RequestInfo describes the client of a request. It feeds the audit record
// and the client fingerprint of sign-in attempts.
type RequestInfo struct {
	Accept         string
	AcceptEncoding string
	AcceptLanguage string
	RemoteIP       string
	UserAgent      string
}

type requestInfoContextKey struct{}

// WithRequestInfo attaches the caller's request metadata to ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey{}, info)
}

// RequestInfoFromContext returns the metadata set by WithRequestInfo.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoContextKey{}).(RequestInfo)
	return info
}

// Fingerprint is the hex MD5 of the request metadata, or "" when none is set.
func (r RequestInfo) Fingerprint() string {
	return audit.Fingerprint(audit.Request{
		Accept:         r.Accept,
		AcceptEncoding: r.AcceptEncoding,
		AcceptLanguage: r.AcceptLanguage,
		RemoteIP:       r.RemoteIP,
		UserAgent:      r.UserAgent,
	})
}
