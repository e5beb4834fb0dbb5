package audit

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Request carries the request headers and peer address that identify a
// client for audit correlation.
type Request struct {
	Accept         string
	AcceptEncoding string
	AcceptLanguage string
	RemoteIP       string
	UserAgent      string
}

// Fingerprint returns a hex MD5 of the request fields. The digest is a
// dedup/correlation key only and protects no secret. An empty request has an
// empty fingerprint.
func Fingerprint(r Request) string {
	if r == (Request{}) {
		return ""
	}
	var b strings.Builder
	for i, field := range []string{r.Accept, r.AcceptEncoding, r.AcceptLanguage, r.RemoteIP, r.UserAgent} {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(field)
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
