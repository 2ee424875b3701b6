// Package session implements the first-seen session cookie collaborator
// described in spec.md §4.9: not authentication, just an opaque
// first-seen marker. The value is never verified or logged.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/badu/evserver/internal/hdr"
)

const cookieName = "SID"

// HasCookie reports whether the request already carries a SID cookie.
func HasCookie(headers hdr.Header) bool {
	_, ok := lookup(headers)
	return ok
}

// Issue returns the Set-Cookie value for a freshly issued session id.
func Issue(now time.Time) string {
	return fmt.Sprintf("%s=SID_%d; Path=/; HttpOnly", cookieName, now.UnixMilli())
}

// Ensure augments resp's headers with a Set-Cookie if the request has no
// existing SID cookie.
func Ensure(reqHeaders hdr.Header, respHeaders hdr.Header, now time.Time) {
	if HasCookie(reqHeaders) {
		return
	}
	respHeaders.Add("Set-Cookie", Issue(now))
}

func lookup(headers hdr.Header) (string, bool) {
	raw := headers.Get("Cookie")
	if raw == "" {
		return "", false
	}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		name, value, found := strings.Cut(pair, "=")
		if found && name == cookieName {
			return value, true
		}
	}
	return "", false
}
