package redact

import (
	"net/url"
	"strings"
)

var sensitiveKeys = []string{"authorization", "cookie", "access_token", "id_token", "token", "session", "sessionid", "apikey", "api_key", "key", "sig", "signature", "password"}

// RedactURL masks userinfo and sensitive query values in a URL, best-effort.
// Unparseable input is returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	changed := false
	for k := range q {
		if isSensitiveKey(k) {
			q.Set(k, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if k == s {
			return true
		}
	}
	return false
}
