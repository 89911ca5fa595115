package logging

import (
	"net/url"
	"strings"
)

// Query and form keys whose values never reach the log.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"credential",
	"session",
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "REDACTED"

// IsSensitiveField reports whether a key name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}

// RedactURL masks the password of the userinfo and the values of sensitive
// query parameters. Unparseable input is returned as a placeholder.
func RedactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RedactedValue
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), RedactedValue)
		}
	}
	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if IsSensitiveField(key) {
				query.Set(key, RedactedValue)
			}
		}
		u.RawQuery = query.Encode()
	}
	return u.String()
}
