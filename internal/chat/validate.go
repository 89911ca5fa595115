package chat

import (
	"strings"
	"unicode/utf8"
)

// MaxTextLength bounds message bodies in runes.
const MaxTextLength = 4000

// NormalizeText trims text and enforces the body rules.
func NormalizeText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &ValidationError{Field: "text", Reason: "empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxTextLength {
		return "", &ValidationError{Field: "text", Reason: "too long"}
	}
	return trimmed, nil
}

// RequireID trims an identifier and rejects empty values.
func RequireID(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &ValidationError{Field: field, Reason: "required"}
	}
	return trimmed, nil
}
