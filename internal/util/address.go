package util

import (
	"regexp"
	"strings"
)

var nonPhone = regexp.MustCompile(`[^\d\+]+`)

// NormalizeAddress canonicalizes a participant address. Email addresses are
// lowercased; phone numbers are stripped to E.164-like form.
func NormalizeAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	return NormalizePhone(s)
}

// NormalizePhone tries to normalize user input into E.164-like format.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = nonPhone.ReplaceAllString(s, "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	} else if len(s) > 0 && s[0] != '+' {
		s = "+" + s
	}

	return s
}

// IsEmail reports whether the address routes over the email channel.
func IsEmail(addr string) bool {
	return strings.Contains(addr, "@")
}
