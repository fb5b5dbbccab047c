package domain

import "strings"

// NormalizeZip returns the 5-digit postal code in s, or "" when s is not one.
// ZIP+4 forms ("12345-6789") keep their first five digits.
func NormalizeZip(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '-'); i == 5 {
		s = s[:5]
	}
	if len(s) != 5 {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}

// ParseHomeZip accepts exactly five digits and returns "" for anything else,
// including placeholders such as "N/A".
func ParseHomeZip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) != 5 || NormalizeZip(s) != s {
		return ""
	}
	return s
}
