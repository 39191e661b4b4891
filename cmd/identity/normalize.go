package identity

import "strings"

// NormalizePhone canonicalizes a phone number for lookup and uniqueness:
// formatting characters are stripped and a single leading "+" is preserved.
// No country-code inference happens here; numbers are stored as given.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting noise
		default:
			return ""
		}
	}
	return b.String()
}

// ValidPhone reports whether a normalized phone number has a plausible length.
func ValidPhone(norm string) bool {
	digits := len(strings.TrimPrefix(norm, "+"))
	return digits >= 5 && digits <= 15
}
