package persona

import (
	"regexp"
	"strings"
)

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NormalizeID turns a spoken name into a persona id: lower-case, runs of
// whitespace become "_", anything outside [a-z0-9_-] is dropped.
func NormalizeID(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('_')
		}
		for _, r := range f {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
				b.WriteRune(r)
			}
		}
	}
	return strings.Trim(b.String(), "_-")
}

// ValidID reports whether id is safe to use as a storage key.
func ValidID(id string) bool {
	return validID.MatchString(id)
}
