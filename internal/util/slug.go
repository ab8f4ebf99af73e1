package util

import "strings"

// Slugify converts an experience or company name to a URL-safe slug:
// lowercase, alphanumerics kept, everything else collapsed into single hyphens.
func Slugify(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))

	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				builder.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimSuffix(builder.String(), "-")
}
