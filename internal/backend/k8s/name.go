package k8s

import "strings"

// sanitizeName converts an arbitrary watcher name into a valid Kubernetes
// object name (RFC 1123 subdomain): lowercase alphanumerics and dashes,
// no leading dash, at most 63 characters.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	s := strings.TrimLeft(b.String(), "-")
	if len(s) > 63 {
		s = s[:63]
	}
	s = strings.TrimRight(s, "-")
	if s == "" {
		s = "watcher"
	}
	return s
}
