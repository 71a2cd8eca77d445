package enrichment

import "strings"

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeContainerCode rewrites a raw container identifier into the search
// syntax the catalogue expects. Identifiers that match no known prefix pass
// through unchanged.
func NormalizeContainerCode(identifier string) string {
	switch {
	case strings.HasPrefix(identifier, "GBTU"):
		body := identifier[len("GBTU"):]
		if len(body) < 2 || !allDigits(body) {
			return identifier
		}
		stripped := strings.TrimLeft(body, "0")
		// Keep the last two digits when stripping leaves fewer, so the
		// x.y form below is always well formed
		if len(stripped) < 2 {
			stripped = body[len(body)-2:]
		}
		n := len(stripped)
		return "GBTU*" + stripped[:n-1] + "." + stripped[n-1:]

	case strings.HasPrefix(identifier, "BRND"):
		body := identifier[len("BRND"):]
		if !allDigits(body) {
			return identifier
		}
		stripped := strings.TrimLeft(body, "0")
		if stripped == "" {
			stripped = "0"
		}
		return "BRND*" + stripped
	}
	return identifier
}
