package mcp

import "strings"

// ResolveEndpoint joins the stream URL base with an endpoint announced by the server.
//
// An absolute endpoint (scheme://...) is returned unchanged. An endpoint starting with "/"
// replaces the whole path of base, like an absolute-path reference in HTTP. Any other endpoint
// is appended to the path of base with exactly one separating slash. The query of base is never
// carried over.
func ResolveEndpoint(base, endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if isAbsoluteURL(endpoint) {
		return endpoint
	}

	origin, path := splitBaseURL(base)
	if endpoint == "" {
		return origin + path
	}
	if strings.HasPrefix(endpoint, "/") {
		return origin + endpoint
	}

	return origin + strings.TrimRight(path, "/") + "/" + endpoint
}

// isAbsoluteURL reports whether s starts with a scheme followed by "://".
func isAbsoluteURL(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	for j, r := range s[:i] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case j > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// splitBaseURL splits base into scheme://host[:port] and its path, dropping query and fragment.
func splitBaseURL(base string) (origin, path string) {
	base = strings.TrimSpace(base)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}

	hostStart := 0
	if i := strings.Index(base, "://"); i >= 0 {
		hostStart = i + len("://")
	}
	if i := strings.IndexByte(base[hostStart:], '/'); i >= 0 {
		return base[:hostStart+i], base[hostStart+i:]
	}
	return base, ""
}
