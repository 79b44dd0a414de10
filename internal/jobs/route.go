package jobs

import "strings"

// ParseRoute splits a URL path like /api/sessions/{id}/{action}/{rest...}
// into a normalized ID, the action and any remaining segments.
// apiPrefix should be like "/api/sessions/", idPrefix like "sess-".
// action is empty for /api/sessions/{id}. ok is false when the ID is missing.
func ParseRoute(path, apiPrefix, idPrefix string) (id, action string, rest []string, ok bool) {
	trimmed := strings.Trim(strings.TrimPrefix(path, apiPrefix), "/")
	if trimmed == "" {
		return "", "", nil, false
	}
	parts := strings.Split(trimmed, "/")
	id = NormalizeID(parts[0], idPrefix)
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		rest = parts[2:]
	}
	return id, action, rest, true
}
