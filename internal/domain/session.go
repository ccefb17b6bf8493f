package domain

import "strings"

// RouteFromSessionID extracts the worker route carried after the first '.'
// of a session identifier ("SID.route" or "SID.route.version"). An empty
// return means the id carries no route.
func RouteFromSessionID(sessionID string) string {
	i := strings.IndexByte(sessionID, '.')
	if i == -1 {
		return ""
	}
	route := sessionID[i+1:]
	if j := strings.IndexByte(route, '.'); j != -1 {
		route = route[:j]
	}
	return route
}

// PathParameter extracts a matrix-style path parameter (";name=value") from
// a raw request path. The value ends at the next ';', '/' or '?'.
func PathParameter(rawPath, name string) string {
	marker := ";" + name + "="
	i := strings.Index(rawPath, marker)
	if i == -1 {
		return ""
	}
	value := rawPath[i+len(marker):]
	if j := strings.IndexAny(value, ";/?"); j != -1 {
		value = value[:j]
	}
	return value
}
