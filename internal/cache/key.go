package cache

import (
	"net/url"
	gopath "path"
	"strings"
)

// Key derives the cache key for a request: the cleaned path, plus a
// canonical key-sorted encoding of the query parameters when present.
// Two logically identical requests always produce the same key regardless
// of parameter ordering.
func Key(path string, params url.Values) string {
	p := gopath.Clean("/" + strings.Trim(path, "/"))
	if len(params) == 0 {
		return p
	}
	// url.Values.Encode sorts by parameter name.
	return p + "?" + params.Encode()
}

// Resource returns the first path segment of a request path or cache key,
// e.g. "/expenses/42?limit=10" -> "expenses". It identifies the backend
// resource for TTL selection and invalidation mapping.
func Resource(pathOrKey string) string {
	s := strings.TrimPrefix(pathOrKey, "/")
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}

// KeyPrefix returns the cache-key prefix covering every entry of a
// resource, suitable for prefix invalidation.
func KeyPrefix(resource string) string {
	return "/" + strings.Trim(resource, "/")
}
