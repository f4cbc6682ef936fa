package cache

import (
	"net/http"
	"strings"
)

// BaseKey returns the lookup key of a request before Vary widening.
// Format: METHOD:absolute-url. An empty method means GET, as in net/http.
//
// Example:
//
//	GET:https://api.example.com/v1/items?page=2
func BaseKey(method, absoluteURL string) string {
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + ":" + absoluteURL
}

// BuildKey derives the storage key for a request. varyNames are the header
// names listed by the Vary field of a previously stored response for the
// same base key; each adds one line with the normalized request value, in
// Vary order. Headers absent from the request still contribute an empty
// value so that "absent" and "present" never share a key.
//
// Example:
//
//	GET:https://api.example.com/v1/items
//	accept-encoding: gzip
func BuildKey(method, absoluteURL string, header http.Header, varyNames []string) string {
	key := BaseKey(method, absoluteURL)
	if len(varyNames) == 0 {
		return key
	}

	var b strings.Builder
	b.WriteString(key)
	for _, name := range varyNames {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "*" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(normalizeHeaderValue(header.Values(name)))
	}
	return b.String()
}

// RequestKey is BuildKey applied to req.
func RequestKey(req *http.Request, varyNames []string) string {
	return BuildKey(req.Method, req.URL.String(), req.Header, varyNames)
}

// normalizeHeaderValue joins repeated header lines and collapses the
// whitespace around list members.
func normalizeHeaderValue(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		for _, member := range strings.Split(v, ",") {
			member = strings.Join(strings.Fields(member), " ")
			if member != "" {
				parts = append(parts, member)
			}
		}
	}
	return strings.Join(parts, ",")
}
