package cachecontrol

import (
	"net/http"
	"strings"
	"time"
)

// ParseDate parses an HTTP-date in any of the three formats accepted by
// http.ParseTime. It returns the zero time for empty or malformed input.
func ParseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// FormatDate renders t as an IMF-fixdate.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
