package auth

import (
	"fmt"
	"regexp"
	"strings"
)

// Scope grants access to requests whose method and path match.
type Scope struct {
	method string
	path   *regexp.Regexp
}

// ParseScope parses "METHOD PATH". METHOD is an HTTP method or "*"; PATH
// is a regular expression matched against the whole request path, so
// "GET /endpoints.*" allows every endpoint read.
func ParseScope(s string) (Scope, error) {
	method, pattern, ok := strings.Cut(strings.TrimSpace(s), " ")
	pattern = strings.TrimSpace(pattern)
	if !ok || method == "" || pattern == "" {
		return Scope{}, fmt.Errorf("%w: %q is not \"METHOD PATH\"", ErrInvalidScope, s)
	}

	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %q: %v", ErrInvalidScope, s, err)
	}
	return Scope{method: strings.ToUpper(method), path: re}, nil
}

// Allows reports whether the scope covers method and path.
func (s Scope) Allows(method, path string) bool {
	if s.method != "*" && s.method != strings.ToUpper(method) {
		return false
	}
	return s.path.MatchString(path)
}

func (s Scope) String() string {
	p := strings.TrimSuffix(strings.TrimPrefix(s.path.String(), "^(?:"), ")$")
	return s.method + " " + p
}
