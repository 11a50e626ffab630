package authcore

import (
	"net/http"
	"net/url"
	"strings"
)

// originGuard validates Origin/Referer headers and caller-supplied redirect
// targets against the configured trusted-origin patterns. Patterns match the
// full origin when they carry a scheme, otherwise the hostname alone; `*` and
// `?` glob wildcards are supported; comparison is case-insensitive.
type originGuard struct {
	patterns []string
}

func newOriginGuard(baseURL string, trusted []string) *originGuard {
	patterns := make([]string, 0, len(trusted)+1)
	if origin := originOf(baseURL); origin != "" {
		patterns = append(patterns, origin)
	}
	for _, p := range trusted {
		p = strings.TrimSpace(p)
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &originGuard{patterns: patterns}
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// CheckRequest enforces the CSRF rule: a state-mutating request carrying
// cookies must present a trusted Origin header (fallback Referer).
func (g *originGuard) CheckRequest(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}
	if len(r.Cookies()) == 0 {
		return nil
	}

	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" || origin == "null" {
		return ErrForbidden("Origin header missing")
	}
	if !g.MatchesOrigin(origin) {
		return ErrForbidden("Origin not trusted")
	}
	return nil
}

// MatchesOrigin reports whether the given origin (or any absolute URL) is
// covered by a trusted pattern.
func (g *originGuard) MatchesOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	full := strings.ToLower(u.Scheme + "://" + u.Host)
	host := strings.ToLower(u.Hostname())

	for _, pattern := range g.patterns {
		p := strings.ToLower(pattern)
		if strings.Contains(p, "://") {
			if globMatch(p, full) {
				return true
			}
			continue
		}
		if globMatch(p, host) {
			return true
		}
	}
	return false
}

// CheckRedirect validates a caller-supplied redirect-like field. Relative
// paths are accepted when they pass the safe-path grammar; absolute URLs must
// match a trusted pattern.
func (g *originGuard) CheckRedirect(target string) error {
	if target == "" {
		return nil
	}
	if isSafeRelativePath(target) {
		return nil
	}
	if g.MatchesOrigin(target) {
		return nil
	}
	return ErrForbidden("Redirect URL not trusted")
}

// isSafeRelativePath accepts plain relative paths and rejects anything a
// browser could interpret as an absolute or protocol-relative navigation:
// "//", backslash tricks, and percent-encoded traversal prefixes.
func isSafeRelativePath(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if strings.HasPrefix(p, "//") {
		return false
	}
	if strings.ContainsAny(p, "\\") {
		return false
	}
	lower := strings.ToLower(p)
	for _, bad := range []string{"/%2f", "/%5c", "%2e%2e", "/.."} {
		if strings.HasPrefix(lower, bad) || strings.Contains(lower, bad) {
			return false
		}
	}
	return true
}

// globMatch matches s against pattern where '*' spans any run (dots
// included) and '?' matches exactly one character.
func globMatch(pattern, s string) bool {
	if pattern == s {
		return true
	}

	var pi, si int
	starP, starS := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			starP = pi
			starS = si
			pi++
		case starP >= 0:
			starS++
			si = starS
			pi = starP + 1
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
