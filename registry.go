package authcore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HandlerFunc is an endpoint implementation.
type HandlerFunc func(*RequestContext) (*Response, error)

// EndpointMetadata carries per-endpoint dispatch behavior.
type EndpointMetadata struct {
	// RequireSession rejects the request with 401 before the handler runs
	// when no valid session accompanies it.
	RequireSession bool
	// SkipOriginCheck exempts the endpoint from the Origin/CSRF guard.
	// Reserved for endpoints that are navigated to directly (OAuth
	// callbacks) rather than called by scripts.
	SkipOriginCheck bool
	// RateLimit overrides the global window/budget for this endpoint.
	RateLimit *RateLimitRule
}

// Endpoint binds a method and path to a handler. Paths are relative to the
// engine base path and may contain at most one ":name" segment, which is
// captured into RequestContext.Params.
type Endpoint struct {
	Method   string
	Path     string
	Handler  HandlerFunc
	Metadata EndpointMetadata
}

// HookPhase selects when a hook runs relative to the handler.
type HookPhase int

const (
	HookBefore HookPhase = iota
	HookAfter
)

// HookPatch is what a before hook may contribute: each non-nil field is
// merged into the in-flight request before the next hook or the handler.
type HookPatch struct {
	// Body replaces the request body.
	Body json.RawMessage
	// Headers are set on the eventual response.
	Headers map[string]string
	// Session overrides the resolved session.
	Session *SessionResult
}

// Hook observes or alters requests flowing through matching endpoints.
//
// Before hooks run in registration order; any returned error aborts the
// request (the handler never runs). After hooks also run in registration
// order, each receiving the current response/error pair and returning the
// pair to pass on, so a later-registered hook sees earlier replacements and
// the last registered hook has the final word.
type Hook struct {
	Phase HookPhase
	// Matcher limits which requests the hook sees. A nil matcher matches
	// every request.
	Matcher func(*RequestContext) bool
	// Before runs ahead of the handler when Phase is HookBefore.
	Before func(*RequestContext) (*HookPatch, error)
	// After runs behind the handler when Phase is HookAfter.
	After func(*RequestContext, *Response, error) (*Response, error)
}

func (h *Hook) matches(rc *RequestContext) bool {
	return h.Matcher == nil || h.Matcher(rc)
}

// PathMatcher returns a hook matcher for one exact endpoint path.
func PathMatcher(path string) func(*RequestContext) bool {
	return func(rc *RequestContext) bool {
		return rc.Path == path
	}
}

// Plugin bundles endpoints and hooks registered as a unit at build time.
type Plugin interface {
	// ID names the plugin for logs and duplicate detection.
	ID() string
	Endpoints() []Endpoint
	Hooks() []Hook
	// Init runs once during Build, after core registration.
	Init(e *Engine) error
}

/*
====================================
REGISTRY
====================================
*/

func endpointKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

type paramRoute struct {
	segments []string // literal segments, "" where the :param sits
	param    string
	index    int
	endpoint *Endpoint
}

// registry resolves (method, path) to an endpoint. Exact paths win over
// parameterized ones. Registration is build-time only; lookup is read-only
// and safe for concurrent use afterwards.
type registry struct {
	exact  map[string]*Endpoint
	params map[string][]paramRoute // keyed by method
	hooks  []Hook
}

func newRegistry() *registry {
	return &registry{
		exact:  make(map[string]*Endpoint),
		params: make(map[string][]paramRoute),
	}
}

// register adds an endpoint, failing on a duplicate (method, path) pair.
func (r *registry) register(ep Endpoint) error {
	if ep.Method == "" || ep.Path == "" || !strings.HasPrefix(ep.Path, "/") {
		return fmt.Errorf("invalid endpoint %q %q", ep.Method, ep.Path)
	}
	if ep.Handler == nil {
		return fmt.Errorf("endpoint %s has no handler", endpointKey(ep.Method, ep.Path))
	}

	key := endpointKey(ep.Method, ep.Path)
	if _, ok := r.exact[key]; ok {
		return fmt.Errorf("%w: %s", ErrEndpointCollision, key)
	}

	method := strings.ToUpper(ep.Method)
	segments := strings.Split(strings.Trim(ep.Path, "/"), "/")

	paramIdx, paramName := -1, ""
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			if paramIdx >= 0 {
				return fmt.Errorf("endpoint %s: multiple path parameters", key)
			}
			paramIdx, paramName = i, seg[1:]
			segments[i] = ""
		}
	}

	stored := ep
	r.exact[key] = &stored

	if paramIdx >= 0 {
		for _, existing := range r.params[method] {
			if len(existing.segments) == len(segments) && existing.index == paramIdx {
				same := true
				for i := range segments {
					if segments[i] != existing.segments[i] {
						same = false
						break
					}
				}
				if same {
					return fmt.Errorf("%w: %s", ErrEndpointCollision, key)
				}
			}
		}
		r.params[method] = append(r.params[method], paramRoute{
			segments: segments,
			param:    paramName,
			index:    paramIdx,
			endpoint: &stored,
		})
	}
	return nil
}

// match resolves a request path. Returns the endpoint and any captured path
// parameter, or false when nothing matches.
func (r *registry) match(method, path string) (*Endpoint, map[string]string, bool) {
	method = strings.ToUpper(method)
	if ep, ok := r.exact[endpointKey(method, path)]; ok && !strings.Contains(ep.Path, ":") {
		return ep, nil, true
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, route := range r.params[method] {
		if len(route.segments) != len(segments) {
			continue
		}
		matched := true
		for i, seg := range route.segments {
			if i == route.index {
				if segments[i] == "" {
					matched = false
					break
				}
				continue
			}
			if seg != segments[i] {
				matched = false
				break
			}
		}
		if matched {
			return route.endpoint, map[string]string{route.param: segments[route.index]}, true
		}
	}
	return nil, nil, false
}

func (r *registry) addHook(h Hook) {
	r.hooks = append(r.hooks, h)
}
