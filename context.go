package authcore

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Response is what an endpoint handler produces. A non-empty Redirect turns
// the response into a 302 to that location; otherwise Body is JSON-encoded
// with Status (default 200).
type Response struct {
	Status   int
	Body     any
	Redirect string
	Headers  http.Header
	Cookies  []*http.Cookie
}

// JSONResponse is the common success shape.
func JSONResponse(body any) *Response {
	return &Response{Status: http.StatusOK, Body: body}
}

// RedirectResponse sends the client to location with a 302.
func RedirectResponse(location string) *Response {
	return &Response{Status: http.StatusFound, Redirect: location}
}

func (r *Response) addCookie(c *http.Cookie) {
	r.Cookies = append(r.Cookies, c)
}

func (r *Response) setHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
	r.Headers.Set(key, value)
}

// RequestContext carries one request through hooks and its handler. Handlers
// read input through it and attach cookies/headers to it; the engine merges
// those into the final response.
type RequestContext struct {
	ctx     context.Context
	engine  *Engine
	request *http.Request

	// Path is the endpoint path relative to the base path, e.g.
	// "/sign-in/email". Params holds :segment captures.
	Path   string
	Method string
	Params map[string]string
	Query  url.Values
	Body   json.RawMessage

	// Session is populated before the handler runs when the request carries
	// a valid session cookie; nil otherwise.
	Session *SessionResult

	headers http.Header
	cookies []*http.Cookie

	// Enumeration guard state, see SetEnumerationSafeResponse.
	enumResponse *Response
	enumEqualize func()
}

// Context returns the request-scoped context.
func (rc *RequestContext) Context() context.Context {
	return rc.ctx
}

// Request returns the underlying HTTP request.
func (rc *RequestContext) Request() *http.Request {
	return rc.request
}

// BindJSON decodes the request body into v. Unknown fields are ignored; an
// empty body binds the zero value.
func (rc *RequestContext) BindJSON(v any) error {
	if len(rc.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Body, v); err != nil {
		return ErrBadRequest("Invalid request body")
	}
	return nil
}

// Param returns a path parameter captured by a :segment, or "".
func (rc *RequestContext) Param(name string) string {
	return rc.Params[name]
}

// SetHeader sets a header on the eventual response.
func (rc *RequestContext) SetHeader(key, value string) {
	if rc.headers == nil {
		rc.headers = make(http.Header)
	}
	rc.headers.Set(key, value)
}

// SetCookie attaches a cookie to the eventual response.
func (rc *RequestContext) SetCookie(c *http.Cookie) {
	rc.cookies = append(rc.cookies, c)
}

// ClientIP resolves the caller's IP. Configured forwarding headers are
// consulted in order (first value of the first present header); otherwise the
// connection's remote address is used.
func (rc *RequestContext) ClientIP() string {
	for _, header := range rc.engine.cfg.Advanced.IPAddressHeaders {
		if v := rc.request.Header.Get(header); v != "" {
			if idx := strings.IndexByte(v, ','); idx >= 0 {
				v = v[:idx]
			}
			return strings.TrimSpace(v)
		}
	}
	host, _, err := net.SplitHostPort(rc.request.RemoteAddr)
	if err != nil {
		return rc.request.RemoteAddr
	}
	return host
}

// UserAgent returns the request's User-Agent header.
func (rc *RequestContext) UserAgent() string {
	return rc.request.UserAgent()
}

// SetEnumerationSafeResponse registers the response to substitute for the
// handler's failure when enumeration protection is active, along with an
// optional equalize func run on the failure path to level timing against the
// success path. Calling it again replaces the previous registration: the
// last call wins.
//
// When the handler then returns an error, the engine discards the error,
// runs equalize, and serves resp instead, so an attacker cannot distinguish
// "account exists" from "account does not exist" by status, body, or timing.
func (rc *RequestContext) SetEnumerationSafeResponse(resp *Response, equalize func()) {
	rc.enumResponse = resp
	rc.enumEqualize = equalize
}

// consumeEnumerationResponse returns and clears the registered substitution,
// running the equalizer. Nil when none was registered or protection is off.
func (rc *RequestContext) consumeEnumerationResponse() *Response {
	if rc.enumResponse == nil || !rc.engine.cfg.enumerationProtectionEnabled() {
		return nil
	}
	resp := rc.enumResponse
	equalize := rc.enumEqualize
	rc.enumResponse, rc.enumEqualize = nil, nil
	if equalize != nil {
		equalize()
	}
	return resp
}

// mergeInto folds context-attached headers and cookies into the response.
// Response-level values win: they were set by after hooks, which run later
// and have the final word. Context cookies are emitted first so a hook's
// replacement cookie for the same name takes effect in the client.
func (rc *RequestContext) mergeInto(resp *Response) {
	for key, values := range rc.headers {
		if resp.Headers != nil && len(resp.Headers.Values(key)) > 0 {
			continue
		}
		for _, v := range values {
			resp.setHeader(key, v)
		}
	}
	if len(rc.cookies) > 0 {
		merged := make([]*http.Cookie, 0, len(rc.cookies)+len(resp.Cookies))
		merged = append(merged, rc.cookies...)
		merged = append(merged, resp.Cookies...)
		resp.Cookies = merged
	}
}
