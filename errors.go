package authcore

import (
	"errors"
	"fmt"
	"net/http"
)

// Canonical error codes carried by [APIError]. Each maps to exactly one HTTP
// status; the top-level handler writes the mapped status and a {code, message}
// JSON body.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// APIError is a typed failure carrying a canonical kind mapped to an HTTP
// status. Handlers and hooks return it; only the hook pipeline may convert it
// into an alternate response before it reaches the top-level handler.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds an APIError with an explicit status and code.
func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// ErrBadRequest flags malformed input or an expired/replayed one-time artifact.
func ErrBadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, CodeBadRequest, message)
}

// ErrUnauthorized flags a credential, token, or client-assertion failure.
func ErrUnauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, CodeUnauthorized, message)
}

// ErrForbidden flags an origin/CSRF rejection or an authorization denial.
func ErrForbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, CodeForbidden, message)
}

// ErrNotFound flags an unknown provider or resource.
func ErrNotFound(message string) *APIError {
	return NewAPIError(http.StatusNotFound, CodeNotFound, message)
}

// ErrTooManyRequests flags a rate-limit rejection.
func ErrTooManyRequests(message string) *APIError {
	return NewAPIError(http.StatusTooManyRequests, CodeTooManyRequests, message)
}

// ErrInternal flags an unexpected or storage failure. The message is generic;
// details go to the log, never to the caller.
func ErrInternal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, CodeInternalServerError, message)
}

// AsAPIError unwraps err into an *APIError, or wraps it as INTERNAL_SERVER_ERROR.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal("internal server error")
}

var (
	// ErrNoSession is the internal "no session" result. Session verification
	// returns it for expired or unknown tokens instead of an API error.
	ErrNoSession = errors.New("no session")
	// ErrEndpointCollision is returned by Build when two endpoints register
	// the same method+path key.
	ErrEndpointCollision = errors.New("endpoint key collision")
	// ErrHookPhaseMismatch is returned by Build when a hook's handler does not
	// match its declared phase.
	ErrHookPhaseMismatch = errors.New("hook handler does not match phase")
	// ErrSecondaryUnavailable is returned when the configured secondary
	// storage cannot be reached.
	ErrSecondaryUnavailable = errors.New("secondary storage unavailable")
	// ErrEngineNotReady is returned when an Engine method is called before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Messages reused across handlers so that distinguishable failure branches
// stay textually identical.
const (
	msgInvalidCredentials = "Invalid email or password"
	msgUserExists         = "User already exists"
	msgInvalidToken       = "Invalid token"
	msgInvalidState       = "Invalid or expired state"
)

// schemaErrorHints maps storage error fragments to migration hints. Matched
// heuristically; the raw storage error is logged, never surfaced.
var schemaErrorHints = map[string]string{
	"does not exist": "run your schema migration: a model consumed by authcore is missing",
	"no such table":  "run your schema migration: a model consumed by authcore is missing",
	"unknown column": "your schema is out of date with the authcore field names",
}
