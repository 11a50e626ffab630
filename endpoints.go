package authcore

import (
	"net/http"
	"time"
)

// registerCoreEndpoints wires the built-in surface. Email/password endpoints
// are only present when the credential provider is enabled; social endpoints
// only when at least one provider is configured.
func (e *Engine) registerCoreEndpoints() error {
	endpoints := []Endpoint{
		{Method: http.MethodGet, Path: "/ok", Handler: e.handleOK},
		{Method: http.MethodGet, Path: "/error", Handler: e.handleErrorPage},

		{Method: http.MethodGet, Path: "/get-session", Handler: e.handleGetSession},
		{Method: http.MethodPost, Path: "/sign-out", Handler: e.handleSignOut},
		{Method: http.MethodGet, Path: "/list-sessions", Handler: e.handleListSessions,
			Metadata: EndpointMetadata{RequireSession: true}},
		{Method: http.MethodPost, Path: "/revoke-session", Handler: e.handleRevokeSession,
			Metadata: EndpointMetadata{RequireSession: true}},
		{Method: http.MethodPost, Path: "/revoke-sessions", Handler: e.handleRevokeSessions,
			Metadata: EndpointMetadata{RequireSession: true}},
		{Method: http.MethodPost, Path: "/revoke-other-sessions", Handler: e.handleRevokeOtherSessions,
			Metadata: EndpointMetadata{RequireSession: true}},
	}

	if e.cfg.EmailPassword.Enabled {
		endpoints = append(endpoints,
			Endpoint{Method: http.MethodPost, Path: "/sign-up/email", Handler: e.handleSignUpEmail,
				Metadata: EndpointMetadata{RateLimit: &RateLimitRule{Window: time.Minute, Max: 10}}},
			Endpoint{Method: http.MethodPost, Path: "/sign-in/email", Handler: e.handleSignInEmail,
				Metadata: EndpointMetadata{RateLimit: &RateLimitRule{Window: time.Minute, Max: 10}}},
			Endpoint{Method: http.MethodPost, Path: "/send-verification-email", Handler: e.handleSendVerificationEmail,
				Metadata: EndpointMetadata{RateLimit: &RateLimitRule{Window: time.Minute, Max: 5}}},
			Endpoint{Method: http.MethodGet, Path: "/verify-email", Handler: e.handleVerifyEmail},
			Endpoint{Method: http.MethodPost, Path: "/forget-password", Handler: e.handleForgetPassword,
				Metadata: EndpointMetadata{RateLimit: &RateLimitRule{Window: time.Minute, Max: 5}}},
			Endpoint{Method: http.MethodPost, Path: "/reset-password", Handler: e.handleResetPassword,
				Metadata: EndpointMetadata{RateLimit: &RateLimitRule{Window: time.Minute, Max: 10}}},
		)
	}

	if len(e.providers) > 0 {
		endpoints = append(endpoints,
			Endpoint{Method: http.MethodPost, Path: "/sign-in/social", Handler: e.handleSignInSocial},
			Endpoint{Method: http.MethodGet, Path: "/callback/:providerId", Handler: e.handleCallback,
				Metadata: EndpointMetadata{SkipOriginCheck: true}},
			Endpoint{Method: http.MethodPost, Path: "/refresh-token", Handler: e.handleRefreshToken,
				Metadata: EndpointMetadata{RequireSession: true}},
		)
	}

	for _, ep := range endpoints {
		if err := e.registry.register(ep); err != nil {
			return err
		}
	}
	return nil
}
