// Package oauth implements the OAuth2/OIDC protocol client used by the
// engine's social sign-in: authorization URL construction with PKCE,
// authorization-code exchange, token refresh, user-info normalization, and
// private-key-JWT client-assertion verification with replay protection.
//
// Vendor differences are configuration on GenericProvider, not new types:
// endpoints, default scopes, extra authorization or refresh parameters.
// Providers with behavior that cannot be expressed as configuration
// implement the Provider interface directly.
package oauth
