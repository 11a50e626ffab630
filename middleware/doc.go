// Package middleware exposes HTTP middleware adapters for protecting
// application routes with authcore session verification.
//
// # Guards
//
//   - [Guard] — rejects requests without a valid session cookie and injects
//     the verified {session, user} pair into the request context.
//   - [Optional] — injects the pair when present but never rejects.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// [authcore.Engine.SessionFromRequest].
//
// # What this package must NOT do
//
//   - Read or verify cookies directly (delegates to Engine).
//   - Touch storage (Engine handles I/O).
package middleware
