// Package authcore provides a framework-agnostic authentication engine:
// email/password and OAuth sign-in, cookie-backed server sessions with
// sliding refresh, single-use verification tokens, and an extensible
// endpoint/hook pipeline, all behind one http.Handler.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the plugin contract ([Plugin], [Endpoint], [Hook]), and value types (User,
// Session, MetricsSnapshot). Storage access goes through [adapter.Adapter];
// provider protocol details live under oauth/; audit dispatch lives under
// internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Render application UI or own application routes outside its base path.
//   - Talk to a concrete database: persistence is always behind an adapter.
//   - Leak account existence through response shape or timing on the
//     sign-in, forget-password, or send-verification paths.
//
// # Request flow
//
// Every request entering [Engine.ServeHTTP] passes, in order: rate limiter,
// origin guard, session resolution, before hooks, the endpoint handler,
// enumeration-safe substitution, after hooks. Hooks observe and patch the
// request/response; the last registered after hook has the final word.
package authcore
