package internaldefs

import (
	authcore "github.com/authcore-dev/authcore"
)

// CounterDef binds a metric id to its stable exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram metric id to its stable exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs enumerates every counter both exporters publish. Names are
// part of the public monitoring contract; do not rename casually.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricSignInSuccess, Name: "authcore_sign_in_success_total", Help: "Successful sign-in attempts."},
	{ID: authcore.MetricSignInFailure, Name: "authcore_sign_in_failure_total", Help: "Failed sign-in attempts."},
	{ID: authcore.MetricSignUpSuccess, Name: "authcore_sign_up_success_total", Help: "Successful sign-ups."},
	{ID: authcore.MetricSignUpDuplicate, Name: "authcore_sign_up_duplicate_total", Help: "Sign-up attempts rejected as duplicate."},
	{ID: authcore.MetricSignOut, Name: "authcore_sign_out_total", Help: "Sign-out operations."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionRefreshed, Name: "authcore_session_refreshed_total", Help: "Sessions extended by sliding refresh."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Session revocation operations."},
	{ID: authcore.MetricOAuthRedirect, Name: "authcore_oauth_redirect_total", Help: "Issued authorization redirects."},
	{ID: authcore.MetricOAuthCallbackSuccess, Name: "authcore_oauth_callback_success_total", Help: "Completed OAuth callbacks."},
	{ID: authcore.MetricOAuthCallbackFailure, Name: "authcore_oauth_callback_failure_total", Help: "Failed OAuth callbacks."},
	{ID: authcore.MetricStateReplay, Name: "authcore_oauth_state_replay_total", Help: "Rejected missing or reused OAuth states."},
	{ID: authcore.MetricAssertionReplay, Name: "authcore_assertion_replay_total", Help: "Rejected replayed client assertions."},
	{ID: authcore.MetricRateLimited, Name: "authcore_rate_limited_total", Help: "Requests denied by the rate limiter."},
	{ID: authcore.MetricOriginRejected, Name: "authcore_origin_rejected_total", Help: "Requests rejected by the origin guard."},
	{ID: authcore.MetricEnumerationGuarded, Name: "authcore_enumeration_guarded_total", Help: "Errors replaced by enumeration-safe responses."},
	{ID: authcore.MetricVerificationConsumed, Name: "authcore_verification_consumed_total", Help: "Redeemed single-use verification values."},
	{ID: authcore.MetricVerificationExpired, Name: "authcore_verification_expired_total", Help: "Verification redemptions rejected as expired or unknown."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: authcore.MetricTokenRefreshSuccess, Name: "authcore_token_refresh_success_total", Help: "Successful provider token refreshes."},
	{ID: authcore.MetricTokenRefreshFailure, Name: "authcore_token_refresh_failure_total", Help: "Failed provider token refreshes."},
}

// HistogramDefs enumerates the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricDispatchLatency, Name: "authcore_dispatch_latency_seconds", Help: "Endpoint dispatch latency histogram."},
}

// HistogramBounds are the upper bounds (seconds) of the 8 fixed buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are metric-name-safe spellings of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
