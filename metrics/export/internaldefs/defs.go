package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricSignUpSuccess, Name: "authgate_sign_up_success_total", Help: "Accepted sign-up requests."},
	{ID: authgate.MetricSignUpFailure, Name: "authgate_sign_up_failure_total", Help: "Rejected or failed sign-up requests."},
	{ID: authgate.MetricSignInSuccess, Name: "authgate_sign_in_success_total", Help: "Successful password sign-ins."},
	{ID: authgate.MetricSignInFailure, Name: "authgate_sign_in_failure_total", Help: "Rejected or failed password sign-ins."},
	{ID: authgate.MetricSignOutSuccess, Name: "authgate_sign_out_success_total", Help: "Completed sign-outs."},
	{ID: authgate.MetricSignOutFailure, Name: "authgate_sign_out_failure_total", Help: "Sign-outs the provider or storage failed."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: authgate.MetricPasswordResetFailure, Name: "authgate_password_reset_failure_total", Help: "Password reset requests that failed."},
	{ID: authgate.MetricInitializeSuccess, Name: "authgate_initialize_success_total", Help: "Store initializations that fetched the session."},
	{ID: authgate.MetricInitializeFailure, Name: "authgate_initialize_failure_total", Help: "Store initializations that failed."},
	{ID: authgate.MetricInitializeCoalesced, Name: "authgate_initialize_coalesced_total", Help: "Initialize calls that joined an in-flight fetch."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Background session refreshes."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Failed background session refreshes."},
	{ID: authgate.MetricProviderEventApplied, Name: "authgate_provider_event_applied_total", Help: "Provider auth-state events applied to a store."},
	{ID: authgate.MetricProviderEventStale, Name: "authgate_provider_event_stale_total", Help: "Provider auth-state events skipped as stale."},
	{ID: authgate.MetricGuardAllow, Name: "authgate_guard_allow_total", Help: "Navigations the guard allowed."},
	{ID: authgate.MetricGuardRedirectGuest, Name: "authgate_guard_redirect_guest_total", Help: "Navigations redirected to the guest entry point."},
	{ID: authgate.MetricGuardRedirectAuthenticated, Name: "authgate_guard_redirect_authenticated_total", Help: "Navigations redirected to the authenticated landing page."},
	{ID: authgate.MetricRateLimitHit, Name: "authgate_rate_limit_hit_total", Help: "Credential form submissions denied by rate limiting."},
	{ID: authgate.MetricStoreCreated, Name: "authgate_store_created_total", Help: "Per-actor auth stores created."},
	{ID: authgate.MetricStoreEvicted, Name: "authgate_store_evicted_total", Help: "Idle auth stores evicted."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricProviderLatency, Name: "authgate_provider_latency_seconds", Help: "Latency of calls to the auth provider."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// engine's millisecond buckets.
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

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
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

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets and dropping extras.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
