package internaldefs

import (
	recovery "github.com/pwm-project/pwm-sub000"
)

// Series is one labeled sample of a family.
type Series struct {
	ID    recovery.MetricID
	Value string
}

// Family groups engine counters that describe the same recovery stage. Label is empty for
// single-series families, which are exported without labels.
type Family struct {
	Name   string
	Help   string
	Label  string
	Series []Series
}

// HistogramDef names one recovery histogram for exporters.
type HistogramDef struct {
	ID   recovery.MetricID
	Name string
	Help string
}

// Families lists every exported counter family in exposition order. Every counter MetricID
// appears in exactly one family.
var Families = []Family{
	{
		Name:  "recovery_identify_total",
		Help:  "Identification attempts by result.",
		Label: "result",
		Series: []Series{
			{ID: recovery.MetricIdentifySuccess, Value: "success"},
			{ID: recovery.MetricIdentifyFailure, Value: "not_found"},
			{ID: recovery.MetricLockedRejected, Value: "locked"},
		},
	},
	{
		Name:  "recovery_method_total",
		Help:  "Verification method evaluations by result.",
		Label: "result",
		Series: []Series{
			{ID: recovery.MetricMethodPassed, Value: "passed"},
			{ID: recovery.MetricMethodFailed, Value: "failed"},
		},
	},
	{
		Name:  "recovery_token_total",
		Help:  "Out-of-band token lifecycle events.",
		Label: "event",
		Series: []Series{
			{ID: recovery.MetricTokenIssued, Value: "issued"},
			{ID: recovery.MetricTokenRedeemed, Value: "redeemed"},
			{ID: recovery.MetricTokenStale, Value: "stale"},
		},
	},
	{
		Name:   "recovery_verified_total",
		Help:   "Sessions that satisfied every verification requirement.",
		Series: []Series{{ID: recovery.MetricRecoveryVerified}},
	},
	{
		Name:  "recovery_action_total",
		Help:  "Completed terminal actions by kind.",
		Label: "action",
		Series: []Series{
			{ID: recovery.MetricResetPassword, Value: "reset_password"},
			{ID: recovery.MetricSendNewPassword, Value: "send_new_password"},
			{ID: recovery.MetricUnlockOnly, Value: "unlock"},
		},
	},
	{
		Name:   "recovery_configuration_error_total",
		Help:   "Fatal configuration conditions hit by users.",
		Series: []Series{{ID: recovery.MetricConfigurationError}},
	},
	{
		Name:   "recovery_intruder_mark_total",
		Help:   "Intruder marks recorded after failures.",
		Series: []Series{{ID: recovery.MetricIntruderMark}},
	},
	{
		Name:   "recovery_deferred_action_run_total",
		Help:   "Deferred post-recovery actions executed.",
		Series: []Series{{ID: recovery.MetricDeferredActionRun}},
	},
	{
		Name:   "recovery_notification_failure_total",
		Help:   "Destinations that refused a message.",
		Series: []Series{{ID: recovery.MetricNotificationFailure}},
	},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: recovery.MetricActionLatency, Name: "recovery_action_latency_seconds", Help: "Terminal action latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, as rendered in le labels.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix holds HistogramBounds in a form safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// Verification summarizes how identified users moved through verification.
type Verification struct {
	Identified uint64
	Verified   uint64
	Completed  uint64
}

// Ratio returns Verified/Identified, or 0 before anyone was identified.
func (v Verification) Ratio() float64 {
	if v.Identified == 0 {
		return 0
	}
	return float64(v.Verified) / float64(v.Identified)
}

// Funnel reads the identify, verified and terminal action counters out of snapshot.
func Funnel(snapshot recovery.MetricsSnapshot) Verification {
	c := snapshot.Counters
	return Verification{
		Identified: c[recovery.MetricIdentifySuccess],
		Verified:   c[recovery.MetricRecoveryVerified],
		Completed:  c[recovery.MetricResetPassword] + c[recovery.MetricSendNewPassword] + c[recovery.MetricUnlockOnly],
	}
}

// NormalizeBuckets copies a snapshot histogram into a fixed array. Missing buckets read as zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
