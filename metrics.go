package recovery

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by recovery APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricIdentifySuccess counts searches that bound a user to a session.
	MetricIdentifySuccess MetricID = iota
	// MetricIdentifyFailure counts searches that matched nobody.
	MetricIdentifyFailure
	// MetricMethodPassed counts passed verification evaluations.
	MetricMethodPassed
	// MetricMethodFailed counts failed verification evaluations.
	MetricMethodFailed
	// MetricTokenIssued counts issued out-of-band tokens.
	MetricTokenIssued
	// MetricTokenRedeemed counts successfully redeemed tokens.
	MetricTokenRedeemed
	// MetricTokenStale counts tokens rejected because the password changed after issue.
	MetricTokenStale
	// MetricRecoveryVerified counts sessions that met every requirement. Incremented once per session.
	MetricRecoveryVerified
	// MetricResetPassword counts interactive reset hand-offs.
	MetricResetPassword
	// MetricSendNewPassword counts generated passwords written and delivered.
	MetricSendNewPassword
	// MetricUnlockOnly counts unlock-only terminal actions.
	MetricUnlockOnly
	// MetricConfigurationError counts fatal configuration conditions.
	MetricConfigurationError
	// MetricLockedRejected counts identifications rejected because the account was locked.
	MetricLockedRejected
	// MetricIntruderMark counts intruder marks recorded after failures.
	MetricIntruderMark
	// MetricDeferredActionRun counts executed deferred post-actions.
	MetricDeferredActionRun
	// MetricNotificationFailure counts destinations that refused a message.
	MetricNotificationFailure
	// MetricActionLatency is the terminal action latency histogram.
	MetricActionLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by recovery APIs.
//
// Metrics instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by recovery APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a counter set. A disabled set ignores every update.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc describes the inc operation and its observable behavior.
//
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the action latency histogram. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricActionLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricActionLatency].buckets[i])
		}
		s.Histograms[MetricActionLatency] = buckets
	}

	return s
}

// Terminal actions touch the directory and notification gateways, so the buckets are wider
// than request-path latencies.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
