package ratelimit

import "sync/atomic"

// Metrics tracks admission decisions per limiter instance. Fail-open
// counts make storage outages visible even though traffic is not blocked.
type Metrics struct {
	allowed  atomic.Int64
	rejected atomic.Int64
	failOpen atomic.Int64
}

// NewMetrics creates a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordAllowed counts an admitted request.
func (m *Metrics) RecordAllowed() { m.allowed.Add(1) }

// RecordRejected counts a rejected request.
func (m *Metrics) RecordRejected() { m.rejected.Add(1) }

// RecordFailOpen counts a request admitted because the backing store
// errored.
func (m *Metrics) RecordFailOpen() { m.failOpen.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Allowed  int64 `json:"allowed"`
	Rejected int64 `json:"rejected"`
	FailOpen int64 `json:"fail_open"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Allowed:  m.allowed.Load(),
		Rejected: m.rejected.Load(),
		FailOpen: m.failOpen.Load(),
	}
}
