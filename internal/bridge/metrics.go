package bridge

import (
	"sync/atomic"
	"time"
)

// Metrics holds bridge counters, updated lock-free from the router's
// goroutines and read by the status API and the InfluxDB reporter.
//
// Thread Safety: all methods are safe for concurrent use.
type Metrics struct {
	startedAt time.Time

	receivedA atomic.Uint64
	receivedB atomic.Uint64

	forwardedToA atomic.Uint64
	forwardedToB atomic.Uint64

	droppedNoRule       atomic.Uint64
	droppedLoop         atomic.Uint64
	droppedBackpressure atomic.Uint64

	reconnectsA atomic.Uint64
	reconnectsB atomic.Uint64

	publishErrors atomic.Uint64
}

// NewMetrics creates a zeroed metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// RecordReceived counts a message received from an endpoint.
func (m *Metrics) RecordReceived(source Endpoint) {
	if source == EndpointA {
		m.receivedA.Add(1)
		return
	}
	m.receivedB.Add(1)
}

// RecordForwarded counts a message successfully published to an endpoint.
func (m *Metrics) RecordForwarded(destination Endpoint) {
	if destination == EndpointA {
		m.forwardedToA.Add(1)
		return
	}
	m.forwardedToB.Add(1)
}

// RecordDrop counts a message that was not forwarded.
func (m *Metrics) RecordDrop(reason DropReason) {
	switch reason {
	case DropNoMatchingRule:
		m.droppedNoRule.Add(1)
	case DropLoopDetected:
		m.droppedLoop.Add(1)
	case DropBackpressureTimeout:
		m.droppedBackpressure.Add(1)
	}
}

// RecordReconnect counts a lost connection on an endpoint.
func (m *Metrics) RecordReconnect(endpoint Endpoint) {
	if endpoint == EndpointA {
		m.reconnectsA.Add(1)
		return
	}
	m.reconnectsB.Add(1)
}

// RecordPublishError counts a terminal publish failure.
func (m *Metrics) RecordPublishError() {
	m.publishErrors.Add(1)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	ReceivedA uint64 `json:"received_a"`
	ReceivedB uint64 `json:"received_b"`

	ForwardedToA uint64 `json:"forwarded_to_a"`
	ForwardedToB uint64 `json:"forwarded_to_b"`

	DroppedNoMatchingRule     uint64 `json:"dropped_no_matching_rule"`
	DroppedLoopDetected       uint64 `json:"dropped_loop_detected"`
	DroppedBackpressureExpiry uint64 `json:"dropped_backpressure_timeout"`

	ReconnectsA uint64 `json:"reconnects_a"`
	ReconnectsB uint64 `json:"reconnects_b"`

	PublishErrors uint64 `json:"publish_errors"`
}

// Snapshot returns a consistent-enough copy of the counters. Individual
// counters are read atomically; the snapshot as a whole is not a single
// atomic observation, which is fine for monitoring.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UptimeSeconds:             time.Since(m.startedAt).Seconds(),
		ReceivedA:                 m.receivedA.Load(),
		ReceivedB:                 m.receivedB.Load(),
		ForwardedToA:              m.forwardedToA.Load(),
		ForwardedToB:              m.forwardedToB.Load(),
		DroppedNoMatchingRule:     m.droppedNoRule.Load(),
		DroppedLoopDetected:       m.droppedLoop.Load(),
		DroppedBackpressureExpiry: m.droppedBackpressure.Load(),
		ReconnectsA:               m.reconnectsA.Load(),
		ReconnectsB:               m.reconnectsB.Load(),
		PublishErrors:             m.publishErrors.Load(),
	}
}
