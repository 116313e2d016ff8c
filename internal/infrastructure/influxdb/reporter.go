package influxdb

import (
	"context"
	"time"

	"github.com/nerrad567/span-bridge/internal/bridge"
)

// defaultReportInterval is how often bridge counters are sampled.
const defaultReportInterval = 30 * time.Second

// Reporter periodically samples bridge counters and endpoint health and
// writes them as InfluxDB points.
//
// Start it after the supervisor is running; cancel the context to stop.
type Reporter struct {
	client     *Client
	supervisor *bridge.Supervisor
	interval   time.Duration
}

// NewReporter creates a reporter for the given supervisor.
//
// Parameters:
//   - client: Connected InfluxDB client
//   - supervisor: Running bridge supervisor to sample
//   - interval: Sampling interval; <= 0 selects the 30s default
func NewReporter(client *Client, supervisor *bridge.Supervisor, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &Reporter{
		client:     client,
		supervisor: supervisor,
		interval:   interval,
	}
}

// Run samples and writes until the context is cancelled.
// A final sample is written on the way out so shutdown counters land.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.report()
			r.client.Flush()
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// report writes one sample of counters and endpoint status.
func (r *Reporter) report() {
	health := r.supervisor.Health()
	snap := r.supervisor.Metrics().Snapshot()

	r.client.WriteBridgeCounters(health.BridgeID, map[string]interface{}{
		"received_a":                   snap.ReceivedA,
		"received_b":                   snap.ReceivedB,
		"forwarded_to_a":               snap.ForwardedToA,
		"forwarded_to_b":               snap.ForwardedToB,
		"dropped_no_matching_rule":     snap.DroppedNoMatchingRule,
		"dropped_loop_detected":        snap.DroppedLoopDetected,
		"dropped_backpressure_timeout": snap.DroppedBackpressureExpiry,
		"reconnects_a":                 snap.ReconnectsA,
		"reconnects_b":                 snap.ReconnectsB,
		"publish_errors":               snap.PublishErrors,
		"uptime_seconds":               snap.UptimeSeconds,
	})

	for endpoint, status := range health.Endpoints {
		r.client.WriteEndpointStatus(health.BridgeID, string(endpoint), status.Connected)
	}
}
