package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteBridgeCounters writes one sample of the bridge forwarding counters.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Counters are cumulative since process start; rate queries derive deltas.
//
// Parameters:
//   - bridgeID: Bridge instance identifier (tag)
//   - fields: Counter name to value map
func (c *Client) WriteBridgeCounters(bridgeID string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bridge_counters",
		map[string]string{
			"bridge_id": bridgeID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEndpointStatus writes one endpoint's connection state.
//
// Parameters:
//   - bridgeID: Bridge instance identifier (tag)
//   - endpoint: Endpoint name, "a" or "b" (tag)
//   - connected: Current connection state
func (c *Client) WriteEndpointStatus(bridgeID, endpoint string, connected bool) {
	if !c.IsConnected() {
		return
	}

	connectedValue := 0
	if connected {
		connectedValue = 1
	}

	point := write.NewPoint(
		"endpoint_status",
		map[string]string{
			"bridge_id": bridgeID,
			"endpoint":  endpoint,
		},
		map[string]interface{}{
			"connected": connectedValue,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
