// Package influxdb provides InfluxDB connectivity for Span Bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and a periodic reporter that
// samples the bridge's forwarding counters and endpoint health.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when turned off in config; bridge runs without it
//	}
//	defer client.Close()
//
//	reporter := influxdb.NewReporter(client, supervisor, 30*time.Second)
//	go reporter.Run(ctx)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly. Metrics are an ambient concern: a failing InfluxDB never stops
// the bridge from forwarding.
package influxdb
