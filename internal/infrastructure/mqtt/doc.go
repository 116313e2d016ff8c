// Package mqtt provides per-endpoint MQTT sessions for Span Bridge.
//
// This package manages:
//   - One broker connection per bridge endpoint with auto-reconnect
//   - Connection state tracking (connecting, connected, reconnecting, closed)
//   - Subscription restoration after every reconnect
//   - Fail-fast publishing while disconnected
//   - Availability status publishing with LWT offline detection
//   - Classification of connect errors that retrying cannot fix
//
// # Architecture
//
// The bridge holds exactly two sessions, one per endpoint. Each session owns
// its network I/O and reconnect timers; the two sides fail and recover
// independently and never block each other.
//
//	Broker A ↔ Session A ↔ Bridge Router ↔ Session B ↔ Broker B
//
// # Reconnect Behaviour
//
// Sessions never give up on an endpoint. The initial connect retries at the
// configured interval; after a lost connection, attempts back off up to the
// configured maximum. Failures that retrying cannot fix (rejected
// credentials, protocol-version mismatch) are reported once via
// SetOnFatalConnectError, but the session keeps retrying: transient
// misconfiguration during broker restarts is common, and a bridge prefers
// availability over fast-fail.
//
// # Usage
//
//	session, err := mqtt.Open("a", cfg.Endpoints.A, "span-bridge/bridge-01/status")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.Subscribe("sensors/#", 1, func(topic string, payload []byte, qos byte, retained bool) {
//	    // forward the message
//	})
//
//	if err := session.WaitConnected(ctx); err != nil {
//	    // boot continues degraded; session reconnects in background
//	}
package mqtt
