// Package bridge implements the core relay engine of Span Bridge.
//
// The bridge relays MQTT messages between two broker endpoints (named "a"
// and "b") under an ordered list of topic rules. It consists of:
//   - RuleSet: compiled topic rules with MQTT wildcard matching and
//     destination templates (rules.go)
//   - Router: per-direction pump and publisher goroutines with bounded
//     queues, loop prevention, and backpressure (router.go)
//   - Supervisor: top-level coordinator owning both sessions and the
//     router, with graceful drain on shutdown (supervisor.go)
//   - Metrics: atomic counters for forwarded and dropped messages
//     (metrics.go)
//
// # Message Flow
//
//	Endpoint A session → inbound channel → pump (map + fingerprint)
//	  → bounded queue → publisher → Endpoint B session
//
// The flow is symmetric in both directions. The two directions never block
// each other; each endpoint fails and recovers independently.
//
// # Loop Prevention
//
// Two mechanisms stop a forwarded message from bouncing back:
//   - An echo cache remembers fingerprints of recently published messages.
//     An inbound message whose fingerprint was just published to that same
//     endpoint is a broker echo and is dropped.
//   - A namespace guard drops any inbound message whose topic lands in a
//     rule's destination namespace for that endpoint. This survives bridge
//     restarts, which the in-memory echo cache does not.
//
// Rules whose destination endpoint equals their source endpoint are
// rejected at configuration time, so a single rule can never loop.
package bridge
