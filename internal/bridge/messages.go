package bridge

import (
	"hash/fnv"
	"time"
)

// Endpoint identifies one side of the bridge.
type Endpoint string

const (
	// EndpointA is the first broker endpoint.
	EndpointA Endpoint = "a"

	// EndpointB is the second broker endpoint.
	EndpointB Endpoint = "b"
)

// Opposite returns the other side of the bridge.
func (e Endpoint) Opposite() Endpoint {
	if e == EndpointA {
		return EndpointB
	}
	return EndpointA
}

// Valid returns true for the two known endpoints.
func (e Endpoint) Valid() bool {
	return e == EndpointA || e == EndpointB
}

// InboundMessage is a message received from one endpoint, before mapping.
// Created by the session message handler; consumed exactly once by the
// router pump for its source endpoint.
type InboundMessage struct {
	Source     Endpoint
	Topic      string
	Payload    []byte
	QoS        byte
	Retained   bool
	ReceivedAt time.Time
}

// OutboundRequest is a mapped message queued for publishing on the
// destination endpoint. Created by the router pump; consumed by the
// destination publisher; discarded after a terminal publish outcome.
type OutboundRequest struct {
	Destination Endpoint
	Topic       string
	Payload     []byte
	QoS         byte
	Retained    bool
	Origin      Endpoint
	EnqueuedAt  time.Time
}

// DropReason classifies why an inbound message was not forwarded.
// Drops are reported outcomes, not errors.
type DropReason string

const (
	// DropNoMatchingRule means no rule matched the source topic.
	DropNoMatchingRule DropReason = "no-matching-rule"

	// DropLoopDetected means the message was produced by this bridge and
	// would loop if forwarded again.
	DropLoopDetected DropReason = "loop-detected"

	// DropBackpressureTimeout means the destination queue stayed full past
	// the bounded backpressure wait.
	DropBackpressureTimeout DropReason = "backpressure-timeout"
)

// fingerprint identifies a published message for echo detection.
//
// The hash covers the bridge instance ID, the endpoint the message was
// published to, the topic, and the payload. Two bridges on the same broker
// pair therefore never confuse each other's traffic with their own.
type fingerprint uint64

// computeFingerprint hashes a (bridgeID, endpoint, topic, payload) tuple.
//
// FNV-1a is used because fingerprints only need to distinguish echoes in a
// short TTL window; this is not a cryptographic integrity check.
func computeFingerprint(bridgeID string, endpoint Endpoint, topic string, payload []byte) fingerprint {
	h := fnv.New64a()
	h.Write([]byte(bridgeID))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return fingerprint(h.Sum64())
}
