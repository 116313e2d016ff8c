package bridge

import (
	"context"
	"sync"
	"time"
)

// Publisher is the outbound side of an endpoint session as the router
// sees it. Implemented by *mqtt.Session; mocked in tests.
type Publisher interface {
	// Publish sends a message. It fails fast while the session is
	// disconnected; IsConnected distinguishes that case from a broker
	// rejection.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the session has a live connection.
	IsConnected() bool

	// WaitConnected blocks until connected or the context is cancelled.
	WaitConnected(ctx context.Context) error
}

// RouterOptions holds configuration for creating a router.
type RouterOptions struct {
	// Rules is the compiled rule set.
	Rules *RuleSet

	// BridgeID seeds loop fingerprints so co-located bridges stay distinct.
	BridgeID string

	// PublisherA/PublisherB are the outbound sides of the two sessions.
	PublisherA Publisher
	PublisherB Publisher

	// QueueDepth bounds each destination publish queue.
	QueueDepth int

	// PublishWait is the bounded backpressure wait on a full queue.
	PublishWait time.Duration

	// FingerprintTTL is the echo cache retention.
	FingerprintTTL time.Duration

	// Metrics receives forwarding counters. Required.
	Metrics *Metrics

	// Logger is optional structured logging.
	Logger RouterLogger
}

// RouterLogger is the logging interface the router needs.
// Compatible with logging.Logger and slog.Logger.
type RouterLogger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Router moves messages between the two endpoints.
//
// One pump goroutine per direction pulls inbound messages, applies loop
// checks and the rule set, and enqueues outbound requests on the
// destination's bounded queue. One publisher goroutine per destination
// drains its queue in FIFO order, which preserves ordering per
// source-to-destination pairing.
//
// Backpressure on a full destination queue is a bounded wait. When the
// wait expires, a QoS 0 request evicts the oldest queued request (bounded
// memory over perfect delivery); a QoS 1+ request keeps the pump blocked,
// since the broker will redeliver to the bridge anyway.
type Router struct {
	rules      *RuleSet
	bridgeID   string
	publishers map[Endpoint]Publisher
	metrics    *Metrics
	echo       *echoCache

	inbound map[Endpoint]chan InboundMessage
	queues  map[Endpoint]chan OutboundRequest

	publishWait time.Duration

	// inboundMu guards the accepting flag against the inbound channel
	// close during shutdown.
	inboundMu sync.RWMutex
	accepting bool

	// stopCh unblocks HandleInbound senders when shutdown begins.
	stopCh chan struct{}

	// hardCtx aborts publisher waits once the drain grace expires.
	hardCtx    context.Context
	hardCancel context.CancelFunc

	pumpWg sync.WaitGroup
	pubWg  sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	logger   RouterLogger
	loggerMu sync.RWMutex
}

// NewRouter creates a router. Call Start() to begin forwarding.
func NewRouter(opts RouterOptions) *Router {
	depth := opts.QueueDepth
	if depth < 1 {
		depth = 1
	}

	return &Router{
		rules:    opts.Rules,
		bridgeID: opts.BridgeID,
		publishers: map[Endpoint]Publisher{
			EndpointA: opts.PublisherA,
			EndpointB: opts.PublisherB,
		},
		metrics: opts.Metrics,
		echo:    newEchoCache(opts.FingerprintTTL),
		inbound: map[Endpoint]chan InboundMessage{
			EndpointA: make(chan InboundMessage, depth),
			EndpointB: make(chan InboundMessage, depth),
		},
		queues: map[Endpoint]chan OutboundRequest{
			EndpointA: make(chan OutboundRequest, depth),
			EndpointB: make(chan OutboundRequest, depth),
		},
		publishWait: opts.PublishWait,
		stopCh:      make(chan struct{}),
		logger:      opts.Logger,
	}
}

// Start launches the pump and publisher goroutines.
//
// Cancellation of the provided context does not interrupt forwarding;
// shutdown and the bounded drain are driven by Stop().
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		// The caller's context is the shutdown signal in production, and it
		// fires before the drain begins. Publisher waits must survive it so
		// queued messages can still flush during the grace period; only
		// hardCancel, once the grace expires, may abort them.
		r.hardCtx, r.hardCancel = context.WithCancel(context.WithoutCancel(ctx))

		r.inboundMu.Lock()
		r.accepting = true
		r.inboundMu.Unlock()

		for _, endpoint := range []Endpoint{EndpointA, EndpointB} {
			r.pumpWg.Add(1)
			go r.pump(endpoint)

			r.pubWg.Add(1)
			go r.publisher(endpoint)
		}
	})
}

// HandleInbound accepts a message received on one endpoint.
//
// Designed to be called from the session's message handler goroutine.
// When the source's inbound channel is full the call blocks, which
// throttles the MQTT client read loop and is the first backpressure
// stage. During shutdown the message is dropped and false is returned.
func (r *Router) HandleInbound(msg InboundMessage) bool {
	r.inboundMu.RLock()
	defer r.inboundMu.RUnlock()

	if !r.accepting {
		return false
	}

	r.metrics.RecordReceived(msg.Source)

	select {
	case r.inbound[msg.Source] <- msg:
		return true
	case <-r.stopCh:
		return false
	}
}

// pump routes all messages from one endpoint until its inbound channel
// is closed. Remaining inbound messages are still routed during drain.
func (r *Router) pump(source Endpoint) {
	defer r.pumpWg.Done()

	for msg := range r.inbound[source] {
		r.route(msg)
	}
}

// route applies loop checks and the rule set to one inbound message and
// enqueues the resulting outbound requests.
func (r *Router) route(msg InboundMessage) {
	// Echo check: did this bridge just publish this exact message to the
	// endpoint it now arrived on?
	fp := computeFingerprint(r.bridgeID, msg.Source, msg.Topic, msg.Payload)
	if r.echo.consume(fp) {
		r.recordDrop(msg, DropLoopDetected)
		return
	}

	// Namespace guard: topics in a destination namespace for this endpoint
	// are bridge-produced. This holds across restarts, which the in-memory
	// echo cache does not.
	if r.rules.MatchesDestination(msg.Source, msg.Topic) {
		r.recordDrop(msg, DropLoopDetected)
		return
	}

	targets := r.rules.Map(msg.Source, msg.Topic, msg.QoS, msg.Retained)
	if len(targets) == 0 {
		r.recordDrop(msg, DropNoMatchingRule)
		return
	}

	for _, target := range targets {
		r.enqueue(OutboundRequest{
			Destination: target.Destination,
			Topic:       target.Topic,
			Payload:     msg.Payload,
			QoS:         target.QoS,
			Retained:    target.Retained,
			Origin:      msg.Source,
			EnqueuedAt:  time.Now(),
		})
	}
}

// enqueue places a request on the destination queue, applying the bounded
// backpressure policy when the queue is full.
func (r *Router) enqueue(req OutboundRequest) {
	queue := r.queues[req.Destination]

	// Fast path.
	select {
	case queue <- req:
		return
	default:
	}

	// Bounded wait for the destination to catch up.
	timer := time.NewTimer(r.publishWait)
	defer timer.Stop()

	select {
	case queue <- req:
		return
	case <-r.hardCtx.Done():
		r.recordDropRequest(req, DropBackpressureTimeout)
		return
	case <-r.stopCh:
		r.recordDropRequest(req, DropBackpressureTimeout)
		return
	case <-timer.C:
	}

	if req.QoS == 0 {
		// Evict the oldest queued request to make room for the newest.
		// QoS 0 traffic favors liveness and bounded memory over delivery.
		select {
		case evicted := <-queue:
			r.recordDropRequest(evicted, DropBackpressureTimeout)
		default:
		}
		select {
		case queue <- req:
		default:
			r.recordDropRequest(req, DropBackpressureTimeout)
		}
		return
	}

	// QoS 1+ holds the pump blocked; the source broker guarantees
	// redelivery, so blocking is cheaper than dropping. The block is
	// released by shutdown so draining can never wedge on a full queue.
	select {
	case queue <- req:
	case <-r.hardCtx.Done():
		r.recordDropRequest(req, DropBackpressureTimeout)
	case <-r.stopCh:
		r.recordDropRequest(req, DropBackpressureTimeout)
	}
}

// publisher drains one destination queue until it is closed and empty.
func (r *Router) publisher(destination Endpoint) {
	defer r.pubWg.Done()

	pub := r.publishers[destination]
	for req := range r.queues[destination] {
		r.deliver(pub, req)
	}
}

// deliver publishes one request, waiting out destination reconnects.
//
// The request is held (not requeued) while the destination is down, which
// preserves FIFO order. A failure with the session connected is terminal:
// the broker rejected the publish and retrying would stall the queue.
func (r *Router) deliver(pub Publisher, req OutboundRequest) {
	for {
		if !pub.IsConnected() {
			if err := pub.WaitConnected(r.hardCtx); err != nil {
				// Shutdown grace expired with the destination still down.
				// The message is abandoned, which must be visible in the
				// drop counters rather than silent.
				r.recordDropRequest(req, DropBackpressureTimeout)
				return
			}
		}

		// Record the fingerprint before the publish reaches the broker,
		// so a fast echo cannot beat the bookkeeping.
		fp := computeFingerprint(r.bridgeID, req.Destination, req.Topic, req.Payload)
		r.echo.record(fp)

		err := pub.Publish(req.Topic, req.Payload, req.QoS, req.Retained)
		if err == nil {
			r.metrics.RecordForwarded(req.Destination)
			return
		}

		if !pub.IsConnected() {
			// Lost the connection mid-publish; hold and retry after
			// reconnect.
			continue
		}

		r.metrics.RecordPublishError()
		if logger := r.getLogger(); logger != nil {
			logger.Error("publish failed",
				"destination", string(req.Destination),
				"topic", req.Topic,
				"qos", req.QoS,
				"error", err,
			)
		}
		return
	}
}

// Stop drains the router.
//
// New inbound messages are refused, the pumps finish routing what was
// already accepted, and the publishers get up to grace to flush the
// queues. Queued requests still unpublished when the grace expires are
// abandoned.
func (r *Router) Stop(grace time.Duration) {
	r.stopOnce.Do(func() {
		// Unblock HandleInbound senders first, then close the channels.
		close(r.stopCh)

		r.inboundMu.Lock()
		r.accepting = false
		close(r.inbound[EndpointA])
		close(r.inbound[EndpointB])
		r.inboundMu.Unlock()

		r.pumpWg.Wait()

		close(r.queues[EndpointA])
		close(r.queues[EndpointB])

		done := make(chan struct{})
		go func() {
			r.pubWg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(grace):
			if logger := r.getLogger(); logger != nil {
				logger.Warn("drain grace expired with messages still queued",
					"queued_a", len(r.queues[EndpointA]),
					"queued_b", len(r.queues[EndpointB]),
				)
			}
			if r.hardCancel != nil {
				r.hardCancel()
			}
			<-done
		}

		if r.hardCancel != nil {
			r.hardCancel()
		}
	})
}

// QueueLengths returns the current depth of each destination queue.
func (r *Router) QueueLengths() map[Endpoint]int {
	return map[Endpoint]int{
		EndpointA: len(r.queues[EndpointA]),
		EndpointB: len(r.queues[EndpointB]),
	}
}

// recordDrop counts and logs a dropped inbound message.
func (r *Router) recordDrop(msg InboundMessage, reason DropReason) {
	r.metrics.RecordDrop(reason)

	if logger := r.getLogger(); logger != nil {
		logger.Debug("message dropped",
			"source", string(msg.Source),
			"topic", msg.Topic,
			"reason", string(reason),
		)
	}
}

// recordDropRequest counts and logs a dropped outbound request.
func (r *Router) recordDropRequest(req OutboundRequest, reason DropReason) {
	r.metrics.RecordDrop(reason)

	if logger := r.getLogger(); logger != nil {
		logger.Warn("queued message dropped",
			"destination", string(req.Destination),
			"topic", req.Topic,
			"reason", string(reason),
		)
	}
}

// SetLogger sets the router logger.
func (r *Router) SetLogger(logger RouterLogger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (r *Router) getLogger() RouterLogger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}
