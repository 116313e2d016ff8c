package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
	"github.com/nerrad567/span-bridge/internal/infrastructure/logging"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Session is one endpoint connection as the supervisor sees it.
// Implemented by *mqtt.Session; mocked in tests.
type Session interface {
	// Subscribe registers a handler for a topic filter. Subscriptions are
	// restored by the session on every reconnect.
	Subscribe(filter string, qos byte, handler func(topic string, payload []byte, qos byte, retained bool)) error

	// Publish sends a message, failing fast while disconnected.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the session has a live connection.
	IsConnected() bool

	// WaitConnected blocks until connected or the context is cancelled.
	WaitConnected(ctx context.Context) error

	// SetOnConnect registers a callback for every successful (re)connect.
	SetOnConnect(callback func())

	// SetOnDisconnect registers a callback for lost connections.
	SetOnDisconnect(callback func(err error))

	// SetOnFatalConnectError registers a callback, invoked at most once,
	// for connect failures that retrying cannot fix.
	SetOnFatalConnectError(callback func(err error))

	// Close shuts the session down and stops reconnect attempts.
	Close() error
}

// subscribeQoS is the QoS used for bridge subscriptions. Subscribing at 2
// means the granted QoS is always the publisher's QoS, so "preserve" rules
// see the original level.
const subscribeQoS = 2

// Supervisor owns both endpoint sessions and the router.
//
// It wires session events to logs and counters, drives the lifecycle
// state machine, and performs the graceful drain on shutdown.
//
// State machine:
//
//	Starting → Running   both sessions connected, or startup timeout
//	                     (run degraded; sessions keep reconnecting)
//	Running  → Draining  Stop() called
//	Draining → Stopped   queues drained or drain grace expired
type Supervisor struct {
	cfg      *config.Config
	sessions map[Endpoint]Session
	router   *Router
	rules    *RuleSet
	metrics  *Metrics
	logger   *logging.Logger

	state   State
	stateMu sync.RWMutex

	// endpointStatus mirrors each session's view for the health endpoint,
	// maintained from session callbacks.
	endpointStatus map[Endpoint]string
	statusMu       sync.RWMutex

	started  bool
	stopOnce sync.Once
}

// SupervisorOptions holds dependencies for creating a supervisor.
type SupervisorOptions struct {
	// Config is the validated bridge configuration.
	Config *config.Config

	// SessionA/SessionB are the two endpoint sessions.
	SessionA Session
	SessionB Session

	// Logger is the structured logger. Required.
	Logger *logging.Logger
}

// NewSupervisor compiles the rule set and assembles the router.
//
// Rule compilation failures are configuration errors: the bridge must not
// start forwarding with an invalid rule set, so the caller should treat a
// non-nil error as fatal.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	rules, err := CompileRules(opts.Config.Rules)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	router := NewRouter(RouterOptions{
		Rules:          rules,
		BridgeID:       opts.Config.Bridge.ID,
		PublisherA:     opts.SessionA,
		PublisherB:     opts.SessionB,
		QueueDepth:     opts.Config.Bridge.QueueDepth,
		PublishWait:    opts.Config.GetPublishWait(),
		FingerprintTTL: opts.Config.GetFingerprintTTL(),
		Metrics:        metrics,
		Logger:         opts.Logger,
	})

	return &Supervisor{
		cfg: opts.Config,
		sessions: map[Endpoint]Session{
			EndpointA: opts.SessionA,
			EndpointB: opts.SessionB,
		},
		router:  router,
		rules:   rules,
		metrics: metrics,
		logger:  opts.Logger,
		state:   StateStarting,
		endpointStatus: map[Endpoint]string{
			EndpointA: "connecting",
			EndpointB: "connecting",
		},
	}, nil
}

// Start wires sessions to the router and brings the bridge to Running.
//
// It subscribes each endpoint to its rules' source filters, starts the
// router goroutines, and waits up to the startup timeout for both
// sessions to connect. A session still down at the timeout does not fail
// startup: the bridge runs degraded and the session keeps reconnecting.
//
// Parameters:
//   - ctx: Cancels the startup wait and aborts router connection waits
//
// Returns:
//   - error: ErrAlreadyStarted on a second call, or a subscribe failure
func (s *Supervisor) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.started {
		s.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.stateMu.Unlock()

	for _, endpoint := range []Endpoint{EndpointA, EndpointB} {
		s.wireSession(endpoint)
		if err := s.subscribeSources(endpoint); err != nil {
			return err
		}
	}

	s.router.Start(ctx)

	s.waitForStartup(ctx)
	s.setState(StateRunning)

	s.logger.Info("bridge running",
		"bridge_id", s.cfg.Bridge.ID,
		"rules", s.rules.Len(),
		"queue_depth", s.cfg.Bridge.QueueDepth,
	)

	return nil
}

// wireSession connects one session's event callbacks to the supervisor.
func (s *Supervisor) wireSession(endpoint Endpoint) {
	session := s.sessions[endpoint]
	name := string(endpoint)

	session.SetOnConnect(func() {
		s.setEndpointStatus(endpoint, "connected")
		s.logger.Info("endpoint connected", "endpoint", name)
	})

	session.SetOnDisconnect(func(err error) {
		s.setEndpointStatus(endpoint, "reconnecting")
		s.metrics.RecordReconnect(endpoint)
		s.logger.Warn("endpoint connection lost",
			"endpoint", name,
			"error", err,
		)
	})

	// A fatal configuration event on one endpoint is logged, not fatal to
	// the process: the other direction may still be healthy.
	session.SetOnFatalConnectError(func(err error) {
		s.logger.Error("endpoint rejected connection; check credentials and protocol settings",
			"endpoint", name,
			"error", err,
		)
	})
}

// subscribeSources subscribes one endpoint to its rules' source filters
// and routes matched messages into the router.
func (s *Supervisor) subscribeSources(endpoint Endpoint) error {
	session := s.sessions[endpoint]

	for _, filter := range s.rules.Filters(endpoint) {
		err := session.Subscribe(filter, subscribeQoS, func(topic string, payload []byte, qos byte, retained bool) {
			s.router.HandleInbound(InboundMessage{
				Source:     endpoint,
				Topic:      topic,
				Payload:    payload,
				QoS:        qos,
				Retained:   retained,
				ReceivedAt: time.Now(),
			})
		})
		if err != nil {
			return err
		}
		s.logger.Info("subscribed", "endpoint", string(endpoint), "filter", filter)
	}

	return nil
}

// waitForStartup waits for both sessions up to the startup timeout.
func (s *Supervisor) waitForStartup(ctx context.Context) {
	timeout := s.cfg.GetStartupTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	for endpoint, session := range s.sessions {
		wg.Add(1)
		go func(endpoint Endpoint, session Session) {
			defer wg.Done()
			if err := session.WaitConnected(waitCtx); err != nil {
				s.logger.Warn("endpoint not connected at startup; continuing degraded",
					"endpoint", string(endpoint),
					"timeout", timeout.String(),
				)
			}
		}(endpoint, session)
	}
	wg.Wait()
}

// Stop gracefully shuts the bridge down.
//
// New inbound messages are refused, outstanding publish queues are
// drained for up to the configured grace period, and then both sessions
// are closed. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.setState(StateDraining)
		s.logger.Info("bridge draining", "grace", s.cfg.GetDrainGrace().String())

		s.router.Stop(s.cfg.GetDrainGrace())

		for endpoint, session := range s.sessions {
			if err := session.Close(); err != nil {
				s.logger.Warn("session close failed",
					"endpoint", string(endpoint),
					"error", err,
				)
			}
		}

		s.setState(StateStopped)
		s.logger.Info("bridge stopped")
	})
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the supervisor state.
func (s *Supervisor) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// setEndpointStatus updates the mirrored endpoint status.
func (s *Supervisor) setEndpointStatus(endpoint Endpoint, status string) {
	s.statusMu.Lock()
	s.endpointStatus[endpoint] = status
	s.statusMu.Unlock()
}

// EndpointStatus holds one endpoint's health view.
type EndpointStatus struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// Health is the bridge health view served by the status API.
type Health struct {
	State     State                       `json:"state"`
	BridgeID  string                      `json:"bridge_id"`
	Endpoints map[Endpoint]EndpointStatus `json:"endpoints"`
	Queues    map[Endpoint]int            `json:"queue_lengths"`
}

// Healthy returns true when the bridge is running with both endpoints
// connected.
func (h Health) Healthy() bool {
	if h.State != StateRunning {
		return false
	}
	for _, ep := range h.Endpoints {
		if !ep.Connected {
			return false
		}
	}
	return true
}

// Health returns the current health view.
func (s *Supervisor) Health() Health {
	s.statusMu.RLock()
	endpoints := make(map[Endpoint]EndpointStatus, len(s.endpointStatus))
	for endpoint, status := range s.endpointStatus {
		endpoints[endpoint] = EndpointStatus{
			Status:    status,
			Connected: s.sessions[endpoint].IsConnected(),
		}
	}
	s.statusMu.RUnlock()

	return Health{
		State:     s.State(),
		BridgeID:  s.cfg.Bridge.ID,
		Endpoints: endpoints,
		Queues:    s.router.QueueLengths(),
	}
}

// Metrics returns the bridge counters for the status API and the metrics
// reporter.
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}
