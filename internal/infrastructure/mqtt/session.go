package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
)

// State represents the connection lifecycle of a Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Session manages one MQTT broker connection for a bridge endpoint.
//
// It wraps paho.mqtt.golang with connection state tracking, subscription
// restoration on reconnect, availability publishing, and fatal-error
// classification. A session maintains exactly one live network connection at
// a time and keeps reconnecting until Close() is called; a bridge never
// gives up on an endpoint.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Session struct {
	name        string
	client      pahomqtt.Client
	options     *pahomqtt.ClientOptions
	cfg         config.EndpointConfig
	statusTopic string

	// subscriptions tracks active subscriptions for (re-)subscription on connect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// state tracks the session lifecycle. connectedCh is closed when the
	// session reaches Connected and replaced with a fresh channel on every
	// disconnect, so waiters can block on the next connect.
	state       State
	connectedCh chan struct{}
	stateMu     sync.RWMutex

	// Callbacks for connection events (optional, set before first connect).
	onConnect     func()
	onDisconnect  func(err error)
	onFatal       func(err error)
	fatalReported bool
	callbackMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library. A handler
// may block briefly (the bridge uses this for inbound backpressure) but must
// not block indefinitely.
//
// This is an alias so that packages consuming sessions through their own
// interfaces can declare the handler as a plain function type.
type MessageHandler = func(topic string, payload []byte, qos byte, retained bool)

// subscription holds subscription details for re-subscription on connect.
type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// Open creates a session and starts connecting to the broker in the
// background.
//
// Open returns immediately; it does not wait for the connection to succeed.
// The session retries the initial connect at the configured interval until
// it succeeds or Close() is called. Use WaitConnected() to block until the
// broker is reachable.
//
// If statusTopic is non-empty, the session publishes a retained online
// status there after every connect and registers an offline LWT.
//
// Parameters:
//   - name: Endpoint name ("a" or "b"), used in log events
//   - cfg: Endpoint connection configuration
//   - statusTopic: Availability topic, or "" to disable
//
// Returns:
//   - *Session: Session connecting in background
//   - error: If options cannot be built (bad TLS material)
func Open(name string, cfg config.EndpointConfig, statusTopic string) (*Session, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", name, err)
	}
	configureAvailability(opts, statusTopic, cfg.ClientID)

	s := &Session{
		name:          name,
		cfg:           cfg,
		options:       opts,
		statusTopic:   statusTopic,
		subscriptions: make(map[string]subscription),
		state:         StateConnecting,
		connectedCh:   make(chan struct{}),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.setState(StateReconnecting)
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()

	// Watch the initial connect token for errors that retrying cannot fix
	// (bad credentials, protocol mismatch). The session keeps retrying
	// regardless, since transient misconfiguration during broker restarts
	// is common, but the condition is reported once to the supervisor.
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.classifyConnectError(err)
		}
	}()

	return s, nil
}

// handleConnect is called when the connection is established.
func (s *Session) handleConnect() {
	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return
	}
	s.state = StateConnected
	ch := s.connectedCh
	s.stateMu.Unlock()

	// Restore subscriptions; brokers are not assumed to retain them
	// across reconnects.
	s.restoreSubscriptions()

	s.publishOnlineStatus()

	// Wake WaitConnected() callers.
	select {
	case <-ch:
	default:
		close(ch)
	}

	s.callbackMu.RLock()
	callback := s.onConnect
	s.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (s *Session) handleDisconnect(err error) {
	s.stateMu.Lock()
	if s.state != StateClosed {
		s.state = StateReconnecting
	}
	s.connectedCh = make(chan struct{})
	s.stateMu.Unlock()

	s.classifyConnectError(err)

	s.callbackMu.RLock()
	callback := s.onDisconnect
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// classifyConnectError reports connection errors that cannot succeed on
// retry. Such errors are surfaced once via the OnFatalConnectError callback;
// the session still keeps reconnecting (availability over fast-fail).
func (s *Session) classifyConnectError(err error) {
	if err == nil || !isFatalConnectError(err) {
		return
	}

	s.callbackMu.Lock()
	reported := s.fatalReported
	s.fatalReported = true
	callback := s.onFatal
	s.callbackMu.Unlock()

	if !reported && callback != nil {
		callback(err)
	}
}

// isFatalConnectError returns true for connect failures that retrying alone
// cannot fix: rejected credentials, rejected client ID, and protocol-version
// mismatch. Network and availability failures are retryable and return false.
func isFatalConnectError(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedIDRejected) ||
		errors.Is(err, packets.ErrorRefusedBadProtocolVersion)
}

// setState updates the session state unless the session is closed.
func (s *Session) setState(state State) {
	s.stateMu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.stateMu.Unlock()
}

// publishOnlineStatus publishes the retained online status for this session.
func (s *Session) publishOnlineStatus() {
	if s.statusTopic == "" {
		return
	}
	s.client.Publish(s.statusTopic, 1, true, buildOnlinePayload(s.cfg.ClientID))
}

// State returns the current session state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected returns true if the session currently has a live connection.
func (s *Session) IsConnected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state == StateConnected && s.client.IsConnected()
}

// WaitConnected blocks until the session is connected, the session is
// closed, or the context is cancelled.
//
// Returns:
//   - error: nil once connected; ErrClosed if the session was closed;
//     the context error on cancellation
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.stateMu.RLock()
		state := s.state
		ch := s.connectedCh
		s.stateMu.RUnlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// HealthCheck verifies the session connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// Close gracefully shuts down the session.
//
// It publishes a graceful offline status (distinct from the LWT crash
// status), disconnects with a quiesce period for in-flight operations, and
// stops all reconnect attempts.
//
// Returns:
//   - error: Always nil; closing a closed session is a no-op
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}

	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.stateMu.Unlock()

	if s.statusTopic != "" && s.client.IsConnected() {
		token := s.client.Publish(s.statusTopic, 1, true, buildOfflinePayload(s.cfg.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultOpTimeout)
	}

	s.client.Disconnect(defaultDisconnectQuiesce)

	return nil
}

// SetOnConnect sets a callback invoked on every successful (re)connect.
func (s *Session) SetOnConnect(callback func()) {
	s.callbackMu.Lock()
	s.onConnect = callback
	s.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
// The error parameter describes why the connection was lost.
func (s *Session) SetOnDisconnect(callback func(err error)) {
	s.callbackMu.Lock()
	s.onDisconnect = callback
	s.callbackMu.Unlock()
}

// SetOnFatalConnectError sets a callback invoked at most once when a
// connect failure is classified as unfixable-by-retry (bad credentials,
// protocol mismatch). The session keeps reconnecting regardless.
func (s *Session) SetOnFatalConnectError(callback func(err error)) {
	s.callbackMu.Lock()
	s.onFatal = callback
	s.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (s *Session) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := s.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"endpoint", s.name,
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		handler(msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained())
	}
}
