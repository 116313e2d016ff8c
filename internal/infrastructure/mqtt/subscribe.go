package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages matching the specified filter.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "sensors/+/temp" matches any device
//   - # (multi-level): "sensors/#" matches the whole subtree
//
// The handler is called in a separate goroutine for each received message.
//
// Subscriptions are tracked and (re)issued on every successful connect, so
// Subscribe may be called before the session has connected and survives
// broker restarts. The error return covers validation and the immediate
// subscribe attempt only; a subscription recorded while disconnected is
// issued on the next connect.
//
// Parameters:
//   - filter: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Subscribe(filter string, qos byte, handler MessageHandler) error {
	// Validate inputs
	if filter == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	// Track for (re-)subscription on connect
	s.subMu.Lock()
	s.subscriptions[filter] = subscription{
		filter:  filter,
		qos:     qos,
		handler: handler,
	}
	s.subMu.Unlock()

	// Not connected yet: the subscription is issued by restoreSubscriptions
	// on the next connect.
	if !s.IsConnected() {
		return nil
	}

	token := s.client.Subscribe(filter, qos, s.wrapHandler(handler))
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a filter.
//
// After unsubscribing, the handler will no longer be called for new messages
// on this filter. Any messages in flight may still be delivered.
//
// Parameters:
//   - filter: The exact topic filter that was subscribed to
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	// Remove from tracking
	s.subMu.Lock()
	delete(s.subscriptions, filter)
	s.subMu.Unlock()

	if !s.IsConnected() {
		return nil
	}

	token := s.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// restoreSubscriptions issues all tracked subscriptions after a connect.
func (s *Session) restoreSubscriptions() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscriptions {
		// Re-subscribe (errors surface via the next message gap; the broker
		// connection was just established so failures here are unusual)
		s.client.Subscribe(sub.filter, sub.qos, s.wrapHandler(sub.handler))
	}
}

// SubscriptionCount returns the number of tracked subscriptions.
//
// This can be useful for monitoring and debugging.
func (s *Session) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscriptions)
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (s *Session) HasSubscription(filter string) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	_, exists := s.subscriptions[filter]
	return exists
}
