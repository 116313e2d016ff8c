package bridge

import "errors"

// Sentinel errors for bridge operations.
// Use errors.Is() to check error types.
var (
	// ErrInvalidRule indicates a topic rule that cannot be compiled.
	ErrInvalidRule = errors.New("invalid topic rule")

	// ErrInvalidPattern indicates a malformed source pattern.
	ErrInvalidPattern = errors.New("invalid topic pattern")

	// ErrInvalidTemplate indicates a malformed destination template.
	ErrInvalidTemplate = errors.New("invalid destination template")

	// ErrSelfBridge indicates a rule mapping an endpoint onto itself.
	ErrSelfBridge = errors.New("rule destination must differ from source")

	// ErrAlreadyStarted indicates Start() was called twice.
	ErrAlreadyStarted = errors.New("bridge already started")
)
