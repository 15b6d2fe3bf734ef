package engine

import "errors"

// Sentinel errors surfaced across the engine's public boundary, matched
// with errors.Is by callers: the hub, tests.
var (
	ErrNotFound  = errors.New("engine: call-id not found")
	ErrProtocol  = errors.New("engine: unexpected dialog state for this operation")
	ErrValidation = errors.New("engine: sdp validation failed")
)
