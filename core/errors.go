package core

import "errors"

// Error taxonomy from spec §7. Each sentinel is wrapped with context via
// fmt.Errorf("...: %w", ErrX) at the call site so errors.Is still matches
// while logs keep the detail.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrPolicyDenied       = errors.New("policy denied")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrIntegrity          = errors.New("integrity violation")
	ErrSignature          = errors.New("signature invalid")
	ErrInsufficientMana   = errors.New("insufficient mana")
	ErrInsufficientBids   = errors.New("insufficient bids")
	ErrTimeout            = errors.New("operation timed out")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrBackpressure       = errors.New("backpressure: queue full")
	ErrStorage            = errors.New("storage error")
	ErrConflictUnresolved = errors.New("federation conflict unresolved")
	ErrFatal              = errors.New("fatal invariant violation")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrExpired            = errors.New("expired")
)

// IsNotFound, IsInvalidInput, IsUnauthorized and IsBackpressure let callers
// outside this package (e.g. the HTTP surface) map a wrapped error to a
// response code without importing the sentinel values directly.
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrPolicyDenied) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrBackpressure) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen)
}
