package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks. Every typed error below matches
// exactly one of the first five.
var (
	// ErrValidation is matched by malformed input rejected before any crypto runs.
	ErrValidation = errors.New("validation failed")

	// ErrCrypto is matched by authentication and key-derivation failures.
	ErrCrypto = errors.New("cryptographic failure")

	// ErrNotFound is matched by missing devices, settings, groups and key packets.
	ErrNotFound = errors.New("not found")

	// ErrCorruption is matched when persisted state fails its integrity check.
	ErrCorruption = errors.New("corrupted state")

	// ErrCapability is matched when a platform capability is missing or refused.
	ErrCapability = errors.New("capability unavailable")

	// ErrBiometricDenied is returned by a Biometric when the user cancels or fails the ceremony.
	ErrBiometricDenied = errors.New("biometric verification denied")

	// ErrBiometricUnavailable is returned by a Biometric when the platform has no usable sensor.
	ErrBiometricUnavailable = errors.New("biometric unavailable")

	// ErrDuplicateDelivery is returned by a Delivery when an idempotency key was already used.
	ErrDuplicateDelivery = errors.New("duplicate idempotency key")

	// ErrRateLimited is returned when unlock attempts for a fingerprint arrive too fast.
	ErrRateLimited = errors.New("too many unlock attempts")
)

// ValidationError reports input rejected before any cryptographic work.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for sentinel error matching.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CryptoError reports a failed cryptographic operation. Its message never
// carries secret material.
type CryptoError struct {
	Op      string
	Message string
	Err     error
}

func (e *CryptoError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Is implements errors.Is for sentinel error matching.
func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// Unwrap returns the underlying error.
func (e *CryptoError) Unwrap() error { return e.Err }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind    string
	ID      string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is implements errors.Is for sentinel error matching.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CorruptionError reports persisted state that failed its integrity check.
type CorruptionError struct {
	Kind    string
	ID      string
	Message string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s %q corrupted: %s", e.Kind, e.ID, e.Message)
}

// Is implements errors.Is for sentinel error matching.
func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// CapabilityError reports a platform capability that is unsupported or was refused.
type CapabilityError struct {
	Capability string
	Message    string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Capability, e.Message)
}

// Is implements errors.Is for sentinel error matching.
func (e *CapabilityError) Is(target error) bool { return target == ErrCapability }

// Unwrap returns the underlying error.
func (e *CapabilityError) Unwrap() error { return e.Err }

// ErrInvalidPassphrase returns the error every unlock path reports when a
// passphrase or wrapping layer does not authenticate.
func ErrInvalidPassphrase() error {
	return &CryptoError{Message: "invalid passphrase"}
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NotFound is shorthand for a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
