// Package faults defines the failure taxonomy shared by the ceremonies.
// Cryptographic and encoding failures always propagate to the ceremony top
// level; only network failures are translated at the call site.
package faults

import (
	"errors"
	"strings"
)

// Sentinel classes. Ceremonies branch on these with errors.Is; everything a
// user sees maps onto exactly one of them.
var (
	// ErrCapability: no platform authenticator on this hardware. Not
	// retryable without different hardware.
	ErrCapability = errors.New("platform authenticator unavailable")

	// ErrUserCancelled: the user dismissed the authenticator prompt.
	// Retryable immediately, no state mutated.
	ErrUserCancelled = errors.New("user cancelled authenticator prompt")

	// ErrIntegrityMismatch: fingerprint comparison failed. Fatal to the
	// identity; the local store is wiped and the user must re-register.
	ErrIntegrityMismatch = errors.New("device integrity fingerprint mismatch")

	// ErrEncoding: unexpected buffer length at a cryptographic boundary.
	// Fatal to the attempt, never truncated or padded around.
	ErrEncoding = errors.New("cryptographic material has unexpected encoding")

	// ErrBackendRejection: non-success response from an identity or
	// transaction endpoint.
	ErrBackendRejection = errors.New("backend rejected the request")

	// ErrSessionExpired: bearer token missing or rejected; routes the user
	// back to authentication from the start.
	ErrSessionExpired = errors.New("session expired")

	// ErrStorage: local store unavailable or a wipe is blocked. Retryable,
	// distinct from cryptographic errors.
	ErrStorage = errors.New("local identity store error")
)

const (
	CategoryCapability = "capability"
	CategoryUser       = "user"
	CategoryIntegrity  = "integrity"
	CategoryCrypto     = "crypto"
	CategoryBackend    = "backend"
	CategorySession    = "session"
	CategoryStorage    = "storage"
)

type ClassifiedError struct {
	Category string
	Detail   string
	Err      error
}

func (e *ClassifiedError) Error() string {
	if strings.TrimSpace(e.Detail) != "" {
		return e.Err.Error() + ": " + e.Detail
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel with a human-readable detail, keeping errors.Is
// branching intact.
func New(sentinel error, detail string) error {
	return &ClassifiedError{
		Category: categoryOf(sentinel),
		Detail:   strings.TrimSpace(detail),
		Err:      sentinel,
	}
}

// Backend builds an ErrBackendRejection carrying the backend's detail field
// when present, a generic fallback otherwise.
func Backend(detail string) error {
	if strings.TrimSpace(detail) == "" {
		detail = "request failed, please try again"
	}
	return New(ErrBackendRejection, detail)
}

// Retryable reports whether the user may simply try the same flow again.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrUserCancelled), errors.Is(err, ErrStorage), errors.Is(err, ErrBackendRejection):
		return true
	default:
		return false
	}
}

// Category classifies an arbitrary error for logging and metrics labels.
func Category(err error) string {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return categoryOf(err)
}

func categoryOf(err error) string {
	switch {
	case errors.Is(err, ErrCapability):
		return CategoryCapability
	case errors.Is(err, ErrUserCancelled):
		return CategoryUser
	case errors.Is(err, ErrIntegrityMismatch):
		return CategoryIntegrity
	case errors.Is(err, ErrEncoding):
		return CategoryCrypto
	case errors.Is(err, ErrBackendRejection):
		return CategoryBackend
	case errors.Is(err, ErrSessionExpired):
		return CategorySession
	case errors.Is(err, ErrStorage):
		return CategoryStorage
	default:
		return CategoryBackend
	}
}
