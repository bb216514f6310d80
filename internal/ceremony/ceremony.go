// Package ceremony holds the three user-facing protocol runs: registration,
// authentication and transaction step-up. Each ceremony is a sequential state
// machine over the same injected dependencies; steps suspend on the platform
// authenticator or the network, never on each other.
package ceremony

import (
	"context"
	"errors"
	"log/slog"
	"time"

	platformauth "arcbank/device-core/internal/authenticator"
	"arcbank/device-core/internal/faults"
	"arcbank/device-core/internal/gateway"
	"arcbank/device-core/internal/identitystore"
	"arcbank/device-core/internal/integrity"
	"arcbank/device-core/internal/platform/metrics"
	"arcbank/device-core/internal/platform/ratelimiter"
)

// DefaultTokenTTL bounds a minted bearer token when the backend does not
// state its own expiry.
const DefaultTokenTTL = 10 * time.Minute

// SeedPrompter is the UI boundary for the mnemonic display and confirmation
// steps. Implementations block until the user acts; cancellation comes back
// through the context.
type SeedPrompter interface {
	// DisplayMnemonic shows the phrase once, non-selectable, with the
	// one-time warning. Returns when the user chooses to continue.
	DisplayMnemonic(ctx context.Context, mnemonic string) error

	// PromptWords collects the user's entry for the given word positions.
	PromptWords(ctx context.Context, indices []int) ([]string, error)
}

// Deps carries everything a ceremony touches. Session state is passed into
// each run explicitly; nothing here is ambient per-customer state.
type Deps struct {
	Store   *identitystore.Store
	Backend *gateway.Client
	Token   platformauth.Authenticator
	Oracle  *integrity.Oracle

	Logger  *slog.Logger
	Metrics *metrics.Set
	Limiter *ratelimiter.AttemptLimiter

	Now      func() time.Time
	TokenTTL time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.TokenTTL <= 0 {
		d.TokenTTL = DefaultTokenTTL
	}
	return d
}

// classifyTokenError maps platform-authenticator failures onto the shared
// taxonomy. Cancellation must stay distinct from everything destructive.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, platformauth.ErrCancelled):
		return faults.New(faults.ErrUserCancelled, "")
	case errors.Is(err, platformauth.ErrUnavailable), errors.Is(err, platformauth.ErrNoCredential):
		return faults.New(faults.ErrCapability, err.Error())
	default:
		return faults.New(faults.ErrCapability, err.Error())
	}
}

// classifyOracleError covers the integrity helper being unreachable: the
// ceremony cannot proceed, but nothing is wiped.
func classifyOracleError(err error) error {
	if errors.Is(err, integrity.ErrUnavailable) {
		return faults.New(faults.ErrCapability, "device integrity helper unreachable")
	}
	return faults.New(faults.ErrCapability, err.Error())
}

func storageFault(err error) error {
	if errors.Is(err, identitystore.ErrNotFound) {
		return faults.New(faults.ErrStorage, "device is not registered")
	}
	return faults.New(faults.ErrStorage, err.Error())
}
