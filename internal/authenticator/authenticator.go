// Package authenticator is the boundary to the platform credential subsystem
// (biometric/PIN). The ceremonies treat a call here as a single user-paced
// suspension point; cancellation must surface as ErrCancelled so it is never
// confused with an integrity mismatch, which has a destructive recovery path.
package authenticator

import (
	"context"
	"errors"

	"github.com/go-webauthn/webauthn/protocol"

	"arcbank/device-core/pkg/models"
)

var (
	// ErrUnavailable: no platform authenticator on this device.
	ErrUnavailable = errors.New("platform authenticator unavailable")
	// ErrCancelled: the user dismissed the prompt. Retryable.
	ErrCancelled = errors.New("authenticator prompt cancelled")
	// ErrNoCredential: assertion requested for a credential this
	// authenticator does not hold.
	ErrNoCredential = errors.New("no matching credential")
)

type Authenticator interface {
	// CreateCredential runs the credential-creation ceremony against the
	// backend-issued options and returns the attested credential.
	CreateCredential(ctx context.Context, opts protocol.PublicKeyCredentialCreationOptions) (models.PlatformCredential, error)

	// GetAssertion signs the backend challenge with a credential named in
	// the allow list.
	GetAssertion(ctx context.Context, opts protocol.PublicKeyCredentialRequestOptions) (models.PlatformAssertion, error)
}
