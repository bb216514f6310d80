package ceremony

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"arcbank/device-core/internal/encoding"
	"arcbank/device-core/internal/faults"
	"arcbank/device-core/internal/gateway"
	"arcbank/device-core/internal/keywrap"
	"arcbank/device-core/internal/platform/metrics"
	"arcbank/device-core/internal/seedkey"
	"arcbank/device-core/pkg/models"
)

type AuthState string

const (
	AuthStateStart           AuthState = "START"
	AuthStateIdentityLoaded  AuthState = "IDENTITY_LOADED"
	AuthStateFingerprintOK   AuthState = "FINGERPRINT_CHECKED"
	AuthStateAsserted        AuthState = "ASSERTED"
	AuthStateKeyUnwrapped    AuthState = "SYMMETRIC_KEY_UNWRAPPED"
	AuthStateKeyRecovered    AuthState = "PRIVATE_KEY_RECOVERED"
	AuthStateProofSubmitted  AuthState = "PROOF_SUBMITTED"
	AuthStateVerified        AuthState = "VERIFIED"
	AuthStateMismatchAborted AuthState = "MISMATCH_ABORT"
	AuthStateFailed          AuthState = "FAILED"
)

// Login runs the authentication ceremony. The integrity-fingerprint gate is
// its defining property: the comparison completes before any assertion is
// attempted, and a mismatch wipes the entire local store. Every other failure
// preserves state and returns the user to START.
type Login struct {
	deps Deps
}

func NewLogin(deps Deps) *Login {
	return &Login{deps: deps.withDefaults()}
}

// Run authenticates the customer and mints a short-lived session.
func (l *Login) Run(ctx context.Context, customerID string) (*models.Session, error) {
	log := l.deps.Logger
	session, err := l.run(ctx, customerID)
	l.deps.Metrics.Logins.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		log.Warn("authentication failed",
			"customer_id", customerID,
			"category", faults.Category(err),
		)
		return nil, err
	}
	log.Info("authentication verified", "customer_id", customerID)
	return session, nil
}

func (l *Login) run(ctx context.Context, customerID string) (*models.Session, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, faults.New(faults.ErrBackendRejection, "customer id is required")
	}
	if !l.deps.Limiter.Allow(customerID, l.deps.Now()) {
		return nil, faults.New(faults.ErrBackendRejection, "too many authentication attempts, slow down")
	}

	identity, err := l.deps.Store.GetIdentity(customerID)
	if err != nil {
		return nil, storageFault(err)
	}

	// The tamper gate. Must pass before the assertion ceremony is invoked;
	// the two are never raced.
	if err := l.checkFingerprint(ctx, customerID); err != nil {
		return nil, err
	}

	return l.assertAndProve(ctx, identity)
}

// checkFingerprint compares the stored enrollment fingerprint byte-for-byte
// against a fresh oracle reading. Any difference is treated as compromise:
// the whole store is wiped and the identity is gone from this device.
func (l *Login) checkFingerprint(ctx context.Context, customerID string) error {
	stored, err := l.deps.Store.GetFingerprint(customerID)
	if err != nil {
		return storageFault(err)
	}
	current, err := l.deps.Oracle.QueryFingerprint(ctx)
	if err != nil {
		return classifyOracleError(err)
	}
	if subtle.ConstantTimeCompare([]byte(stored.Hash), []byte(current.Hash)) == 1 {
		return nil
	}

	l.deps.Logger.Error("integrity fingerprint mismatch, wiping local identity",
		"customer_id", customerID,
	)
	l.deps.Metrics.IntegrityWipes.Inc()
	if err := l.deps.Store.WipeAll(); err != nil {
		// A blocked wipe must surface loudly; the store cannot be left
		// half-present for the next ceremony.
		return faults.New(faults.ErrStorage, "integrity wipe failed: "+err.Error())
	}
	l.deps.Backend.ClearBearerToken()
	return faults.New(faults.ErrIntegrityMismatch, "")
}

// assertAndProve is steps 3-5: assertion against the backend challenge,
// symmetric-key unwrap, seed proof-of-possession, token mint. The step-up
// authorizer re-enters here without repeating the fingerprint gate.
func (l *Login) assertAndProve(ctx context.Context, identity models.DeviceIdentity) (*models.Session, error) {
	startResp, err := l.deps.Backend.LoginStart(ctx, gateway.LoginStartRequest{
		CustomerID: identity.CustomerID,
	})
	if err != nil {
		return nil, err
	}
	assertion, err := l.deps.Token.GetAssertion(ctx, startResp.Options.Response)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	finishResp, err := l.deps.Backend.LoginFinish(ctx, gateway.LoginFinishRequest{
		CustomerID:        identity.CustomerID,
		CredentialID:      encoding.BytesToBase64URL(assertion.CredentialID),
		AuthenticatorData: assertion.AuthenticatorData,
		ClientDataJSON:    assertion.ClientDataJSON,
		Signature:         assertion.Signature,
	})
	if err != nil {
		return nil, err
	}

	// The unwrap key is only released post-verification; now recover the
	// seed private key and re-derive its public point.
	privateKey, err := keywrap.Unwrap(identity.WrappedSeedPrivate, finishResp.SymmetricKey)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	publicKey, err := seedkey.PublicKeyFromPrivate(privateKey)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}

	verifyResp, err := l.deps.Backend.VerifySeedKey(ctx, gateway.SeedVerifyRequest{
		CustomerID: identity.CustomerID,
		Challenge:  finishResp.ProofChallenge,
		PublicKey:  publicKey,
	})
	if err != nil {
		return nil, err
	}

	ttl := l.deps.TokenTTL
	if verifyResp.ExpiresInSeconds > 0 {
		ttl = time.Duration(verifyResp.ExpiresInSeconds) * time.Second
	}
	session := &models.Session{
		CustomerID:  identity.CustomerID,
		BearerToken: verifyResp.Token,
		TokenExpiry: l.deps.Now().Add(ttl),
	}
	l.deps.Backend.SetBearerToken(session.BearerToken)
	return session, nil
}

// Reauthorize mints a fresh token for an already-loaded identity, skipping
// the fingerprint gate. Only the step-up authorizer calls this; a normal
// login always goes through Run.
func (l *Login) Reauthorize(ctx context.Context, customerID string) (*models.Session, error) {
	identity, err := l.deps.Store.GetIdentity(strings.TrimSpace(customerID))
	if err != nil {
		return nil, storageFault(err)
	}
	return l.assertAndProve(ctx, identity)
}
