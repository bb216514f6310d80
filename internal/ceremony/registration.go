package ceremony

import (
	"context"
	"errors"
	"strings"

	"arcbank/device-core/internal/encoding"
	"arcbank/device-core/internal/faults"
	"arcbank/device-core/internal/gateway"
	"arcbank/device-core/internal/keywrap"
	"arcbank/device-core/internal/platform/metrics"
	"arcbank/device-core/internal/seedkey"
	"arcbank/device-core/pkg/models"
)

// RegistrationState names the steps of the registration run. Linear with one
// absorbing failure state.
type RegistrationState string

const (
	RegStateStart             RegistrationState = "START"
	RegStateCredentialCreated RegistrationState = "CREDENTIAL_CREATED"
	RegStateSeedGenerated     RegistrationState = "SEED_GENERATED"
	RegStateSeedConfirmed     RegistrationState = "SEED_CONFIRMED"
	RegStateSubmitted         RegistrationState = "SUBMITTED"
	RegStateComplete          RegistrationState = "COMPLETE"
	RegStateAborted           RegistrationState = "ABORTED"
)

const defaultConfirmAttempts = 3

// Registrar runs the one-time device registration: platform credential
// creation, seed phrase generation and confirmation, key wrapping, local
// persistence and the backend identity binding.
type Registrar struct {
	deps            Deps
	prompter        SeedPrompter
	confirmAttempts int
}

type RegistrationRequest struct {
	CustomerID  string
	DisplayName string
	Phone       string
}

type RegistrationResult struct {
	State          RegistrationState
	CustomerID     string
	SeedUserID     string
	AccountAddress string
}

func NewRegistrar(deps Deps, prompter SeedPrompter) *Registrar {
	return &Registrar{
		deps:            deps.withDefaults(),
		prompter:        prompter,
		confirmAttempts: defaultConfirmAttempts,
	}
}

// Run executes the full registration. Any error leaves the run in ABORTED
// with no partial backend binding; local writes happen only after the seed
// is confirmed.
func (r *Registrar) Run(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	log := r.deps.Logger
	result, err := r.run(ctx, req)
	r.deps.Metrics.Registrations.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		log.Warn("registration aborted",
			"customer_id", req.CustomerID,
			"category", faults.Category(err),
		)
		return &RegistrationResult{State: RegStateAborted, CustomerID: req.CustomerID}, err
	}
	log.Info("registration complete", "customer_id", req.CustomerID)
	return result, nil
}

func (r *Registrar) run(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, faults.New(faults.ErrBackendRejection, "customer id is required")
	}
	if !r.deps.Limiter.Allow(customerID, r.deps.Now()) {
		return nil, faults.New(faults.ErrBackendRejection, "too many registration attempts, slow down")
	}

	available, err := r.deps.Oracle.QueryAuthenticatorCapability(ctx)
	if err != nil {
		return nil, classifyOracleError(err)
	}
	if !available {
		return nil, faults.New(faults.ErrCapability, "no platform authenticator enrolled")
	}

	// Step 1: platform credential bound to the backend challenge. Failure
	// here mutates nothing.
	startResp, err := r.deps.Backend.RegisterStart(ctx, gateway.RegisterStartRequest{
		CustomerID:  customerID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return nil, err
	}
	credential, err := r.deps.Token.CreateCredential(ctx, startResp.Options.Response)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	// Step 2: the symmetric key that will wrap the seed private key.
	symmetricKey, err := keywrap.NewSymmetricKey()
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}

	// Steps 3-4: show the phrase once, then require three words back.
	mnemonic, err := seedkey.NewMnemonic()
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	if err := r.confirmSeed(ctx, mnemonic); err != nil {
		return nil, err
	}

	// Step 5: derive, wrap, persist, bind.
	derived, err := seedkey.DeriveKeys(mnemonic)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	wrapped, err := keywrap.Wrap(derived.PrivateKey, symmetricKey)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	address, err := seedkey.BuildAccountAddress(derived.PublicKey)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}

	identity := models.DeviceIdentity{
		CustomerID:         customerID,
		DisplayName:        req.DisplayName,
		SeedUserID:         derived.UserID,
		SeedPublicKey:      derived.PublicKey,
		CredentialID:       credential.CredentialID,
		WrappedSeedPrivate: wrapped,
		RegisteredAt:       r.deps.Now(),
	}
	if err := r.deps.Store.PutIdentity(identity); err != nil {
		return nil, storageFault(err)
	}
	if err := r.deps.Store.PutProfile(models.CustomerProfile{
		CustomerID:  customerID,
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
	}); err != nil {
		return nil, storageFault(err)
	}

	if err := r.deps.Backend.RegisterFinish(ctx, gateway.RegisterFinishRequest{
		CustomerID:        customerID,
		Phone:             req.Phone,
		CredentialID:      encoding.BytesToBase64URL(credential.CredentialID),
		CredentialKey:     credential.PublicKey,
		ClientDataJSON:    credential.ClientDataJSON,
		AttestationObject: credential.AttestationObject,
		WrappedKeyExport:  symmetricKey,
		SeedUserID:        derived.UserID,
		SeedPublicKey:     derived.PublicKey,
	}); err != nil {
		return nil, err
	}

	// Backend accepted the binding: capture the enrollment fingerprint that
	// every later authentication is gated on.
	fp, err := r.deps.Oracle.QueryFingerprint(ctx)
	if err != nil {
		return nil, classifyOracleError(err)
	}
	if err := r.deps.Store.PutFingerprint(customerID, *fp); err != nil {
		return nil, storageFault(err)
	}
	if err := r.deps.Store.PutProfile(models.CustomerProfile{
		CustomerID:            customerID,
		DisplayName:           req.DisplayName,
		Phone:                 req.Phone,
		RegistrationCompleted: true,
	}); err != nil {
		return nil, storageFault(err)
	}

	return &RegistrationResult{
		State:          RegStateComplete,
		CustomerID:     customerID,
		SeedUserID:     derived.UserID,
		AccountAddress: address,
	}, nil
}

// confirmSeed drives the display/confirm loop. The phrase is never
// regenerated on a failed confirmation; the user returns to the display step
// with the same mnemonic and fresh word positions.
func (r *Registrar) confirmSeed(ctx context.Context, mnemonic string) error {
	for attempt := 0; attempt < r.confirmAttempts; attempt++ {
		if err := r.prompter.DisplayMnemonic(ctx, mnemonic); err != nil {
			return faults.New(faults.ErrUserCancelled, "")
		}
		indices, err := seedkey.RandomWordIndices()
		if err != nil {
			return faults.New(faults.ErrEncoding, err.Error())
		}
		entered, err := r.prompter.PromptWords(ctx, indices)
		if err != nil {
			return faults.New(faults.ErrUserCancelled, "")
		}
		err = seedkey.ConfirmWords(mnemonic, indices, entered)
		if err == nil {
			return nil
		}
		if !errors.Is(err, seedkey.ErrWordMismatch) {
			return faults.New(faults.ErrEncoding, err.Error())
		}
		r.deps.Logger.Debug("seed confirmation mismatch", "attempt", attempt+1)
	}
	return faults.New(faults.ErrUserCancelled, "seed confirmation attempts exhausted")
}

// Restore rebuilds the device identity from an existing recovery phrase on a
// new or wiped device: no seed generation or confirmation, otherwise the same
// binding flow as Run.
func (r *Registrar) Restore(ctx context.Context, req RegistrationRequest, mnemonic string) (*RegistrationResult, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, faults.New(faults.ErrBackendRejection, "customer id is required")
	}
	if !seedkey.ValidateMnemonic(mnemonic) {
		return nil, faults.New(faults.ErrEncoding, "recovery phrase is not valid")
	}

	startResp, err := r.deps.Backend.RegisterStart(ctx, gateway.RegisterStartRequest{
		CustomerID:  customerID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return nil, err
	}
	credential, err := r.deps.Token.CreateCredential(ctx, startResp.Options.Response)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	symmetricKey, err := keywrap.NewSymmetricKey()
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	derived, err := seedkey.DeriveKeys(mnemonic)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	wrapped, err := keywrap.Wrap(derived.PrivateKey, symmetricKey)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	address, err := seedkey.BuildAccountAddress(derived.PublicKey)
	if err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}

	identity := models.DeviceIdentity{
		CustomerID:         customerID,
		DisplayName:        req.DisplayName,
		SeedUserID:         derived.UserID,
		SeedPublicKey:      derived.PublicKey,
		CredentialID:       credential.CredentialID,
		WrappedSeedPrivate: wrapped,
		RegisteredAt:       r.deps.Now(),
		RestoredFromBackup: true,
	}
	if err := r.deps.Store.PutIdentity(identity); err != nil {
		return nil, storageFault(err)
	}

	if err := r.deps.Backend.RegisterFinish(ctx, gateway.RegisterFinishRequest{
		CustomerID:        customerID,
		Phone:             req.Phone,
		CredentialID:      encoding.BytesToBase64URL(credential.CredentialID),
		CredentialKey:     credential.PublicKey,
		ClientDataJSON:    credential.ClientDataJSON,
		AttestationObject: credential.AttestationObject,
		WrappedKeyExport:  symmetricKey,
		SeedUserID:        derived.UserID,
		SeedPublicKey:     derived.PublicKey,
	}); err != nil {
		return nil, err
	}

	fp, err := r.deps.Oracle.QueryFingerprint(ctx)
	if err != nil {
		return nil, classifyOracleError(err)
	}
	if err := r.deps.Store.PutFingerprint(customerID, *fp); err != nil {
		return nil, storageFault(err)
	}
	if err := r.deps.Store.PutProfile(models.CustomerProfile{
		CustomerID:            customerID,
		DisplayName:           req.DisplayName,
		Phone:                 req.Phone,
		RegistrationCompleted: true,
	}); err != nil {
		return nil, storageFault(err)
	}

	return &RegistrationResult{
		State:          RegStateComplete,
		CustomerID:     customerID,
		SeedUserID:     derived.UserID,
		AccountAddress: address,
	}, nil
}
