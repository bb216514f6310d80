package gateway

import (
	"github.com/go-webauthn/webauthn/protocol"

	"arcbank/device-core/pkg/models"
)

// Request/response contracts for the identity and transaction endpoints.
// Required fields are plain; everything the backend may omit is tagged
// omitempty and checked explicitly at the decode site instead of being
// trusted blindly.

type RegisterStartRequest struct {
	CustomerID  string `json:"customer_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// RegisterStartResponse carries the authenticator creation-options bundle:
// challenge, relying party, user handle, accepted algorithms, excluded
// credentials, selection policy and attestation preference.
type RegisterStartResponse struct {
	Options protocol.CredentialCreation `json:"options"`
}

type RegisterFinishRequest struct {
	CustomerID string `json:"customer_id"`
	Phone      string `json:"phone,omitempty"`

	CredentialID      string `json:"credential_id"`
	CredentialKey     []byte `json:"credential_public_key"`
	ClientDataJSON    []byte `json:"client_data_json"`
	AttestationObject []byte `json:"attestation_object"`

	// WrappedKeyExport is the raw export of the symmetric key that wraps
	// the seed private key. Sending it to the backend is the observed
	// protocol; it makes the backend a custodian of the unwrap capability.
	WrappedKeyExport []byte `json:"wrapped_symmetric_key"`

	SeedUserID    string `json:"seed_user_id"`
	SeedPublicKey []byte `json:"seed_public_key"`
}

type RegisterFinishResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

type LoginStartRequest struct {
	CustomerID string `json:"customer_id"`
}

type LoginStartResponse struct {
	Options protocol.CredentialAssertion `json:"options"`
}

type LoginFinishRequest struct {
	CustomerID        string `json:"customer_id"`
	CredentialID      string `json:"credential_id"`
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientDataJSON    []byte `json:"client_data_json"`
	Signature         []byte `json:"signature"`
}

// LoginFinishResponse releases the unwrap key only after the backend has
// verified the assertion, together with the fresh proof challenge.
type LoginFinishResponse struct {
	Verified       bool   `json:"verified"`
	SymmetricKey   []byte `json:"symmetric_key,omitempty"`
	ProofChallenge string `json:"proof_challenge,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

type SeedVerifyRequest struct {
	CustomerID string `json:"customer_id"`
	Challenge  string `json:"challenge"`
	PublicKey  []byte `json:"public_key"`
}

type SeedVerifyResponse struct {
	Token            string `json:"token,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

type TransactionRequest struct {
	RecipientAccount string `json:"recipient_account"`
	SourceAccount    string `json:"source_account"`
	Amount           int64  `json:"amount"`
	TerminalID       string `json:"terminal_id"`
	BiometricHash    string `json:"biometric_hash"`

	IsReauthTransaction bool   `json:"is_reauth_transaction,omitempty"`
	OriginalAlertID     string `json:"original_alert_id,omitempty"`
}

type TransactionResponse struct {
	Success bool                 `json:"success"`
	Blocked bool                 `json:"blocked,omitempty"`
	Fraud   *models.FraudDetails `json:"fraud,omitempty"`
	Detail  string               `json:"detail,omitempty"`
}
