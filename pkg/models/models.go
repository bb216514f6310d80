package models

import "time"

// WrappedKey is the seed-derived private key encrypted under the session
// symmetric key. Ciphertext carries the AEAD tag: 32-byte plaintext always
// yields 48 bytes, anything else means corruption.
type WrappedKey struct {
	InitializationVector []byte `json:"initialization_vector"`
	Ciphertext           []byte `json:"ciphertext"`
}

type DeviceIdentity struct {
	CustomerID         string     `json:"customer_id"`
	DisplayName        string     `json:"display_name"`
	SeedUserID         string     `json:"seed_user_id"`
	SeedPublicKey      []byte     `json:"seed_public_key"`
	CredentialID       []byte     `json:"credential_id"`
	WrappedSeedPrivate WrappedKey `json:"wrapped_seed_private"`
	RegisteredAt       time.Time  `json:"registered_at"`
	RestoredFromBackup bool       `json:"restored_from_backup,omitempty"`
}

// DeviceFingerprint is the tamper-evidence snapshot captured from the
// integrity helper. Exactly one is kept per customer; it is overwritten,
// never appended.
type DeviceFingerprint struct {
	Hash            string    `json:"hash"`
	EnrollmentCount int       `json:"enrollment_count"`
	CapturedAt      time.Time `json:"captured_at"`
}

type CustomerProfile struct {
	CustomerID            string    `json:"customer_id"`
	DisplayName           string    `json:"display_name"`
	Phone                 string    `json:"phone,omitempty"`
	RegistrationCompleted bool      `json:"registration_completed"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type PlatformCredential struct {
	CredentialID      []byte `json:"credential_id"`
	PublicKey         []byte `json:"public_key"`
	AttestationObject []byte `json:"attestation_object"`
	ClientDataJSON    []byte `json:"client_data_json"`
}

type PlatformAssertion struct {
	CredentialID      []byte `json:"credential_id"`
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientDataJSON    []byte `json:"client_data_json"`
	Signature         []byte `json:"signature"`
}

type TransactionAttempt struct {
	RecipientAccount string `json:"recipient_account"`
	SourceAccount    string `json:"source_account"`
	Amount           int64  `json:"amount"`
	TerminalID       string `json:"terminal_id"`
	BiometricHash    string `json:"biometric_hash"`
	OriginalAlertID  string `json:"original_alert_id,omitempty"`
}

// FraudDetails is the structured block decision returned with a declined
// transaction.
type FraudDetails struct {
	AlertID       string   `json:"alert_id"`
	Confidence    float64  `json:"confidence"`
	RiskLevel     string   `json:"risk_level"`
	Features      []string `json:"features,omitempty"`
	DecisionScore float64  `json:"decision_score"`
}

type Session struct {
	CustomerID  string    `json:"customer_id"`
	BearerToken string    `json:"bearer_token,omitempty"`
	TokenExpiry time.Time `json:"token_expiry,omitempty"`
}

func (s Session) TokenValid(now time.Time) bool {
	return s.BearerToken != "" && now.Before(s.TokenExpiry)
}
