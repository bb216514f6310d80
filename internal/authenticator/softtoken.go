package authenticator

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"arcbank/device-core/pkg/models"
)

// Flag bits of the authenticator data per the WebAuthn wire format.
const (
	flagUserPresent        = 0x01
	flagUserVerified       = 0x04
	flagAttestedCredential = 0x40
)

const credentialIDSize = 16

// SoftToken is an in-process authenticator holding ES256 keys in memory. It
// stands in for the platform biometric subsystem on hosts without one and
// backs the end-to-end tests; it performs no real user verification.
type SoftToken struct {
	origin string

	mu          sync.Mutex
	credentials map[string]*softCredential // by hex-free string(credentialID)
}

type softCredential struct {
	id        []byte
	rpID      string
	userID    []byte
	key       *ecdsa.PrivateKey
	signCount uint32
}

func NewSoftToken(origin string) *SoftToken {
	return &SoftToken{
		origin:      origin,
		credentials: make(map[string]*softCredential),
	}
}

var _ Authenticator = (*SoftToken)(nil)

func (t *SoftToken) CreateCredential(ctx context.Context, opts protocol.PublicKeyCredentialCreationOptions) (models.PlatformCredential, error) {
	if err := ctx.Err(); err != nil {
		return models.PlatformCredential{}, ErrCancelled
	}
	if !supportsES256(opts.Parameters) {
		return models.PlatformCredential{}, ErrUnavailable
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return models.PlatformCredential{}, err
	}
	credentialID := make([]byte, credentialIDSize)
	if _, err := rand.Read(credentialID); err != nil {
		return models.PlatformCredential{}, err
	}

	clientData, err := buildClientData("webauthn.create", opts.Challenge, t.origin)
	if err != nil {
		return models.PlatformCredential{}, err
	}

	cosePub, err := coseES256PublicKey(&key.PublicKey)
	if err != nil {
		return models.PlatformCredential{}, err
	}
	authData := buildAttestedAuthData(opts.RelyingParty.ID, credentialID, cosePub)

	attestation, err := cbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": authData,
	})
	if err != nil {
		return models.PlatformCredential{}, err
	}

	userID, _ := json.Marshal(opts.User.ID)
	cred := &softCredential{
		id:     credentialID,
		rpID:   opts.RelyingParty.ID,
		userID: userID,
		key:    key,
	}
	t.mu.Lock()
	t.credentials[string(credentialID)] = cred
	t.mu.Unlock()

	return models.PlatformCredential{
		CredentialID:      append([]byte(nil), credentialID...),
		PublicKey:         cosePub,
		AttestationObject: attestation,
		ClientDataJSON:    clientData,
	}, nil
}

func (t *SoftToken) GetAssertion(ctx context.Context, opts protocol.PublicKeyCredentialRequestOptions) (models.PlatformAssertion, error) {
	if err := ctx.Err(); err != nil {
		return models.PlatformAssertion{}, ErrCancelled
	}

	cred := t.findCredential(opts)
	if cred == nil {
		return models.PlatformAssertion{}, ErrNoCredential
	}

	clientData, err := buildClientData("webauthn.get", opts.Challenge, t.origin)
	if err != nil {
		return models.PlatformAssertion{}, err
	}

	t.mu.Lock()
	cred.signCount++
	count := cred.signCount
	t.mu.Unlock()

	authData := buildAssertionAuthData(cred.rpID, count)
	clientDataHash := sha256.Sum256(clientData)
	signed := append(append([]byte(nil), authData...), clientDataHash[:]...)
	digest := sha256.Sum256(signed)

	sig, err := ecdsa.SignASN1(rand.Reader, cred.key, digest[:])
	if err != nil {
		return models.PlatformAssertion{}, err
	}

	return models.PlatformAssertion{
		CredentialID:      append([]byte(nil), cred.id...),
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         sig,
	}, nil
}

func (t *SoftToken) findCredential(opts protocol.PublicKeyCredentialRequestOptions) *softCredential {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(opts.AllowedCredentials) == 0 {
		// Discoverable-credential path: first credential for the RP.
		for _, cred := range t.credentials {
			if cred.rpID == opts.RelyingPartyID {
				return cred
			}
		}
		return nil
	}
	for _, allowed := range opts.AllowedCredentials {
		if cred, ok := t.credentials[string(allowed.CredentialID)]; ok {
			if opts.RelyingPartyID == "" || cred.rpID == opts.RelyingPartyID {
				return cred
			}
		}
	}
	return nil
}

func supportsES256(params []protocol.CredentialParameter) bool {
	if len(params) == 0 {
		return true
	}
	for _, p := range params {
		if p.Algorithm == webauthncose.AlgES256 {
			return true
		}
	}
	return false
}

func buildClientData(ceremonyType string, challenge protocol.URLEncodedBase64, origin string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":      ceremonyType,
		"challenge": challenge.String(),
		"origin":    origin,
	})
}

func buildAssertionAuthData(rpID string, signCount uint32) []byte {
	rpHash := sha256.Sum256([]byte(rpID))
	buf := bytes.NewBuffer(rpHash[:])
	buf.WriteByte(flagUserPresent | flagUserVerified)
	binary.Write(buf, binary.BigEndian, signCount)
	return buf.Bytes()
}

func buildAttestedAuthData(rpID string, credentialID, cosePublicKey []byte) []byte {
	rpHash := sha256.Sum256([]byte(rpID))
	buf := bytes.NewBuffer(rpHash[:])
	buf.WriteByte(flagUserPresent | flagUserVerified | flagAttestedCredential)
	binary.Write(buf, binary.BigEndian, uint32(0))
	buf.Write(make([]byte, 16)) // zero AAGUID: software token carries no make/model
	binary.Write(buf, binary.BigEndian, uint16(len(credentialID)))
	buf.Write(credentialID)
	buf.Write(cosePublicKey)
	return buf.Bytes()
}

// coseES256PublicKey encodes the point as a COSE_Key EC2 map.
func coseES256PublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	x := pub.X.FillBytes(make([]byte, 32))
	y := pub.Y.FillBytes(make([]byte, 32))
	return cbor.Marshal(map[int]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: x,
		-3: y,
	})
}
