package ceremony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/prometheus/client_golang/prometheus"

	platformauth "arcbank/device-core/internal/authenticator"
	"arcbank/device-core/internal/encoding"
	"arcbank/device-core/internal/gateway"
	"arcbank/device-core/internal/identitystore"
	"arcbank/device-core/internal/integrity"
	"arcbank/device-core/internal/platform/metrics"
	"arcbank/device-core/pkg/models"
)

const testRelyingParty = "bank.example"

// fakeBackend is an in-memory stand-in for the bank's identity and
// transaction endpoints, faithful to the custodial key flow: it keeps the
// symmetric key exported at registration and releases it again only after a
// verified assertion.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu               sync.Mutex
	symmetricKey     []byte
	credentialID     string
	seedPublicKey    []byte
	registerFinished bool
	loginCalls       int
	tokenSeq         int
	currentToken     string
	blockTransfers   bool
	rejectAssertions bool
	transactions     []gateway.TransactionRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/register/start", b.registerStart)
	mux.HandleFunc("/identity/register/finish", b.registerFinish)
	mux.HandleFunc("/identity/login/start", b.loginStart)
	mux.HandleFunc("/identity/login/finish", b.loginFinish)
	mux.HandleFunc("/identity/seed/verify", b.seedVerify)
	mux.HandleFunc("/transactions", b.createTransaction)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) registerStart(w http.ResponseWriter, r *http.Request) {
	var req gateway.RegisterStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CustomerID == "" {
		http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
		return
	}
	var opts protocol.CredentialCreation
	opts.Response.Challenge = protocol.URLEncodedBase64("reg-challenge-1")
	opts.Response.RelyingParty.ID = testRelyingParty
	opts.Response.RelyingParty.Name = "Example Bank"
	opts.Response.User.Name = req.CustomerID
	opts.Response.Parameters = []protocol.CredentialParameter{
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	}
	json.NewEncoder(w).Encode(gateway.RegisterStartResponse{Options: opts})
}

func (b *fakeBackend) registerFinish(w http.ResponseWriter, r *http.Request) {
	var req gateway.RegisterFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
		return
	}
	if len(req.WrappedKeyExport) != 32 {
		http.Error(w, `{"detail":"wrapping key must be 32 bytes"}`, http.StatusUnprocessableEntity)
		return
	}
	b.mu.Lock()
	b.symmetricKey = req.WrappedKeyExport
	b.credentialID = req.CredentialID
	b.seedPublicKey = req.SeedPublicKey
	b.registerFinished = true
	b.mu.Unlock()
	json.NewEncoder(w).Encode(gateway.RegisterFinishResponse{Success: true})
}

func (b *fakeBackend) loginStart(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.loginCalls++
	credentialID := b.credentialID
	b.mu.Unlock()

	raw, err := encoding.Base64URLToBytes(credentialID)
	if err != nil || len(raw) == 0 {
		http.Error(w, `{"detail":"no credential bound"}`, http.StatusNotFound)
		return
	}
	var opts protocol.CredentialAssertion
	opts.Response.Challenge = protocol.URLEncodedBase64("login-challenge-1")
	opts.Response.RelyingPartyID = testRelyingParty
	opts.Response.AllowedCredentials = []protocol.CredentialDescriptor{
		{Type: protocol.PublicKeyCredentialType, CredentialID: protocol.URLEncodedBase64(raw)},
	}
	json.NewEncoder(w).Encode(gateway.LoginStartResponse{Options: opts})
}

func (b *fakeBackend) loginFinish(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.loginCalls++
	reject := b.rejectAssertions
	key := b.symmetricKey
	b.mu.Unlock()

	var req gateway.LoginFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Signature) == 0 {
		http.Error(w, `{"detail":"bad assertion"}`, http.StatusBadRequest)
		return
	}
	if reject {
		json.NewEncoder(w).Encode(gateway.LoginFinishResponse{Verified: false, Detail: "assertion rejected"})
		return
	}
	json.NewEncoder(w).Encode(gateway.LoginFinishResponse{
		Verified:       true,
		SymmetricKey:   key,
		ProofChallenge: "proof-challenge-1",
	})
}

func (b *fakeBackend) seedVerify(w http.ResponseWriter, r *http.Request) {
	var req gateway.SeedVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	match := string(req.PublicKey) == string(b.seedPublicKey)
	if match {
		b.tokenSeq++
		b.currentToken = fmt.Sprintf("tok-%d", b.tokenSeq)
	}
	token := b.currentToken
	b.mu.Unlock()
	if !match {
		json.NewEncoder(w).Encode(gateway.SeedVerifyResponse{Detail: "seed key does not match"})
		return
	}
	json.NewEncoder(w).Encode(gateway.SeedVerifyResponse{Token: token, ExpiresInSeconds: 600})
}

func (b *fakeBackend) createTransaction(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	token := b.currentToken
	b.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+token || token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req gateway.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.transactions = append(b.transactions, req)
	blocked := b.blockTransfers && !req.IsReauthTransaction
	b.mu.Unlock()
	if blocked {
		json.NewEncoder(w).Encode(gateway.TransactionResponse{
			Blocked: true,
			Fraud: &models.FraudDetails{
				AlertID:       "alert-7",
				Confidence:    0.93,
				RiskLevel:     "high",
				Features:      []string{"amount_spike", "new_terminal"},
				DecisionScore: 0.88,
			},
			Detail: "transaction held for review",
		})
		return
	}
	json.NewEncoder(w).Encode(gateway.TransactionResponse{Success: true})
}

func (b *fakeBackend) loginCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCalls
}

func (b *fakeBackend) sentTransactions() []gateway.TransactionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.TransactionRequest(nil), b.transactions...)
}

func (b *fakeBackend) setBlockTransfers(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockTransfers = v
}

func (b *fakeBackend) setRejectAssertions(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAssertions = v
}

func (b *fakeBackend) corruptSymmetricKey() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symmetricKey = make([]byte, 32)
}

// fakeOracle mimics the loopback integrity helper with a mutable hash.
type fakeOracle struct {
	srv *httptest.Server

	mu         sync.Mutex
	hash       string
	available  bool
	stateCalls int
}

func newFakeOracle(t *testing.T) *fakeOracle {
	o := &fakeOracle{hash: "enrollment-hash-1", available: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/check_state", func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.stateCalls++
		hash := o.hash
		o.mu.Unlock()
		fmt.Fprintf(w, `{"current_hash":%q,"current_size":2,"timestamp":1756600000}`, hash)
	})
	mux.HandleFunc("/check_availability", func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		available := o.available
		o.mu.Unlock()
		fmt.Fprintf(w, `{"available":%t}`, available)
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOracle) setHash(h string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hash = h
}

func (o *fakeOracle) setAvailable(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.available = v
}

// scriptedPrompter plays the user through the seed display/confirm loop. It
// records every displayed phrase so tests can prove the phrase is never
// regenerated, and can be told to answer wrong for the first N confirmations.
type scriptedPrompter struct {
	mu         sync.Mutex
	displayed  []string
	wrongFirst int
	confirms   int
}

func (p *scriptedPrompter) DisplayMnemonic(ctx context.Context, mnemonic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayed = append(p.displayed, mnemonic)
	return nil
}

func (p *scriptedPrompter) PromptWords(ctx context.Context, indices []int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms++
	if p.confirms <= p.wrongFirst {
		return []string{"wrong", "wrong", "wrong"}, nil
	}
	words := strings.Fields(p.displayed[len(p.displayed)-1])
	out := make([]string, 0, len(indices))
	for _, idx := range indices {
		out = append(out, words[idx])
	}
	return out, nil
}

func (p *scriptedPrompter) lastMnemonic() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.displayed) == 0 {
		return ""
	}
	return p.displayed[len(p.displayed)-1]
}

func (p *scriptedPrompter) displayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.displayed)
}

type testEnv struct {
	backend  *fakeBackend
	oracle   *fakeOracle
	store    *identitystore.Store
	client   *gateway.Client
	token    *platformauth.SoftToken
	prompter *scriptedPrompter
	deps     Deps
}

func newTestEnv(t *testing.T) *testEnv {
	backend := newFakeBackend(t)
	oracle := newFakeOracle(t)
	store := identitystore.NewMemory()
	client := gateway.New(backend.srv.URL)
	token := platformauth.NewSoftToken("https://" + testRelyingParty)
	env := &testEnv{
		backend:  backend,
		oracle:   oracle,
		store:    store,
		client:   client,
		token:    token,
		prompter: &scriptedPrompter{},
	}
	env.deps = Deps{
		Store:   store,
		Backend: client,
		Token:   token,
		Oracle:  integrity.New(oracle.srv.URL),
		Metrics: metrics.New(prometheus.NewRegistry()),
		Now:     func() time.Time { return time.Now().UTC() },
	}
	return env
}

func (e *testEnv) register(t *testing.T, customerID string) *RegistrationResult {
	t.Helper()
	result, err := NewRegistrar(e.deps, e.prompter).Run(context.Background(), RegistrationRequest{
		CustomerID:  customerID,
		DisplayName: "Test Customer",
		Phone:       "+15550100",
	})
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	return result
}

func (e *testEnv) login(t *testing.T, customerID string) *models.Session {
	t.Helper()
	session, err := NewLogin(e.deps).Run(context.Background(), customerID)
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}
	return session
}
