package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"arcbank/device-core/internal/faults"
)

func TestRegisterStartReturnsOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identity/register/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("request id header missing")
		}
		var req RegisterStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.CustomerID != "cust-1" {
			t.Errorf("unexpected customer id %q", req.CustomerID)
		}
		fmt.Fprint(w, `{"options":{"publicKey":{"challenge":"Y2hhbGxlbmdl","rp":{"name":"Bank","id":"bank.example"},"user":{"name":"cust-1","id":"dXNlcg"}}}}`)
	}))
	defer srv.Close()

	client := New(srv.URL)
	resp, err := client.RegisterStart(context.Background(), RegisterStartRequest{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("register start failed: %v", err)
	}
	if string(resp.Options.Response.Challenge) != "challenge" {
		t.Fatalf("challenge decoded to %q", resp.Options.Response.Challenge)
	}
	if resp.Options.Response.RelyingParty.ID != "bank.example" {
		t.Fatalf("rp id %q", resp.Options.Response.RelyingParty.ID)
	}
}

func TestRegisterStartMissingChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"options":{"publicKey":{}}}`)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).RegisterStart(context.Background(), RegisterStartRequest{CustomerID: "c"}); !errors.Is(err, faults.ErrBackendRejection) {
		t.Fatalf("expected backend rejection, got %v", err)
	}
}

func TestUnauthorizedMapsToSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateTransaction(context.Background(), TransactionRequest{Amount: 100})
	if !errors.Is(err, faults.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
}

func TestBackendDetailSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"detail":"customer already registered"}`)
	}))
	defer srv.Close()

	err := New(srv.URL).RegisterFinish(context.Background(), RegisterFinishRequest{CustomerID: "c"})
	if !errors.Is(err, faults.ErrBackendRejection) {
		t.Fatalf("expected backend rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "customer already registered") {
		t.Fatalf("detail lost: %v", err)
	}
}

func TestLoginFinishRejectsShortKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := LoginFinishResponse{
			Verified:       true,
			SymmetricKey:   []byte("short"),
			ProofChallenge: "proof",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	_, err := New(srv.URL).LoginFinish(context.Background(), LoginFinishRequest{CustomerID: "c"})
	if !errors.Is(err, faults.ErrEncoding) {
		t.Fatalf("expected encoding fault, got %v", err)
	}
}

func TestLoginFinishSuccess(t *testing.T) {
	key := make([]byte, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LoginFinishResponse{
			Verified:       true,
			SymmetricKey:   key,
			ProofChallenge: "proof-challenge",
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).LoginFinish(context.Background(), LoginFinishRequest{CustomerID: "c"})
	if err != nil {
		t.Fatalf("login finish failed: %v", err)
	}
	if resp.ProofChallenge != "proof-challenge" {
		t.Fatalf("proof challenge %q", resp.ProofChallenge)
	}
}

func TestBearerTokenAttachedAndCleared(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(TransactionResponse{Success: true})
	}))
	defer srv.Close()

	client := New(srv.URL)
	client.SetBearerToken("tok-123")
	if _, err := client.CreateTransaction(context.Background(), TransactionRequest{}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	client.ClearBearerToken()
	if _, err := client.CreateTransaction(context.Background(), TransactionRequest{}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if seen[0] != "Bearer tok-123" {
		t.Fatalf("first call auth header %q", seen[0])
	}
	if seen[1] != "" {
		t.Fatalf("second call must carry no auth header, got %q", seen[1])
	}
}

func TestVerifySeedKeyMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"detail":"signature invalid"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).VerifySeedKey(context.Background(), SeedVerifyRequest{CustomerID: "c"})
	if !errors.Is(err, faults.ErrBackendRejection) {
		t.Fatalf("expected backend rejection, got %v", err)
	}
}
