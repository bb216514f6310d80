// Package gateway is the JSON-over-HTTP client for the bank backend's
// identity and transaction endpoints. Transport failures and non-success
// statuses are translated into the faults taxonomy at this boundary; raw
// transport errors never reach a ceremony.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arcbank/device-core/internal/encoding"
	"arcbank/device-core/internal/faults"
	"arcbank/device-core/internal/keywrap"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	base string
	http *http.Client

	mu          sync.Mutex
	bearerToken string
}

func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

// SetBearerToken installs the short-lived token minted by seed verification.
// The token is ambient for subsequent authorized calls; only the ceremonies
// mint new ones.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = strings.TrimSpace(token)
}

func (c *Client) ClearBearerToken() {
	c.SetBearerToken("")
}

func (c *Client) RegisterStart(ctx context.Context, req RegisterStartRequest) (*RegisterStartResponse, error) {
	var out RegisterStartResponse
	if err := c.postJSON(ctx, "/identity/register/start", req, &out); err != nil {
		return nil, err
	}
	if len(out.Options.Response.Challenge) == 0 {
		return nil, faults.New(faults.ErrBackendRejection, "registration options carry no challenge")
	}
	return &out, nil
}

func (c *Client) RegisterFinish(ctx context.Context, req RegisterFinishRequest) error {
	var out RegisterFinishResponse
	if err := c.postJSON(ctx, "/identity/register/finish", req, &out); err != nil {
		return err
	}
	if !out.Success {
		return faults.Backend(out.Detail)
	}
	return nil
}

func (c *Client) LoginStart(ctx context.Context, req LoginStartRequest) (*LoginStartResponse, error) {
	var out LoginStartResponse
	if err := c.postJSON(ctx, "/identity/login/start", req, &out); err != nil {
		return nil, err
	}
	if len(out.Options.Response.Challenge) == 0 {
		return nil, faults.New(faults.ErrBackendRejection, "assertion options carry no challenge")
	}
	return &out, nil
}

// LoginFinish forwards the signed assertion. On verification success the
// backend releases the wrapping symmetric key, which must be exactly
// 32 bytes, plus the proof-of-possession challenge.
func (c *Client) LoginFinish(ctx context.Context, req LoginFinishRequest) (*LoginFinishResponse, error) {
	var out LoginFinishResponse
	if err := c.postJSON(ctx, "/identity/login/finish", req, &out); err != nil {
		return nil, err
	}
	if !out.Verified {
		return nil, faults.Backend(out.Detail)
	}
	if err := encoding.CheckLength("wrapping symmetric key", out.SymmetricKey, keywrap.SymmetricKeySize); err != nil {
		return nil, faults.New(faults.ErrEncoding, err.Error())
	}
	if strings.TrimSpace(out.ProofChallenge) == "" {
		return nil, faults.New(faults.ErrBackendRejection, "verification response carries no proof challenge")
	}
	return &out, nil
}

func (c *Client) VerifySeedKey(ctx context.Context, req SeedVerifyRequest) (*SeedVerifyResponse, error) {
	var out SeedVerifyResponse
	if err := c.postJSON(ctx, "/identity/seed/verify", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Token) == "" {
		return nil, faults.Backend(out.Detail)
	}
	return &out, nil
}

func (c *Client) CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error) {
	var out TransactionResponse
	if err := c.postJSON(ctx, "/transactions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type errorBody struct {
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return faults.New(faults.ErrBackendRejection, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	c.mu.Lock()
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return faults.New(faults.ErrBackendRejection, "backend unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return faults.New(faults.ErrSessionExpired, "")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return faults.Backend(readDetail(resp.Body, resp.Status))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.New(faults.ErrBackendRejection, fmt.Sprintf("malformed response from %s", path))
	}
	return nil
}

func readDetail(body io.Reader, status string) string {
	var parsed errorBody
	if err := json.NewDecoder(body).Decode(&parsed); err == nil {
		if strings.TrimSpace(parsed.Detail) != "" {
			return parsed.Detail
		}
		if strings.TrimSpace(parsed.Error) != "" {
			return parsed.Error
		}
	}
	return status
}
