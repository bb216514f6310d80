// Package integrity adapts the local device-state helper. The helper is
// queried over unauthenticated loopback HTTP and is trusted to report a hash
// that changes iff the enrolled biometrics change; the transport itself is
// not part of the trust argument.
//
// A transport failure yields (nil, error), never an empty fingerprint:
// "helper unreachable" must read as cannot-proceed, not as no-tampering.
package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"arcbank/device-core/pkg/models"
)

const defaultTimeout = 5 * time.Second

var ErrUnavailable = errors.New("integrity helper unavailable")

type Oracle struct {
	base string
	http *http.Client
}

func New(baseURL string) *Oracle {
	return &Oracle{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

type stateResponse struct {
	CurrentHash string `json:"current_hash"`
	CurrentSize int    `json:"current_size"`
	Timestamp   int64  `json:"timestamp"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

// QueryFingerprint captures the current biometric-enrollment fingerprint.
func (o *Oracle) QueryFingerprint(ctx context.Context) (*models.DeviceFingerprint, error) {
	var out stateResponse
	if err := o.getJSON(ctx, "/check_state", &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.CurrentHash) == "" {
		return nil, fmt.Errorf("%w: empty state hash", ErrUnavailable)
	}
	capturedAt := time.Unix(out.Timestamp, 0).UTC()
	if out.Timestamp == 0 {
		capturedAt = time.Now().UTC()
	}
	return &models.DeviceFingerprint{
		Hash:            out.CurrentHash,
		EnrollmentCount: out.CurrentSize,
		CapturedAt:      capturedAt,
	}, nil
}

// QueryAuthenticatorCapability reports whether a platform authenticator is
// enrolled and usable on this device.
func (o *Oracle) QueryAuthenticatorCapability(ctx context.Context) (bool, error) {
	var out availabilityResponse
	if err := o.getJSON(ctx, "/check_availability", &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (o *Oracle) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s", ErrUnavailable, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}
	return nil
}
