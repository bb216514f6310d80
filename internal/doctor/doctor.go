// Package doctor runs the preflight checks the agent offers before a
// ceremony is attempted: integrity helper reachable, platform authenticator
// enrolled, backend reachable, data directory writable. Each check is
// independent; the report is ready only when all pass.
package doctor

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arcbank/device-core/internal/integrity"
)

const probeTimeout = 3 * time.Second

type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

type Input struct {
	GatewayURL string
	DataDir    string
}

type Service struct {
	oracle *integrity.Oracle
	now    func() time.Time
	http   *http.Client
}

func New(oracle *integrity.Oracle) *Service {
	return &Service{
		oracle: oracle,
		now:    func() time.Time { return time.Now().UTC() },
		http:   &http.Client{Timeout: probeTimeout},
	}
}

func (s *Service) Run(ctx context.Context, input Input) Report {
	report := Report{
		Ready:     true,
		Checks:    make([]Check, 0, 4),
		CheckedAt: s.now(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		if pass {
			reason = ""
		}
		report.Checks = append(report.Checks, Check{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	fp, err := s.oracle.QueryFingerprint(ctx)
	appendCheck("integrity_helper_reachable", err == nil, errReason(err))
	if err == nil {
		appendCheck("integrity_fingerprint_present", strings.TrimSpace(fp.Hash) != "", "helper reported an empty fingerprint")
	}

	available, err := s.oracle.QueryAuthenticatorCapability(ctx)
	if err != nil {
		appendCheck("platform_authenticator_enrolled", false, errReason(err))
	} else {
		appendCheck("platform_authenticator_enrolled", available, "no biometric or PIN credential is enrolled")
	}

	if strings.TrimSpace(input.GatewayURL) != "" {
		appendCheck("gateway_reachable", s.probeGateway(ctx, input.GatewayURL), "backend did not answer")
	}

	if strings.TrimSpace(input.DataDir) != "" {
		appendCheck("data_dir_writable", dataDirWritable(input.DataDir), "cannot create files in the data directory")
	}

	return report
}

func (s *Service) probeGateway(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func dataDirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return false
	}
	os.Remove(probe)
	return true
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
