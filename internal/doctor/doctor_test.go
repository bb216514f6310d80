package doctor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"arcbank/device-core/internal/integrity"
)

func testOracle(t *testing.T, hash string, available bool) *integrity.Oracle {
	mux := http.NewServeMux()
	mux.HandleFunc("/check_state", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"current_hash":%q,"current_size":1,"timestamp":1756600000}`, hash)
	})
	mux.HandleFunc("/check_availability", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"available":%t}`, available)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return integrity.New(srv.URL)
}

func checkByName(r Report, name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestDoctorAllPass(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer gateway.Close()

	report := New(testOracle(t, "hash-1", true)).Run(context.Background(), Input{
		GatewayURL: gateway.URL,
		DataDir:    t.TempDir(),
	})
	if !report.Ready {
		t.Fatalf("expected ready report, got %+v", report)
	}
	for _, name := range []string{
		"integrity_helper_reachable",
		"integrity_fingerprint_present",
		"platform_authenticator_enrolled",
		"gateway_reachable",
		"data_dir_writable",
	} {
		c, ok := checkByName(report, name)
		if !ok || !c.Pass {
			t.Fatalf("check %s missing or failing: %+v", name, c)
		}
	}
}

func TestDoctorHelperDown(t *testing.T) {
	oracle := integrity.New("http://127.0.0.1:1")
	report := New(oracle).Run(context.Background(), Input{})
	if report.Ready {
		t.Fatal("unreachable helper must fail the report")
	}
	c, ok := checkByName(report, "integrity_helper_reachable")
	if !ok || c.Pass || c.Reason == "" {
		t.Fatalf("expected failing check with reason, got %+v", c)
	}
}

func TestDoctorNoAuthenticator(t *testing.T) {
	report := New(testOracle(t, "hash-1", false)).Run(context.Background(), Input{})
	if report.Ready {
		t.Fatal("missing authenticator must fail the report")
	}
	c, _ := checkByName(report, "platform_authenticator_enrolled")
	if c.Pass {
		t.Fatal("authenticator check must fail")
	}
}
