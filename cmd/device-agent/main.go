package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arcbank/device-core/internal/authenticator"
	"arcbank/device-core/internal/ceremony"
	"arcbank/device-core/internal/config"
	"arcbank/device-core/internal/doctor"
	"arcbank/device-core/internal/gateway"
	"arcbank/device-core/internal/identitystore"
	"arcbank/device-core/internal/integrity"
	"arcbank/device-core/internal/platform/metrics"
	"arcbank/device-core/internal/platform/privacylog"
	"arcbank/device-core/internal/platform/ratelimiter"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to agent.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for local identity data (optional)")
	customer := flag.String("customer", "", "Customer id for register/login/pay")
	flag.Parse()

	if *showVersion {
		fmt.Printf("device-agent version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg := config.LoadFromPath(*configPath)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *customer, flag.Arg(0)); err != nil {
		logger.Error("device-agent failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, customerID, command string) error {
	oracle := integrity.New(cfg.OracleURL)

	if command == "doctor" {
		report := doctor.New(oracle).Run(ctx, doctor.Input{
			GatewayURL: cfg.GatewayURL,
			DataDir:    cfg.DataDir,
		})
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	store := identitystore.New(cfg.StorePath(), cfg.StoreSecret)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer store.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics endpoint stopped", "error", err.Error())
			}
		}()
	}

	deps := ceremony.Deps{
		Store:    store,
		Backend:  gateway.New(cfg.GatewayURL),
		Token:    authenticator.NewSoftToken(cfg.Origin),
		Oracle:   oracle,
		Logger:   logger,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Limiter:  ratelimiter.New(cfg.AttemptRPS, cfg.AttemptBurst, 0),
		TokenTTL: cfg.TokenTTL,
	}

	switch command {
	case "register":
		result, err := ceremony.NewRegistrar(deps, terminalPrompter{}).Run(ctx, ceremony.RegistrationRequest{
			CustomerID: customerID,
		})
		if err != nil {
			return err
		}
		fmt.Printf("registered customer=%s address=%s\n", result.CustomerID, result.AccountAddress)
		return nil

	case "restore":
		phrase, err := readLine("Enter your 12-word recovery phrase: ")
		if err != nil {
			return err
		}
		result, err := ceremony.NewRegistrar(deps, terminalPrompter{}).Restore(ctx, ceremony.RegistrationRequest{
			CustomerID: customerID,
		}, phrase)
		if err != nil {
			return err
		}
		fmt.Printf("restored customer=%s address=%s\n", result.CustomerID, result.AccountAddress)
		return nil

	case "login":
		session, err := ceremony.NewLogin(deps).Run(ctx, customerID)
		if err != nil {
			return err
		}
		fmt.Printf("verified customer=%s token_expiry=%s\n", session.CustomerID, session.TokenExpiry.Format("15:04:05"))
		return nil

	case "status":
		ids := store.CustomerIDs()
		for _, id := range ids {
			profile, err := store.GetProfile(id)
			completed := err == nil && profile.RegistrationCompleted
			fmt.Printf("customer=%s registration_completed=%t\n", id, completed)
		}
		if len(ids) == 0 {
			fmt.Println("no registered identities on this device")
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (want doctor, register, restore, login or status)", command)
	}
}

// terminalPrompter runs the seed display and confirmation steps on the
// controlling terminal.
type terminalPrompter struct{}

func (terminalPrompter) DisplayMnemonic(ctx context.Context, mnemonic string) error {
	fmt.Println("Write down your recovery phrase. It is shown exactly once:")
	fmt.Println()
	fmt.Printf("    %s\n", mnemonic)
	fmt.Println()
	_, err := readLine("Press enter when you have stored it safely: ")
	return err
}

func (terminalPrompter) PromptWords(ctx context.Context, indices []int) ([]string, error) {
	words := make([]string, 0, len(indices))
	for _, idx := range indices {
		w, err := readLine(fmt.Sprintf("Word #%d: ", idx+1))
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, nil
}

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
