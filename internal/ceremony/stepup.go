package ceremony

import (
	"context"
	"errors"
	"strings"
	"sync"

	"arcbank/device-core/internal/faults"
	"arcbank/device-core/internal/gateway"
	"arcbank/device-core/internal/platform/metrics"
	"arcbank/device-core/pkg/models"
)

// ErrNoPendingStepUp: retry requested but no blocked transaction is held for
// the customer.
var ErrNoPendingStepUp = errors.New("no blocked transaction pending step-up")

// StepUp submits transactions and, when the backend blocks one as suspected
// fraud, holds it so the customer can re-prove possession and resubmit with
// the fraud check bypassed for that one attempt.
type StepUp struct {
	deps  Deps
	login *Login

	mu      sync.Mutex
	pending map[string]*pendingAttempt
}

type pendingAttempt struct {
	attempt models.TransactionAttempt
	fraud   models.FraudDetails
}

type TransactionResult struct {
	Success bool
	Blocked bool
	Fraud   *models.FraudDetails
	Detail  string
}

func NewStepUp(deps Deps, login *Login) *StepUp {
	return &StepUp{
		deps:    deps.withDefaults(),
		login:   login,
		pending: make(map[string]*pendingAttempt),
	}
}

// Submit sends the transaction under the current session. A fraud block is
// not an error: the attempt and its alert id are captured for Retry and the
// structured fraud details are returned to the caller.
func (s *StepUp) Submit(ctx context.Context, session *models.Session, attempt models.TransactionAttempt) (*TransactionResult, error) {
	if session == nil || !session.TokenValid(s.deps.Now()) {
		return nil, faults.New(faults.ErrSessionExpired, "")
	}
	if err := validateAttempt(attempt); err != nil {
		return nil, err
	}

	resp, err := s.deps.Backend.CreateTransaction(ctx, transactionRequest(attempt, false, ""))
	if err != nil {
		return nil, err
	}
	if resp.Blocked {
		fraud := models.FraudDetails{}
		if resp.Fraud != nil {
			fraud = *resp.Fraud
		}
		s.setPending(session.CustomerID, &pendingAttempt{attempt: attempt, fraud: fraud})
		s.deps.Logger.Warn("transaction blocked by fraud model",
			"customer_id", session.CustomerID,
			"alert_id", fraud.AlertID,
			"risk_level", fraud.RiskLevel,
		)
		return &TransactionResult{Blocked: true, Fraud: resp.Fraud, Detail: resp.Detail}, nil
	}
	if !resp.Success {
		return nil, faults.Backend(resp.Detail)
	}
	return &TransactionResult{Success: true}, nil
}

// Retry re-proves possession and resubmits the held transaction:
//
//  1. a fresh assertion/unwrap/proof run mints a new bearer token,
//  2. a fresh oracle reading replaces the biometric hash — the original
//     hash from the blocked attempt is never resubmitted,
//  3. the resubmission carries the re-authentication flag and the original
//     alert id so the backend bypasses its fraud check for exactly this one.
//
// The pending transaction survives any failure, so the user can retry again;
// an expired token additionally means the whole session is gone and the
// caller must route back to authentication.
func (s *StepUp) Retry(ctx context.Context, customerID string) (*TransactionResult, *models.Session, error) {
	customerID = strings.TrimSpace(customerID)
	result, session, err := s.retry(ctx, customerID)
	s.deps.Metrics.StepUpRetries.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.deps.Logger.Warn("step-up retry failed",
			"customer_id", customerID,
			"category", faults.Category(err),
		)
		return nil, nil, err
	}
	return result, session, nil
}

func (s *StepUp) retry(ctx context.Context, customerID string) (*TransactionResult, *models.Session, error) {
	held := s.getPending(customerID)
	if held == nil {
		return nil, nil, ErrNoPendingStepUp
	}

	session, err := s.login.Reauthorize(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}

	fp, err := s.deps.Oracle.QueryFingerprint(ctx)
	if err != nil {
		return nil, nil, classifyOracleError(err)
	}
	attempt := held.attempt
	attempt.BiometricHash = fp.Hash

	resp, err := s.deps.Backend.CreateTransaction(ctx, transactionRequest(attempt, true, held.fraud.AlertID))
	if err != nil {
		return nil, nil, err
	}
	if resp.Blocked || !resp.Success {
		return nil, nil, faults.Backend(resp.Detail)
	}

	s.clearPending(customerID)
	s.deps.Logger.Info("step-up resubmission accepted",
		"customer_id", customerID,
		"alert_id", held.fraud.AlertID,
	)
	return &TransactionResult{Success: true}, session, nil
}

// Pending returns the held fraud details, if any, for display.
func (s *StepUp) Pending(customerID string) (*models.FraudDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.pending[strings.TrimSpace(customerID)]
	if !ok {
		return nil, false
	}
	fraud := held.fraud
	return &fraud, true
}

func (s *StepUp) setPending(customerID string, p *pendingAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[customerID] = p
}

func (s *StepUp) getPending(customerID string) *pendingAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[customerID]
}

func (s *StepUp) clearPending(customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, customerID)
}

func validateAttempt(attempt models.TransactionAttempt) error {
	if attempt.Amount <= 0 {
		return faults.New(faults.ErrBackendRejection, "amount must be positive")
	}
	if strings.TrimSpace(attempt.RecipientAccount) == "" ||
		attempt.RecipientAccount == attempt.SourceAccount {
		return faults.New(faults.ErrBackendRejection, "recipient must differ from source")
	}
	return nil
}

func transactionRequest(attempt models.TransactionAttempt, reauth bool, alertID string) gateway.TransactionRequest {
	return gateway.TransactionRequest{
		RecipientAccount:    attempt.RecipientAccount,
		SourceAccount:       attempt.SourceAccount,
		Amount:              attempt.Amount,
		TerminalID:          attempt.TerminalID,
		BiometricHash:       attempt.BiometricHash,
		IsReauthTransaction: reauth,
		OriginalAlertID:     alertID,
	}
}
