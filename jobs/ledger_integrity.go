package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/accounts"
	jobmetrics "github.com/tallyops/tally/internal/jobs"
	"github.com/tallyops/tally/internal/ledger"
	"github.com/tallyops/tally/internal/platform/httpx"
	"github.com/tallyops/tally/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditPort records integrity findings to the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts accounts found in drift.
type MetricsPort interface {
	RecordIntegrityDrift()
}

// LedgerIntegrityJob recomputes every account's balance from its transaction
// set and reports any drift from the stored balance. Drift means a bug or
// out-of-band write: balances are reconciled synchronously on every
// mutation, so the scan is expected to find nothing.
type LedgerIntegrityJob struct {
	Accounts accounts.Repository
	Ledger   ledger.Repository
	Audit    AuditPort
	Metrics  MetricsPort
	Logger   *slog.Logger
}

// NewLedgerIntegrityJob initialises the integrity scan handler. Audit and
// Metrics may be nil.
func NewLedgerIntegrityJob(accountRepo accounts.Repository, ledgerRepo ledger.Repository, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Accounts: accountRepo,
		Ledger:   ledgerRepo,
		Audit:    audit,
		Metrics:  metrics,
		Logger:   logger,
	}
}

// Handle executes the scan. A detected drift fails the task with a
// consistency error after every account has been checked.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := defaultJobMetrics.Track(TaskLedgerIntegrity)
	return tracker.End(j.run(ctx, t))
}

func (j *LedgerIntegrityJob) run(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	var scope []accounts.Account
	if payload.AccountID != 0 {
		acct, err := j.Accounts.Get(ctx, payload.AccountID)
		if err != nil {
			return err
		}
		scope = []accounts.Account{acct}
	} else {
		all, err := j.Accounts.List(ctx)
		if err != nil {
			return err
		}
		scope = all
	}

	drifted := 0
	for _, acct := range scope {
		drift, ok, err := j.CheckAccount(ctx, acct)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		drifted++
		j.report(ctx, acct, drift)
	}

	if j.Logger != nil {
		j.Logger.Info("ledger integrity scan finished",
			slog.Int("accounts", len(scope)),
			slog.Int("drifted", drifted))
	}
	if drifted > 0 {
		return fmt.Errorf("%d account(s) in drift: %w", drifted, httpx.ErrConsistency)
	}
	return nil
}

// CheckAccount verifies a single account. It returns the drift (stored
// balance minus the recomputed one) and whether the account is consistent.
func (j *LedgerIntegrityJob) CheckAccount(ctx context.Context, acct accounts.Account) (decimal.Decimal, bool, error) {
	txns, err := j.Ledger.ListByAccount(ctx, acct.ID)
	if err != nil {
		return decimal.Zero, false, err
	}
	expected := acct.InitialBalance
	for _, txn := range txns {
		expected = expected.Add(txn.Signed())
	}
	drift := acct.Balance.Sub(expected)
	return drift, drift.IsZero(), nil
}

func (j *LedgerIntegrityJob) report(ctx context.Context, acct accounts.Account, drift decimal.Decimal) {
	if j.Logger != nil {
		j.Logger.Warn("ledger drift detected",
			slog.Int64("account_id", acct.ID),
			slog.String("balance", acct.Balance.String()),
			slog.String("drift", drift.String()))
	}
	if j.Metrics != nil {
		j.Metrics.RecordIntegrityDrift()
	}
	if j.Audit != nil {
		_ = j.Audit.Record(ctx, shared.AuditLog{
			Action:   "ledger.integrity_drift",
			Entity:   "account",
			EntityID: fmt.Sprintf("%d", acct.ID),
			Meta: map[string]any{
				"balance": acct.Balance.String(),
				"drift":   drift.String(),
			},
		})
	}
}
