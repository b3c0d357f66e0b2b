package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/query"
	"github.com/tallyops/tally/internal/shared"
)

// AuditPort records ledger mutations to the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts committed mutations.
type MetricsPort interface {
	RecordMutation(operation string)
}

// Invalidator drops cached read-side aggregates after a mutation.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// IdempotencyPort claims request keys so a retried transfer is rejected
// instead of executed twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig carries the optional ledger policies.
type ServiceConfig struct {
	// OverdraftBlockedTypes lists account types for which a mutation may not
	// leave the balance negative. Empty permits negative balances everywhere,
	// matching the default policy.
	OverdraftBlockedTypes []string
}

// Service implements the transaction ledger and the transfer engine.
type Service struct {
	repo             Repository
	audit            AuditPort
	metrics          MetricsPort
	cache            Invalidator
	idempotency      IdempotencyPort
	overdraftBlocked map[string]bool
	now              func() time.Time
	newReference     func() string
}

// NewService wires the ledger service. audit, metrics, and cache may be nil.
func NewService(repo Repository, audit AuditPort, metrics MetricsPort, cache Invalidator, cfg ServiceConfig) *Service {
	blocked := make(map[string]bool, len(cfg.OverdraftBlockedTypes))
	for _, t := range cfg.OverdraftBlockedTypes {
		blocked[t] = true
	}
	return &Service{
		repo:             repo,
		audit:            audit,
		metrics:          metrics,
		cache:            cache,
		overdraftBlocked: blocked,
		now:              time.Now,
		newReference:     func() string { return uuid.NewString() },
	}
}

// WithIdempotency attaches an idempotency store consulted by Transfer.
func (s *Service) WithIdempotency(store IdempotencyPort) {
	s.idempotency = store
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithReference overrides transfer reference generation, for tests.
func (s *Service) WithReference(gen func() string) {
	if gen != nil {
		s.newReference = gen
	}
}

// Add validates and commits a new transaction, reconciling the owning
// account's balance in the same database transaction.
func (s *Service) Add(ctx context.Context, accountID int64, in TransactionInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	var committed Transaction
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acct, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		newBalance := acct.Balance.Add(SignedAmount(in.Type, in.Category, in.Amount))
		if err := s.checkOverdraft(acct, newBalance); err != nil {
			return err
		}
		inserted, err := tx.InsertTransaction(ctx, Transaction{
			AccountID:    accountID,
			Type:         in.Type,
			Amount:       in.Amount,
			Description:  in.Description,
			Category:     in.Category,
			Reference:    in.Reference,
			Notes:        in.Notes,
			Date:         in.Date,
			BalanceAfter: newBalance,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, accountID, newBalance, now); err != nil {
			return err
		}
		committed = inserted
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.afterMutation(ctx, "add", committed.ID, map[string]any{
		"account_id": accountID,
		"type":       string(committed.Type),
		"amount":     committed.Amount.String(),
	})
	return committed, nil
}

// Edit revalidates and replaces a transaction's mutable fields, applying the
// reverse of the old delta and the new delta to the account balance as one
// combined adjustment. The edited row's BalanceAfter is recomputed from the
// post-mutation balance; snapshots of transactions committed after it are
// left untouched.
func (s *Service) Edit(ctx context.Context, id int64, in TransactionInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	var committed Transaction
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		acct, err := tx.GetAccountForUpdate(ctx, old.AccountID)
		if err != nil {
			return err
		}
		combined := SignedAmount(in.Type, in.Category, in.Amount).Sub(old.Signed())
		newBalance := acct.Balance.Add(combined)
		if err := s.checkOverdraft(acct, newBalance); err != nil {
			return err
		}
		updated := old
		updated.Type = in.Type
		updated.Amount = in.Amount
		updated.Description = in.Description
		updated.Category = in.Category
		updated.Reference = in.Reference
		updated.Notes = in.Notes
		updated.Date = in.Date
		updated.BalanceAfter = newBalance
		updated.UpdatedAt = now
		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, old.AccountID, newBalance, now); err != nil {
			return err
		}
		committed = updated
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.afterMutation(ctx, "edit", committed.ID, map[string]any{
		"account_id": committed.AccountID,
		"type":       string(committed.Type),
		"amount":     committed.Amount.String(),
	})
	return committed, nil
}

// Delete removes a transaction and applies the reverse delta to the account
// balance. Other transactions keep their BalanceAfter snapshots.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var accountID int64
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		acct, err := tx.GetAccountForUpdate(ctx, old.AccountID)
		if err != nil {
			return err
		}
		newBalance := acct.Balance.Sub(old.Signed())
		if err := s.checkOverdraft(acct, newBalance); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, old.AccountID, newBalance, now); err != nil {
			return err
		}
		accountID = old.AccountID
		return nil
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, "delete", id, map[string]any{"account_id": accountID})
	return nil
}

// Transfer moves funds between two distinct accounts as one database
// transaction: both legs and both balance updates commit together or not at
// all. Account rows are locked in ascending id order.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := in.Validate(); err != nil {
		return TransferResult{}, err
	}
	if s.idempotency != nil && in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, "ledger.transfer"); err != nil {
			return TransferResult{}, err
		}
	}
	reference := s.newReference()
	now := s.now()
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		states := make(map[int64]AccountState, 2)
		for _, id := range lockOrder(in.FromAccountID, in.ToAccountID) {
			acct, err := tx.GetAccountForUpdate(ctx, id)
			if err != nil {
				return err
			}
			states[id] = acct
		}
		from := states[in.FromAccountID]
		to := states[in.ToAccountID]

		fromBalance := from.Balance.Sub(in.Amount)
		if err := s.checkOverdraft(from, fromBalance); err != nil {
			return err
		}
		toBalance := to.Balance.Add(in.Amount)

		out, err := tx.InsertTransaction(ctx, Transaction{
			AccountID:    from.ID,
			Type:         TxnTransferOut,
			Amount:       in.Amount,
			Description:  in.Description,
			Category:     CategoryTransfer,
			Reference:    reference,
			Date:         now,
			BalanceAfter: fromBalance,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, from.ID, fromBalance, now); err != nil {
			return err
		}
		inLeg, err := tx.InsertTransaction(ctx, Transaction{
			AccountID:    to.ID,
			Type:         TxnTransferIn,
			Amount:       in.Amount,
			Description:  in.Description,
			Category:     CategoryTransfer,
			Reference:    reference,
			Date:         now,
			BalanceAfter: toBalance,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, to.ID, toBalance, now); err != nil {
			return err
		}
		result = TransferResult{Reference: reference, Out: out, In: inLeg}
		return nil
	})
	if err != nil {
		if s.idempotency != nil && in.IdempotencyKey != "" {
			_ = s.idempotency.Delete(ctx, in.IdempotencyKey)
		}
		return TransferResult{}, err
	}
	s.afterMutation(ctx, "transfer", result.Out.ID, map[string]any{
		"from_account_id": in.FromAccountID,
		"to_account_id":   in.ToAccountID,
		"amount":          in.Amount.String(),
		"reference":       reference,
	})
	return result, nil
}

// Get returns a single transaction.
func (s *Service) Get(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// List runs the account's transaction history through the query pipeline.
func (s *Service) List(ctx context.Context, accountID int64, q ListQuery) ([]Transaction, shared.Pagination, error) {
	exists, err := s.repo.AccountExists(ctx, accountID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if !exists {
		return nil, shared.Pagination{}, ErrAccountNotFound
	}
	txns, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	now := s.now()
	filtered := query.Filter(txns, typePredicate(q.Type), bucketPredicate(q.DateBucket, now), searchPredicate(q.Search))
	query.SortStable(filtered, comparatorFor(q.SortBy), q.SortDir)
	page, pagination := query.Paginate(filtered, q.Page, q.PerPage)
	return page, pagination, nil
}

// LedgerSummary folds the full transaction set of an account. The account's
// existence is verified first so an unknown id is NotFound rather than an
// empty summary.
func (s *Service) LedgerSummary(ctx context.Context, accountID int64) (Summary, error) {
	exists, err := s.repo.AccountExists(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	if !exists {
		return Summary{}, ErrAccountNotFound
	}
	txns, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(txns), nil
}

func (s *Service) checkOverdraft(acct AccountState, newBalance decimal.Decimal) error {
	if newBalance.IsNegative() && s.overdraftBlocked[acct.Type] {
		return fmt.Errorf("account %d (%s): %w", acct.ID, acct.Type, ErrInsufficientFunds)
	}
	return nil
}

func (s *Service) afterMutation(ctx context.Context, operation string, txnID int64, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "ledger." + operation,
			Entity:   "transaction",
			EntityID: fmt.Sprintf("%d", txnID),
			Meta:     meta,
			At:       s.now(),
		})
	}
	if s.metrics != nil {
		s.metrics.RecordMutation(operation)
	}
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
}

func lockOrder(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}

func typePredicate(t TxnType) query.Predicate[Transaction] {
	if t == "" {
		return nil
	}
	return func(txn Transaction) bool { return txn.Type == t }
}

func bucketPredicate(bucket query.DateBucket, now time.Time) query.Predicate[Transaction] {
	if bucket == "" || bucket == query.BucketAll {
		return nil
	}
	return func(txn Transaction) bool { return bucket.Contains(txn.Date, now) }
}

func searchPredicate(term string) query.Predicate[Transaction] {
	if term == "" {
		return nil
	}
	return func(txn Transaction) bool {
		return query.ContainsFold(txn.Description, term) ||
			query.ContainsFold(txn.Category, term) ||
			query.ContainsFold(txn.Reference, term) ||
			query.ContainsFold(txn.Notes, term)
	}
}

func comparatorFor(field string) func(a, b Transaction) int {
	switch field {
	case "", "date":
		return func(a, b Transaction) int { return a.Date.Compare(b.Date) }
	case "amount":
		return func(a, b Transaction) int { return a.Amount.Cmp(b.Amount) }
	case "balanceAfter":
		return func(a, b Transaction) int { return a.BalanceAfter.Cmp(b.BalanceAfter) }
	case "type":
		return func(a, b Transaction) int { return query.CompareStrings(string(a.Type), string(b.Type)) }
	case "description":
		return func(a, b Transaction) int { return query.CompareStrings(a.Description, b.Description) }
	case "category":
		return func(a, b Transaction) int { return query.CompareStrings(a.Category, b.Category) }
	case "reference":
		return func(a, b Transaction) int { return query.CompareStrings(a.Reference, b.Reference) }
	case "createdAt":
		return func(a, b Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) }
	default:
		return func(a, b Transaction) int { return a.Date.Compare(b.Date) }
	}
}
