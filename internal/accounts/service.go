package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/tallyops/tally/internal/query"
	"github.com/tallyops/tally/internal/shared"
)

// AuditPort records registry mutations to the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the account registry.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService wires the registry service. audit may be nil.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a new account. The opening balance becomes both Balance and
// InitialBalance, and the account starts reconciled.
func (s *Service) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	now := s.now()
	created, err := s.repo.Insert(ctx, Account{
		Name:              in.Name,
		Institution:       in.Institution,
		AccountNumber:     in.AccountNumber,
		Description:       in.Description,
		Type:              in.Type,
		Balance:           in.Balance,
		InitialBalance:    in.Balance,
		LastTransactionAt: now,
		Reconciled:        true,
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "account.create", created.ID, map[string]any{
		"name": created.Name,
		"type": string(created.Type),
	})
	return created, nil
}

// Get returns a single account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// List runs the account set through the query pipeline.
func (s *Service) List(ctx context.Context, q ListQuery) ([]Account, shared.Pagination, error) {
	accts, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	filtered := query.Filter(accts, typePredicate(q.Type), searchPredicate(q.Search))
	query.SortStable(filtered, comparatorFor(q.SortBy), q.SortDir)
	page, pagination := query.Paginate(filtered, q.Page, q.PerPage)
	return page, pagination, nil
}

// Update replaces the descriptive fields that are present in the input. A
// balance override is treated as a record correction: InitialBalance shifts
// by the same delta, keeping the ledger-derived balance invariant intact.
func (s *Service) Update(ctx context.Context, id int64, in UpdateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			current.Name = *in.Name
		}
		if in.Institution != nil {
			current.Institution = *in.Institution
		}
		if in.AccountNumber != nil {
			current.AccountNumber = *in.AccountNumber
		}
		if in.Description != nil {
			current.Description = *in.Description
		}
		if in.Type != nil {
			current.Type = *in.Type
		}
		if in.Reconciled != nil {
			current.Reconciled = *in.Reconciled
		}
		if in.Balance != nil {
			delta := in.Balance.Sub(current.Balance)
			current.Balance = *in.Balance
			current.InitialBalance = current.InitialBalance.Add(delta)
		}
		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "account.update", updated.ID, map[string]any{
		"balance_override": in.Balance != nil,
	})
	return updated, nil
}

// Delete removes an account. An account that still owns transactions is
// rejected; there is no cascade.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetForUpdate(ctx, id); err != nil {
			return err
		}
		count, err := tx.CountTransactions(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%d transactions: %w", count, ErrAccountInUse)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, "account.delete", id, nil)
	return nil
}

// Totals computes the portfolio aggregates over the current account set. No
// side effects; recomputed on every call.
func (s *Service) Totals(ctx context.Context) (Totals, error) {
	accts, err := s.repo.List(ctx)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(accts), nil
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "account",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	})
}

func typePredicate(t AccountType) query.Predicate[Account] {
	if t == "" {
		return nil
	}
	return func(a Account) bool { return a.Type == t }
}

func searchPredicate(term string) query.Predicate[Account] {
	if term == "" {
		return nil
	}
	return func(a Account) bool {
		return query.ContainsFold(a.Name, term) ||
			query.ContainsFold(a.Institution, term) ||
			query.ContainsFold(a.Description, term)
	}
}

func comparatorFor(field string) func(a, b Account) int {
	switch field {
	case "balance":
		return func(a, b Account) int { return a.Balance.Cmp(b.Balance) }
	case "type":
		return func(a, b Account) int { return query.CompareStrings(string(a.Type), string(b.Type)) }
	case "institution":
		return func(a, b Account) int { return query.CompareStrings(a.Institution, b.Institution) }
	case "lastTransactionAt":
		return func(a, b Account) int { return a.LastTransactionAt.Compare(b.LastTransactionAt) }
	default:
		return func(a, b Account) int { return query.CompareStrings(a.Name, b.Name) }
	}
}
