package ledger

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tallyops/tally/internal/platform/httpx"
	"github.com/tallyops/tally/internal/query"
	"github.com/tallyops/tally/internal/shared"
)

type memoryRepo struct {
	accounts map[int64]AccountState
	txns     map[int64]Transaction
	nextID   int64

	insertCount  int
	failInsertAt int
}

func newMemoryRepo(accounts ...AccountState) *memoryRepo {
	r := &memoryRepo{
		accounts: make(map[int64]AccountState),
		txns:     make(map[int64]Transaction),
	}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Transaction, error) {
	if t, ok := r.txns[id]; ok {
		return t, nil
	}
	return Transaction{}, ErrTransactionNotFound
}

func (r *memoryRepo) ListByAccount(ctx context.Context, accountID int64) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.txns {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) AccountExists(ctx context.Context, accountID int64) (bool, error) {
	_, ok := r.accounts[accountID]
	return ok, nil
}

// WithTx stages all writes on copies and commits them back only when fn
// succeeds, mirroring the transactional repository.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:     r,
		accounts: make(map[int64]AccountState, len(r.accounts)),
		txns:     make(map[int64]Transaction, len(r.txns)),
		nextID:   r.nextID,
	}
	for id, a := range r.accounts {
		tx.accounts[id] = a
	}
	for id, t := range r.txns {
		tx.txns[id] = t
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.accounts = tx.accounts
	r.txns = tx.txns
	r.nextID = tx.nextID
	return nil
}

type memoryTx struct {
	repo     *memoryRepo
	accounts map[int64]AccountState
	txns     map[int64]Transaction
	nextID   int64
}

func (tx *memoryTx) GetAccountForUpdate(ctx context.Context, accountID int64) (AccountState, error) {
	if a, ok := tx.accounts[accountID]; ok {
		return a, nil
	}
	return AccountState{}, ErrAccountNotFound
}

func (tx *memoryTx) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	a, ok := tx.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.Balance = balance
	tx.accounts[accountID] = a
	return nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	tx.repo.insertCount++
	if tx.repo.failInsertAt > 0 && tx.repo.insertCount >= tx.repo.failInsertAt {
		return Transaction{}, errors.New("insert failed")
	}
	tx.nextID++
	t.ID = tx.nextID
	tx.txns[t.ID] = t
	return t, nil
}

func (tx *memoryTx) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	if t, ok := tx.txns[id]; ok {
		return t, nil
	}
	return Transaction{}, ErrTransactionNotFound
}

func (tx *memoryTx) UpdateTransaction(ctx context.Context, t Transaction) error {
	if _, ok := tx.txns[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	tx.txns[t.ID] = t
	return nil
}

func (tx *memoryTx) DeleteTransaction(ctx context.Context, id int64) error {
	if _, ok := tx.txns[id]; !ok {
		return ErrTransactionNotFound
	}
	delete(tx.txns, id)
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type recordingMetrics struct {
	mutations []string
}

func (m *recordingMetrics) RecordMutation(operation string) {
	m.mutations = append(m.mutations, operation)
}

type countingInvalidator struct {
	bumps int
}

func (c *countingInvalidator) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(repo *memoryRepo, cfg ServiceConfig) (*Service, *recordingAudit, *recordingMetrics, *countingInvalidator) {
	audit := &recordingAudit{}
	metrics := &recordingMetrics{}
	cache := &countingInvalidator{}
	svc := NewService(repo, audit, metrics, cache, cfg)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) })
	return svc, audit, metrics, cache
}

func depositInput(amount, category string) TransactionInput {
	return TransactionInput{
		Type:        TxnDeposit,
		Amount:      dec(amount),
		Description: "deposit",
		Category:    category,
		Date:        time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestLedgerLifecycle(t *testing.T) {
	repo := newMemoryRepo(
		AccountState{ID: 1, Type: "checking", Balance: dec("1000")},
		AccountState{ID: 2, Type: "savings", Balance: dec("500")},
	)
	svc, audit, metrics, cache := newTestService(repo, ServiceConfig{})
	svc.WithReference(func() string { return "ref-1" })
	ctx := context.Background()

	deposit, err := svc.Add(ctx, 1, depositInput("250", "Income"))
	require.NoError(t, err)
	require.True(t, deposit.BalanceAfter.Equal(dec("1250")), deposit.BalanceAfter.String())

	withdrawal, err := svc.Add(ctx, 1, TransactionInput{
		Type: TxnWithdrawal, Amount: dec("300"), Description: "rent",
		Category: "Bills", Date: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, withdrawal.BalanceAfter.Equal(dec("950")), withdrawal.BalanceAfter.String())

	// Raising the deposit to 400 applies only the 150 difference.
	edited, err := svc.Edit(ctx, deposit.ID, depositInput("400", "Income"))
	require.NoError(t, err)
	require.True(t, edited.BalanceAfter.Equal(dec("1100")), edited.BalanceAfter.String())
	require.True(t, repo.accounts[1].Balance.Equal(dec("1100")))

	// Deleting the withdrawal puts its 300 back.
	require.NoError(t, svc.Delete(ctx, withdrawal.ID))
	require.True(t, repo.accounts[1].Balance.Equal(dec("1400")), repo.accounts[1].Balance.String())

	result, err := svc.Transfer(ctx, TransferInput{
		FromAccountID: 1, ToAccountID: 2, Amount: dec("200"), Description: "to savings",
	})
	require.NoError(t, err)
	require.Equal(t, "ref-1", result.Reference)
	require.Equal(t, result.Reference, result.Out.Reference)
	require.Equal(t, result.Reference, result.In.Reference)
	require.Equal(t, TxnTransferOut, result.Out.Type)
	require.Equal(t, TxnTransferIn, result.In.Type)
	require.True(t, result.Out.BalanceAfter.Equal(dec("1200")), result.Out.BalanceAfter.String())
	require.True(t, result.In.BalanceAfter.Equal(dec("700")), result.In.BalanceAfter.String())
	require.True(t, repo.accounts[1].Balance.Equal(dec("1200")))
	require.True(t, repo.accounts[2].Balance.Equal(dec("700")))

	sum, err := svc.LedgerSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, sum.Deposits.Equal(dec("400")), sum.Deposits.String())
	require.True(t, sum.Withdrawals.Equal(dec("200")), sum.Withdrawals.String())
	require.True(t, sum.Adjustments.IsZero(), sum.Adjustments.String())
	require.True(t, sum.Total.Equal(dec("200")), sum.Total.String())

	// Balance invariant: initial + total == stored balance.
	require.True(t, dec("1000").Add(sum.Total).Equal(repo.accounts[1].Balance))

	require.Len(t, audit.logs, 5)
	require.Equal(t, "ledger.add", audit.logs[0].Action)
	require.Equal(t, "ledger.edit", audit.logs[2].Action)
	require.Equal(t, "ledger.delete", audit.logs[3].Action)
	require.Equal(t, "ledger.transfer", audit.logs[4].Action)
	require.Equal(t, []string{"add", "add", "edit", "delete", "transfer"}, metrics.mutations)
	require.Equal(t, 5, cache.bumps)
}

func TestDeleteReversesAdd(t *testing.T) {
	repo := newMemoryRepo(AccountState{ID: 1, Type: "checking", Balance: dec("100.10")})
	svc, _, _, _ := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.Add(ctx, 1, depositInput("0.30", "Income"))
	require.NoError(t, err)
	second, err := svc.Add(ctx, 1, depositInput("0.07", "Income"))
	require.NoError(t, err)
	require.True(t, second.BalanceAfter.Equal(dec("100.47")))

	require.NoError(t, svc.Delete(ctx, second.ID))
	require.True(t, repo.accounts[1].Balance.Equal(dec("100.40")), repo.accounts[1].Balance.String())

	// Earlier snapshots are never rewritten.
	kept, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, kept.BalanceAfter.Equal(dec("100.40")))

	require.NoError(t, svc.Delete(ctx, first.ID))
	require.True(t, repo.accounts[1].Balance.Equal(dec("100.10")))

	err = svc.Delete(ctx, first.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestEditAppliesCombinedDelta(t *testing.T) {
	repo := newMemoryRepo(AccountState{ID: 1, Type: "checking", Balance: dec("1000")})
	svc, _, _, _ := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	txn, err := svc.Add(ctx, 1, depositInput("100", "Income"))
	require.NoError(t, err)
	require.True(t, repo.accounts[1].Balance.Equal(dec("1100")))

	edited, err := svc.Edit(ctx, txn.ID, TransactionInput{
		Type: TxnWithdrawal, Amount: dec("50"), Description: "actually a fee",
		Category: "Fees", Date: txn.Date,
	})
	require.NoError(t, err)
	require.True(t, repo.accounts[1].Balance.Equal(dec("950")), repo.accounts[1].Balance.String())
	require.True(t, edited.BalanceAfter.Equal(dec("950")))
	require.Equal(t, TxnWithdrawal, edited.Type)

	// Re-submitting the same fields does not move the balance.
	_, err = svc.Edit(ctx, txn.ID, TransactionInput{
		Type: TxnWithdrawal, Amount: dec("50"), Description: "actually a fee",
		Category: "Fees", Date: txn.Date,
	})
	require.NoError(t, err)
	require.True(t, repo.accounts[1].Balance.Equal(dec("950")))
}

func TestAddValidationLeavesNoTrace(t *testing.T) {
	repo := newMemoryRepo(AccountState{ID: 1, Type: "checking", Balance: dec("1000")})
	svc, audit, metrics, cache := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	cases := []TransactionInput{
		{Type: "bogus", Amount: dec("10"), Description: "x", Category: "Income", Date: time.Now()},
		{Type: TxnDeposit, Amount: dec("0"), Description: "x", Category: "Income", Date: time.Now()},
		{Type: TxnDeposit, Amount: dec("-5"), Description: "x", Category: "Income", Date: time.Now()},
		{Type: TxnDeposit, Amount: dec("10"), Description: "", Category: "Income", Date: time.Now()},
		{Type: TxnDeposit, Amount: dec("10"), Description: "x", Category: "Expense", Date: time.Now()},
		{Type: TxnDeposit, Amount: dec("10"), Description: "x", Category: "Income"},
	}
	for _, in := range cases {
		_, err := svc.Add(ctx, 1, in)
		require.ErrorIs(t, err, httpx.ErrValidation)
		var fe *httpx.FieldErrors
		require.ErrorAs(t, err, &fe)
		require.NotEmpty(t, fe.Fields)
	}

	require.True(t, repo.accounts[1].Balance.Equal(dec("1000")))
	require.Empty(t, repo.txns)
	require.Empty(t, audit.logs)
	require.Empty(t, metrics.mutations)
	require.Zero(t, cache.bumps)
}

func TestAddUnknownAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, ServiceConfig{})

	_, err := svc.Add(context.Background(), 42, depositInput("10", "Income"))
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Empty(t, repo.txns)
}

func TestOverdraftPolicy(t *testing.T) {
	repo := newMemoryRepo(
		AccountState{ID: 1, Type: "checking", Balance: dec("100")},
		AccountState{ID: 2, Type: "credit", Balance: dec("100")},
	)
	svc, _, _, _ := newTestService(repo, ServiceConfig{OverdraftBlockedTypes: []string{"checking"}})
	ctx := context.Background()

	withdrawal := TransactionInput{
		Type: TxnWithdrawal, Amount: dec("150"), Description: "overdraw",
		Category: "Expense", Date: time.Now(),
	}

	_, err := svc.Add(ctx, 1, withdrawal)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.True(t, repo.accounts[1].Balance.Equal(dec("100")))
	require.Empty(t, repo.txns)

	// Credit accounts may go negative.
	txn, err := svc.Add(ctx, 2, withdrawal)
	require.NoError(t, err)
	require.True(t, txn.BalanceAfter.Equal(dec("-50")))
}

func TestTransferRejectsSameAccount(t *testing.T) {
	repo := newMemoryRepo(AccountState{ID: 1, Type: "checking", Balance: dec("100")})
	svc, _, _, _ := newTestService(repo, ServiceConfig{})

	_, err := svc.Transfer(context.Background(), TransferInput{
		FromAccountID: 1, ToAccountID: 1, Amount: dec("10"),
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, repo.txns)
}

func TestTransferRollsBackOnFailure(t *testing.T) {
	repo := newMemoryRepo(
		AccountState{ID: 1, Type: "checking", Balance: dec("1000")},
		AccountState{ID: 2, Type: "savings", Balance: dec("500")},
	)
	repo.failInsertAt = 2
	svc, audit, metrics, cache := newTestService(repo, ServiceConfig{})

	_, err := svc.Transfer(context.Background(), TransferInput{
		FromAccountID: 1, ToAccountID: 2, Amount: dec("200"),
	})
	require.Error(t, err)

	// Neither leg nor either balance update survived.
	require.Empty(t, repo.txns)
	require.True(t, repo.accounts[1].Balance.Equal(dec("1000")))
	require.True(t, repo.accounts[2].Balance.Equal(dec("500")))
	require.Empty(t, audit.logs)
	require.Empty(t, metrics.mutations)
	require.Zero(t, cache.bumps)
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestTransferIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo(
		AccountState{ID: 1, Type: "checking", Balance: dec("1000")},
		AccountState{ID: 2, Type: "savings", Balance: dec("0")},
	)
	svc, _, _, _ := newTestService(repo, ServiceConfig{})
	svc.WithIdempotency(&memoryIdempotency{})
	ctx := context.Background()

	in := TransferInput{FromAccountID: 1, ToAccountID: 2, Amount: dec("100"), IdempotencyKey: "k-1"}

	_, err := svc.Transfer(ctx, in)
	require.NoError(t, err)

	// The retry is rejected and moves nothing.
	_, err = svc.Transfer(ctx, in)
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	require.True(t, repo.accounts[1].Balance.Equal(dec("900")))
	require.True(t, repo.accounts[2].Balance.Equal(dec("100")))
}

func TestTransferFailureReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo(
		AccountState{ID: 1, Type: "checking", Balance: dec("1000")},
		AccountState{ID: 2, Type: "savings", Balance: dec("0")},
	)
	repo.failInsertAt = 2
	svc, _, _, _ := newTestService(repo, ServiceConfig{})
	svc.WithIdempotency(&memoryIdempotency{})
	ctx := context.Background()

	in := TransferInput{FromAccountID: 1, ToAccountID: 2, Amount: dec("100"), IdempotencyKey: "k-2"}

	_, err := svc.Transfer(ctx, in)
	require.Error(t, err)
	require.NotErrorIs(t, err, httpx.ErrDuplicate)

	// The failed attempt released the key, so a retry can succeed.
	repo.failInsertAt = 0
	_, err = svc.Transfer(ctx, in)
	require.NoError(t, err)
	require.True(t, repo.accounts[1].Balance.Equal(dec("900")))
}

func TestTransferUnknownAccount(t *testing.T) {
	repo := newMemoryRepo(AccountState{ID: 1, Type: "checking", Balance: dec("1000")})
	svc, _, _, _ := newTestService(repo, ServiceConfig{})

	_, err := svc.Transfer(context.Background(), TransferInput{
		FromAccountID: 1, ToAccountID: 9, Amount: dec("10"),
	})
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.True(t, repo.accounts[1].Balance.Equal(dec("1000")))
	require.Empty(t, repo.txns)
}

func TestListPipeline(t *testing.T) {
	repo := newMemoryRepo(AccountState{ID: 1, Type: "checking", Balance: dec("0")})
	svc, _, _, _ := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return now })

	inputs := []TransactionInput{
		{Type: TxnDeposit, Amount: dec("100"), Description: "Salary March", Category: "Income", Date: now.AddDate(0, 0, -1)},
		{Type: TxnWithdrawal, Amount: dec("40"), Description: "Groceries", Category: "Expense", Date: now.AddDate(0, 0, -2)},
		{Type: TxnDeposit, Amount: dec("5"), Description: "Interest payout", Category: "Interest", Date: now.AddDate(0, -2, 0)},
		{Type: TxnWithdrawal, Amount: dec("60"), Description: "Electricity bill", Category: "Bills", Date: now},
	}
	for _, in := range inputs {
		_, err := svc.Add(ctx, 1, in)
		require.NoError(t, err)
	}

	// Type filter.
	page, pagination, err := svc.List(ctx, 1, ListQuery{Type: TxnDeposit})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, 2, pagination.Total)

	// Case-insensitive search across description and category.
	page, _, err = svc.List(ctx, 1, ListQuery{Search: "salary"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "Salary March", page[0].Description)

	page, _, err = svc.List(ctx, 1, ListQuery{Search: "bills"})
	require.NoError(t, err)
	require.Len(t, page, 1)

	// Date bucket excludes the two-month-old transaction.
	page, _, err = svc.List(ctx, 1, ListQuery{DateBucket: query.BucketThisMonth})
	require.NoError(t, err)
	require.Len(t, page, 3)

	// Sort by amount descending.
	page, _, err = svc.List(ctx, 1, ListQuery{SortBy: "amount", SortDir: query.Desc})
	require.NoError(t, err)
	require.Len(t, page, 4)
	require.True(t, page[0].Amount.Equal(dec("100")))
	require.True(t, page[3].Amount.Equal(dec("5")))

	// Pagination.
	page, pagination, err = svc.List(ctx, 1, ListQuery{PerPage: 3, Page: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, 2, pagination.Page)
	require.Equal(t, 4, pagination.Total)
	require.Equal(t, 2, pagination.TotalPages)

	_, _, err = svc.List(ctx, 99, ListQuery{})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestLedgerSummaryUnknownAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _, _ := newTestService(repo, ServiceConfig{})

	_, err := svc.LedgerSummary(context.Background(), 7)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}
