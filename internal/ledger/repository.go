package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/db"
)

// AccountState is the slice of an account the ledger needs while mutating:
// identity, overdraft classification, and the running balance.
type AccountState struct {
	ID      int64
	Type    string
	Balance decimal.Decimal
}

// Repository encapsulates DB operations for the ledger.
type Repository interface {
	Get(ctx context.Context, id int64) (Transaction, error)
	ListByAccount(ctx context.Context, accountID int64) ([]Transaction, error)
	AccountExists(ctx context.Context, accountID int64) (bool, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available within a ledger transaction.
// Every balance write travels through here so that the transaction row and
// the account row commit or roll back as one unit.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, accountID int64) (AccountState, error)
	UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error
	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	UpdateTransaction(ctx context.Context, t Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL-backed ledger repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const transactionColumns = `id, account_id, type, amount, description, category, reference, notes, date, balance_after, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.Category, &t.Reference, &t.Notes, &t.Date, &t.BalanceAfter, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *repository) Get(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID int64) ([]Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE account_id=$1 ORDER BY id ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txns []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.Description, &t.Category, &t.Reference, &t.Notes, &t.Date, &t.BalanceAfter, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (r *repository) AccountExists(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id=$1)`, accountID).Scan(&exists)
	return exists, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, accountID int64) (AccountState, error) {
	var a AccountState
	err := r.tx.QueryRow(ctx, `SELECT id, type, balance FROM accounts WHERE id=$1 FOR UPDATE`, accountID).
		Scan(&a.ID, &a.Type, &a.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountState{}, ErrAccountNotFound
		}
		return AccountState{}, err
	}
	return a, nil
}

func (r *txRepository) UpdateAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$2, last_transaction_at=$3, updated_at=NOW() WHERE id=$1`, accountID, balance, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO transactions (account_id, type, amount, description, category, reference, notes, date, balance_after)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		t.AccountID, t.Type, t.Amount, t.Description, t.Category, t.Reference, t.Notes, t.Date, t.BalanceAfter)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "fk_transactions_account" {
			return Transaction{}, ErrAccountNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) UpdateTransaction(ctx context.Context, t Transaction) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE transactions SET type=$2, amount=$3, description=$4, category=$5, reference=$6, notes=$7, date=$8, balance_after=$9, updated_at=$10 WHERE id=$1`,
		t.ID, t.Type, t.Amount, t.Description, t.Category, t.Reference, t.Notes, t.Date, t.BalanceAfter, t.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) DeleteTransaction(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
