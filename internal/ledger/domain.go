// Package ledger owns the transaction ledger: transaction lifecycle with
// balance reconciliation, inter-account transfers, and the read-side summary
// aggregates.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/httpx"
)

// TxnType enumerates transaction types.
type TxnType string

const (
	TxnDeposit     TxnType = "deposit"
	TxnWithdrawal  TxnType = "withdrawal"
	TxnTransferIn  TxnType = "transfer_in"
	TxnTransferOut TxnType = "transfer_out"
	TxnAdjustment  TxnType = "adjustment"
)

// Valid reports whether t is one of the five known transaction types.
func (t TxnType) Valid() bool {
	switch t {
	case TxnDeposit, TxnWithdrawal, TxnTransferIn, TxnTransferOut, TxnAdjustment:
		return true
	}
	return false
}

// CategoryTransfer is the fixed category carried by both transfer legs.
const CategoryTransfer = "Transfer"

// categoriesByType constrains the category field per transaction type.
var categoriesByType = map[TxnType][]string{
	TxnDeposit:     {"Income", "Interest", CategoryTransfer, "Refund", "Other"},
	TxnWithdrawal:  {"Expense", "Bills", CategoryTransfer, "Fees", "Other"},
	TxnTransferIn:  {CategoryTransfer},
	TxnTransferOut: {CategoryTransfer},
	TxnAdjustment:  {"Correction", "Fee Reversal", "Bank Fee", "Write-off", "Other"},
}

// positiveAdjustments lists the adjustment categories that credit the
// account. Every other adjustment category debits it. This sign-by-category
// rule is a fixed policy, not a heuristic.
var positiveAdjustments = map[string]bool{
	"Correction":   true,
	"Fee Reversal": true,
}

// Categories returns the allowed categories for a transaction type.
func Categories(t TxnType) []string {
	return categoriesByType[t]
}

// CategoryAllowed reports whether category is permitted for the type.
func CategoryAllowed(t TxnType, category string) bool {
	for _, c := range categoriesByType[t] {
		if c == category {
			return true
		}
	}
	return false
}

// SignedAmount applies direction to a transaction amount: deposits and
// incoming transfers are positive, withdrawals and outgoing transfers
// negative, and adjustments follow the sign-by-category policy. amount must
// already be validated strictly positive.
func SignedAmount(t TxnType, category string, amount decimal.Decimal) decimal.Decimal {
	switch t {
	case TxnDeposit, TxnTransferIn:
		return amount
	case TxnWithdrawal, TxnTransferOut:
		return amount.Neg()
	case TxnAdjustment:
		if positiveAdjustments[category] {
			return amount
		}
		return amount.Neg()
	}
	return decimal.Zero
}

// Transaction is one ledger row. Amount is always strictly positive; its
// direction is derived from Type (and Category for adjustments).
// BalanceAfter is the owning account's balance snapshot immediately after
// this transaction committed, in commit order. It is not recomputed when
// earlier transactions are later edited or deleted.
type Transaction struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"accountId"`
	Type         TxnType         `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Reference    string          `json:"reference"`
	Notes        string          `json:"notes"`
	Date         time.Time       `json:"date"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Signed returns the transaction's signed amount.
func (t Transaction) Signed() decimal.Decimal {
	return SignedAmount(t.Type, t.Category, t.Amount)
}

// Module errors. Each wraps an httpx sentinel so the HTTP layer maps them
// without knowing the ledger.
var (
	ErrTransactionNotFound = fmt.Errorf("transaction: %w", httpx.ErrNotFound)
	ErrAccountNotFound     = fmt.Errorf("account: %w", httpx.ErrNotFound)
	ErrInsufficientFunds   = fmt.Errorf("insufficient funds: %w", httpx.ErrConflict)
	ErrSameAccount         = fmt.Errorf("transfer requires two distinct accounts: %w", httpx.ErrValidation)
)
