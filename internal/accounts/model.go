// Package accounts owns the account registry: the authoritative set of
// accounts, their balances, and portfolio-level totals.
package accounts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/httpx"
)

// AccountType enumerates account categories. Liability-style accounts
// (credit, loan) carry negative balances by convention, but no type is forced
// to a sign.
type AccountType string

const (
	TypeChecking   AccountType = "checking"
	TypeSavings    AccountType = "savings"
	TypeCredit     AccountType = "credit"
	TypeLoan       AccountType = "loan"
	TypeInvestment AccountType = "investment"
	TypeOther      AccountType = "other"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case TypeChecking, TypeSavings, TypeCredit, TypeLoan, TypeInvestment, TypeOther:
		return true
	}
	return false
}

// Account models a ledger account. Balance always equals InitialBalance plus
// the signed sum of the account's transactions in commit order; the ledger
// maintains that equality on every mutation, and manual overrides shift
// InitialBalance to preserve it.
type Account struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Institution       string          `json:"institution"`
	AccountNumber     string          `json:"accountNumber"`
	Description       string          `json:"description"`
	Type              AccountType     `json:"type"`
	Balance           decimal.Decimal `json:"balance"`
	InitialBalance    decimal.Decimal `json:"initialBalance"`
	LastTransactionAt time.Time       `json:"lastTransactionAt"`
	Reconciled        bool            `json:"reconciled"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Totals are the portfolio-level aggregates over an account set.
type Totals struct {
	TotalAssets      decimal.Decimal `json:"totalAssets"`
	TotalLiabilities decimal.Decimal `json:"totalLiabilities"`
	NetWorth         decimal.Decimal `json:"netWorth"`
}

// ComputeTotals folds an account set into assets, liabilities, and net worth.
// Pure function: assets sum positive balances, liabilities sum the magnitude
// of negative ones.
func ComputeTotals(accts []Account) Totals {
	t := Totals{
		TotalAssets:      decimal.Zero,
		TotalLiabilities: decimal.Zero,
	}
	for _, a := range accts {
		switch {
		case a.Balance.IsPositive():
			t.TotalAssets = t.TotalAssets.Add(a.Balance)
		case a.Balance.IsNegative():
			t.TotalLiabilities = t.TotalLiabilities.Add(a.Balance.Abs())
		}
	}
	t.NetWorth = t.TotalAssets.Sub(t.TotalLiabilities)
	return t
}

// Module errors.
var (
	ErrAccountNotFound = fmt.Errorf("account: %w", httpx.ErrNotFound)
	ErrAccountInUse    = fmt.Errorf("account still owns transactions: %w", httpx.ErrConflict)
)
