package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/httpx"
	"github.com/tallyops/tally/internal/query"
)

// TransactionInput groups the user-editable fields of a transaction. The same
// input (and the same validation) serves both add and edit.
type TransactionInput struct {
	Type        TxnType         `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Reference   string          `json:"reference"`
	Notes       string          `json:"notes"`
	Date        time.Time       `json:"date"`
}

// Validate checks the input against the ledger rules. It returns a
// FieldErrors naming every offending field, or nil. Nothing is committed on
// failure.
func (in TransactionInput) Validate() error {
	fields := make(map[string]string)
	if !in.Type.Valid() {
		fields["type"] = "must be one of deposit, withdrawal, transfer_in, transfer_out, adjustment"
	}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be strictly positive"
	}
	if strings.TrimSpace(in.Description) == "" {
		fields["description"] = "is required"
	}
	if in.Date.IsZero() {
		fields["date"] = "is required"
	}
	if in.Type.Valid() && !CategoryAllowed(in.Type, in.Category) {
		fields["category"] = "is not allowed for type " + string(in.Type)
	}
	if len(fields) > 0 {
		return httpx.NewFieldErrors(fields)
	}
	return nil
}

// TransferInput describes a funds movement between two accounts.
// IdempotencyKey comes from the Idempotency-Key request header, never the
// body; empty means the caller opted out of replay protection.
type TransferInput struct {
	FromAccountID  int64           `json:"fromAccountId"`
	ToAccountID    int64           `json:"toAccountId"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"-"`
}

// Validate enforces the transfer preconditions that do not require account
// lookups.
func (in TransferInput) Validate() error {
	fields := make(map[string]string)
	if in.FromAccountID == 0 {
		fields["fromAccountId"] = "is required"
	}
	if in.ToAccountID == 0 {
		fields["toAccountId"] = "is required"
	}
	if in.FromAccountID != 0 && in.FromAccountID == in.ToAccountID {
		fields["toAccountId"] = "must differ from fromAccountId"
	}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be strictly positive"
	}
	if len(fields) > 0 {
		return httpx.NewFieldErrors(fields)
	}
	return nil
}

// TransferResult reports both committed legs of a transfer.
type TransferResult struct {
	Reference string      `json:"reference"`
	Out       Transaction `json:"out"`
	In        Transaction `json:"in"`
}

// ListQuery drives the transaction-history view through the query pipeline.
type ListQuery struct {
	Type       TxnType
	DateBucket query.DateBucket
	Search     string
	SortBy     string
	SortDir    query.Direction
	Page       int
	PerPage    int
}

// Summary aggregates a transaction set. Deposits covers deposit and
// transfer_in amounts, Withdrawals covers withdrawal and transfer_out,
// Adjustments is the signed adjustment sum, and Total is
// deposits - withdrawals + adjustments.
type Summary struct {
	Deposits    decimal.Decimal `json:"deposits"`
	Withdrawals decimal.Decimal `json:"withdrawals"`
	Adjustments decimal.Decimal `json:"adjustments"`
	Total       decimal.Decimal `json:"total"`
}
