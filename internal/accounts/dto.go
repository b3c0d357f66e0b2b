package accounts

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tallyops/tally/internal/platform/httpx"
	"github.com/tallyops/tally/internal/query"
)

// CreateAccountInput groups the fields required to open an account. Balance
// is the opening balance and may be negative.
type CreateAccountInput struct {
	Name          string          `json:"name"`
	Institution   string          `json:"institution"`
	AccountNumber string          `json:"accountNumber"`
	Description   string          `json:"description"`
	Type          AccountType     `json:"type"`
	Balance       decimal.Decimal `json:"balance"`
}

// Validate checks the required creation fields.
func (in CreateAccountInput) Validate() error {
	fields := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "is required"
	}
	if !in.Type.Valid() {
		fields["type"] = "must be one of checking, savings, credit, loan, investment, other"
	}
	if len(fields) > 0 {
		return httpx.NewFieldErrors(fields)
	}
	return nil
}

// UpdateAccountInput carries a partial update. Nil fields are left untouched.
// Balance is a manual override of the record, not a transaction: applying it
// shifts InitialBalance by the same delta so the balance invariant holds.
type UpdateAccountInput struct {
	Name          *string          `json:"name"`
	Institution   *string          `json:"institution"`
	AccountNumber *string          `json:"accountNumber"`
	Description   *string          `json:"description"`
	Type          *AccountType     `json:"type"`
	Balance       *decimal.Decimal `json:"balance"`
	Reconciled    *bool            `json:"reconciled"`
}

// Validate checks the fields that are present.
func (in UpdateAccountInput) Validate() error {
	fields := make(map[string]string)
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		fields["name"] = "must not be empty"
	}
	if in.Type != nil && !in.Type.Valid() {
		fields["type"] = "must be one of checking, savings, credit, loan, investment, other"
	}
	if len(fields) > 0 {
		return httpx.NewFieldErrors(fields)
	}
	return nil
}

// ListQuery drives the account list through the query pipeline.
type ListQuery struct {
	Type    AccountType
	Search  string
	SortBy  string
	SortDir query.Direction
	Page    int
	PerPage int
}
