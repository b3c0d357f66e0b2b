package ledger

import "github.com/shopspring/decimal"

// Summarize folds a transaction set into its summary aggregates. Pure
// function; the caller decides what set to fold (an account's ledger, a
// filtered view, ...).
func Summarize(txns []Transaction) Summary {
	s := Summary{
		Deposits:    decimal.Zero,
		Withdrawals: decimal.Zero,
		Adjustments: decimal.Zero,
	}
	for _, t := range txns {
		switch t.Type {
		case TxnDeposit, TxnTransferIn:
			s.Deposits = s.Deposits.Add(t.Amount)
		case TxnWithdrawal, TxnTransferOut:
			s.Withdrawals = s.Withdrawals.Add(t.Amount)
		case TxnAdjustment:
			s.Adjustments = s.Adjustments.Add(t.Signed())
		}
	}
	s.Total = s.Deposits.Sub(s.Withdrawals).Add(s.Adjustments)
	return s
}
