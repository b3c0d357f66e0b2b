package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	txns := []Transaction{
		{Type: TxnDeposit, Amount: dec("100.25"), Category: "Income"},
		{Type: TxnTransferIn, Amount: dec("50"), Category: CategoryTransfer},
		{Type: TxnWithdrawal, Amount: dec("30.10"), Category: "Expense"},
		{Type: TxnTransferOut, Amount: dec("20"), Category: CategoryTransfer},
		{Type: TxnAdjustment, Amount: dec("15"), Category: "Correction"},
		{Type: TxnAdjustment, Amount: dec("5"), Category: "Bank Fee"},
	}

	s := Summarize(txns)
	require.True(t, s.Deposits.Equal(dec("150.25")), s.Deposits.String())
	require.True(t, s.Withdrawals.Equal(dec("50.10")), s.Withdrawals.String())
	require.True(t, s.Adjustments.Equal(dec("10")), s.Adjustments.String())
	require.True(t, s.Total.Equal(dec("110.15")), s.Total.String())
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	require.True(t, s.Deposits.IsZero())
	require.True(t, s.Withdrawals.IsZero())
	require.True(t, s.Adjustments.IsZero())
	require.True(t, s.Total.IsZero())
}
