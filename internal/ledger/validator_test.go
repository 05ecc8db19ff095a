package ledger

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
)

func TestTrialBalanceAfterDepositAndDisbursement(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Borrower")
	f.deposit(t, a.ID, "500")
	f.activeLoan(t, a.ID, "2000", "10", 6)

	tb, err := f.validator.ValidateTrialBalance(f.ctx)
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	requireDecimal(t, "2000", tb.TotalDebits)
	requireDecimal(t, "2000", tb.TotalCredits)
	requireDecimal(t, "0", tb.Difference)
	assert.Len(t, tb.Rows, len(coa.DefaultChart()))

	rows := map[string]TrialBalanceRow{}
	for _, r := range tb.Rows {
		rows[r.Code] = r
	}
	assert.Equal(t, coa.Debit, rows[coa.CodeCustomerDepositsAsset].Side)
	requireDecimal(t, "500", rows[coa.CodeCustomerDepositsAsset].Amount)

	liab := rows[coa.CodeCustomerDepositsLiab]
	requireDecimal(t, "-1500", liab.Balance)
	assert.Equal(t, coa.Debit, liab.Side, "a negative liability lands in the debit column")
	requireDecimal(t, "1500", liab.Amount)

	recv := rows[coa.CodeLoansReceivable]
	assert.Equal(t, coa.Credit, recv.Side)
	requireDecimal(t, "2000", recv.Amount)
}

func TestJournalValidation(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Alice")
	je := f.deposit(t, a.ID, "42.42")

	check, err := f.validator.ValidateJournalEntry(f.ctx, je.ID)
	require.NoError(t, err)
	assert.True(t, check.Balanced)
	assert.Equal(t, 2, check.LineCount)
	requireDecimal(t, "42.42", check.LineDebit)
	requireDecimal(t, "42.42", check.RecordedCredit)

	_, err = f.validator.ValidateJournalEntry(f.ctx, "missing")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	report, err := f.validator.ValidateJournalEntries(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 1, report.TotalEntries)
	assert.Empty(t, report.Unbalanced)
}

func TestCheckJournalFlagsEveryDisagreement(t *testing.T) {
	c := checkJournal(JournalTotals{
		RecordedDebit:  dec("10"),
		RecordedCredit: dec("10"),
		RecordedFlag:   false,
		LineDebit:      dec("10"),
		LineCredit:     dec("9"),
		LineCount:      2,
	})
	assert.False(t, c.Balanced)
	assert.Len(t, c.Issues, 3)
}

func TestCorruptedBalanceIsReportedAndReconciled(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	f := newFixture(t, WithMetrics(metrics))
	a := f.openAccount(t, "Alice")
	b := f.openAccount(t, "Bob")
	f.deposit(t, a.ID, "250")
	f.deposit(t, b.ID, "10")

	f.setCachedBalance(t, a.ID, dec("300"))

	report, err := f.validator.ValidateAccountBalances(f.ctx)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Equal(t, 2, report.TotalAccounts)
	require.Equal(t, 1, report.DiscrepancyCount)
	d := report.Discrepancies[0]
	assert.Equal(t, a.ID, d.AccountID)
	requireDecimal(t, "300", d.AccountBalance)
	requireDecimal(t, "250", d.LedgerBalance)
	requireDecimal(t, "50", d.Difference)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccountDiscrepancies))

	before, err := f.store.GetAccount(f.ctx, a.ID)
	require.NoError(t, err)

	rec, err := f.validator.ReconcileAccount(f.ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "300", rec.PreviousBalance)
	requireDecimal(t, "250", rec.LedgerBalance)
	requireDecimal(t, "-50", rec.Adjustment)

	after, err := f.store.GetAccount(f.ctx, a.ID)
	require.NoError(t, err)
	requireDecimal(t, "250", after.Balance)
	assert.Equal(t, before.Version+1, after.Version)

	report, err = f.validator.ValidateAccountBalances(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.AccountDiscrepancies))

	_, err = f.validator.ReconcileAccount(f.ctx, "missing")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestComprehensiveValidation(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Alice")
	f.deposit(t, a.ID, "1")

	results, err := f.validator.ComprehensiveValidation(f.ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.IsValid, r.ValidationType)
	}
	assert.Equal(t, []string{"journal_entries", "account_balances", "trial_balance"},
		[]string{results[0].ValidationType, results[1].ValidationType, results[2].ValidationType})
}
