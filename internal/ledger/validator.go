package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/locking"
)

// Validator checks the books against themselves. Report methods are read-only and take no locks;
// ReconcileAccount is the one corrective operation.
type Validator struct {
	store Store
	options
}

func NewValidator(store Store, opts ...Option) *Validator {
	return &Validator{store: store, options: buildOptions(opts)}
}

// ValidationResult is the summary line of one check.
type ValidationResult struct {
	IsValid        bool           `json:"is_valid"`
	ValidationType string         `json:"validation_type"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
	Details        map[string]any `json:"details,omitempty"`
}

// JournalCheck is the balance check of one journal entry.
type JournalCheck struct {
	JournalEntryID string          `json:"journal_entry_id"`
	Reference      string          `json:"reference"`
	EntryDate      time.Time       `json:"entry_date"`
	RecordedDebit  decimal.Decimal `json:"recorded_debit"`
	RecordedCredit decimal.Decimal `json:"recorded_credit"`
	LineDebit      decimal.Decimal `json:"line_debit"`
	LineCredit     decimal.Decimal `json:"line_credit"`
	LineCount      int             `json:"line_count"`
	Balanced       bool            `json:"balanced"`
	Issues         []string        `json:"issues,omitempty"`
}

func checkJournal(t JournalTotals) JournalCheck {
	c := JournalCheck{
		JournalEntryID: t.JournalEntryID,
		Reference:      t.Reference,
		EntryDate:      t.EntryDate,
		RecordedDebit:  t.RecordedDebit,
		RecordedCredit: t.RecordedCredit,
		LineDebit:      t.LineDebit,
		LineCredit:     t.LineCredit,
		LineCount:      t.LineCount,
	}
	if !t.LineDebit.Equal(t.LineCredit) {
		c.Issues = append(c.Issues, fmt.Sprintf("lines debit %s but credit %s",
			t.LineDebit.StringFixed(2), t.LineCredit.StringFixed(2)))
	}
	if !t.RecordedDebit.Equal(t.LineDebit) || !t.RecordedCredit.Equal(t.LineCredit) {
		c.Issues = append(c.Issues, fmt.Sprintf("header totals %s/%s disagree with lines %s/%s",
			t.RecordedDebit.StringFixed(2), t.RecordedCredit.StringFixed(2),
			t.LineDebit.StringFixed(2), t.LineCredit.StringFixed(2)))
	}
	if !t.RecordedFlag {
		c.Issues = append(c.Issues, "entry is flagged unbalanced")
	}
	if t.LineCount < 2 {
		c.Issues = append(c.Issues, fmt.Sprintf("entry has %d lines", t.LineCount))
	}
	c.Balanced = len(c.Issues) == 0
	return c
}

// JournalReport covers every journal entry.
type JournalReport struct {
	CheckedAt       time.Time      `json:"checked_at"`
	TotalEntries    int            `json:"total_entries"`
	UnbalancedCount int            `json:"unbalanced_count"`
	Unbalanced      []JournalCheck `json:"unbalanced_entries"`
	IsValid         bool           `json:"is_valid"`
}

func (v *Validator) ValidateJournalEntries(ctx context.Context) (*JournalReport, error) {
	totals, err := v.store.JournalTotals(ctx, "")
	if err != nil {
		return nil, err
	}
	r := &JournalReport{CheckedAt: v.now().UTC(), TotalEntries: len(totals), Unbalanced: []JournalCheck{}}
	for _, t := range totals {
		if c := checkJournal(t); !c.Balanced {
			r.Unbalanced = append(r.Unbalanced, c)
		}
	}
	r.UnbalancedCount = len(r.Unbalanced)
	r.IsValid = r.UnbalancedCount == 0
	if !r.IsValid {
		v.logger.Error("unbalanced journal entries found", zap.Int("count", r.UnbalancedCount))
	}
	if v.metrics != nil {
		v.metrics.UnbalancedJournals.Set(float64(r.UnbalancedCount))
	}
	return r, nil
}

// ValidateJournalEntry checks one journal entry. It never writes.
func (v *Validator) ValidateJournalEntry(ctx context.Context, id string) (*JournalCheck, error) {
	totals, err := v.store.JournalTotals(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(totals) == 0 {
		return nil, errs.NotFound("ledger.ValidateJournalEntry", "journal entry %s not found", id)
	}
	c := checkJournal(totals[0])
	return &c, nil
}

// AccountDiscrepancy is an account whose cached balance disagrees with its ledger lines.
// Difference is cached − ledger.
type AccountDiscrepancy struct {
	AccountID      string          `json:"account_id"`
	AccountNumber  string          `json:"account_number"`
	AccountBalance decimal.Decimal `json:"account_balance"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
	Difference     decimal.Decimal `json:"difference"`
}

type AccountBalanceReport struct {
	CheckedAt        time.Time            `json:"checked_at"`
	TotalAccounts    int                  `json:"total_accounts"`
	DiscrepancyCount int                  `json:"discrepancy_count"`
	Discrepancies    []AccountDiscrepancy `json:"discrepancies"`
	IsValid          bool                 `json:"is_valid"`
}

func (v *Validator) ValidateAccountBalances(ctx context.Context) (*AccountBalanceReport, error) {
	rows, err := v.store.AccountBalances(ctx)
	if err != nil {
		return nil, err
	}
	r := &AccountBalanceReport{CheckedAt: v.now().UTC(), TotalAccounts: len(rows), Discrepancies: []AccountDiscrepancy{}}
	for _, row := range rows {
		if row.Cached.Equal(row.Ledger) {
			continue
		}
		r.Discrepancies = append(r.Discrepancies, AccountDiscrepancy{
			AccountID:      row.AccountID,
			AccountNumber:  row.AccountNumber,
			AccountBalance: row.Cached,
			LedgerBalance:  row.Ledger,
			Difference:     row.Cached.Sub(row.Ledger),
		})
	}
	r.DiscrepancyCount = len(r.Discrepancies)
	r.IsValid = r.DiscrepancyCount == 0
	for _, d := range r.Discrepancies {
		v.logger.Error("account balance discrepancy",
			zap.String("account_id", d.AccountID),
			zap.String("account_number", d.AccountNumber),
			zap.Stringer("cached", d.AccountBalance),
			zap.Stringer("ledger", d.LedgerBalance),
			zap.Stringer("difference", d.Difference))
	}
	if v.metrics != nil {
		v.metrics.AccountDiscrepancies.Set(float64(r.DiscrepancyCount))
	}
	return r, nil
}

// TrialBalanceRow is one chart account in a trial balance. Balance is signed on the account's
// normal side; Side and Amount say which column it lands in.
type TrialBalanceRow struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Category coa.Category    `json:"category"`
	Debits   decimal.Decimal `json:"debits"`
	Credits  decimal.Decimal `json:"credits"`
	Balance  decimal.Decimal `json:"balance"`
	Side     coa.Side        `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
}

type TrialBalance struct {
	CheckedAt    time.Time         `json:"checked_at"`
	Rows         []TrialBalanceRow `json:"accounts"`
	TotalDebits  decimal.Decimal   `json:"total_debits"`
	TotalCredits decimal.Decimal   `json:"total_credits"`
	Difference   decimal.Decimal   `json:"difference"`
	IsBalanced   bool              `json:"is_balanced"`
}

func trialRow(a ChartActivity) TrialBalanceRow {
	row := TrialBalanceRow{
		Code:     a.Account.Code,
		Name:     a.Account.Name,
		Category: a.Account.Category,
		Debits:   a.Debit,
		Credits:  a.Credit,
	}
	normal := a.Account.Category.NormalSide()
	if normal == coa.Debit {
		row.Balance = a.Debit.Sub(a.Credit)
	} else {
		row.Balance = a.Credit.Sub(a.Debit)
	}
	row.Side = normal
	if row.Balance.IsNegative() {
		if normal == coa.Debit {
			row.Side = coa.Credit
		} else {
			row.Side = coa.Debit
		}
	}
	row.Amount = row.Balance.Abs()
	return row
}

// ValidateTrialBalance sums every active chart account onto its debit or credit column.
func (v *Validator) ValidateTrialBalance(ctx context.Context) (*TrialBalance, error) {
	activity, err := v.store.ChartActivity(ctx)
	if err != nil {
		return nil, err
	}
	tb := &TrialBalance{CheckedAt: v.now().UTC(), TotalDebits: decimal.Zero, TotalCredits: decimal.Zero, Rows: []TrialBalanceRow{}}
	for _, a := range activity {
		if !a.Account.Active {
			continue
		}
		row := trialRow(a)
		if row.Side == coa.Debit {
			tb.TotalDebits = tb.TotalDebits.Add(row.Amount)
		} else {
			tb.TotalCredits = tb.TotalCredits.Add(row.Amount)
		}
		tb.Rows = append(tb.Rows, row)
	}
	tb.Difference = tb.TotalDebits.Sub(tb.TotalCredits)
	tb.IsBalanced = tb.Difference.IsZero()
	if !tb.IsBalanced {
		v.logger.Error("trial balance does not balance",
			zap.Stringer("total_debits", tb.TotalDebits),
			zap.Stringer("total_credits", tb.TotalCredits),
			zap.Stringer("difference", tb.Difference))
	}
	if v.metrics != nil {
		diff, _ := tb.Difference.Float64()
		v.metrics.TrialBalanceDifference.Set(diff)
	}
	return tb, nil
}

// Reconciliation records a cached balance overwritten from the ledger.
type Reconciliation struct {
	AccountID       string          `json:"account_id"`
	AccountNumber   string          `json:"account_number"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	LedgerBalance   decimal.Decimal `json:"ledger_balance"`
	Adjustment      decimal.Decimal `json:"adjustment"`
	ReconciledAt    time.Time       `json:"reconciled_at"`
}

// ReconcileAccount overwrites an account's cached balance with Σ(debit − credit) of its ledger
// lines. The account is locked for the duration and its version is bumped. This is a privileged
// repair and is never run automatically.
func (v *Validator) ReconcileAccount(ctx context.Context, accountID string) (*Reconciliation, error) {
	const op = "ledger.ReconcileAccount"
	if accountID == "" {
		return nil, errs.Validation(op, "account id is required")
	}
	var rec *Reconciliation
	err := locking.Retry(ctx, v.retry, func(ctx context.Context) error {
		return v.locks.WithLock(ctx, []string{accountKey(accountID)}, func(ctx context.Context) error {
			return v.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
				a, err := tx.LockAccount(ctx, accountID)
				if err != nil {
					return err
				}
				ledgerBalance, err := tx.LedgerBalance(ctx, accountID)
				if err != nil {
					return err
				}
				now := v.now().UTC()
				rec = &Reconciliation{
					AccountID:       a.ID,
					AccountNumber:   a.AccountNumber,
					PreviousBalance: a.Balance,
					LedgerBalance:   ledgerBalance,
					Adjustment:      ledgerBalance.Sub(a.Balance),
					ReconciledAt:    now,
				}
				a.Balance = ledgerBalance
				a.UpdatedAt = now
				return tx.UpdateAccountBalance(ctx, a)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	v.metrics.reconciled()
	v.logger.Warn("account balance reconciled from ledger",
		zap.String("account_id", rec.AccountID),
		zap.String("account_number", rec.AccountNumber),
		zap.Stringer("previous", rec.PreviousBalance),
		zap.Stringer("ledger", rec.LedgerBalance),
		zap.Stringer("adjustment", rec.Adjustment))
	return rec, nil
}

// ComprehensiveValidation runs the three read-only checks and summarises each one.
func (v *Validator) ComprehensiveValidation(ctx context.Context) ([]*ValidationResult, error) {
	journals, err := v.ValidateJournalEntries(ctx)
	if err != nil {
		return nil, err
	}
	balances, err := v.ValidateAccountBalances(ctx)
	if err != nil {
		return nil, err
	}
	tb, err := v.ValidateTrialBalance(ctx)
	if err != nil {
		return nil, err
	}
	now := v.now().UTC()
	return []*ValidationResult{
		{
			IsValid:        journals.IsValid,
			ValidationType: "journal_entries",
			Message:        fmt.Sprintf("%d of %d journal entries unbalanced", journals.UnbalancedCount, journals.TotalEntries),
			Timestamp:      now,
			Details:        map[string]any{"unbalanced": journals.Unbalanced},
		},
		{
			IsValid:        balances.IsValid,
			ValidationType: "account_balances",
			Message:        fmt.Sprintf("%d of %d accounts disagree with the ledger", balances.DiscrepancyCount, balances.TotalAccounts),
			Timestamp:      now,
			Details:        map[string]any{"discrepancies": balances.Discrepancies},
		},
		{
			IsValid:        tb.IsBalanced,
			ValidationType: "trial_balance",
			Message:        fmt.Sprintf("debits %s credits %s", tb.TotalDebits.StringFixed(2), tb.TotalCredits.StringFixed(2)),
			Timestamp:      now,
			Details:        map[string]any{"difference": tb.Difference.StringFixed(2)},
		},
	}, nil
}
