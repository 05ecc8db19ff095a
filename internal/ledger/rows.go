package ledger

import (
	"github.com/example/bank-ledger/internal/coa"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const (
	chartColumns   = `code, name, category, parent_code, description, active`
	accountColumns = `id, account_number, account_name, account_type, owner_id, currency, status,
		balance, version, created_at, updated_at`
	journalColumns = `id, reference, entry_date, description, operation_type, transaction_id,
		total_debit, total_credit, balanced`
	lineColumns = `id, journal_entry_id, line_number, gl_code, account_id, debit, credit,
		balance_after, description, created_at`
	loanColumns = `l.id, l.loan_number, l.account_id, l.loan_type, l.principal, l.annual_rate,
		l.tenure_months, l.monthly_installment, l.amount_paid, l.amount_remaining, l.status,
		l.disbursed_at, l.closed_at, l.version, l.created_at, l.updated_at`
	installmentColumns = `i.id, i.loan_id, l.loan_number, i.installment_number, i.due_date,
		i.principal, i.interest, i.total, i.paid, i.paid_amount, i.paid_at, i.transaction_id,
		i.journal_entry_id, i.version`
)

func scanChart(row scanner) (coa.Account, error) {
	var a coa.Account
	var parent *string
	err := row.Scan(&a.Code, &a.Name, &a.Category, &parent, &a.Description, &a.Active)
	a.ParentCode = deref(parent)
	return a, err
}

func scanAccount(row scanner) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.AccountNumber, &a.AccountName, &a.AccountType, &a.OwnerID, &a.Currency,
		&a.Status, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanLine(row scanner) (LedgerEntry, error) {
	var l LedgerEntry
	var accountID *string
	err := row.Scan(&l.ID, &l.JournalEntryID, &l.LineNumber, &l.GLCode, &accountID, &l.Debit, &l.Credit,
		&l.BalanceAfter, &l.Description, &l.CreatedAt)
	l.AccountID = deref(accountID)
	return l, err
}

func scanLoan(row scanner) (*Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.LoanNumber, &l.AccountID, &l.LoanType, &l.Principal, &l.AnnualRate,
		&l.TenureMonths, &l.MonthlyInstallment, &l.AmountPaid, &l.AmountRemaining, &l.Status,
		&l.DisbursedAt, &l.ClosedAt, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanInstallment(row scanner) (*Installment, error) {
	var in Installment
	var txID, journalID *string
	err := row.Scan(&in.ID, &in.LoanID, &in.LoanNumber, &in.Number, &in.DueDate, &in.Principal,
		&in.Interest, &in.Total, &in.Paid, &in.PaidAmount, &in.PaidAt, &txID, &journalID, &in.Version)
	if err != nil {
		return nil, err
	}
	in.TransactionID = deref(txID)
	in.JournalEntryID = deref(journalID)
	return &in, nil
}
