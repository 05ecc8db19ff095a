package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/ledger/migrations"
)

// SQLiteStore keeps the ledger in a single SQLite database. Every write transaction starts with
// BEGIN IMMEDIATE, so the database write lock plays the role of the row locks.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path (or an in-memory database for ":memory:") with immediate write
// transactions, foreign keys on, and one connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_txlock=immediate&_foreign_keys=1&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?_txlock=immediate&_foreign_keys=1"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an open database. The pool is narrowed to a single connection so an
// in-memory database survives and writers queue in-process instead of failing with SQLITE_BUSY.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := migrations.Up(ctx, s.db, migrations.SQLite)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the handle for health checks and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func classifySQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errs.Conflict(op, err, "database busy")
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return errs.Validation(op, "duplicate value: %v", se)
			}
			return errs.Validation(op, "constraint violated: %v", se)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFoundSQLite(op string, err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(op, format, args...)
	}
	return classifySQLite(op, err)
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("sqlite.begin", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(ctx, &sqliteTx{q: tx}); err != nil {
		return err
	}
	return classifySQLite("sqlite.commit", tx.Commit())
}

// snapshot runs fn in one transaction. With a single connection nothing can commit in between
// the statements fn issues.
func (s *SQLiteStore) snapshot(ctx context.Context, fn func(q sqlQuerier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("sqlite.snapshot", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return classifySQLite("sqlite.snapshot", tx.Commit())
}

func queryAll[T any](ctx context.Context, q sqlQuerier, op string, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLite(op, err)
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, classifySQLite(op, err)
		}
		out = append(out, v)
	}
	return out, classifySQLite(op, rows.Err())
}

func (s *SQLiteStore) ChartOfAccounts(ctx context.Context) ([]coa.Account, error) {
	return queryAll(ctx, s.db, "sqlite.ChartOfAccounts", scanChart,
		`SELECT `+chartColumns+` FROM chart_of_accounts ORDER BY code`)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundSQLite("sqlite.GetAccount", err, "account %s not found", id)
	}
	return a, nil
}

func (s *SQLiteStore) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = ?`, number))
	if err != nil {
		return nil, notFoundSQLite("sqlite.GetAccountByNumber", err, "account %s not found", number)
	}
	return a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error) {
	return queryAll(ctx, s.db, "sqlite.ListAccounts", scanAccount, `
		SELECT `+accountColumns+` FROM accounts
		WHERE (? = '' OR owner_id = ?) AND (? = '' OR status = ?)
		ORDER BY account_number
		LIMIT ? OFFSET ?`,
		f.OwnerID, f.OwnerID, string(f.Status), string(f.Status), f.Limit, f.Offset)
}

func (s *SQLiteStore) AccountLines(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	return queryAll(ctx, s.db, "sqlite.AccountLines", scanLine, `
		SELECT `+lineColumns+` FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, journal_entry_id DESC, line_number DESC
		LIMIT ?`, accountID, limit)
}

func (s *SQLiteStore) GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error) {
	const op = "sqlite.GetJournalEntry"
	var je JournalEntry
	err := s.snapshot(ctx, func(q sqlQuerier) error {
		var txID *string
		err := q.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id = ?`, id).Scan(
			&je.ID, &je.Reference, &je.EntryDate, &je.Description, &je.OperationType, &txID,
			&je.TotalDebit, &je.TotalCredit, &je.Balanced)
		if err != nil {
			return notFoundSQLite(op, err, "journal entry %s not found", id)
		}
		je.TransactionID = deref(txID)
		je.Lines, err = queryAll(ctx, q, op, scanLine,
			`SELECT `+lineColumns+` FROM ledger_entries WHERE journal_entry_id = ? ORDER BY line_number`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &je, nil
}

func (s *SQLiteStore) GetLoan(ctx context.Context, loanNumber string) (*Loan, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.loan_number = ?`, loanNumber))
	if err != nil {
		return nil, notFoundSQLite("sqlite.GetLoan", err, "loan %s not found", loanNumber)
	}
	return l, nil
}

func (s *SQLiteStore) ListInstallments(ctx context.Context, loanNumber string) ([]*Installment, error) {
	return queryAll(ctx, s.db, "sqlite.ListInstallments", scanInstallment, `
		SELECT `+installmentColumns+`
		FROM installments i JOIN loans l ON l.id = i.loan_id
		WHERE l.loan_number = ?
		ORDER BY i.installment_number`, loanNumber)
}

// amountRow is one ledger line reduced to its grouping key and amounts.
type amountRow struct {
	key    string
	debit  decimal.Decimal
	credit decimal.Decimal
}

func scanAmountRow(row scanner) (amountRow, error) {
	var r amountRow
	err := row.Scan(&r.key, &r.debit, &r.credit)
	return r, err
}

// sums totals debit and credit per key in Go.
func sums(rows []amountRow) map[string][2]decimal.Decimal {
	out := make(map[string][2]decimal.Decimal)
	for _, r := range rows {
		t, ok := out[r.key]
		if !ok {
			t = [2]decimal.Decimal{decimal.Zero, decimal.Zero}
		}
		out[r.key] = [2]decimal.Decimal{t[0].Add(r.debit), t[1].Add(r.credit)}
	}
	return out
}

func zeroSums() [2]decimal.Decimal { return [2]decimal.Decimal{decimal.Zero, decimal.Zero} }

func (s *SQLiteStore) JournalTotals(ctx context.Context, journalID string) ([]JournalTotals, error) {
	const op = "sqlite.JournalTotals"
	var out []JournalTotals
	err := s.snapshot(ctx, func(q sqlQuerier) error {
		headers, err := queryAll(ctx, q, op, func(row scanner) (JournalTotals, error) {
			var t JournalTotals
			err := row.Scan(&t.JournalEntryID, &t.Reference, &t.EntryDate, &t.RecordedDebit, &t.RecordedCredit, &t.RecordedFlag)
			return t, err
		}, `SELECT id, reference, entry_date, total_debit, total_credit, balanced
			FROM journal_entries WHERE ? = '' OR id = ? ORDER BY entry_date, id`, journalID, journalID)
		if err != nil {
			return err
		}
		lines, err := queryAll(ctx, q, op, scanAmountRow,
			`SELECT journal_entry_id, debit, credit FROM ledger_entries WHERE ? = '' OR journal_entry_id = ?`,
			journalID, journalID)
		if err != nil {
			return err
		}
		totals := sums(lines)
		counts := make(map[string]int, len(headers))
		for _, l := range lines {
			counts[l.key]++
		}
		for _, h := range headers {
			t, ok := totals[h.JournalEntryID]
			if !ok {
				t = zeroSums()
			}
			h.LineDebit, h.LineCredit, h.LineCount = t[0], t[1], counts[h.JournalEntryID]
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) AccountBalances(ctx context.Context) ([]AccountBalance, error) {
	const op = "sqlite.AccountBalances"
	var out []AccountBalance
	err := s.snapshot(ctx, func(q sqlQuerier) error {
		accounts, err := queryAll(ctx, q, op, func(row scanner) (AccountBalance, error) {
			var b AccountBalance
			err := row.Scan(&b.AccountID, &b.AccountNumber, &b.Cached)
			return b, err
		}, `SELECT id, account_number, balance FROM accounts ORDER BY account_number`)
		if err != nil {
			return err
		}
		lines, err := queryAll(ctx, q, op, scanAmountRow,
			`SELECT account_id, debit, credit FROM ledger_entries WHERE account_id IS NOT NULL`)
		if err != nil {
			return err
		}
		totals := sums(lines)
		for _, b := range accounts {
			t, ok := totals[b.AccountID]
			if !ok {
				t = zeroSums()
			}
			b.Ledger = t[0].Sub(t[1])
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) ChartActivity(ctx context.Context) ([]ChartActivity, error) {
	const op = "sqlite.ChartActivity"
	var out []ChartActivity
	err := s.snapshot(ctx, func(q sqlQuerier) error {
		chart, err := queryAll(ctx, q, op, scanChart, `SELECT `+chartColumns+` FROM chart_of_accounts ORDER BY code`)
		if err != nil {
			return err
		}
		lines, err := queryAll(ctx, q, op, scanAmountRow, `SELECT gl_code, debit, credit FROM ledger_entries`)
		if err != nil {
			return err
		}
		totals := sums(lines)
		for _, a := range chart {
			t, ok := totals[a.Code]
			if !ok {
				t = zeroSums()
			}
			out = append(out, ChartActivity{Account: a, Debit: t[0], Credit: t[1]})
		}
		return nil
	})
	return out, err
}

// sqliteTx is the write side of one SQLite transaction.
type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) SeedChart(ctx context.Context, accounts []coa.Account) (int, error) {
	inserted := 0
	for _, a := range accounts {
		res, err := t.q.ExecContext(ctx, `
			INSERT INTO chart_of_accounts (code, name, category, parent_code, description, active)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (code) DO NOTHING`,
			a.Code, a.Name, string(a.Category), nullable(a.ParentCode), a.Description, a.Active)
		if err != nil {
			return inserted, classifySQLite("sqlite.SeedChart", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

func (t *sqliteTx) ChartAccount(ctx context.Context, code string) (*coa.Account, error) {
	a, err := scanChart(t.q.QueryRowContext(ctx, `SELECT `+chartColumns+` FROM chart_of_accounts WHERE code = ?`, code))
	if err != nil {
		return nil, notFoundSQLite("sqlite.ChartAccount", err, "chart account %s not found", code)
	}
	return &a, nil
}

func (t *sqliteTx) InsertAccount(ctx context.Context, a *Account) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountNumber, a.AccountName, string(a.AccountType), a.OwnerID, a.Currency, string(a.Status),
		a.Balance, a.Version, a.CreatedAt, a.UpdatedAt)
	return classifySQLite("sqlite.InsertAccount", err)
}

func (t *sqliteTx) LockAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(t.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundSQLite("sqlite.LockAccount", err, "account %s not found", id)
	}
	return a, nil
}

// versioned runs an UPDATE guarded by a version column and reports a conflict when no row matched.
func (t *sqliteTx) versioned(ctx context.Context, op, what string, version int64, query string, args ...any) error {
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return classifySQLite(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifySQLite(op, err)
	}
	if n == 0 {
		return errs.Conflict(op, nil, "%s changed since version %d", what, version)
	}
	return nil
}

func (t *sqliteTx) UpdateAccountBalance(ctx context.Context, a *Account) error {
	err := t.versioned(ctx, "sqlite.UpdateAccountBalance", "account "+a.ID, a.Version, `
		UPDATE accounts SET balance = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`, a.Balance, a.UpdatedAt, a.ID, a.Version)
	if err != nil {
		return err
	}
	a.Version++
	return nil
}

func (t *sqliteTx) LedgerBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	lines, err := queryAll(ctx, t.q, "sqlite.LedgerBalance", scanAmountRow,
		`SELECT account_id, debit, credit FROM ledger_entries WHERE account_id = ?`, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	bal := decimal.Zero
	for _, l := range lines {
		bal = bal.Add(l.debit).Sub(l.credit)
	}
	return bal, nil
}

func (t *sqliteTx) InsertJournalEntry(ctx context.Context, je *JournalEntry) error {
	const op = "sqlite.InsertJournalEntry"
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO journal_entries (`+journalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		je.ID, je.Reference, je.EntryDate, je.Description, string(je.OperationType), nullable(je.TransactionID),
		je.TotalDebit, je.TotalCredit, je.Balanced)
	if err != nil {
		return classifySQLite(op, err)
	}
	for _, l := range je.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+lineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.JournalEntryID, l.LineNumber, l.GLCode, nullable(l.AccountID), l.Debit, l.Credit,
			l.BalanceAfter, l.Description, l.CreatedAt)
		if err != nil {
			return classifySQLite(op, err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertLoan(ctx context.Context, l *Loan) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO loans (id, loan_number, account_id, loan_type, principal, annual_rate, tenure_months,
			monthly_installment, amount_paid, amount_remaining, status, disbursed_at, closed_at, version,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.LoanNumber, l.AccountID, l.LoanType, l.Principal, l.AnnualRate, l.TenureMonths,
		l.MonthlyInstallment, l.AmountPaid, l.AmountRemaining, string(l.Status), l.DisbursedAt, l.ClosedAt,
		l.Version, l.CreatedAt, l.UpdatedAt)
	return classifySQLite("sqlite.InsertLoan", err)
}

func (t *sqliteTx) LockLoan(ctx context.Context, loanNumber string) (*Loan, error) {
	l, err := scanLoan(t.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.loan_number = ?`, loanNumber))
	if err != nil {
		return nil, notFoundSQLite("sqlite.LockLoan", err, "loan %s not found", loanNumber)
	}
	return l, nil
}

func (t *sqliteTx) UpdateLoan(ctx context.Context, l *Loan) error {
	err := t.versioned(ctx, "sqlite.UpdateLoan", "loan "+l.LoanNumber, l.Version, `
		UPDATE loans SET monthly_installment = ?, amount_paid = ?, amount_remaining = ?, status = ?,
			disbursed_at = ?, closed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		l.MonthlyInstallment, l.AmountPaid, l.AmountRemaining, string(l.Status), l.DisbursedAt, l.ClosedAt,
		l.UpdatedAt, l.ID, l.Version)
	if err != nil {
		return err
	}
	l.Version++
	return nil
}

func (t *sqliteTx) InsertInstallments(ctx context.Context, loan *Loan, rows []*Installment) error {
	for _, in := range rows {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO installments (id, loan_id, installment_number, due_date, principal, interest, total,
				paid, paid_amount, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 0)`,
			in.ID, loan.ID, in.Number, in.DueDate, in.Principal, in.Interest, in.Total, in.PaidAmount)
		if err != nil {
			return classifySQLite("sqlite.InsertInstallments", err)
		}
	}
	return nil
}

func (t *sqliteTx) LockInstallment(ctx context.Context, loanNumber string, number int) (*Installment, error) {
	in, err := scanInstallment(t.q.QueryRowContext(ctx, `
		SELECT `+installmentColumns+`
		FROM installments i JOIN loans l ON l.id = i.loan_id
		WHERE l.loan_number = ? AND i.installment_number = ?`, loanNumber, number))
	if err != nil {
		return nil, notFoundSQLite("sqlite.LockInstallment", err, "installment %d of loan %s not found", number, loanNumber)
	}
	return in, nil
}

func (t *sqliteTx) UpdateInstallment(ctx context.Context, in *Installment) error {
	err := t.versioned(ctx, "sqlite.UpdateInstallment", fmt.Sprintf("installment %d", in.Number), in.Version, `
		UPDATE installments SET paid = ?, paid_amount = ?, paid_at = ?, transaction_id = ?,
			journal_entry_id = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		in.Paid, in.PaidAmount, in.PaidAt, nullable(in.TransactionID), nullable(in.JournalEntryID), in.ID, in.Version)
	if err != nil {
		return err
	}
	in.Version++
	return nil
}
