package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/ledger/migrations"
)

// PostgresStore keeps the ledger in PostgreSQL. Row locks are SELECT ... FOR UPDATE bounded by
// lock_timeout.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	isoLevel    pgx.TxIsoLevel
}

type PostgresOption func(*PostgresStore)

// WithLockTimeout bounds row lock waits. Zero leaves the server default.
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) { s.lockTimeout = d }
}

// WithIsolation overrides the read-write transaction isolation level. The default is SERIALIZABLE;
// serialization failures surface as retryable conflicts.
func WithIsolation(level pgx.TxIsoLevel) PostgresOption {
	return func(s *PostgresStore) { s.isoLevel = level }
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, lockTimeout: 5 * time.Second, isoLevel: pgx.Serializable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, url string, opts ...PostgresOption) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool, opts...), nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	db.SetMaxIdleConns(0)
	_, err := migrations.Up(ctx, db, migrations.Postgres)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying pool for health checks.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// classifyPG maps PostgreSQL failures onto the error taxonomy.
func classifyPG(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return errs.Conflict(op, err, "row lock busy")
		case "40001", "40P01":
			return errs.Conflict(op, err, "transaction conflict")
		case "23505":
			return errs.Validation(op, "duplicate value violates %s", pgErr.ConstraintName)
		case "23503", "23514":
			return errs.Validation(op, "constraint %s violated: %s", pgErr.ConstraintName, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: s.isoLevel, AccessMode: pgx.ReadWrite})
	if err != nil {
		return classifyPG("postgres.begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classifyPG("postgres.lock_timeout", err)
		}
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPG("postgres.commit", err)
	}
	return nil
}

// snapshot runs fn in a read-only REPEATABLE READ transaction so several statements see the
// same committed state.
func (s *PostgresStore) snapshot(ctx context.Context, fn func(q pgQuerier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return classifyPG("postgres.snapshot", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func notFoundPG(op string, err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound(op, format, args...)
	}
	return classifyPG(op, err)
}

func (s *PostgresStore) ChartOfAccounts(ctx context.Context) ([]coa.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+chartColumns+` FROM chart_of_accounts ORDER BY code`)
	if err != nil {
		return nil, classifyPG("postgres.ChartOfAccounts", err)
	}
	defer rows.Close()
	var out []coa.Account
	for rows.Next() {
		a, err := scanChart(rows)
		if err != nil {
			return nil, classifyPG("postgres.ChartOfAccounts", err)
		}
		out = append(out, a)
	}
	return out, classifyPG("postgres.ChartOfAccounts", rows.Err())
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundPG("postgres.GetAccount", err, "account %s not found", id)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number))
	if err != nil {
		return nil, notFoundPG("postgres.GetAccountByNumber", err, "account %s not found", number)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE ($1 = '' OR owner_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY account_number
		LIMIT $3 OFFSET $4`, f.OwnerID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, classifyPG("postgres.ListAccounts", err)
	}
	defer rows.Close()
	out := []*Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, classifyPG("postgres.ListAccounts", err)
		}
		out = append(out, a)
	}
	return out, classifyPG("postgres.ListAccounts", rows.Err())
}

func (s *PostgresStore) AccountLines(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lineColumns+` FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, journal_entry_id DESC, line_number DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, classifyPG("postgres.AccountLines", err)
	}
	defer rows.Close()
	out := []LedgerEntry{}
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, classifyPG("postgres.AccountLines", err)
		}
		out = append(out, l)
	}
	return out, classifyPG("postgres.AccountLines", rows.Err())
}

func (s *PostgresStore) GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error) {
	const op = "postgres.GetJournalEntry"
	var je JournalEntry
	err := s.snapshot(ctx, func(q pgQuerier) error {
		var txID *string
		err := q.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id = $1`, id).Scan(
			&je.ID, &je.Reference, &je.EntryDate, &je.Description, &je.OperationType, &txID,
			&je.TotalDebit, &je.TotalCredit, &je.Balanced)
		if err != nil {
			return notFoundPG(op, err, "journal entry %s not found", id)
		}
		je.TransactionID = deref(txID)

		rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM ledger_entries WHERE journal_entry_id = $1 ORDER BY line_number`, id)
		if err != nil {
			return classifyPG(op, err)
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanLine(rows)
			if err != nil {
				return classifyPG(op, err)
			}
			je.Lines = append(je.Lines, l)
		}
		return classifyPG(op, rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return &je, nil
}

func (s *PostgresStore) GetLoan(ctx context.Context, loanNumber string) (*Loan, error) {
	l, err := scanLoan(s.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.loan_number = $1`, loanNumber))
	if err != nil {
		return nil, notFoundPG("postgres.GetLoan", err, "loan %s not found", loanNumber)
	}
	return l, nil
}

func (s *PostgresStore) ListInstallments(ctx context.Context, loanNumber string) ([]*Installment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+installmentColumns+`
		FROM installments i JOIN loans l ON l.id = i.loan_id
		WHERE l.loan_number = $1
		ORDER BY i.installment_number`, loanNumber)
	if err != nil {
		return nil, classifyPG("postgres.ListInstallments", err)
	}
	defer rows.Close()
	out := []*Installment{}
	for rows.Next() {
		in, err := scanInstallment(rows)
		if err != nil {
			return nil, classifyPG("postgres.ListInstallments", err)
		}
		out = append(out, in)
	}
	return out, classifyPG("postgres.ListInstallments", rows.Err())
}

func (s *PostgresStore) JournalTotals(ctx context.Context, journalID string) ([]JournalTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT j.id, j.reference, j.entry_date, j.total_debit, j.total_credit, j.balanced,
		       COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0), COUNT(l.id)
		FROM journal_entries j
		LEFT JOIN ledger_entries l ON l.journal_entry_id = j.id
		WHERE $1 = '' OR j.id = $1
		GROUP BY j.id
		ORDER BY j.entry_date, j.id`, journalID)
	if err != nil {
		return nil, classifyPG("postgres.JournalTotals", err)
	}
	defer rows.Close()
	var out []JournalTotals
	for rows.Next() {
		var t JournalTotals
		if err := rows.Scan(&t.JournalEntryID, &t.Reference, &t.EntryDate, &t.RecordedDebit, &t.RecordedCredit,
			&t.RecordedFlag, &t.LineDebit, &t.LineCredit, &t.LineCount); err != nil {
			return nil, classifyPG("postgres.JournalTotals", err)
		}
		out = append(out, t)
	}
	return out, classifyPG("postgres.JournalTotals", rows.Err())
}

func (s *PostgresStore) AccountBalances(ctx context.Context) ([]AccountBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.account_number, a.balance, COALESCE(SUM(l.debit - l.credit), 0)
		FROM accounts a
		LEFT JOIN ledger_entries l ON l.account_id = a.id
		GROUP BY a.id
		ORDER BY a.account_number`)
	if err != nil {
		return nil, classifyPG("postgres.AccountBalances", err)
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountID, &b.AccountNumber, &b.Cached, &b.Ledger); err != nil {
			return nil, classifyPG("postgres.AccountBalances", err)
		}
		out = append(out, b)
	}
	return out, classifyPG("postgres.AccountBalances", rows.Err())
}

func (s *PostgresStore) ChartActivity(ctx context.Context) ([]ChartActivity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.code, c.name, c.category, c.parent_code, c.description, c.active,
		       COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
		FROM chart_of_accounts c
		LEFT JOIN ledger_entries l ON l.gl_code = c.code
		GROUP BY c.code
		ORDER BY c.code`)
	if err != nil {
		return nil, classifyPG("postgres.ChartActivity", err)
	}
	defer rows.Close()
	var out []ChartActivity
	for rows.Next() {
		var a ChartActivity
		var parent *string
		if err := rows.Scan(&a.Account.Code, &a.Account.Name, &a.Account.Category, &parent,
			&a.Account.Description, &a.Account.Active, &a.Debit, &a.Credit); err != nil {
			return nil, classifyPG("postgres.ChartActivity", err)
		}
		a.Account.ParentCode = deref(parent)
		out = append(out, a)
	}
	return out, classifyPG("postgres.ChartActivity", rows.Err())
}

// pgTx is the write side of one PostgreSQL transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SeedChart(ctx context.Context, accounts []coa.Account) (int, error) {
	// Parents are inserted before children; DefaultChart and NewCatalog keep that order valid.
	inserted := 0
	for _, a := range accounts {
		tag, err := t.tx.Exec(ctx, `
			INSERT INTO chart_of_accounts (code, name, category, parent_code, description, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO NOTHING`,
			a.Code, a.Name, string(a.Category), nullable(a.ParentCode), a.Description, a.Active)
		if err != nil {
			return inserted, classifyPG("postgres.SeedChart", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (t *pgTx) ChartAccount(ctx context.Context, code string) (*coa.Account, error) {
	a, err := scanChart(t.tx.QueryRow(ctx, `SELECT `+chartColumns+` FROM chart_of_accounts WHERE code = $1`, code))
	if err != nil {
		return nil, notFoundPG("postgres.ChartAccount", err, "chart account %s not found", code)
	}
	return &a, nil
}

func (t *pgTx) InsertAccount(ctx context.Context, a *Account) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.AccountNumber, a.AccountName, string(a.AccountType), a.OwnerID, a.Currency, string(a.Status),
		a.Balance, a.Version, a.CreatedAt, a.UpdatedAt)
	return classifyPG("postgres.InsertAccount", err)
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundPG("postgres.LockAccount", err, "account %s not found", id)
	}
	return a, nil
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, a *Account) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`, a.Balance, a.UpdatedAt, a.ID, a.Version)
	if err != nil {
		return classifyPG("postgres.UpdateAccountBalance", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("postgres.UpdateAccountBalance", nil, "account %s changed since version %d", a.ID, a.Version)
	}
	a.Version++
	return nil
}

func (t *pgTx) LedgerBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(debit - credit), 0) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&bal)
	return bal, classifyPG("postgres.LedgerBalance", err)
}

func (t *pgTx) InsertJournalEntry(ctx context.Context, je *JournalEntry) error {
	const op = "postgres.InsertJournalEntry"
	_, err := t.tx.Exec(ctx, `
		INSERT INTO journal_entries (`+journalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		je.ID, je.Reference, je.EntryDate, je.Description, string(je.OperationType), nullable(je.TransactionID),
		je.TotalDebit, je.TotalCredit, je.Balanced)
	if err != nil {
		return classifyPG(op, err)
	}
	batch := &pgx.Batch{}
	for _, l := range je.Lines {
		batch.Queue(`
			INSERT INTO ledger_entries (`+lineColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			l.ID, l.JournalEntryID, l.LineNumber, l.GLCode, nullable(l.AccountID), l.Debit, l.Credit,
			l.BalanceAfter, l.Description, l.CreatedAt)
	}
	return classifyPG(op, t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) InsertLoan(ctx context.Context, l *Loan) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO loans (id, loan_number, account_id, loan_type, principal, annual_rate, tenure_months,
			monthly_installment, amount_paid, amount_remaining, status, disbursed_at, closed_at, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		l.ID, l.LoanNumber, l.AccountID, l.LoanType, l.Principal, l.AnnualRate, l.TenureMonths,
		l.MonthlyInstallment, l.AmountPaid, l.AmountRemaining, string(l.Status), l.DisbursedAt, l.ClosedAt,
		l.Version, l.CreatedAt, l.UpdatedAt)
	return classifyPG("postgres.InsertLoan", err)
}

func (t *pgTx) LockLoan(ctx context.Context, loanNumber string) (*Loan, error) {
	l, err := scanLoan(t.tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.loan_number = $1 FOR UPDATE`, loanNumber))
	if err != nil {
		return nil, notFoundPG("postgres.LockLoan", err, "loan %s not found", loanNumber)
	}
	return l, nil
}

func (t *pgTx) UpdateLoan(ctx context.Context, l *Loan) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE loans SET monthly_installment = $1, amount_paid = $2, amount_remaining = $3, status = $4,
			disbursed_at = $5, closed_at = $6, updated_at = $7, version = version + 1
		WHERE id = $8 AND version = $9`,
		l.MonthlyInstallment, l.AmountPaid, l.AmountRemaining, string(l.Status), l.DisbursedAt, l.ClosedAt,
		l.UpdatedAt, l.ID, l.Version)
	if err != nil {
		return classifyPG("postgres.UpdateLoan", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("postgres.UpdateLoan", nil, "loan %s changed since version %d", l.LoanNumber, l.Version)
	}
	l.Version++
	return nil
}

func (t *pgTx) InsertInstallments(ctx context.Context, loan *Loan, rows []*Installment) error {
	batch := &pgx.Batch{}
	for _, in := range rows {
		batch.Queue(`
			INSERT INTO installments (id, loan_id, installment_number, due_date, principal, interest, total,
				paid, paid_amount, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, 0)`,
			in.ID, loan.ID, in.Number, in.DueDate, in.Principal, in.Interest, in.Total, in.PaidAmount)
	}
	return classifyPG("postgres.InsertInstallments", t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) LockInstallment(ctx context.Context, loanNumber string, number int) (*Installment, error) {
	in, err := scanInstallment(t.tx.QueryRow(ctx, `
		SELECT `+installmentColumns+`
		FROM installments i JOIN loans l ON l.id = i.loan_id
		WHERE l.loan_number = $1 AND i.installment_number = $2
		FOR UPDATE OF i`, loanNumber, number))
	if err != nil {
		return nil, notFoundPG("postgres.LockInstallment", err, "installment %d of loan %s not found", number, loanNumber)
	}
	return in, nil
}

func (t *pgTx) UpdateInstallment(ctx context.Context, in *Installment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE installments SET paid = $1, paid_amount = $2, paid_at = $3, transaction_id = $4,
			journal_entry_id = $5, version = version + 1
		WHERE id = $6 AND version = $7`,
		in.Paid, in.PaidAmount, in.PaidAt, nullable(in.TransactionID), nullable(in.JournalEntryID), in.ID, in.Version)
	if err != nil {
		return classifyPG("postgres.UpdateInstallment", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("postgres.UpdateInstallment", nil, "installment %d changed since version %d", in.Number, in.Version)
	}
	in.Version++
	return nil
}
