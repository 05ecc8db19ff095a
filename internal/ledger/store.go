package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/coa"
)

// Store is the persistence boundary of the ledger. Implementations must make InTx atomic: either
// every write fn performs is committed, or none is.
type Store interface {
	Reader

	// InTx runs fn inside one database transaction. An error returned by fn rolls it back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	Close() error
}

// Reader holds the read paths. None of them take row locks.
type Reader interface {
	ChartOfAccounts(ctx context.Context) ([]coa.Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error)
	AccountLines(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
	GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error)
	GetLoan(ctx context.Context, loanNumber string) (*Loan, error)
	ListInstallments(ctx context.Context, loanNumber string) ([]*Installment, error)

	// JournalTotals returns header and line totals for one journal entry, or for all of them when
	// journalID is empty, computed from a single snapshot.
	JournalTotals(ctx context.Context, journalID string) ([]JournalTotals, error)
	// AccountBalances returns the cached and ledger balance of every account from a single snapshot.
	AccountBalances(ctx context.Context) ([]AccountBalance, error)
	// ChartActivity returns the debit and credit sums per chart account from a single snapshot.
	ChartActivity(ctx context.Context) ([]ChartActivity, error)
}

// Tx is the write side, valid only inside InTx. Lock methods block on the row lock and report a
// retryable conflict when the wait is bounded out.
type Tx interface {
	SeedChart(ctx context.Context, accounts []coa.Account) (int, error)
	ChartAccount(ctx context.Context, code string) (*coa.Account, error)

	InsertAccount(ctx context.Context, a *Account) error
	LockAccount(ctx context.Context, id string) (*Account, error)
	// UpdateAccountBalance writes a.Balance if the row still carries a.Version and bumps it.
	UpdateAccountBalance(ctx context.Context, a *Account) error
	LedgerBalance(ctx context.Context, accountID string) (decimal.Decimal, error)

	InsertJournalEntry(ctx context.Context, je *JournalEntry) error

	InsertLoan(ctx context.Context, l *Loan) error
	LockLoan(ctx context.Context, loanNumber string) (*Loan, error)
	UpdateLoan(ctx context.Context, l *Loan) error

	InsertInstallments(ctx context.Context, loan *Loan, rows []*Installment) error
	LockInstallment(ctx context.Context, loanNumber string, number int) (*Installment, error)
	UpdateInstallment(ctx context.Context, in *Installment) error
}

// JournalTotals is the raw material of a journal balance check.
type JournalTotals struct {
	JournalEntryID string
	Reference      string
	EntryDate      time.Time
	RecordedDebit  decimal.Decimal
	RecordedCredit decimal.Decimal
	RecordedFlag   bool
	LineDebit      decimal.Decimal
	LineCredit     decimal.Decimal
	LineCount      int
}

// AccountBalance pairs an account's cached balance with the balance its ledger lines imply.
type AccountBalance struct {
	AccountID     string
	AccountNumber string
	Cached        decimal.Decimal
	Ledger        decimal.Decimal
}

// ChartActivity is the posted activity of one chart account.
type ChartActivity struct {
	Account coa.Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}
