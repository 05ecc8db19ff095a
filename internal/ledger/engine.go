// Package ledger is the double-entry posting core. The Engine turns business operations into
// balanced journal entries and keeps cached account balances in step with the ledger lines, and
// the Validator checks that nothing has drifted.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/locking"
)

// PostingObserver is told about every committed journal entry. Observers run after commit, so
// their failures are logged and never undo the posting.
type PostingObserver interface {
	JournalPosted(ctx context.Context, je *JournalEntry) error
}

type options struct {
	locks     *locking.Registry
	retry     locking.Policy
	now       func() time.Time
	refs      ReferenceGenerator
	logger    *zap.Logger
	metrics   *Metrics
	observers []PostingObserver
}

// Option configures an Engine or a Validator.
type Option func(*options)

// WithLockRegistry shares a keyed lock registry. Engines and validators working on the same
// store must share one registry.
func WithLockRegistry(r *locking.Registry) Option {
	return func(o *options) { o.locks = r }
}

func WithRetryPolicy(p locking.Policy) Option {
	return func(o *options) { o.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithReferenceGenerator(g ReferenceGenerator) Option {
	return func(o *options) { o.refs = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithObserver adds a post-commit observer. May be given more than once.
func WithObserver(obs PostingObserver) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

func buildOptions(opts []Option) options {
	o := options{retry: locking.DefaultPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.locks == nil {
		o.locks = locking.NewRegistry(locking.WithWaitObserver(o.metrics.ObserveLockWait))
	}
	if o.refs == nil {
		o.refs = NewULIDReferences(o.now)
	}
	return o
}

// Engine posts business operations as journal entries.
type Engine struct {
	store Store
	options
}

func NewEngine(store Store, opts ...Option) *Engine {
	return &Engine{store: store, options: buildOptions(opts)}
}

// Locks exposes the engine's registry so a Validator can share it.
func (e *Engine) Locks() *locking.Registry { return e.locks }

func accountKey(id string) string { return "account:" + id }

func loanKey(number string) string { return "loan:" + number }

func installmentKey(loanNumber string, n int) string {
	return "installment:" + loanNumber + "#" + strconv.Itoa(n)
}

// unit runs fn as one unit of work: keyed locks are taken group by group, the store transaction
// runs under them, and the whole thing is retried on concurrency conflicts.
func (e *Engine) unit(ctx context.Context, op OperationType, groups [][]string, fn func(ctx context.Context, tx Tx) error) error {
	p := e.retry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.metrics.retried(op)
		e.logger.Warn("retrying unit of work",
			zap.String("operation", string(op)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}
	return locking.Retry(ctx, p, func(ctx context.Context) error {
		return e.locks.WithLockSequence(ctx, groups, func(ctx context.Context) error {
			return e.store.InTx(ctx, fn)
		})
	})
}

// lockAccounts row-locks ids in canonical order and checks that each one can be posted to.
func lockAccounts(ctx context.Context, tx Tx, op string, ids ...string) (map[string]*Account, error) {
	out := make(map[string]*Account, len(ids))
	for _, id := range locking.Canonical(ids) {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Status != AccountActive {
			return nil, errs.Validation(op, "account %s is %s", a.AccountNumber, a.Status)
		}
		out[id] = a
	}
	return out, nil
}

func ensureFunds(op string, a *Account, amount decimal.Decimal) error {
	if a.Balance.LessThan(amount) {
		return errs.InsufficientFunds(op, "account %s has %s, needs %s",
			a.AccountNumber, a.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

// line is a posting line before it is bound to a journal entry.
type line struct {
	glCode    string
	accountID string
	debit     decimal.Decimal
	credit    decimal.Decimal
	memo      string
}

func debit(code, accountID string, amount decimal.Decimal, memo string) line {
	return line{glCode: code, accountID: accountID, debit: amount, credit: decimal.Zero, memo: memo}
}

func credit(code, accountID string, amount decimal.Decimal, memo string) line {
	return line{glCode: code, accountID: accountID, debit: decimal.Zero, credit: amount, memo: memo}
}

type draft struct {
	op            OperationType
	reference     string
	description   string
	transactionID string
	lines         []line
}

// commit asserts the draft balances, applies its tagged lines to the locked accounts, and
// persists the entry together with the new cached balances.
func (e *Engine) commit(ctx context.Context, tx Tx, d draft, accounts map[string]*Account) (*JournalEntry, error) {
	const op = "ledger.commit"
	now := e.now().UTC()

	je := &JournalEntry{
		ID:            uuid.NewString(),
		Reference:     d.reference,
		EntryDate:     now,
		Description:   d.description,
		OperationType: d.op,
		TransactionID: d.transactionID,
		TotalDebit:    decimal.Zero,
		TotalCredit:   decimal.Zero,
	}

	touched := make([]*Account, 0, len(accounts))
	seen := make(map[string]bool, len(accounts))
	for i, l := range d.lines {
		if l.debit.IsPositive() == l.credit.IsPositive() {
			return nil, errs.Invariant(op, "line %d of %s must carry exactly one non-zero side", i+1, d.reference)
		}
		gl, err := tx.ChartAccount(ctx, l.glCode)
		if err != nil {
			return nil, err
		}
		if !gl.Active {
			return nil, errs.Validation(op, "chart account %s is inactive", gl.Code)
		}
		entry := LedgerEntry{
			ID:             uuid.NewString(),
			JournalEntryID: je.ID,
			LineNumber:     i + 1,
			GLCode:         gl.Code,
			AccountID:      l.accountID,
			Debit:          l.debit,
			Credit:         l.credit,
			Description:    l.memo,
			CreatedAt:      now,
		}
		if l.accountID != "" {
			a, ok := accounts[l.accountID]
			if !ok {
				return nil, errs.Invariant(op, "line %d touches account %s which is not locked", i+1, l.accountID)
			}
			a.Balance = a.Balance.Add(entry.Signed())
			entry.BalanceAfter = decimal.NewNullDecimal(a.Balance)
			if !seen[a.ID] {
				seen[a.ID] = true
				touched = append(touched, a)
			}
		}
		je.TotalDebit = je.TotalDebit.Add(l.debit)
		je.TotalCredit = je.TotalCredit.Add(l.credit)
		je.Lines = append(je.Lines, entry)
	}

	je.Balanced = je.TotalDebit.Equal(je.TotalCredit)
	if !je.Balanced || len(je.Lines) < 2 {
		e.metrics.invariantViolated()
		e.logger.Error("refusing to persist unbalanced journal entry",
			zap.String("reference", je.Reference),
			zap.String("operation", string(d.op)),
			zap.Stringer("total_debit", je.TotalDebit),
			zap.Stringer("total_credit", je.TotalCredit),
			zap.Int("lines", len(je.Lines)))
		return nil, errs.Invariant(op, "journal %s is unbalanced: debit %s credit %s",
			je.Reference, je.TotalDebit.StringFixed(2), je.TotalCredit.StringFixed(2))
	}

	if err := tx.InsertJournalEntry(ctx, je); err != nil {
		return nil, err
	}
	for _, a := range touched {
		a.UpdatedAt = now
		if err := tx.UpdateAccountBalance(ctx, a); err != nil {
			return nil, err
		}
	}
	return je, nil
}

// notify runs the observers for a committed entry.
func (e *Engine) notify(ctx context.Context, je *JournalEntry) {
	for _, obs := range e.observers {
		if err := obs.JournalPosted(ctx, je); err != nil {
			e.logger.Error("posting observer failed",
				zap.String("reference", je.Reference),
				zap.String("observer", fmt.Sprintf("%T", obs)),
				zap.Error(err))
		}
	}
}

// finish records metrics and logs for a finished operation.
func (e *Engine) finish(op OperationType, started time.Time, je *JournalEntry, err error) {
	e.metrics.observePosting(op, started, err)
	if err != nil {
		lvl := e.logger.Info
		if k := errs.KindOf(err); k == errs.KindInvariantViolation || k == errs.KindUnknown {
			lvl = e.logger.Error
		}
		lvl("posting failed", zap.String("operation", string(op)), zap.Error(err))
		return
	}
	e.logger.Info("journal posted",
		zap.String("operation", string(op)),
		zap.String("journal_id", je.ID),
		zap.String("reference", je.Reference),
		zap.Stringer("amount", je.TotalDebit),
		zap.Duration("elapsed", time.Since(started)))
}

// ChartOfAccounts lists the persisted chart, ordered by code.
func (e *Engine) ChartOfAccounts(ctx context.Context) ([]coa.Account, error) {
	return e.store.ChartOfAccounts(ctx)
}

// SeedChartOfAccounts inserts the given accounts, or the default chart when none are given.
// Existing codes are left alone, so seeding twice is harmless. It returns how many were inserted.
func (e *Engine) SeedChartOfAccounts(ctx context.Context, accounts ...coa.Account) (int, error) {
	if len(accounts) == 0 {
		accounts = coa.DefaultChart()
	}
	if _, err := coa.NewCatalog(accounts); err != nil {
		return 0, errs.Validation("ledger.SeedChartOfAccounts", "%v", err)
	}
	var n int
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.SeedChart(ctx, accounts)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("chart of accounts seeded", zap.Int("inserted", n), zap.Int("total", len(accounts)))
	return n, nil
}
