package ledger

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
)

func TestSeedChartOfAccountsIsIdempotent(t *testing.T) {
	f := newFixture(t)

	n, err := f.engine.SeedChartOfAccounts(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	chart, err := f.engine.ChartOfAccounts(f.ctx)
	require.NoError(t, err)
	assert.Len(t, chart, len(coa.DefaultChart()))
	assert.Equal(t, coa.CodeCash, chart[0].Code)
}

func TestOpenAccountDefaults(t *testing.T) {
	f := newFixture(t)

	a := f.openAccount(t, "Alice")
	assert.True(t, strings.HasPrefix(a.AccountNumber, "ACC"))
	assert.Equal(t, AccountSavings, a.AccountType)
	assert.Equal(t, "USD", a.Currency)
	assert.Equal(t, AccountActive, a.Status)
	requireDecimal(t, "0", a.Balance)

	_, err := f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountName: "Bob", Currency: "EUR"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountName: "Carol", AccountNumber: a.AccountNumber})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err), "duplicate account number")
}

func TestDepositWithdrawTransfer(t *testing.T) {
	f := newFixture(t)
	alice := f.openAccount(t, "Alice")
	bob := f.openAccount(t, "Bob")

	dep := f.deposit(t, alice.ID, "1000.00")
	assert.True(t, strings.HasPrefix(dep.Reference, "JE-"))
	assert.Equal(t, "Deposit to "+alice.AccountNumber, dep.Description)
	require.Len(t, dep.Lines, 2)
	assert.Equal(t, coa.CodeCustomerDepositsAsset, dep.Lines[0].GLCode)
	assert.Equal(t, alice.ID, dep.Lines[0].AccountID)
	requireDecimal(t, "1000", dep.Lines[0].BalanceAfter.Decimal)
	assert.Equal(t, coa.CodeCustomerDepositsLiab, dep.Lines[1].GLCode)
	assert.Empty(t, dep.Lines[1].AccountID)
	assert.False(t, dep.Lines[1].BalanceAfter.Valid)

	_, err := f.engine.Post(f.ctx, PostRequest{Type: OpWithdrawal, AccountID: alice.ID, Amount: dec("200")})
	require.NoError(t, err)

	tr, err := f.engine.Post(f.ctx, PostRequest{Type: OpTransfer, AccountID: alice.ID, ToAccountID: bob.ID, Amount: dec("300.50")})
	require.NoError(t, err)
	assert.Equal(t, "Transfer to "+bob.AccountNumber, tr.Description)
	require.Len(t, tr.Lines, 2)
	assert.Equal(t, bob.ID, tr.Lines[0].AccountID)
	requireDecimal(t, "300.50", tr.Lines[0].Debit)
	assert.Equal(t, alice.ID, tr.Lines[1].AccountID)
	requireDecimal(t, "300.50", tr.Lines[1].Credit)

	pay, err := f.engine.Post(f.ctx, PostRequest{Type: OpPayment, AccountID: bob.ID, Amount: dec("0.50"), Description: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, "coffee", pay.Description)

	requireDecimal(t, "499.50", f.balance(t, alice.ID))
	requireDecimal(t, "300.00", f.balance(t, bob.ID))

	stmt, err := f.engine.AccountStatement(f.ctx, alice.ID, 10)
	require.NoError(t, err)
	assert.Len(t, stmt.Lines, 3)

	stored, err := f.engine.GetJournalEntry(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Reference, stored.Reference)
	assert.Len(t, stored.Lines, 2)
	assert.True(t, stored.Balanced)
}

func TestPostRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Alice")

	tests := []struct {
		name string
		req  PostRequest
		kind errs.Kind
	}{
		{"zero amount", PostRequest{Type: OpDeposit, AccountID: a.ID, Amount: decimal.Zero}, errs.KindValidation},
		{"negative amount", PostRequest{Type: OpDeposit, AccountID: a.ID, Amount: dec("-5")}, errs.KindValidation},
		{"sub-cent amount", PostRequest{Type: OpDeposit, AccountID: a.ID, Amount: dec("1.005")}, errs.KindValidation},
		{"unknown type", PostRequest{Type: "REFUND", AccountID: a.ID, Amount: dec("1")}, errs.KindValidation},
		{"missing account", PostRequest{Type: OpDeposit, Amount: dec("1")}, errs.KindValidation},
		{"transfer to self", PostRequest{Type: OpTransfer, AccountID: a.ID, ToAccountID: a.ID, Amount: dec("1")}, errs.KindValidation},
		{"transfer without destination", PostRequest{Type: OpTransfer, AccountID: a.ID, Amount: dec("1")}, errs.KindValidation},
		{"unknown account", PostRequest{Type: OpDeposit, AccountID: "nope", Amount: dec("1")}, errs.KindNotFound},
		{"unknown destination", PostRequest{Type: OpTransfer, AccountID: a.ID, ToAccountID: "nope", Amount: dec("1")}, errs.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Post(f.ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err), err.Error())
		})
	}

	report, err := f.validator.ValidateJournalEntries(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TotalEntries)
}

func TestInsufficientFundsPersistsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Alice")
	b := f.openAccount(t, "Bob")
	f.deposit(t, a.ID, "100")

	for _, req := range []PostRequest{
		{Type: OpWithdrawal, AccountID: a.ID, Amount: dec("100.01")},
		{Type: OpPayment, AccountID: a.ID, Amount: dec("150")},
		{Type: OpTransfer, AccountID: a.ID, ToAccountID: b.ID, Amount: dec("200")},
	} {
		_, err := f.engine.Post(f.ctx, req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrInsufficientFunds), err.Error())
	}

	requireDecimal(t, "100", f.balance(t, a.ID))
	requireDecimal(t, "0", f.balance(t, b.ID))
	report, err := f.validator.ValidateJournalEntries(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalEntries)
}

func TestDuplicateReferenceIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Alice")

	req := PostRequest{Type: OpDeposit, AccountID: a.ID, Amount: dec("10"), Reference: "BANK-REF-1"}
	_, err := f.engine.Post(f.ctx, req)
	require.NoError(t, err)
	_, err = f.engine.Post(f.ctx, req)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	requireDecimal(t, "10", f.balance(t, a.ID))
}

func TestUnbalancedDraftIsNeverPersisted(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Alice")

	err := f.store.InTx(f.ctx, func(ctx context.Context, tx Tx) error {
		accounts, err := lockAccounts(ctx, tx, "test", a.ID)
		if err != nil {
			return err
		}
		_, err = f.engine.commit(ctx, tx, draft{
			op:        OpDeposit,
			reference: "BROKEN-1",
			lines: []line{
				debit(coa.CodeCustomerDepositsAsset, a.ID, dec("10"), ""),
				credit(coa.CodeCustomerDepositsLiab, "", dec("9.99"), ""),
			},
		}, accounts)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvariantViolation))

	requireDecimal(t, "0", f.balance(t, a.ID))
	report, err := f.validator.ValidateJournalEntries(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TotalEntries)
}

func TestEveryJournalBalancesUnderRandomPostings(t *testing.T) {
	f := newFixture(t)
	accounts := []*Account{f.openAccount(t, "A"), f.openAccount(t, "B"), f.openAccount(t, "C")}
	rng := rand.New(rand.NewSource(42))

	amount := func() decimal.Decimal {
		return decimal.New(rng.Int63n(50000)+1, -2)
	}
	for i := 0; i < 120; i++ {
		src := accounts[rng.Intn(len(accounts))]
		req := PostRequest{AccountID: src.ID, Amount: amount()}
		switch rng.Intn(4) {
		case 0:
			req.Type = OpDeposit
		case 1:
			req.Type = OpWithdrawal
		case 2:
			req.Type = OpPayment
		default:
			req.Type = OpTransfer
			dst := accounts[rng.Intn(len(accounts))]
			if dst.ID == src.ID {
				req.Type = OpDeposit
			} else {
				req.ToAccountID = dst.ID
			}
		}
		_, err := f.engine.Post(f.ctx, req)
		if err != nil {
			require.Equal(t, errs.KindInsufficientFunds, errs.KindOf(err), err.Error())
		}
	}

	journals, err := f.validator.ValidateJournalEntries(f.ctx)
	require.NoError(t, err)
	assert.True(t, journals.IsValid, "%+v", journals.Unbalanced)
	assert.NotZero(t, journals.TotalEntries)

	balances, err := f.validator.ValidateAccountBalances(f.ctx)
	require.NoError(t, err)
	assert.True(t, balances.IsValid, "%+v", balances.Discrepancies)

	for _, a := range accounts {
		assert.False(t, f.balance(t, a.ID).IsNegative(), "account %s went negative", a.AccountNumber)
	}

	tb, err := f.validator.ValidateTrialBalance(f.ctx)
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)

	assert.Zero(t, f.engine.Locks().Len(), "every lock entry is released")
}

type recordingObserver struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (o *recordingObserver) JournalPosted(_ context.Context, je *JournalEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refs = append(o.refs, je.Reference)
	return o.err
}

func TestObserversRunAfterCommit(t *testing.T) {
	ok := &recordingObserver{}
	failing := &recordingObserver{err: errors.New("broker down")}
	f := newFixture(t, WithObserver(ok), WithObserver(failing))
	a := f.openAccount(t, "Alice")

	je := f.deposit(t, a.ID, "25")
	_, err := f.engine.Post(f.ctx, PostRequest{Type: OpWithdrawal, AccountID: a.ID, Amount: dec("30")})
	require.Error(t, err)

	assert.Equal(t, []string{je.Reference}, ok.refs)
	assert.Equal(t, []string{je.Reference}, failing.refs)
	requireDecimal(t, "25", f.balance(t, a.ID))
}

func TestListAccountsFilters(t *testing.T) {
	f := newFixture(t)
	for _, owner := range []string{"u1", "u1", "u2"} {
		_, err := f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountName: "acct", OwnerID: owner})
		require.NoError(t, err)
	}

	all, err := f.engine.ListAccounts(f.ctx, AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := f.engine.ListAccounts(f.ctx, AccountFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	page, err := f.engine.ListAccounts(f.ctx, AccountFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
