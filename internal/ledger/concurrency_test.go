package ledger

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestOppositeTransfersComplete(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "A")
	b := f.openAccount(t, "B")
	f.deposit(t, a.ID, "1000")
	f.deposit(t, b.ID, "1000")

	const n = 25
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.engine.Post(f.ctx, PostRequest{Type: OpTransfer, AccountID: a.ID, ToAccountID: b.ID, Amount: dec("3")})
			return err
		})
		g.Go(func() error {
			_, err := f.engine.Post(f.ctx, PostRequest{Type: OpTransfer, AccountID: b.ID, ToAccountID: a.ID, Amount: dec("2")})
			return err
		})
	}
	require.NoError(t, g.Wait())

	requireDecimal(t, "975", f.balance(t, a.ID))
	requireDecimal(t, "1025", f.balance(t, b.ID))

	report, err := f.validator.ValidateAccountBalances(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
}

func TestConcurrentDepositsAreNotLost(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "A")

	var g errgroup.Group
	for i := 0; i < 40; i++ {
		g.Go(func() error {
			_, err := f.engine.Post(f.ctx, PostRequest{Type: OpDeposit, AccountID: a.ID, Amount: dec("1.25")})
			return err
		})
	}
	require.NoError(t, g.Wait())
	requireDecimal(t, "50", f.balance(t, a.ID))
}

func TestConcurrentSettlementPaysOnce(t *testing.T) {
	f := newFixture(t)
	a := f.openAccount(t, "Borrower")
	loan := f.activeLoan(t, a.ID, "1200", "12", 12)

	var paid, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := f.engine.SettleInstallment(f.ctx, SettleRequest{LoanNumber: loan.LoanNumber, InstallmentNumber: 1})
			switch {
			case err == nil:
				paid.Add(1)
			case errors.Is(err, ErrInstallmentAlreadyPaid):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), paid.Load())
	assert.Equal(t, int32(1), rejected.Load())

	installments, err := f.engine.ListInstallments(f.ctx, loan.LoanNumber)
	require.NoError(t, err)
	assert.True(t, installments[0].Paid)

	got, err := f.engine.GetLoan(f.ctx, loan.LoanNumber)
	require.NoError(t, err)
	assert.True(t, got.AmountPaid.Equal(installments[0].Total))
}
