package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/amortization"
	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/locking"
)

// ErrInstallmentAlreadyPaid is returned, wrapped, when an installment is settled twice.
var ErrInstallmentAlreadyPaid = &errs.Error{Kind: errs.KindValidation, Message: "installment already paid"}

// CreateLoanRequest approves a new loan for an existing account.
type CreateLoanRequest struct {
	AccountID    string          `json:"account_id"`
	LoanType     string          `json:"loan_type"`
	Principal    decimal.Decimal `json:"principal"`
	AnnualRate   decimal.Decimal `json:"annual_rate"`
	TenureMonths int             `json:"tenure_months"`
	LoanNumber   string          `json:"loan_number,omitempty"`
}

// CreateLoan records an APPROVED loan. Nothing is posted until DisburseLoan.
func (e *Engine) CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error) {
	const op = "ledger.CreateLoan"
	if req.AccountID == "" {
		return nil, errs.Validation(op, "account id is required")
	}
	if strings.TrimSpace(req.LoanType) == "" {
		req.LoanType = "PERSONAL"
	}
	preview, err := amortization.GenerateSchedule(amortization.Terms{
		Principal:    req.Principal,
		AnnualRate:   req.AnnualRate,
		TenureMonths: req.TenureMonths,
		Start:        e.now().UTC(),
	})
	if err != nil {
		return nil, errs.Validation(op, "%v", err)
	}
	borrower, err := e.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if borrower.Status != AccountActive {
		return nil, errs.Validation(op, "account %s is %s", borrower.AccountNumber, borrower.Status)
	}

	now := e.now().UTC()
	loan := &Loan{
		ID:                 uuid.NewString(),
		LoanNumber:         req.LoanNumber,
		AccountID:          req.AccountID,
		LoanType:           strings.ToUpper(req.LoanType),
		Principal:          req.Principal,
		AnnualRate:         req.AnnualRate,
		TenureMonths:       req.TenureMonths,
		MonthlyInstallment: preview.Installment,
		AmountPaid:         decimal.Zero,
		AmountRemaining:    preview.TotalPayable,
		Status:             LoanApproved,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if loan.LoanNumber == "" {
		loan.LoanNumber = e.refs.Next("LOAN")
	}
	err = locking.Retry(ctx, e.retry, func(ctx context.Context) error {
		return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertLoan(ctx, loan)
		})
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("loan approved",
		zap.String("loan_number", loan.LoanNumber),
		zap.String("account_id", loan.AccountID),
		zap.Stringer("principal", loan.Principal),
		zap.Stringer("installment", loan.MonthlyInstallment))
	return loan, nil
}

func (e *Engine) GetLoan(ctx context.Context, loanNumber string) (*Loan, error) {
	return e.store.GetLoan(ctx, loanNumber)
}

// ListInstallments returns a loan's schedule with overdue days computed against the engine clock.
func (e *Engine) ListInstallments(ctx context.Context, loanNumber string) ([]*Installment, error) {
	if _, err := e.store.GetLoan(ctx, loanNumber); err != nil {
		return nil, err
	}
	rows, err := e.store.ListInstallments(ctx, loanNumber)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for _, in := range rows {
		if !in.Paid {
			in.OverdueDays = amortization.OverdueDays(in.DueDate, now)
		}
	}
	return rows, nil
}

// PreviewSchedule computes a schedule without persisting anything.
func (e *Engine) PreviewSchedule(terms amortization.Terms) (*amortization.Schedule, error) {
	if terms.Start.IsZero() {
		terms.Start = e.now().UTC()
	}
	s, err := amortization.GenerateSchedule(terms)
	if err != nil {
		return nil, errs.Validation("ledger.PreviewSchedule", "%v", err)
	}
	return s, nil
}

// SettleRequest pays one scheduled installment. AccountID defaults to the borrower's account.
type SettleRequest struct {
	LoanNumber        string `json:"loan_number"`
	InstallmentNumber int    `json:"installment_number"`
	AccountID         string `json:"account_id,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
}

// Settlement is the outcome of SettleInstallment.
type Settlement struct {
	Installment *Installment  `json:"installment"`
	Loan        *Loan         `json:"loan"`
	Journal     *JournalEntry `json:"journal"`
}

// SettleInstallment pays installment n of a loan from the borrower's account. The installment,
// the loan and the account are locked in that order. The installment is marked paid, the loan
// totals move by the installment total, and the loan closes once nothing remains.
func (e *Engine) SettleInstallment(ctx context.Context, req SettleRequest) (s *Settlement, err error) {
	const op = "ledger.SettleInstallment"
	started := time.Now()
	var je *JournalEntry
	defer func() { e.finish(OpInstallmentPayment, started, je, err) }()

	if req.LoanNumber == "" || req.InstallmentNumber <= 0 {
		return nil, errs.Validation(op, "loan number and a positive installment number are required")
	}
	accountID := req.AccountID
	if accountID == "" {
		loan, err := e.store.GetLoan(ctx, req.LoanNumber)
		if err != nil {
			return nil, err
		}
		accountID = loan.AccountID
	}

	groups := [][]string{
		{installmentKey(req.LoanNumber, req.InstallmentNumber)},
		{loanKey(req.LoanNumber)},
		{accountKey(accountID)},
	}
	err = e.unit(ctx, OpInstallmentPayment, groups, func(ctx context.Context, tx Tx) error {
		in, err := tx.LockInstallment(ctx, req.LoanNumber, req.InstallmentNumber)
		if err != nil {
			return err
		}
		if in.Paid {
			return fmt.Errorf("installment %d of loan %s: %w", in.Number, req.LoanNumber, ErrInstallmentAlreadyPaid)
		}
		loan, err := tx.LockLoan(ctx, req.LoanNumber)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return errs.Validation(op, "loan %s is %s", loan.LoanNumber, loan.Status)
		}
		if loan.AccountID != accountID {
			return errs.Validation(op, "account %s is not the borrower of loan %s", accountID, loan.LoanNumber)
		}
		accounts, err := lockAccounts(ctx, tx, op, accountID)
		if err != nil {
			return err
		}
		payer := accounts[accountID]
		if err := ensureFunds(op, payer, in.Total); err != nil {
			return err
		}

		je, err = e.commit(ctx, tx, draft{
			op:            OpInstallmentPayment,
			reference:     fmt.Sprintf("EMI-PAY-%s-%d", loan.LoanNumber, in.Number),
			description:   fmt.Sprintf("EMI payment - %s #%d", loan.LoanNumber, in.Number),
			transactionID: req.TransactionID,
			lines:         installmentLines(payer.ID, in.Principal, in.Interest),
		}, accounts)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		in.Paid = true
		in.PaidAmount = in.Total
		in.PaidAt = &now
		in.TransactionID = req.TransactionID
		in.JournalEntryID = je.ID
		if err := tx.UpdateInstallment(ctx, in); err != nil {
			return err
		}

		loan.AmountPaid = loan.AmountPaid.Add(in.Total)
		loan.AmountRemaining = loan.AmountRemaining.Sub(in.Total)
		loan.UpdatedAt = now
		if !loan.AmountRemaining.IsPositive() {
			loan.Status = LoanClosed
			loan.ClosedAt = &now
		}
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		s = &Settlement{Installment: in, Loan: loan, Journal: je}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Loan.Status == LoanClosed {
		e.logger.Info("loan closed", zap.String("loan_number", s.Loan.LoanNumber))
	}
	e.notify(ctx, je)
	return s, nil
}
