package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/amortization"
	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/money"
)

// PostRequest describes a customer money movement.
type PostRequest struct {
	Type          OperationType   `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	AccountID     string          `json:"account_id"`
	ToAccountID   string          `json:"to_account_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

func (r PostRequest) validate() error {
	const op = "ledger.Post"
	switch r.Type {
	case OpDeposit, OpWithdrawal, OpPayment:
	case OpTransfer:
		if r.ToAccountID == "" {
			return errs.Validation(op, "transfer needs a destination account")
		}
		if r.ToAccountID == r.AccountID {
			return errs.Validation(op, "transfer source and destination are the same account")
		}
	default:
		return errs.Validation(op, "unsupported operation type %q", r.Type)
	}
	if r.AccountID == "" {
		return errs.Validation(op, "account id is required")
	}
	if err := money.ValidateAmount(r.Amount); err != nil {
		return errs.Validation(op, "%v", err)
	}
	return nil
}

// Post records a deposit, withdrawal, payment or transfer.
func (e *Engine) Post(ctx context.Context, req PostRequest) (je *JournalEntry, err error) {
	const op = "ledger.Post"
	started := time.Now()
	defer func() { e.finish(req.Type, started, je, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	reference := req.Reference
	if reference == "" {
		reference = e.refs.Next("JE-")
	}

	keys := []string{accountKey(req.AccountID)}
	if req.Type == OpTransfer {
		keys = append(keys, accountKey(req.ToAccountID))
	}

	err = e.unit(ctx, req.Type, [][]string{keys}, func(ctx context.Context, tx Tx) error {
		ids := []string{req.AccountID}
		if req.Type == OpTransfer {
			ids = append(ids, req.ToAccountID)
		}
		accounts, err := lockAccounts(ctx, tx, op, ids...)
		if err != nil {
			return err
		}
		src := accounts[req.AccountID]

		d := draft{op: req.Type, reference: reference, description: req.Description, transactionID: req.TransactionID}
		switch req.Type {
		case OpDeposit:
			d.defaultDescription("Deposit to %s", src.AccountNumber)
			d.lines = []line{
				debit(coa.CodeCustomerDepositsAsset, src.ID, req.Amount, "deposit"),
				credit(coa.CodeCustomerDepositsLiab, "", req.Amount, "deposit"),
			}
		case OpWithdrawal, OpPayment:
			if err := ensureFunds(op, src, req.Amount); err != nil {
				return err
			}
			verb := "Withdrawal"
			if req.Type == OpPayment {
				verb = "Payment"
			}
			d.defaultDescription("%s from %s", verb, src.AccountNumber)
			d.lines = []line{
				debit(coa.CodeCustomerDepositsLiab, "", req.Amount, "withdrawal"),
				credit(coa.CodeCustomerDepositsAsset, src.ID, req.Amount, "withdrawal"),
			}
		case OpTransfer:
			if err := ensureFunds(op, src, req.Amount); err != nil {
				return err
			}
			dst := accounts[req.ToAccountID]
			d.defaultDescription("Transfer to %s", dst.AccountNumber)
			d.lines = []line{
				debit(coa.CodeCustomerDepositsAsset, dst.ID, req.Amount, "transfer in from "+src.AccountNumber),
				credit(coa.CodeCustomerDepositsAsset, src.ID, req.Amount, "transfer out to "+dst.AccountNumber),
			}
		}

		je, err = e.commit(ctx, tx, d, accounts)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, je)
	return je, nil
}

func (d *draft) defaultDescription(format string, args ...any) {
	if d.description == "" {
		d.description = fmt.Sprintf(format, args...)
	}
}

// DisburseRequest pays an approved loan out to the borrower's account.
type DisburseRequest struct {
	LoanNumber    string          `json:"loan_number"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// DisburseLoan credits the borrower, persists the installment schedule and activates the loan,
// all in one unit of work.
func (e *Engine) DisburseLoan(ctx context.Context, req DisburseRequest) (je *JournalEntry, err error) {
	const op = "ledger.DisburseLoan"
	started := time.Now()
	defer func() { e.finish(OpLoanDisbursement, started, je, err) }()

	if req.LoanNumber == "" || req.AccountID == "" {
		return nil, errs.Validation(op, "loan number and account id are required")
	}
	if !req.Amount.IsZero() {
		if err := money.ValidateAmount(req.Amount); err != nil {
			return nil, errs.Validation(op, "%v", err)
		}
	}

	groups := [][]string{{loanKey(req.LoanNumber)}, {accountKey(req.AccountID)}}
	err = e.unit(ctx, OpLoanDisbursement, groups, func(ctx context.Context, tx Tx) error {
		loan, err := tx.LockLoan(ctx, req.LoanNumber)
		if err != nil {
			return err
		}
		if loan.Status != LoanApproved {
			return errs.Validation(op, "loan %s already disbursed (status %s)", loan.LoanNumber, loan.Status)
		}
		if loan.AccountID != req.AccountID {
			return errs.Validation(op, "account %s is not the borrower of loan %s", req.AccountID, loan.LoanNumber)
		}
		if !req.Amount.IsZero() && !req.Amount.Equal(loan.Principal) {
			return errs.Validation(op, "disbursement %s does not match principal %s",
				req.Amount.StringFixed(2), loan.Principal.StringFixed(2))
		}
		accounts, err := lockAccounts(ctx, tx, op, req.AccountID)
		if err != nil {
			return err
		}
		borrower := accounts[req.AccountID]

		now := e.now().UTC()
		sched, err := amortization.GenerateSchedule(amortization.Terms{
			Principal:    loan.Principal,
			AnnualRate:   loan.AnnualRate,
			TenureMonths: loan.TenureMonths,
			Start:        now,
		})
		if err != nil {
			return errs.Validation(op, "%v", err)
		}
		if err := tx.InsertInstallments(ctx, loan, installmentsFrom(loan, sched)); err != nil {
			return err
		}

		je, err = e.commit(ctx, tx, draft{
			op:            OpLoanDisbursement,
			reference:     "LOAN-DISB-" + loan.LoanNumber,
			description:   "Loan disbursement - " + loan.LoanNumber,
			transactionID: req.TransactionID,
			lines: []line{
				debit(coa.CodeCustomerDepositsLiab, borrower.ID, loan.Principal, "loan disbursement"),
				credit(coa.CodeLoansReceivable, "", loan.Principal, "loan disbursement"),
			},
		}, accounts)
		if err != nil {
			return err
		}

		loan.Status = LoanActive
		loan.DisbursedAt = &now
		loan.MonthlyInstallment = sched.Installment
		loan.AmountPaid = decimal.Zero
		loan.AmountRemaining = sched.TotalPayable
		loan.UpdatedAt = now
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, je)
	return je, nil
}

func installmentsFrom(loan *Loan, s *amortization.Schedule) []*Installment {
	out := make([]*Installment, 0, len(s.Installments))
	for _, row := range s.Installments {
		out = append(out, &Installment{
			ID:         uuid.NewString(),
			LoanID:     loan.ID,
			LoanNumber: loan.LoanNumber,
			Number:     row.Number,
			DueDate:    row.DueDate,
			Principal:  row.Principal,
			Interest:   row.Interest,
			Total:      row.Total,
			PaidAmount: decimal.Zero,
		})
	}
	return out
}

// InstallmentPosting is a raw installment payment, for callers that track schedules themselves.
type InstallmentPosting struct {
	Principal     decimal.Decimal `json:"principal"`
	Interest      decimal.Decimal `json:"interest"`
	AccountID     string          `json:"account_id"`
	LoanNumber    string          `json:"loan_number"`
	TransactionID string          `json:"transaction_id,omitempty"`
}

// PostInstallmentPayment posts principal and interest against an active loan without touching its
// schedule.
func (e *Engine) PostInstallmentPayment(ctx context.Context, req InstallmentPosting) (je *JournalEntry, err error) {
	const op = "ledger.PostInstallmentPayment"
	started := time.Now()
	defer func() { e.finish(OpInstallmentPayment, started, je, err) }()

	if req.LoanNumber == "" || req.AccountID == "" {
		return nil, errs.Validation(op, "loan number and account id are required")
	}
	if err := money.ValidateAmount(req.Principal); err != nil {
		return nil, errs.Validation(op, "principal: %v", err)
	}
	if req.Interest.IsNegative() || !money.HasCurrencyPrecision(req.Interest) {
		return nil, errs.Validation(op, "interest must be a non-negative currency amount, got %s", req.Interest)
	}
	reference := e.refs.Next("EMI-PAY-" + req.LoanNumber + "-")

	groups := [][]string{{loanKey(req.LoanNumber)}, {accountKey(req.AccountID)}}
	err = e.unit(ctx, OpInstallmentPayment, groups, func(ctx context.Context, tx Tx) error {
		loan, err := tx.LockLoan(ctx, req.LoanNumber)
		if err != nil {
			return err
		}
		if loan.Status != LoanActive {
			return errs.Validation(op, "loan %s is %s", loan.LoanNumber, loan.Status)
		}
		accounts, err := lockAccounts(ctx, tx, op, req.AccountID)
		if err != nil {
			return err
		}
		payer := accounts[req.AccountID]
		total := req.Principal.Add(req.Interest)
		if err := ensureFunds(op, payer, total); err != nil {
			return err
		}
		je, err = e.commit(ctx, tx, draft{
			op:            OpInstallmentPayment,
			reference:     reference,
			description:   "EMI payment - " + loan.LoanNumber,
			transactionID: req.TransactionID,
			lines:         installmentLines(payer.ID, req.Principal, req.Interest),
		}, accounts)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, je)
	return je, nil
}

// installmentLines debits the deposit liability for the total and credits principal and interest
// to their own GL accounts. A zero interest portion gets no line.
func installmentLines(accountID string, principal, interest decimal.Decimal) []line {
	total := principal.Add(interest)
	lines := []line{
		debit(coa.CodeCustomerDepositsLiab, "", total, "installment payment"),
		credit(coa.CodeLoansReceivable, accountID, principal, "principal"),
	}
	if interest.IsPositive() {
		lines = append(lines, credit(coa.CodeInterestIncome, accountID, interest, "interest"))
	}
	return lines
}
