package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationType names the business event a journal entry records.
type OperationType string

const (
	OpDeposit            OperationType = "DEPOSIT"
	OpWithdrawal         OperationType = "WITHDRAWAL"
	OpPayment            OperationType = "PAYMENT"
	OpTransfer           OperationType = "TRANSFER"
	OpLoanDisbursement   OperationType = "LOAN_DISBURSEMENT"
	OpInstallmentPayment OperationType = "INSTALLMENT_PAYMENT"
)

// Known reports whether o is one of the operation types above.
func (o OperationType) Known() bool {
	switch o {
	case OpDeposit, OpWithdrawal, OpPayment, OpTransfer, OpLoanDisbursement, OpInstallmentPayment:
		return true
	}
	return false
}

// AccountType is the product type of a customer account.
type AccountType string

const (
	AccountSavings  AccountType = "SAVINGS"
	AccountChecking AccountType = "CHECKING"
)

// AccountStatus gates whether an account may take part in postings.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

// Account is a customer-facing account. Balance is a cache of Σ(debit − credit) over the ledger
// lines tagged to it and is only written inside the unit of work that writes those lines.
type Account struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	AccountType   AccountType     `json:"account_type"`
	OwnerID       string          `json:"owner_id,omitempty"`
	Currency      string          `json:"currency"`
	Status        AccountStatus   `json:"status"`
	Balance       decimal.Decimal `json:"balance"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// JournalEntry is one atomic, balanced business event.
type JournalEntry struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	EntryDate     time.Time       `json:"entry_date"`
	Description   string          `json:"description"`
	OperationType OperationType   `json:"operation_type"`
	TransactionID string          `json:"transaction_id,omitempty"`
	TotalDebit    decimal.Decimal `json:"total_debit"`
	TotalCredit   decimal.Decimal `json:"total_credit"`
	Balanced      bool            `json:"balanced"`
	Lines         []LedgerEntry   `json:"lines"`
}

// LedgerEntry is one posting line. Exactly one of Debit and Credit is non-zero. AccountID is
// set when the line moves money on a customer account; BalanceAfter is that account's balance
// right after the line was applied.
type LedgerEntry struct {
	ID             string              `json:"id"`
	JournalEntryID string              `json:"journal_entry_id"`
	LineNumber     int                 `json:"line_number"`
	GLCode         string              `json:"gl_code"`
	AccountID      string              `json:"account_id,omitempty"`
	Debit          decimal.Decimal     `json:"debit"`
	Credit         decimal.Decimal     `json:"credit"`
	BalanceAfter   decimal.NullDecimal `json:"balance_after"`
	Description    string              `json:"description,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Signed returns debit − credit.
func (l LedgerEntry) Signed() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// LoanStatus tracks a loan from approval to closure.
type LoanStatus string

const (
	LoanApproved LoanStatus = "APPROVED"
	LoanActive   LoanStatus = "ACTIVE"
	LoanClosed   LoanStatus = "CLOSED"
)

// Loan is the aggregate a schedule of installments belongs to.
type Loan struct {
	ID                 string          `json:"id"`
	LoanNumber         string          `json:"loan_number"`
	AccountID          string          `json:"account_id"`
	LoanType           string          `json:"loan_type"`
	Principal          decimal.Decimal `json:"principal"`
	AnnualRate         decimal.Decimal `json:"annual_rate"`
	TenureMonths       int             `json:"tenure_months"`
	MonthlyInstallment decimal.Decimal `json:"monthly_installment"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	AmountRemaining    decimal.Decimal `json:"amount_remaining"`
	Status             LoanStatus      `json:"status"`
	DisbursedAt        *time.Time      `json:"disbursed_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Installment is one row of a loan's EMI schedule. Paid flips to true exactly once.
type Installment struct {
	ID             string          `json:"id"`
	LoanID         string          `json:"loan_id"`
	LoanNumber     string          `json:"loan_number"`
	Number         int             `json:"number"`
	DueDate        time.Time       `json:"due_date"`
	Principal      decimal.Decimal `json:"principal"`
	Interest       decimal.Decimal `json:"interest"`
	Total          decimal.Decimal `json:"total"`
	Paid           bool            `json:"paid"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	JournalEntryID string          `json:"journal_entry_id,omitempty"`
	OverdueDays    int             `json:"overdue_days"`
	Version        int64           `json:"version"`
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	OwnerID string
	Status  AccountStatus
	Limit   int
	Offset  int
}
