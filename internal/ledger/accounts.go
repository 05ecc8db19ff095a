package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/errs"
	"github.com/example/bank-ledger/internal/locking"
	"github.com/example/bank-ledger/internal/money"
)

// OpenAccountRequest opens a customer account with a zero balance.
type OpenAccountRequest struct {
	AccountName   string      `json:"account_name"`
	AccountType   AccountType `json:"account_type"`
	OwnerID       string      `json:"owner_id,omitempty"`
	Currency      string      `json:"currency,omitempty"`
	AccountNumber string      `json:"account_number,omitempty"`
}

func (e *Engine) OpenAccount(ctx context.Context, req OpenAccountRequest) (*Account, error) {
	const op = "ledger.OpenAccount"
	if strings.TrimSpace(req.AccountName) == "" {
		return nil, errs.Validation(op, "account name is required")
	}
	switch req.AccountType {
	case "":
		req.AccountType = AccountSavings
	case AccountSavings, AccountChecking:
	default:
		return nil, errs.Validation(op, "unsupported account type %q", req.AccountType)
	}
	if req.Currency == "" {
		req.Currency = money.DefaultCurrency
	}
	if req.Currency != money.DefaultCurrency {
		return nil, errs.Validation(op, "only %s accounts are supported", money.DefaultCurrency)
	}

	now := e.now().UTC()
	a := &Account{
		ID:            uuid.NewString(),
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		AccountType:   req.AccountType,
		OwnerID:       req.OwnerID,
		Currency:      req.Currency,
		Status:        AccountActive,
		Balance:       decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if a.AccountNumber == "" {
		a.AccountNumber = e.refs.Next("ACC")
	}
	err := locking.Retry(ctx, e.retry, func(ctx context.Context) error {
		return e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertAccount(ctx, a)
		})
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("account opened", zap.String("account_id", a.ID), zap.String("account_number", a.AccountNumber))
	return a, nil
}

func (e *Engine) GetAccount(ctx context.Context, id string) (*Account, error) {
	return e.store.GetAccount(ctx, id)
}

func (e *Engine) ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return e.store.ListAccounts(ctx, f)
}

// Statement is an account with its most recent ledger lines, newest first.
type Statement struct {
	Account *Account      `json:"account"`
	Lines   []LedgerEntry `json:"lines"`
}

func (e *Engine) AccountStatement(ctx context.Context, accountID string, limit int) (*Statement, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	lines, err := e.store.AccountLines(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	return &Statement{Account: a, Lines: lines}, nil
}

// GetJournalEntry returns a journal entry with its lines.
func (e *Engine) GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error) {
	return e.store.GetJournalEntry(ctx, id)
}
