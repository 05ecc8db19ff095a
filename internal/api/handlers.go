package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/amortization"
	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/security"
)

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *ledger.Account `json:"account"`
}

type listAccountsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Accounts      []*ledger.Account `json:"accounts"`
}

type statementResponse struct {
	CorrelationID string `json:"correlation_id"`
	*ledger.Statement
}

type journalResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Journal       *ledger.JournalEntry `json:"journal"`
}

type chartResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Accounts      []coa.Account `json:"accounts"`
}

type loanResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Loan          *ledger.Loan          `json:"loan"`
	Installments  []*ledger.Installment `json:"installments,omitempty"`
}

type settlementResponse struct {
	CorrelationID string `json:"correlation_id"`
	*ledger.Settlement
}

type scheduleResponse struct {
	CorrelationID string `json:"correlation_id"`
	*amortization.Schedule
}

type schedulePreviewRequest struct {
	Principal    decimal.Decimal `json:"principal"`
	AnnualRate   decimal.Decimal `json:"annual_rate"`
	TenureMonths int             `json:"tenure_months"`
	Start        *time.Time      `json:"start,omitempty"`
}

func cid(r *http.Request) string { return security.CorrelationIDFromContext(r.Context()) }

func queryInt(r *http.Request, name string) int {
	i, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return i
}

func handleOpenAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ledger.OpenAccountRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		a, err := deps.Ledger.OpenAccount(r.Context(), req)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, accountResponse{CorrelationID: cid(r), Account: a})
	}
}

func handleListAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		accounts, err := deps.Ledger.ListAccounts(r.Context(), ledger.AccountFilter{
			OwnerID: q.Get("owner_id"),
			Status:  ledger.AccountStatus(q.Get("status")),
			Limit:   queryInt(r, "limit"),
			Offset:  queryInt(r, "offset"),
		})
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listAccountsResponse{CorrelationID: cid(r), Accounts: accounts})
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, accountResponse{CorrelationID: cid(r), Account: a})
	}
}

func handleStatement(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Ledger.AccountStatement(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, statementResponse{CorrelationID: cid(r), Statement: st})
	}
}

func handlePost(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ledger.PostRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.TransactionID == "" {
			req.TransactionID = cid(r)
		}
		je, err := deps.Ledger.Post(r.Context(), req)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, journalResponse{CorrelationID: cid(r), Journal: je})
	}
}

func handleGetJournal(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		je, err := deps.Ledger.GetJournalEntry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, journalResponse{CorrelationID: cid(r), Journal: je})
	}
}

func handleChart(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Ledger.ChartOfAccounts(r.Context())
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, chartResponse{CorrelationID: cid(r), Accounts: accounts})
	}
}

func handleCreateLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ledger.CreateLoanRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		loan, err := deps.Ledger.CreateLoan(r.Context(), req)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, loanResponse{CorrelationID: cid(r), Loan: loan})
	}
}

func handleGetLoan(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := chi.URLParam(r, "loanNumber")
		loan, err := deps.Ledger.GetLoan(r.Context(), number)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		installments, err := deps.Ledger.ListInstallments(r.Context(), number)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, loanResponse{CorrelationID: cid(r), Loan: loan, Installments: installments})
	}
}

func handleDisburse(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ledger.DisburseRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.LoanNumber = chi.URLParam(r, "loanNumber")
		if req.TransactionID == "" {
			req.TransactionID = cid(r)
		}
		je, err := deps.Ledger.DisburseLoan(r.Context(), req)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, journalResponse{CorrelationID: cid(r), Journal: je})
	}
}

func handleSettle(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(chi.URLParam(r, "n"))
		if err != nil || n < 1 {
			security.WriteError(w, r, http.StatusBadRequest, "validation_error", "installment number must be a positive integer")
			return
		}
		var req ledger.SettleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.LoanNumber = chi.URLParam(r, "loanNumber")
		req.InstallmentNumber = n
		if req.TransactionID == "" {
			req.TransactionID = cid(r)
		}
		s, err := deps.Ledger.SettleInstallment(r.Context(), req)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, settlementResponse{CorrelationID: cid(r), Settlement: s})
	}
}

func handlePreviewSchedule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schedulePreviewRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		terms := amortization.Terms{Principal: req.Principal, AnnualRate: req.AnnualRate, TenureMonths: req.TenureMonths}
		if req.Start != nil {
			terms.Start = *req.Start
		}
		s, err := deps.Ledger.PreviewSchedule(terms)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, scheduleResponse{CorrelationID: cid(r), Schedule: s})
	}
}
