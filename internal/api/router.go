package api

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/amortization"
	"github.com/example/bank-ledger/internal/auth"
	"github.com/example/bank-ledger/internal/coa"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/security"
)

// Ledger is the posting engine as the HTTP layer sees it.
type Ledger interface {
	OpenAccount(ctx context.Context, req ledger.OpenAccountRequest) (*ledger.Account, error)
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	ListAccounts(ctx context.Context, f ledger.AccountFilter) ([]*ledger.Account, error)
	AccountStatement(ctx context.Context, accountID string, limit int) (*ledger.Statement, error)
	GetJournalEntry(ctx context.Context, id string) (*ledger.JournalEntry, error)
	Post(ctx context.Context, req ledger.PostRequest) (*ledger.JournalEntry, error)
	ChartOfAccounts(ctx context.Context) ([]coa.Account, error)
	CreateLoan(ctx context.Context, req ledger.CreateLoanRequest) (*ledger.Loan, error)
	GetLoan(ctx context.Context, loanNumber string) (*ledger.Loan, error)
	ListInstallments(ctx context.Context, loanNumber string) ([]*ledger.Installment, error)
	DisburseLoan(ctx context.Context, req ledger.DisburseRequest) (*ledger.JournalEntry, error)
	SettleInstallment(ctx context.Context, req ledger.SettleRequest) (*ledger.Settlement, error)
	PreviewSchedule(terms amortization.Terms) (*amortization.Schedule, error)
}

// Books is the balance validator.
type Books interface {
	ValidateJournalEntries(ctx context.Context) (*ledger.JournalReport, error)
	ValidateJournalEntry(ctx context.Context, id string) (*ledger.JournalCheck, error)
	ValidateAccountBalances(ctx context.Context) (*ledger.AccountBalanceReport, error)
	ValidateTrialBalance(ctx context.Context) (*ledger.TrialBalance, error)
	ReconcileAccount(ctx context.Context, accountID string) (*ledger.Reconciliation, error)
}

type Dependencies struct {
	Logger       *zap.Logger
	Ledger       Ledger
	Books        Books
	JWTValidator *auth.JWTValidator

	Auditor        Auditor
	RateLimiter    *security.RedisTokenBucket
	AdminAllowlist security.Allowlist
	MaxBodyBytes   int64
}

type validators struct {
	openAccount, posting, createLoan, disburse, settle, preview *security.JSONSchemaValidator
}

func compileValidators() (*validators, error) {
	var v validators
	for _, s := range []struct {
		dst    **security.JSONSchemaValidator
		name   string
		schema string
	}{
		{&v.openAccount, "open_account.json", openAccountSchema},
		{&v.posting, "posting.json", postingSchema},
		{&v.createLoan, "create_loan.json", createLoanSchema},
		{&v.disburse, "disburse.json", disburseSchema},
		{&v.settle, "settle.json", settleSchema},
		{&v.preview, "schedule_preview.json", schedulePreviewSchema},
	} {
		compiled, err := security.NewJSONSchemaValidator(s.name, s.schema)
		if err != nil {
			return nil, err
		}
		*s.dst = compiled
	}
	return &v, nil
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	v, err := compileValidators()
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteError(w, r, status, code, "")
	}
	scopes := func(s ...string) func(http.Handler) http.Handler {
		return auth.RequireScopes(onAuthError, s...)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor, deps.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))

		r.Route("/accounts", func(r chi.Router) {
			r.With(scopes(auth.ScopeLedgerRead)).Get("/", handleListAccounts(deps))
			r.With(scopes(auth.ScopeLedgerWrite), v.openAccount.Middleware).Post("/", handleOpenAccount(deps))
			r.With(scopes(auth.ScopeLedgerRead)).Get("/{id}", handleGetAccount(deps))
			r.With(scopes(auth.ScopeLedgerRead)).Get("/{id}/statement", handleStatement(deps))
			r.With(scopes(auth.ScopeLedgerAdmin), deps.AdminAllowlist.Middleware).
				Post("/{id}/reconcile", handleReconcile(deps))
		})

		r.With(scopes(auth.ScopeLedgerWrite), v.posting.Middleware).Post("/postings", handlePost(deps))
		r.With(scopes(auth.ScopeLedgerRead)).Get("/journal-entries/{id}", handleGetJournal(deps))
		r.With(scopes(auth.ScopeLedgerRead)).Get("/chart-of-accounts", handleChart(deps))

		r.Route("/loans", func(r chi.Router) {
			r.With(scopes(auth.ScopeLoansWrite), v.createLoan.Middleware).Post("/", handleCreateLoan(deps))
			r.With(scopes(auth.ScopeLedgerRead)).Get("/{loanNumber}", handleGetLoan(deps))
			r.With(scopes(auth.ScopeLoansWrite), v.disburse.Middleware).Post("/{loanNumber}/disburse", handleDisburse(deps))
			r.With(scopes(auth.ScopeLoansWrite), emptyBodyAsObject, v.settle.Middleware).
				Post("/{loanNumber}/installments/{n}/settle", handleSettle(deps))
		})

		r.With(scopes(auth.ScopeLedgerRead), v.preview.Middleware).Post("/schedules/preview", handlePreviewSchedule(deps))

		r.With(scopes(auth.ScopeLedgerAudit)).Route("/validation", validationRoutes(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteError(w, r, http.StatusNotFound, "not_found", "")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})

	return r, nil
}

// emptyBodyAsObject lets callers omit the body of requests whose fields are all optional.
func emptyBodyAsObject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.ContentLength == 0 {
			r.Body = io.NopCloser(bytes.NewReader([]byte("{}")))
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
