package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type reportResponse struct {
	CorrelationID string `json:"correlation_id"`
	Report        any    `json:"report"`
}

// reportHandler serves one read-only validation report.
func reportHandler(deps Dependencies, run func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := run(r)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, reportResponse{CorrelationID: cid(r), Report: rep})
	}
}

func validationRoutes(deps Dependencies) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/journal-entries", reportHandler(deps, func(r *http.Request) (any, error) {
			return deps.Books.ValidateJournalEntries(r.Context())
		}))
		r.Get("/journal-entries/{id}", reportHandler(deps, func(r *http.Request) (any, error) {
			return deps.Books.ValidateJournalEntry(r.Context(), chi.URLParam(r, "id"))
		}))
		r.Get("/accounts", reportHandler(deps, func(r *http.Request) (any, error) {
			return deps.Books.ValidateAccountBalances(r.Context())
		}))
		r.Get("/trial-balance", reportHandler(deps, func(r *http.Request) (any, error) {
			return deps.Books.ValidateTrialBalance(r.Context())
		}))
	}
}

func handleReconcile(deps Dependencies) http.HandlerFunc {
	return reportHandler(deps, func(r *http.Request) (any, error) {
		return deps.Books.ReconcileAccount(r.Context(), chi.URLParam(r, "id"))
	})
}
