package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/auth"
	"github.com/example/bank-ledger/internal/security"
	"github.com/example/bank-ledger/pkg/audit"
)

// Auditor receives one chained entry per request.
type Auditor interface {
	Append(payload string) (*audit.LogEntry, error)
}

// AuditMiddleware records who called what and how it ended. Reads are recorded too, since the
// ledger:audit scope exists for them.
func AuditMiddleware(a Auditor, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			ctx, caller := auth.TrackCaller(r.Context())
			r = r.WithContext(ctx)

			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			subject := "-"
			if ai := caller(); ai != nil {
				subject = ai.Subject
			}
			cid := security.CorrelationIDFromContext(r.Context())
			payload := fmt.Sprintf("cid=%s subject=%s method=%s path=%s status=%d dur_ms=%d",
				cid, subject, r.Method, r.URL.Path, sw.status, dur.Milliseconds())
			if _, err := a.Append(payload); err != nil {
				logger.Error("audit append failed", zap.String("cid", cid), zap.Error(err))
			}
		})
	}
}
