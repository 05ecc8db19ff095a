package security

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader carries the id that ties a request to its log lines, its audit entry and the
// transaction id of any journal it posts.
const CorrelationIDHeader = "X-Correlation-ID"

const maxCorrelationIDLen = 64

type correlationKey struct{}

// CorrelationID adopts the caller's id when it is usable and mints a UUID otherwise. The id is
// echoed in the response header.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if !usableCorrelationID(cid) {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), cid)))
	})
}

func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationKey{}, cid)
}

func CorrelationIDFromContext(ctx context.Context) string {
	cid, _ := ctx.Value(correlationKey{}).(string)
	return cid
}

// usableCorrelationID accepts short printable ASCII without spaces. Anything else could split an
// audit payload or a logfmt line.
func usableCorrelationID(s string) bool {
	if s == "" || len(s) > maxCorrelationIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}
