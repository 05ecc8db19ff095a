package auth

import (
	"context"
	"net/http"
	"strings"
)

type authInfoKey struct{}

// AuthInfo is the authenticated caller, attached to the request context.
type AuthInfo struct {
	Subject  string
	ClientID string
	Scopes   map[string]struct{}
}

// HasScope reports whether the caller was granted s.
func (a *AuthInfo) HasScope(s string) bool {
	_, ok := a.Scopes[s]
	return ok
}

func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	ai, ok := ctx.Value(authInfoKey{}).(*AuthInfo)
	return ai, ok
}

// WithAuthInfo returns a context carrying ai.
func WithAuthInfo(ctx context.Context, ai *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey{}, ai)
}

type callerSlotKey struct{}

type callerSlot struct{ ai *AuthInfo }

// TrackCaller returns a context in which a later Authenticate records the caller, and a function
// that reports it once the request has been served. Middleware that runs outside Authenticate
// uses it to learn who made the request.
func TrackCaller(ctx context.Context) (context.Context, func() *AuthInfo) {
	slot := &callerSlot{}
	return context.WithValue(ctx, callerSlotKey{}, slot), func() *AuthInfo { return slot.ai }
}

// ErrorWriter renders an auth failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code string)

func Authenticate(v *JWTValidator, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			authz := r.Header.Get("Authorization")
			if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := v.Validate(strings.TrimSpace(authz[len("Bearer "):]))
			if err != nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			ai := &AuthInfo{Subject: claims.Subject, ClientID: claims.ClientID, Scopes: claims.ScopeSet()}
			if slot, ok := r.Context().Value(callerSlotKey{}).(*callerSlot); ok {
				slot.ai = ai
			}
			next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), ai)))
		})
	}
}

// RequireScopes lets the request through only when every scope was granted.
func RequireScopes(onError ErrorWriter, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai, ok := AuthInfoFromContext(r.Context())
			if !ok {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			for _, s := range required {
				if !ai.HasScope(s) {
					onError(w, r, http.StatusForbidden, "forbidden")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
