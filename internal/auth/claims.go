package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes understood by the ledger API.
const (
	ScopeLedgerRead  = "ledger:read"
	ScopeLedgerWrite = "ledger:write"
	ScopeLoansWrite  = "loans:write"
	ScopeLedgerAudit = "ledger:audit"
	ScopeLedgerAdmin = "ledger:admin"
)

// AccessTokenClaims are the claims of a bearer token. Scopes may arrive as a "scopes" array or an
// OAuth style space separated "scope" string.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes,omitempty"`
	Scope    string   `json:"scope,omitempty"`
}

// ScopeSet merges both scope encodings.
func (c *AccessTokenClaims) ScopeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		set[s] = struct{}{}
	}
	for _, s := range strings.Fields(c.Scope) {
		set[s] = struct{}{}
	}
	return set
}
