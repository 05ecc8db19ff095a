package ledger

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReferenceGenerator produces unique, sortable identifiers for journal references, account
// numbers and loan numbers.
type ReferenceGenerator interface {
	Next(prefix string) string
}

// ULIDReferences generates prefix + ULID. ULIDs from one generator are strictly increasing.
type ULIDReferences struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy io.Reader
}

func NewULIDReferences(now func() time.Time) *ULIDReferences {
	if now == nil {
		now = time.Now
	}
	return &ULIDReferences{now: now, entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDReferences) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return prefix + ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}
