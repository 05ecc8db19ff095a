package events

import (
	"context"
	"fmt"

	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/pkg/audit"
)

// AuditRecorder appends every committed journal entry to a hash chain.
type AuditRecorder struct {
	chain *audit.ChainLogger
}

func NewAuditRecorder(chain *audit.ChainLogger) *AuditRecorder {
	return &AuditRecorder{chain: chain}
}

// JournalPosted implements ledger.PostingObserver.
func (a *AuditRecorder) JournalPosted(_ context.Context, je *ledger.JournalEntry) error {
	_, err := a.chain.Append(journalPayload(je))
	return err
}

func journalPayload(je *ledger.JournalEntry) string {
	payload := fmt.Sprintf("journal=%s reference=%s op=%s debit=%s credit=%s lines=%d",
		je.ID, je.Reference, je.OperationType,
		je.TotalDebit.StringFixed(2), je.TotalCredit.StringFixed(2), len(je.Lines))
	if je.TransactionID != "" {
		payload += " txn=" + je.TransactionID
	}
	return payload
}
