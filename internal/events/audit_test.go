package events

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/pkg/audit"
)

func TestAuditRecorderChainsJournals(t *testing.T) {
	var buf bytes.Buffer
	rec := NewAuditRecorder(audit.NewChainLogger(audit.WithWriter(&buf)))

	first := sampleJournal()
	second := sampleJournal()
	second.ID, second.Reference, second.TransactionID = "je-2", "JE-02TEST", "txn-9"

	require.NoError(t, rec.JournalPosted(context.Background(), first))
	require.NoError(t, rec.JournalPosted(context.Background(), second))

	entries, err := audit.ReadChain(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, audit.VerifyChain(entries))
	assert.Equal(t, "journal=je-1 reference=JE-01TEST op=DEPOSIT debit=125.50 credit=125.50 lines=2", entries[0].Payload)
	assert.Contains(t, entries[1].Payload, "txn=txn-9")
}
