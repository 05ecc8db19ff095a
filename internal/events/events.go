// Package events publishes committed journal entries to downstream consumers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/bank-ledger/internal/ledger"
)

// EventJournalPosted is the only event type the ledger emits today.
const EventJournalPosted = "journal.posted"

// PostingEvent is the wire shape shared by every sink.
type PostingEvent struct {
	EventType     string               `json:"event_type"`
	Reference     string               `json:"reference"`
	OperationType ledger.OperationType `json:"operation_type"`
	Journal       *ledger.JournalEntry `json:"journal"`
	PublishedAt   time.Time            `json:"published_at"`
}

func encode(je *ledger.JournalEntry, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(PostingEvent{
		EventType:     EventJournalPosted,
		Reference:     je.Reference,
		OperationType: je.OperationType,
		Journal:       je,
		PublishedAt:   now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}
