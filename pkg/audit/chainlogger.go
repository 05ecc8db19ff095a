package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// LogEntry represents a single audit log entry
type LogEntry struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger provides a tamper-evident log: every entry carries the hash of the one before it.
// Entries are optionally streamed to a writer as JSON lines.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sequence     uint64
	now          func() time.Time
	enc          *json.Encoder
}

type Option func(*ChainLogger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *ChainLogger) { c.now = now }
}

// WithWriter streams each appended entry to w as one JSON line.
func WithWriter(w io.Writer) Option {
	return func(c *ChainLogger) { c.enc = json.NewEncoder(w) }
}

// Resume continues an existing chain after its last entry.
func Resume(last *LogEntry) Option {
	return func(c *ChainLogger) {
		if last != nil {
			c.previousHash = last.Hash
			c.sequence = last.Sequence
		}
	}
}

// NewChainLogger creates a new ChainLogger initialized with the genesis hash.
func NewChainLogger(opts ...Option) *ChainLogger {
	c := &ChainLogger{previousHash: GenesisHash, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds a new log entry to the chain. The entry is linked even when writing it out fails;
// the error tells the caller the persisted copy has a gap.
func (c *ChainLogger) Append(payload string) (*LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entry := &LogEntry{
		Sequence:     c.sequence,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = hashOf(entry, entry.PreviousHash)
	c.previousHash = entry.Hash

	if c.enc != nil {
		if err := c.enc.Encode(entry); err != nil {
			return entry, fmt.Errorf("audit: write entry %d: %w", entry.Sequence, err)
		}
	}
	return entry, nil
}

// Head returns the hash of the most recent entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func hashOf(e *LogEntry, prev string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", e.Sequence, prev, e.Timestamp, e.Payload)))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
func VerifyChain(entries []*LogEntry) bool {
	return FirstBreak(entries) < 0
}

// FirstBreak returns the index of the first entry that does not link to its predecessor or whose
// hash does not match its contents, or -1 when the chain is intact.
func FirstBreak(entries []*LogEntry) int {
	for i, entry := range entries {
		prev := entry.PreviousHash
		if i > 0 {
			prev = entries[i-1].Hash
			if entry.PreviousHash != prev || entry.Sequence != entries[i-1].Sequence+1 {
				return i
			}
		}
		if hashOf(entry, prev) != entry.Hash {
			return i
		}
	}
	return -1
}

// ReadChain decodes JSON-line entries as written by WithWriter.
func ReadChain(r io.Reader) ([]*LogEntry, error) {
	var out []*LogEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("audit: decode entry %d: %w", len(out)+1, err)
		}
		out = append(out, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: read chain: %w", err)
	}
	return out, nil
}
