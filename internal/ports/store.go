package ports

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one durable cache document.
type Record struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    string          `json:"source"`
}

// DurableStore persists cache records across restarts. Records never expire
// on their own; they are replaced by Save or removed by Delete/Clear.
type DurableStore interface {
	// Load returns the record for key. Returns nil, nil if not found.
	Load(ctx context.Context, namespace, key string) (*Record, error)
	// Save writes the record, replacing any existing one.
	Save(ctx context.Context, namespace string, rec Record) error
	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error
	// Clear removes every record in a namespace.
	Clear(ctx context.Context, namespace string) error
}

// SignalRecord is one persisted per-symbol signal snapshot of a cycle.
type SignalRecord struct {
	CycleID    string          `json:"cycle_id"`
	Symbol     string          `json:"symbol"`
	Price      float64         `json:"price"`
	Provenance string          `json:"provenance"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SignalHistory persists computed signal snapshots for later inspection.
type SignalHistory interface {
	// SaveSignals stores every record of one cycle.
	SaveSignals(ctx context.Context, records []SignalRecord) error
	// RecentSignals returns the newest records for symbol, newest first.
	RecentSignals(ctx context.Context, symbol string, limit int) ([]SignalRecord, error)
}
