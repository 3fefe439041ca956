package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veltoai/founder-launch/internal/docstore"
)

const (
	// UsageCollection holds the usage history document.
	UsageCollection = "usage_events"
	usageHistoryID  = "history"
	storeTimeout    = 10 * time.Second
)

// DocumentPersistence keeps the usage history as a single document in the
// document store.
type DocumentPersistence struct {
	store docstore.Store
}

// NewDocumentPersistence returns a Persistence backed by store.
func NewDocumentPersistence(store docstore.Store) *DocumentPersistence {
	return &DocumentPersistence{store: store}
}

// SaveUsageHistory replaces the stored history with events.
func (p *DocumentPersistence) SaveUsageHistory(events []UsageEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	doc := docstore.Document{
		"events":    events,
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.store.Set(ctx, UsageCollection, usageHistoryID, doc, false); err != nil {
		return fmt.Errorf("save usage history: %w", err)
	}
	return nil
}

// LoadUsageHistory returns the stored history. A missing document is an empty history.
func (p *DocumentPersistence) LoadUsageHistory() ([]UsageEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	doc, err := p.store.Get(ctx, UsageCollection, usageHistoryID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage history: %w", err)
	}

	raw, ok := doc["events"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode usage history: %w", err)
	}
	var events []UsageEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode usage history: %w", err)
	}
	return events, nil
}
