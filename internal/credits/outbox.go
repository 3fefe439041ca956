package credits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/docstore"
)

const (
	DefaultOutboxRetryInterval = 30 * time.Second
	DefaultOutboxMaxAttempts   = 10
)

// OutboxOptions configures an Outbox.
type OutboxOptions struct {
	RetryInterval time.Duration
	MaxAttempts   int
	Now           func() time.Time
}

// outboxEntry is the latest pending write for one document. A newer write to
// the same document replaces the older one, since each carries full state.
type outboxEntry struct {
	ID          string
	Collection  string
	DocID       string
	Data        docstore.Document
	Attempts    int
	NextAttempt time.Time
	LastError   string
}

// PendingWrite describes an entry waiting in the outbox.
type PendingWrite struct {
	ID        string `json:"id"`
	DocID     string `json:"docId"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

// Outbox delivers remote writes in the background with retry, so a failed
// write is visible (metrics, logs, Pending) rather than silently lost.
type Outbox struct {
	store         docstore.Store
	retryInterval time.Duration
	maxAttempts   int
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*outboxEntry // by collection/docID
	wake    chan struct{}
	flushMu sync.Mutex
}

// NewOutbox returns an Outbox writing to store.
func NewOutbox(store docstore.Store, opts OutboxOptions) *Outbox {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOutboxRetryInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOutboxMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Outbox{
		store:         store,
		retryInterval: opts.RetryInterval,
		maxAttempts:   opts.MaxAttempts,
		now:           opts.Now,
		entries:       make(map[string]*outboxEntry),
		wake:          make(chan struct{}, 1),
	}
}

func outboxKey(collection, docID string) string {
	return collection + "/" + docID
}

// Enqueue schedules a merge write of data. It never blocks on the store.
func (o *Outbox) Enqueue(collection, docID string, data docstore.Document) {
	o.mu.Lock()
	o.entries[outboxKey(collection, docID)] = &outboxEntry{
		ID:          ulid.Make().String(),
		Collection:  collection,
		DocID:       docID,
		Data:        data,
		NextAttempt: o.now(),
	}
	outboxPending.Set(float64(len(o.entries)))
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Discard drops any pending write for the document.
func (o *Outbox) Discard(collection, docID string) {
	o.mu.Lock()
	delete(o.entries, outboxKey(collection, docID))
	outboxPending.Set(float64(len(o.entries)))
	o.mu.Unlock()
}

// Pending lists entries not yet written, ordered by id.
func (o *Outbox) Pending() []PendingWrite {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingWrite, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, PendingWrite{ID: e.ID, DocID: e.DocID, Attempts: e.Attempts, LastError: e.LastError})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run delivers entries until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	ticker := time.NewTicker(o.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
			o.deliver(ctx, false)
		case <-ticker.C:
			o.deliver(ctx, false)
		}
	}
}

// Flush attempts every pending entry now, ignoring retry schedules, and
// returns the joined errors of entries that still failed.
func (o *Outbox) Flush(ctx context.Context) error {
	return o.deliver(ctx, true)
}

func (o *Outbox) deliver(ctx context.Context, force bool) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	now := o.now()
	o.mu.Lock()
	due := make([]outboxEntry, 0, len(o.entries))
	for _, e := range o.entries {
		if force || !e.NextAttempt.After(now) {
			due = append(due, *e)
		}
	}
	o.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	var errs []error
	for _, e := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		err := o.store.Set(ctx, e.Collection, e.DocID, e.Data, true)
		o.complete(e, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", e.Collection, e.DocID, err))
		}
	}
	return errors.Join(errs...)
}

// complete records the outcome of writing e. An entry replaced by a newer
// write while in flight is left for the newer write.
func (o *Outbox) complete(e outboxEntry, err error) {
	o.mu.Lock()
	defer func() {
		outboxPending.Set(float64(len(o.entries)))
		o.mu.Unlock()
	}()

	key := outboxKey(e.Collection, e.DocID)
	current, ok := o.entries[key]
	if !ok || current.ID != e.ID {
		return
	}
	if err == nil {
		delete(o.entries, key)
		return
	}

	remoteWriteFailures.Inc()
	current.Attempts++
	current.LastError = err.Error()
	if current.Attempts >= o.maxAttempts {
		delete(o.entries, key)
		remoteWritesDropped.Inc()
		log.Error().
			Err(fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)).
			Str("identity", e.DocID).
			Int("attempts", current.Attempts).
			Msg("Dropping credit record write after retries")
		return
	}
	current.NextAttempt = o.now().Add(o.retryInterval)
	log.Warn().
		Err(fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)).
		Str("identity", e.DocID).
		Int("attempt", current.Attempts).
		Time("next_attempt", current.NextAttempt).
		Msg("Credit record write failed, will retry")
}
