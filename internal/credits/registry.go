package credits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/docstore"
	"github.com/veltoai/founder-launch/internal/kvcache"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Store          docstore.Store
	Cache          kvcache.Cache
	NotifyDebounce time.Duration
	Outbox         OutboxOptions
	Now            func() time.Time
	// IdleTimeout closes sessions that have not been opened or changed for
	// this long. Zero keeps sessions until sign-out.
	IdleTimeout time.Duration
}

// Registry is the process-wide session context: it holds one Ledger per
// identity and the shared subject, bus and outbox they use.
type Registry struct {
	store   docstore.Store
	cache   kvcache.Cache
	subject *Subject
	bus     *Bus
	outbox  *Outbox
	now     func() time.Time
	idle    time.Duration

	mu      sync.Mutex
	ledgers map[string]*Ledger
}

// NewRegistry wires the shared collaborators. Call Start to begin background
// delivery and cache watching.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Store == nil || opts.Cache == nil {
		return nil, fmt.Errorf("credit registry requires a document store and a cache")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Outbox.Now == nil {
		opts.Outbox.Now = opts.Now
	}
	subject := NewSubject(opts.NotifyDebounce)
	return &Registry{
		store:   opts.Store,
		cache:   opts.Cache,
		subject: subject,
		bus:     NewBus(subject),
		outbox:  NewOutbox(opts.Store, opts.Outbox),
		now:     opts.Now,
		idle:    opts.IdleTimeout,
		ledgers: make(map[string]*Ledger),
	}, nil
}

// Start runs the outbox, the idle session sweep and, when the cache is shared
// storage, the cache watcher. It returns once they are running; they stop
// with ctx.
func (r *Registry) Start(ctx context.Context) error {
	if watchable, ok := r.cache.(kvcache.Watchable); ok {
		if err := WatchCache(ctx, watchable, r.subject); err != nil {
			return fmt.Errorf("watch credit cache: %w", err)
		}
	}
	go r.outbox.Run(ctx)
	if r.idle > 0 {
		go r.sweepIdle(ctx)
	}
	return nil
}

func (r *Registry) sweepIdle(ctx context.Context) {
	ticker := time.NewTicker(max(r.idle/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := r.EvictIdle(ctx); len(evicted) > 0 {
				log.Debug().Int("count", len(evicted)).Msg("Closed idle credit sessions")
			}
		}
	}
}

// EvictIdle closes every session idle for longer than the idle timeout and
// returns their identities.
func (r *Registry) EvictIdle(ctx context.Context) []string {
	if r.idle <= 0 {
		return nil
	}
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var idle []*Ledger
	for id, l := range r.ledgers {
		if l.LastUsed().Before(cutoff) {
			idle = append(idle, l)
			delete(r.ledgers, id)
		}
	}
	r.mu.Unlock()

	evicted := make([]string, 0, len(idle))
	for _, l := range idle {
		l.Close(ctx)
		evicted = append(evicted, l.Identity())
	}
	sort.Strings(evicted)
	sessionsEvicted.Add(float64(len(evicted)))
	return evicted
}

// Subject returns the shared change subject.
func (r *Registry) Subject() *Subject { return r.subject }

// Outbox returns the shared remote write outbox.
func (r *Registry) Outbox() *Outbox { return r.outbox }

// Store returns the document store.
func (r *Registry) Store() docstore.Store { return r.store }

// Open returns the loaded ledger for identity, creating it on first use.
func (r *Registry) Open(ctx context.Context, identity string) (*Ledger, error) {
	identity = ResolveIdentity(identity)

	r.mu.Lock()
	l, ok := r.ledgers[identity]
	if !ok {
		var err error
		l, err = NewLedger(LedgerOptions{
			Identity: identity,
			Store:    r.store,
			Cache:    r.cache,
			Outbox:   r.outbox,
			Subject:  r.subject,
			Signal:   r.bus,
			Now:      r.now,
		})
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.ledgers[identity] = l
	}
	r.mu.Unlock()

	l.touch()
	l.Load(ctx)
	return l, nil
}

// Get returns an open ledger without loading.
func (r *Registry) Get(identity string) (*Ledger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[ResolveIdentity(identity)]
	return l, ok
}

// Identities lists identities with an open ledger.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ledgers))
	for id := range r.ledgers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close ends identity's session (sign-out). Its pending remote write stays
// queued.
func (r *Registry) Close(ctx context.Context, identity string) {
	identity = ResolveIdentity(identity)
	r.mu.Lock()
	l, ok := r.ledgers[identity]
	delete(r.ledgers, identity)
	r.mu.Unlock()
	if ok {
		l.Close(ctx)
	}
}

// Delete removes identity's credit record everywhere (account deletion).
func (r *Registry) Delete(ctx context.Context, identity string) error {
	identity = ResolveIdentity(identity)
	r.Close(ctx, identity)
	r.outbox.Discard(UsersCollection, identity)

	var errs []error
	if err := r.cache.Delete(CacheKey(identity)); err != nil {
		errs = append(errs, fmt.Errorf("delete credit cache: %w", err))
	}
	if err := r.store.Delete(ctx, UsersCollection, identity); err != nil {
		errs = append(errs, fmt.Errorf("%w: delete credit record: %v", ErrRemoteUnavailable, err))
	}
	if len(errs) == 0 {
		log.Info().Str("identity", identity).Msg("Credit record deleted")
	}
	return errors.Join(errs...)
}

// Shutdown closes every session and flushes the outbox.
func (r *Registry) Shutdown(ctx context.Context) error {
	for _, id := range r.Identities() {
		r.Close(ctx, id)
	}
	err := r.outbox.Flush(ctx)
	r.subject.Close()
	return err
}
