package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/veltoai/founder-launch/internal/docstore"
	"github.com/veltoai/founder-launch/internal/kvcache"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

// Status is the ledger's load state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoadingRemote
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoadingRemote:
		return "loading_remote"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Usage is a token split to record against the quota.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total is input plus output.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// LedgerOptions wires a Ledger to its collaborators. Store and Cache are
// required; the rest default to private instances.
type LedgerOptions struct {
	Identity string
	Store    docstore.Store
	Cache    kvcache.Cache
	Outbox   *Outbox
	Subject  *Subject // incoming notifications
	Signal   Signal   // outgoing in-process notifications
	Now      func() time.Time
	// LoadTimeout bounds each remote read. Defaults to DefaultLoadTimeout.
	LoadTimeout time.Duration
}

// DefaultLoadTimeout bounds remote reads made on behalf of a ledger.
const DefaultLoadTimeout = 10 * time.Second


// Ledger is the single owner of one identity's CreditState in a session.
// Operations are applied in call order.
type Ledger struct {
	identity string
	key      string
	origin   string

	store   docstore.Store
	cache   kvcache.Cache
	outbox  *Outbox
	subject *Subject
	signal  Signal
	now     func() time.Time

	loadTimeout time.Duration
	loadGroup   singleflight.Group

	mu     sync.Mutex
	status Status
	state  CreditState
	// degraded is set while the state came from the cache or defaults
	// because the remote record could not be read. baseline is that
	// fallback state, so the session's own usage can be replayed onto the
	// remote record once it is readable.
	degraded bool
	baseline CreditState
	lastUsed time.Time

	subID      string
	stopOutbox context.CancelFunc
	closeOnce  sync.Once
}

// NewLedger returns an unloaded Ledger for opts.Identity.
func NewLedger(opts LedgerOptions) (*Ledger, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("credit ledger requires a document store")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("credit ledger requires a cache")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}

	identity := ResolveIdentity(opts.Identity)
	l := &Ledger{
		identity: identity,
		key:      CacheKey(identity),
		origin:   uuid.NewString(),
		store:    opts.Store,
		cache:    opts.Cache,
		outbox:   opts.Outbox,
		subject:  opts.Subject,
		signal:   opts.Signal,
		now:      opts.Now,

		loadTimeout: opts.LoadTimeout,
		lastUsed:    opts.Now(),
	}
	if l.outbox == nil {
		ctx, cancel := context.WithCancel(context.Background())
		l.outbox = NewOutbox(opts.Store, OutboxOptions{Now: opts.Now})
		l.stopOutbox = cancel
		go l.outbox.Run(ctx)
	}
	if l.subject != nil {
		id, ch := l.subject.Subscribe()
		l.subID = id
		go l.consume(ch)
	}
	return l, nil
}

// Identity returns the identity this ledger belongs to.
func (l *Ledger) Identity() string { return l.identity }

// CacheKey returns the local cache key of this ledger's state.
func (l *Ledger) CacheKey() string { return l.key }

// Status returns the current load state.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Degraded reports whether the state was loaded without the remote record
// and no remote read has succeeded since.
func (l *Ledger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// LastUsed returns when the ledger was last opened or changed.
func (l *Ledger) LastUsed() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed
}

func (l *Ledger) touch() {
	l.mu.Lock()
	l.lastUsed = l.now()
	l.mu.Unlock()
}

// State returns the current state, or ErrNotLoaded.
func (l *Ledger) State() (CreditState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return CreditState{}, ErrNotLoaded
	}
	return l.state, nil
}

// Close stops listening for notifications. A degraded ledger makes one last
// attempt to publish its changes. Pending remote writes stay in a shared
// outbox; a private outbox is flushed first.
func (l *Ledger) Close(ctx context.Context) {
	l.closeOnce.Do(func() {
		if l.Status() == StatusReady {
			l.refreshIfDegraded(ctx)
		}
		if l.subject != nil {
			l.subject.Unsubscribe(l.subID)
		}
		if l.stopOutbox != nil {
			if err := l.outbox.Flush(ctx); err != nil {
				log.Warn().Err(err).Str("identity", l.identity).Msg("Credit writes still pending at close")
			}
			l.stopOutbox()
		}
	})
}

// Load resolves the state from the remote store, falling back to the local
// cache and then to a fresh state. It never fails: remote errors degrade to
// cached or default data. Concurrent calls share one load; calls after the
// ledger is ready return the current state. The shared load is not tied to
// the cancellation of whichever caller started it.
func (l *Ledger) Load(ctx context.Context) CreditState {
	l.mu.Lock()
	if l.status == StatusReady {
		s := l.state
		l.mu.Unlock()
		return s
	}
	l.status = StatusLoadingRemote
	l.mu.Unlock()

	v, _, _ := l.loadGroup.Do("load", func() (any, error) {
		// A load that finished while this caller was queued wins.
		l.mu.Lock()
		if l.status == StatusReady {
			s := l.state
			l.mu.Unlock()
			return s, nil
		}
		l.mu.Unlock()
		loadCtx, cancel := l.remoteContext(ctx)
		defer cancel()
		return l.load(loadCtx), nil
	})
	return v.(CreditState)
}

func (l *Ledger) load(ctx context.Context) CreditState {
	now := l.now()
	logger := log.With().Str("identity", l.identity).Logger()

	var (
		state        CreditState
		source       string
		writeRemote  bool
		remoteFailed bool
	)

	doc, err := l.store.Get(ctx, UsersCollection, l.identity)
	switch {
	case err == nil:
		state, err = fromDocument(doc, now)
		if err != nil {
			logger.Warn().Err(err).Msg("Remote credit record unreadable, using local data")
			state, source = l.cachedOrDefault(now)
			remoteFailed = true
		} else {
			source = "remote"
		}
	case errors.Is(err, docstore.ErrNotFound):
		state, source = NewCreditState(now), "new"
		writeRemote = true
	default:
		logger.Warn().Err(fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)).Msg("Falling back to local credit state")
		state, source = l.cachedOrDefault(now)
		remoteFailed = true
	}

	if reset, changed := CheckMonthlyReset(state, now); changed {
		state = reset
		monthlyResets.Inc()
		logger.Info().Str("period", state.PeriodKey).Str("tier", string(state.Tier)).Msg("Credit period rolled over on load")
		// A reset computed from stale local data must not overwrite the
		// remote record while it is unreachable.
		writeRemote = writeRemote || !remoteFailed
	}
	loadOutcomes.WithLabelValues(source).Inc()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.status = StatusReady
	l.degraded = remoteFailed
	l.baseline = state
	l.persistLocked(now, writeRemote)

	logger.Debug().
		Str("source", source).
		Bool("degraded", remoteFailed).
		Str("tier", string(state.Tier)).
		Int("used", state.QuotaUsedThisPeriod()).
		Msg("Credit state loaded")
	return state
}

func (l *Ledger) cachedOrDefault(now time.Time) (CreditState, string) {
	raw, ok := l.cache.Get(l.key)
	if !ok {
		return NewCreditState(now), "default"
	}
	entry, err := decodeCacheEntry(raw)
	if err != nil {
		log.Warn().Err(err).Str("identity", l.identity).Msg("Discarding malformed credit cache")
		if delErr := l.cache.Delete(l.key); delErr != nil {
			log.Warn().Err(delErr).Str("identity", l.identity).Msg("Failed to delete malformed credit cache")
		}
		return NewCreditState(now), "default"
	}
	return entry.State, "cache"
}

// remoteContext detaches ctx from its caller's cancellation and bounds it by
// the load timeout.
func (l *Ledger) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
}

// refreshIfDegraded retries the remote read of a degraded ledger. On success
// the session's usage is replayed onto the remote record and written back;
// on failure the ledger stays degraded and keeps its changes local.
func (l *Ledger) refreshIfDegraded(ctx context.Context) {
	if !l.Degraded() {
		return
	}
	readCtx, cancel := l.remoteContext(ctx)
	defer cancel()

	doc, err := l.store.Get(readCtx, UsersCollection, l.identity)
	now := l.now()
	logger := log.With().Str("identity", l.identity).Logger()

	var remote *CreditState
	switch {
	case err == nil:
		s, decodeErr := fromDocument(doc, now)
		if decodeErr != nil {
			logger.Warn().Err(decodeErr).Msg("Remote credit record still unreadable")
			return
		}
		remote = &s
	case errors.Is(err, docstore.ErrNotFound):
	default:
		logger.Debug().Err(err).Msg("Remote credit store still unavailable")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.degraded {
		return
	}
	l.degraded = false
	if remote == nil {
		logger.Info().Msg("Remote credit record missing, publishing local state")
		l.persistLocked(now, true)
		return
	}
	base := *remote
	if next, changed := CheckMonthlyReset(base, now); changed {
		monthlyResets.Inc()
		base = next
	}
	l.state = Reconcile(l.baseline, l.state, base)
	l.persistLocked(now, true)
	loadOutcomes.WithLabelValues("refresh").Inc()
	logger.Info().Str("tier", string(l.state.Tier)).Msg("Remote credit record recovered")
}

// Reconcile replays the usage a session recorded on top of its fallback
// baseline onto the remote record. The remote tier and billing fields are
// kept. Usage from a period other than the remote one is dropped.
func Reconcile(baseline, local, remote CreditState) CreditState {
	out := remote
	if local.PeriodKey != remote.PeriodKey {
		return out
	}
	if baseline.PeriodKey != local.PeriodKey {
		baseline = CreditState{}
	}
	out.InputTokensUsed += max(0, local.InputTokensUsed-baseline.InputTokensUsed)
	out.OutputTokensUsed += max(0, local.OutputTokensUsed-baseline.OutputTokensUsed)
	out.CreditsGranted += max(0, local.CreditsGranted-baseline.CreditsGranted)
	return out
}

// mutate applies fn to the ready state and persists the result.
func (l *Ledger) mutate(ctx context.Context, fn func(CreditState, time.Time) (CreditState, error)) (CreditState, error) {
	l.refreshIfDegraded(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return CreditState{}, ErrNotLoaded
	}
	now := l.now()
	next, err := fn(l.state, now)
	if err != nil {
		return l.state, err
	}
	l.state = next
	l.lastUsed = now
	l.persistLocked(now, true)
	return next, nil
}

// Deduct records amount tokens of usage. Overdraft is allowed here; quota
// enforcement happens before a completion is issued.
func (l *Ledger) Deduct(ctx context.Context, amount int) (CreditState, error) {
	if amount < 0 {
		return CreditState{}, ErrInvalidAmount
	}
	return l.mutate(ctx, func(s CreditState, _ time.Time) (CreditState, error) {
		s.InputTokensUsed += amount
		tokensRecorded.WithLabelValues(string(s.Tier), "input").Add(float64(amount))
		return s, nil
	})
}

// Record adds a completion's input and output tokens to the period usage.
func (l *Ledger) Record(ctx context.Context, u Usage) (CreditState, error) {
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return CreditState{}, ErrInvalidAmount
	}
	return l.mutate(ctx, func(s CreditState, _ time.Time) (CreditState, error) {
		s.InputTokensUsed += u.InputTokens
		s.OutputTokensUsed += u.OutputTokens
		tokensRecorded.WithLabelValues(string(s.Tier), "input").Add(float64(u.InputTokens))
		tokensRecorded.WithLabelValues(string(s.Tier), "output").Add(float64(u.OutputTokens))
		return s, nil
	})
}

// Add grants amount tokens, reducing effective usage for the period.
func (l *Ledger) Add(ctx context.Context, amount int) (CreditState, error) {
	if amount < 0 {
		return CreditState{}, ErrInvalidAmount
	}
	return l.mutate(ctx, func(s CreditState, _ time.Time) (CreditState, error) {
		s.CreditsGranted += amount
		creditsGranted.WithLabelValues(string(s.Tier)).Add(float64(amount))
		return s, nil
	})
}

// SetTier replaces the tier and starts a fresh period. isPayment marks a
// renewal or purchase on a paid tier.
func (l *Ledger) SetTier(ctx context.Context, tier licensing.Tier, isPayment bool) (CreditState, error) {
	if !tier.IsKnown() {
		return CreditState{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return l.mutate(ctx, func(s CreditState, now time.Time) (CreditState, error) {
		next := ApplyTierChange(s, tier, isPayment, now)
		// An explicit tier change is authoritative for the billing fields.
		l.degraded = false
		tierChanges.WithLabelValues(string(s.Tier), string(tier), fmt.Sprint(isPayment)).Inc()
		log.Info().
			Str("identity", l.identity).
			Str("from", string(s.Tier)).
			Str("to", string(tier)).
			Bool("payment", isPayment).
			Msg("Credit tier changed")
		return next, nil
	})
}

// ApplyTierChange is the pure form of SetTier.
func ApplyTierChange(s CreditState, tier licensing.Tier, isPayment bool, now time.Time) CreditState {
	prev := s.Tier
	s = s.clearUsage(now)
	s.Tier = tier
	stamp := now.UTC()

	switch {
	case !prev.IsPaid() && tier.IsPaid():
		started, paid := stamp, stamp
		s.SubscriptionStartedAt = &started
		s.LastPaymentAt = &paid
		s.PaymentStatus = licensing.PaymentActive
	case prev.IsPaid() && !tier.IsPaid():
		s.SubscriptionStartedAt = nil
		s.LastPaymentAt = nil
		s.PaymentStatus = licensing.PaymentActive
	}
	if isPayment && tier.IsPaid() {
		paid := stamp
		s.LastPaymentAt = &paid
		s.PaymentStatus = licensing.PaymentActive
	}
	return s
}

// SetPaymentStatus records a payment status reported by the billing
// provider. Tier and usage are unchanged.
func (l *Ledger) SetPaymentStatus(ctx context.Context, status licensing.PaymentStatus) (CreditState, error) {
	return l.mutate(ctx, func(s CreditState, _ time.Time) (CreditState, error) {
		s.PaymentStatus = licensing.ParsePaymentStatus(string(status))
		return s, nil
	})
}

// CheckMonthlyReset rolls the in-memory state into the current period when
// due, without persisting. Calling it again is a no-op.
func (l *Ledger) CheckMonthlyReset() (CreditState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return CreditState{}, ErrNotLoaded
	}
	next, changed := CheckMonthlyReset(l.state, l.now())
	if changed {
		monthlyResets.Inc()
		l.state = next
	}
	return l.state, nil
}

// ResetMonthly applies a due monthly reset and persists it.
func (l *Ledger) ResetMonthly(ctx context.Context) (CreditState, error) {
	l.refreshIfDegraded(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return CreditState{}, ErrNotLoaded
	}
	now := l.now()
	next, changed := CheckMonthlyReset(l.state, now)
	if !changed {
		return l.state, nil
	}
	monthlyResets.Inc()
	l.state = next
	l.persistLocked(now, true)
	log.Info().Str("identity", l.identity).Str("period", next.PeriodKey).Msg("Credit period rolled over")
	return next, nil
}

// persistLocked writes the state to the cache, announces it, and queues the
// remote write. Cache failures are logged; the in-memory state stays
// authoritative for the session. A degraded ledger queues no remote write.
func (l *Ledger) persistLocked(now time.Time, remote bool) {
	state := l.state
	if raw, err := encodeCacheEntry(l.origin, state); err != nil {
		log.Error().Err(err).Str("identity", l.identity).Msg("Failed to encode credit cache")
	} else if err := l.cache.Set(l.key, raw); err != nil {
		log.Warn().Err(err).Str("identity", l.identity).Msg("Failed to write credit cache")
	}

	if l.signal != nil {
		l.signal.Emit(Notification{Key: l.key, Origin: l.origin, State: state})
	}

	if !remote || l.degraded {
		return
	}
	doc, err := toDocument(state, now)
	if err != nil {
		log.Error().Err(err).Str("identity", l.identity).Msg("Failed to encode credit record")
		return
	}
	l.outbox.Enqueue(UsersCollection, l.identity, doc)
}

func (l *Ledger) consume(ch <-chan Notification) {
	for n := range ch {
		if n.Key != l.key || n.Origin == l.origin {
			continue
		}
		l.merge(n.State)
	}
}

// merge folds another session's state into ours. The held tier is never
// replaced by an incoming one; only usage fields are taken.
func (l *Ledger) merge(incoming CreditState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return
	}
	conflict := incoming.Tier != l.state.Tier
	l.state = MergeIncoming(l.state, incoming)
	mergedNotifications.WithLabelValues(fmt.Sprint(conflict)).Inc()
	if conflict {
		log.Debug().
			Str("identity", l.identity).
			Str("held_tier", string(l.state.Tier)).
			Str("incoming_tier", string(incoming.Tier)).
			Msg("Ignoring tier from incoming credit notification")
	}
}

// MergeIncoming returns current with the usage fields of incoming.
func MergeIncoming(current, incoming CreditState) CreditState {
	merged := current
	merged.InputTokensUsed = incoming.InputTokensUsed
	merged.OutputTokensUsed = incoming.OutputTokensUsed
	merged.CreditsGranted = incoming.CreditsGranted
	if incoming.PeriodKey != "" {
		merged.PeriodKey = incoming.PeriodKey
	}
	return merged
}
