package credits

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/kvcache"
)

const (
	// DefaultNotifyDebounce coalesces bursts of writes to the same key.
	DefaultNotifyDebounce = 100 * time.Millisecond
	subscriberBuffer      = 64
)

// Notification announces a new state for a cache key.
type Notification struct {
	Key    string      `json:"key"`
	Origin string      `json:"origin"`
	State  CreditState `json:"state"`
}

// Subject is the single publish/subscribe point for credit changes. Every
// transport (in-process bus, shared cache watcher) publishes into it, and
// ledgers and stream clients subscribe to it. Publications for the same key
// within the debounce window are coalesced; the last one wins.
type Subject struct {
	debounce time.Duration

	mu          sync.Mutex
	subscribers map[string]chan Notification
	pending     map[string]Notification
	timers      map[string]*time.Timer
	closed      bool
}

// NewSubject returns a Subject. A zero debounce delivers immediately.
func NewSubject(debounce time.Duration) *Subject {
	if debounce < 0 {
		debounce = 0
	}
	return &Subject{
		debounce:    debounce,
		subscribers: make(map[string]chan Notification),
		pending:     make(map[string]Notification),
		timers:      make(map[string]*time.Timer),
	}
}

// Publish schedules n for delivery.
func (s *Subject) Publish(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.debounce == 0 {
		s.deliverLocked(n)
		return
	}

	s.pending[n.Key] = n
	if _, armed := s.timers[n.Key]; armed {
		return
	}
	key := n.Key
	s.timers[key] = time.AfterFunc(s.debounce, func() { s.fire(key) })
}

func (s *Subject) fire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.pending[key]
	delete(s.pending, key)
	delete(s.timers, key)
	if !ok || s.closed {
		return
	}
	s.deliverLocked(n)
}

func (s *Subject) deliverLocked(n Notification) {
	publishedNotifications.Inc()
	for id, ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			droppedNotifications.Inc()
			log.Warn().Str("subscriber", id).Str("key", n.Key).Msg("Credit subscriber blocked, dropping notification")
		}
	}
}

// Subscribe registers a subscriber. The channel is closed by Unsubscribe
// or Close.
func (s *Subject) Subscribe() (string, <-chan Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Notification, subscriberBuffer)
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (s *Subject) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Close drops pending notifications and closes every subscriber.
func (s *Subject) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.pending = map[string]Notification{}
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Signal carries notifications from a ledger to other sessions.
type Signal interface {
	Emit(Notification)
}

// Bus is the in-process transport: emitted notifications go straight to
// the subject. It reaches sessions in the same process that do not share a
// cache directory watch.
type Bus struct {
	subject *Subject
}

// NewBus returns a Bus feeding subject.
func NewBus(subject *Subject) *Bus {
	return &Bus{subject: subject}
}

// Emit publishes n.
func (b *Bus) Emit(n Notification) {
	if b == nil || b.subject == nil {
		return
	}
	b.subject.Publish(n)
}

// WatchCache is the storage transport: writes to the shared cache by any
// process are decoded and published to subject until ctx is done.
// Malformed entries are skipped.
func WatchCache(ctx context.Context, cache kvcache.Watchable, subject *Subject) error {
	return cache.Watch(ctx, func(c kvcache.Change) {
		if c.Deleted {
			return
		}
		if _, ok := IdentityFromCacheKey(c.Key); !ok {
			return
		}
		entry, err := decodeCacheEntry(c.Value)
		if err != nil {
			log.Warn().Err(err).Str("key", c.Key).Msg("Ignoring malformed credit cache change")
			return
		}
		subject.Publish(Notification{Key: c.Key, Origin: entry.Origin, State: entry.State})
	})
}
