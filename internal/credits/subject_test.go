package credits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltoai/founder-launch/internal/kvcache"
	"github.com/veltoai/founder-launch/pkg/licensing"
)

func receive(t *testing.T, ch <-chan Notification, within time.Duration) (Notification, bool) {
	t.Helper()
	select {
	case n, ok := <-ch:
		return n, ok
	case <-time.After(within):
		return Notification{}, false
	}
}

func TestSubject_DebounceCoalescesPerKey(t *testing.T) {
	s := NewSubject(50 * time.Millisecond)
	defer s.Close()
	_, ch := s.Subscribe()

	for i := 1; i <= 5; i++ {
		s.Publish(Notification{Key: "k1", State: CreditState{InputTokensUsed: i}})
	}
	s.Publish(Notification{Key: "k2", State: CreditState{InputTokensUsed: 99}})

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		n, ok := receive(t, ch, time.Second)
		require.True(t, ok)
		got[n.Key] = n.State.InputTokensUsed
	}
	assert.Equal(t, map[string]int{"k1": 5, "k2": 99}, got)

	_, ok := receive(t, ch, 120*time.Millisecond)
	assert.False(t, ok, "burst delivered once per key")
}

func TestSubject_ZeroDebounceDeliversImmediately(t *testing.T) {
	s := NewSubject(0)
	defer s.Close()
	_, ch1 := s.Subscribe()
	_, ch2 := s.Subscribe()

	s.Publish(Notification{Key: "k", Origin: "o"})
	for _, ch := range []<-chan Notification{ch1, ch2} {
		n, ok := receive(t, ch, 10*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, "o", n.Origin)
	}
}

func TestSubject_UnsubscribeAndClose(t *testing.T) {
	s := NewSubject(0)
	id, ch := s.Subscribe()
	s.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	s.Unsubscribe(id)

	_, ch2 := s.Subscribe()
	s.Close()
	_, open = <-ch2
	assert.False(t, open)

	s.Publish(Notification{Key: "k"})
	_, ch3 := s.Subscribe()
	_, open = <-ch3
	assert.False(t, open, "subscribing to a closed subject yields a closed channel")
}

func TestSubject_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewSubject(0)
	defer s.Close()
	_, _ = s.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			s.Publish(Notification{Key: "k"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestWatchCache_FeedsSubject(t *testing.T) {
	cache := kvcache.NewMemoryCache()
	s := NewSubject(0)
	defer s.Close()
	_, ch := s.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchCache(ctx, cache, s))

	state := CreditState{Tier: licensing.TierStarter, InputTokensUsed: 3, PeriodKey: "2026-10", PaymentStatus: licensing.PaymentActive}
	raw, err := encodeCacheEntry("tab-9", state)
	require.NoError(t, err)

	require.NoError(t, cache.Set("unrelated", "x"))
	require.NoError(t, cache.Set(CacheKey("u1"), "{garbage"))
	require.NoError(t, cache.Set(CacheKey("u1"), raw))

	n, ok := receive(t, ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, CacheKey("u1"), n.Key)
	assert.Equal(t, "tab-9", n.Origin)
	assert.Equal(t, state, n.State)

	_, ok = receive(t, ch, 30*time.Millisecond)
	assert.False(t, ok)
}
