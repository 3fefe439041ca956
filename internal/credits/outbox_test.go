package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltoai/founder-launch/internal/docstore"
)

func gaugeValue(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, outboxPending.Write(&m))
	return m.GetGauge().GetValue()
}

func TestOutbox_CoalescesPerDocument(t *testing.T) {
	store := docstore.NewMemoryStore()
	o := NewOutbox(store, OutboxOptions{})

	o.Enqueue(UsersCollection, "u1", docstore.Document{"n": 1})
	o.Enqueue(UsersCollection, "u1", docstore.Document{"n": 2})
	o.Enqueue(UsersCollection, "u2", docstore.Document{"n": 3})
	assert.Len(t, o.Pending(), 2)
	assert.Equal(t, 2.0, gaugeValue(t))

	require.NoError(t, o.Flush(context.Background()))
	assert.Empty(t, o.Pending())
	assert.Equal(t, 0.0, gaugeValue(t))

	doc, err := store.Get(context.Background(), UsersCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc["n"])
}

func TestOutbox_RetriesThenDrops(t *testing.T) {
	store := docstore.NewMemoryStore()
	clock := newTestClock(date(2026, 10, 17))
	o := NewOutbox(store, OutboxOptions{RetryInterval: time.Minute, MaxAttempts: 2, Now: clock.Now})
	store.SetFailure(errors.New("unavailable"))

	failuresBefore := testutil.ToFloat64(remoteWriteFailures)
	droppedBefore := testutil.ToFloat64(remoteWritesDropped)

	o.Enqueue(UsersCollection, "u1", docstore.Document{"n": 1})
	assert.Error(t, o.deliver(context.Background(), false))
	require.Len(t, o.Pending(), 1)
	assert.Equal(t, "unavailable", o.Pending()[0].LastError)

	// Not yet due: nothing attempted.
	assert.NoError(t, o.deliver(context.Background(), false))
	assert.Equal(t, 1, o.Pending()[0].Attempts)

	clock.Set(clock.Now().Add(2 * time.Minute))
	assert.Error(t, o.deliver(context.Background(), false))
	assert.Empty(t, o.Pending(), "dropped after max attempts")

	assert.Equal(t, failuresBefore+2, testutil.ToFloat64(remoteWriteFailures))
	assert.Equal(t, droppedBefore+1, testutil.ToFloat64(remoteWritesDropped))
}

func TestOutbox_DiscardAndRun(t *testing.T) {
	store := docstore.NewMemoryStore()
	o := NewOutbox(store, OutboxOptions{RetryInterval: time.Hour})

	o.Enqueue(UsersCollection, "gone", docstore.Document{"n": 1})
	o.Discard(UsersCollection, "gone")
	assert.Empty(t, o.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.Enqueue(UsersCollection, "u1", docstore.Document{"n": 1})
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), UsersCollection, "u1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, store.Len("gone"))
}
