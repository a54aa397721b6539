package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweepable struct {
	mu      sync.Mutex
	evicted int
	calls   int
}

func (c *countingSweepable) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.evicted
}

func (c *countingSweepable) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSweeperSweepNow(t *testing.T) {
	a := &countingSweepable{evicted: 2}
	b := &countingSweepable{evicted: 3}

	sweeper := NewStoreSweeper("", nil, a)
	sweeper.Add(b)

	assert.Equal(t, 5, sweeper.SweepNow())
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestSweeperPeriodicSchedule(t *testing.T) {
	store := &countingSweepable{}
	sweeper := NewStoreSweeper("@every 100ms", nil, store)

	require.NoError(t, sweeper.Start())
	require.NoError(t, sweeper.Start()) // idempotent
	defer sweeper.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for store.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Greater(t, store.callCount(), 0, "scheduled sweep must fire")

	sweeper.Stop()
	sweeper.Stop() // idempotent
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sweeper := NewStoreSweeper("not a schedule", nil)
	assert.Error(t, sweeper.Start())
}

func TestSweeperEvictsExpiredStoreEntries(t *testing.T) {
	idem := NewMemoryIdempotencyStore()
	deferred := NewMemoryDeferredStore()
	current := time.Now()
	idem.now = func() time.Time { return current }
	deferred.now = func() time.Time { return current }

	ctx := context.Background()
	meta := ResultMeta{RequestID: "req_1", TenantID: "tenant_a", TraceID: "trc_1", StartedAt: NowMillis(), Attempt: 1}
	require.NoError(t, idem.Put(ctx, "K", OKResult(meta, 1), time.Second))
	require.NoError(t, deferred.PutPending(ctx, "tkt_1", time.Second))

	sweeper := NewStoreSweeper("", nil, idem, deferred)

	assert.Equal(t, 0, sweeper.SweepNow(), "nothing expired yet")

	current = current.Add(2 * time.Second)
	assert.Equal(t, 2, sweeper.SweepNow())
}
