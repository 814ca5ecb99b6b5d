package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDurable is an in-memory Durable with switchable failures.
type memDurable struct {
	mu      sync.Mutex
	data    map[int64][]byte
	failSet bool
	failGet bool
	failDel bool
}

func newMemDurable() *memDurable {
	return &memDurable{data: make(map[int64][]byte)}
}

func (m *memDurable) Get(_ context.Context, id int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("durable down")
	}
	return m.data[id], nil
}

func (m *memDurable) Set(_ context.Context, id int64, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("durable down")
	}
	m.data[id] = data
	return nil
}

func (m *memDurable) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDel {
		return errors.New("durable down")
	}
	delete(m.data, id)
	return nil
}

func (m *memDurable) has(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[id]
	return ok
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

const week = 7 * 24 * time.Hour

func newTestStore(durable Durable, clock *testClock) *Store {
	return NewStore(durable, Options{
		Capacity:       100,
		Retention:      week,
		DurableTimeout: time.Second,
		Now:            clock.Now,
	})
}

func TestTrackThenGet(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(newMemDurable(), clock)
	ctx := context.Background()

	s.Track(ctx, 1, "hello world", 0.2, 42, "alice")

	msg, ok := s.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "hello world", msg.OriginalText)
	assert.Equal(t, 0.2, msg.OriginalSentiment)
	assert.Empty(t, msg.EditHistory)
	assert.EqualValues(t, 42, msg.OwnerUserID)
	assert.Equal(t, "alice", msg.OwnerHandle)
	assert.Equal(t, clock.Now(), msg.LastCheckedAt)
}

func TestTrackOverwrites(t *testing.T) {
	s := newTestStore(newMemDurable(), &testClock{now: time.Now()})
	ctx := context.Background()

	s.Track(ctx, 1, "first", 0.1, 1, "a")
	_, err := s.AppendEdit(ctx, 1, EditRecord{NewText: "edited"})
	require.NoError(t, err)
	s.Track(ctx, 1, "second", 0.5, 2, "b")

	msg, ok := s.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "second", msg.OriginalText)
	assert.Empty(t, msg.EditHistory)
	assert.EqualValues(t, 2, msg.OwnerUserID)
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore(nil, &testClock{now: time.Now()})
	ctx := context.Background()
	s.Track(ctx, 1, "text", 0, 1, "a")

	msg, _ := s.Get(ctx, 1)
	msg.OriginalText = "mutated"
	msg.EditHistory = append(msg.EditHistory, EditRecord{NewText: "x"})

	again, _ := s.Get(ctx, 1)
	assert.Equal(t, "text", again.OriginalText)
	assert.Empty(t, again.EditHistory)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(newMemDurable(), &testClock{now: time.Now()})
	_, ok := s.Get(context.Background(), 404)
	assert.False(t, ok)
}

func TestAppendEditOrderAndOldText(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(newMemDurable(), clock)
	ctx := context.Background()
	s.Track(ctx, 7, "v0", 0.3, 1, "a")

	clock.Set(clock.Now().Add(time.Hour))
	rec, err := s.AppendEdit(ctx, 7, EditRecord{NewText: "v1", SentimentDelta: -0.1})
	require.NoError(t, err)
	assert.Equal(t, "v0", rec.OldText)
	assert.Equal(t, clock.Now(), rec.Timestamp)

	clock.Set(clock.Now().Add(time.Hour))
	rec, err = s.AppendEdit(ctx, 7, EditRecord{NewText: "v2", SentimentDelta: -0.7, IsSuspicious: true})
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.OldText)

	msg, ok := s.Get(ctx, 7)
	require.True(t, ok)
	require.Len(t, msg.EditHistory, 2)
	assert.Equal(t, "v1", msg.EditHistory[0].NewText)
	assert.Equal(t, "v2", msg.EditHistory[1].NewText)
	assert.Equal(t, "v2", msg.CurrentText())
	assert.Equal(t, clock.Now(), msg.LastCheckedAt)

	st := s.Stats()
	assert.Equal(t, EditStats{TrackedMessages: 1, TotalEdits: 2, SuspiciousEdits: 1}, st)
}

func TestAppendEditUntracked(t *testing.T) {
	s := newTestStore(newMemDurable(), &testClock{now: time.Now()})
	_, err := s.AppendEdit(context.Background(), 9, EditRecord{NewText: "x"})
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestRehydrateFromDurable(t *testing.T) {
	durable := newMemDurable()
	clock := &testClock{now: time.Now()}
	ctx := context.Background()

	first := newTestStore(durable, clock)
	first.Track(ctx, 5, "original", -0.1, 3, "carol")

	// A fresh process has an empty fast tier.
	restarted := newTestStore(durable, clock)
	rec, err := restarted.AppendEdit(ctx, 5, EditRecord{NewText: "changed"})
	require.NoError(t, err)
	assert.Equal(t, "original", rec.OldText)

	msg, ok := restarted.Get(ctx, 5)
	require.True(t, ok)
	assert.Equal(t, "original", msg.OriginalText)
	assert.Equal(t, -0.1, msg.OriginalSentiment)
	assert.Len(t, msg.EditHistory, 1)
}

func TestUndecodableDurableEntryIsAbsent(t *testing.T) {
	durable := newMemDurable()
	durable.data[11] = []byte("{not json")
	s := newTestStore(durable, &testClock{now: time.Now()})

	_, ok := s.Get(context.Background(), 11)
	assert.False(t, ok)
}

func TestDurableWriteFailureDegradesToMemory(t *testing.T) {
	durable := newMemDurable()
	durable.failSet = true
	s := newTestStore(durable, &testClock{now: time.Now()})
	ctx := context.Background()

	s.Track(ctx, 1, "text", 0, 1, "a")
	_, err := s.AppendEdit(ctx, 1, EditRecord{NewText: "edit"})
	require.NoError(t, err)

	msg, ok := s.Get(ctx, 1)
	require.True(t, ok)
	assert.Len(t, msg.EditHistory, 1)
	assert.False(t, durable.has(1))
}

func TestDurableReadFailureIsAbsent(t *testing.T) {
	durable := newMemDurable()
	durable.failGet = true
	s := newTestStore(durable, &testClock{now: time.Now()})
	_, ok := s.Get(context.Background(), 1)
	assert.False(t, ok)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{}
	durable := newMemDurable()
	s := newTestStore(durable, clock)
	ctx := context.Background()

	clock.Set(now.Add(-8 * 24 * time.Hour))
	s.Track(ctx, 1, "old", 0, 1, "a")
	clock.Set(now.Add(-24 * time.Hour))
	s.Track(ctx, 2, "recent", 0, 2, "b")
	clock.Set(now)

	assert.Equal(t, 1, s.Sweep(ctx, week))

	_, ok := s.Get(ctx, 1)
	assert.False(t, ok)
	assert.False(t, durable.has(1))
	_, ok = s.Get(ctx, 2)
	assert.True(t, ok)

	// Idempotent.
	assert.Zero(t, s.Sweep(ctx, week))
}

func TestSweepToleratesDurableDeleteFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{now: now.Add(-10 * 24 * time.Hour)}
	durable := newMemDurable()
	s := newTestStore(durable, clock)
	ctx := context.Background()

	s.Track(ctx, 1, "old", 0, 1, "a")
	durable.failDel = true
	clock.Set(now)

	assert.Equal(t, 1, s.Sweep(ctx, week))
	assert.Zero(t, s.Stats().TrackedMessages)
}

func TestEditRefreshesRetention(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := &testClock{now: now.Add(-10 * 24 * time.Hour)}
	s := newTestStore(nil, clock)
	ctx := context.Background()

	s.Track(ctx, 1, "old", 0, 1, "a")
	clock.Set(now.Add(-2 * 24 * time.Hour))
	_, err := s.AppendEdit(ctx, 1, EditRecord{NewText: "touched"})
	require.NoError(t, err)
	clock.Set(now)

	assert.Zero(t, s.Sweep(ctx, week))
}

func TestConcurrentAppendsDoNotLoseEdits(t *testing.T) {
	s := newTestStore(newMemDurable(), &testClock{now: time.Now()})
	ctx := context.Background()
	s.Track(ctx, 1, "base", 0, 1, "a")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendEdit(ctx, 1, EditRecord{NewText: fmt.Sprintf("edit-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msg, ok := s.Get(ctx, 1)
	require.True(t, ok)
	require.Len(t, msg.EditHistory, n)
	for i := 1; i < n; i++ {
		assert.Equal(t, msg.EditHistory[i-1].NewText, msg.EditHistory[i].OldText)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	s := newTestStore(nil, &testClock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond, week)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRedisDurable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	const id = int64(-987654321)
	t.Cleanup(func() {
		client.Del(ctx, key(id))
		client.Close()
	})

	d := NewRedisDurable(client)
	data, err := d.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, d.Set(ctx, id, []byte(`{"original_text":"x"}`), time.Minute))
	data, err = d.Get(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"original_text":"x"}`, string(data))

	ttl, err := client.TTL(ctx, key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, d.Delete(ctx, id))
	data, err = d.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, data)

	// Round trip through the store survives a restart.
	s := NewStore(d, Options{Capacity: 10, Retention: time.Minute})
	s.Track(ctx, id, "persisted", 0.4, 1, "a")
	restarted := NewStore(d, Options{Capacity: 10, Retention: time.Minute})
	msg, ok := restarted.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "persisted", msg.OriginalText)
}
