package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragstream/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(cfg Config) (*Registry, *fakeClock) {
	clock := newFakeClock()
	return New(cfg, WithClock(clock.Now)), clock
}

func drain(t *testing.T, c *Cursor) []types.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []types.Event
	for {
		ev, err := c.Next(ctx)
		if err == ErrEndOfStream {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestRegistry_Create(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	id, err := r.Create(KindGenerate)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	snap, err := r.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, KindGenerate, snap.Kind)
	assert.Zero(t, snap.Events)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Create_UniqueIDs(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := r.Create(KindUpload)
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestRegistry_Create_Capacity(t *testing.T) {
	r, clock := newTestRegistry(Config{Capacity: 2, GracePeriod: time.Minute})

	first, err := r.Create(KindGenerate)
	require.NoError(t, err)
	_, err = r.Create(KindGenerate)
	require.NoError(t, err)

	_, err = r.Create(KindGenerate)
	assert.ErrorIs(t, err, ErrResourceExhausted)

	require.NoError(t, r.Append(first, types.Done{Status: "finished"}))
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())

	_, err = r.Create(KindGenerate)
	assert.NoError(t, err)
}

func TestRegistry_Append_UnknownJob(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	err := r.Append("missing", types.TextChunk{Chunk: "x"})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRegistry_Append_Nil(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id, err := r.Create(KindGenerate)
	require.NoError(t, err)
	assert.Error(t, r.Append(id, nil))
}

func TestRegistry_Append_AfterTerminal(t *testing.T) {
	tests := []struct {
		name     string
		terminal types.Event
		status   Status
	}{
		{name: "done", terminal: types.Done{Status: "finished"}, status: StatusDone},
		{name: "error", terminal: types.Failure{Message: "boom"}, status: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(Config{})
			id, err := r.Create(KindGenerate)
			require.NoError(t, err)

			require.NoError(t, r.Append(id, tt.terminal))

			err = r.Append(id, types.TextChunk{Chunk: "late"})
			assert.ErrorIs(t, err, ErrJobAlreadyTerminal)
			err = r.Append(id, types.Done{})
			assert.ErrorIs(t, err, ErrJobAlreadyTerminal)

			snap, err := r.Snapshot(id)
			require.NoError(t, err)
			assert.Equal(t, tt.status, snap.Status)
			assert.Equal(t, 1, snap.Events)
			assert.False(t, snap.FinishedAt.IsZero())
		})
	}
}

func TestRegistry_MarkRunning(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id, err := r.Create(KindUpload)
	require.NoError(t, err)

	require.NoError(t, r.MarkRunning(id))
	snap, err := r.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)

	require.NoError(t, r.Append(id, types.Failure{Message: "bad"}))
	assert.ErrorIs(t, r.MarkRunning(id), ErrJobAlreadyTerminal)
	assert.ErrorIs(t, r.MarkRunning("missing"), ErrUnknownJob)
}

func TestRegistry_Subscribe_UnknownJob(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	_, err := r.Subscribe("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestCursor_ReadsInAppendOrder(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id, err := r.Create(KindGenerate)
	require.NoError(t, err)

	cursor, err := r.Subscribe(id)
	require.NoError(t, err)
	defer cursor.Close()

	var want []types.Event
	done := make(chan []types.Event)
	go func() { done <- drain(t, cursor) }()

	for i := 0; i < 50; i++ {
		ev := types.TextChunk{Chunk: fmt.Sprintf("chunk-%d", i)}
		want = append(want, ev)
		require.NoError(t, r.Append(id, ev))
	}
	want = append(want, types.Done{Status: "finished"})
	require.NoError(t, r.Append(id, types.Done{Status: "finished"}))

	got := <-done
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), cursor.Position())
}

func TestCursor_LateSubscriberGetsFullHistory(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id, err := r.Create(KindGenerate)
	require.NoError(t, err)

	require.NoError(t, r.Append(id, types.TextChunk{Chunk: "hello"}))
	require.NoError(t, r.Append(id, types.Done{Status: "finished"}))

	cursor, err := r.Subscribe(id)
	require.NoError(t, err)
	defer cursor.Close()

	got := drain(t, cursor)
	assert.Equal(t, []types.Event{
		types.TextChunk{Chunk: "hello"},
		types.Done{Status: "finished"},
	}, got)

	_, err = cursor.Next(context.Background())
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestCursor_IndependentReaders(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id, err := r.Create(KindGenerate)
	require.NoError(t, err)

	a, err := r.Subscribe(id)
	require.NoError(t, err)
	require.NoError(t, r.Append(id, types.ToolStep{Step: "searching", Text: "Searching documents"}))
	b, err := r.Subscribe(id)
	require.NoError(t, err)
	require.NoError(t, r.Append(id, types.Done{}))

	assert.Len(t, drain(t, a), 2)
	assert.Len(t, drain(t, b), 2)
}

func TestCursor_ContextCancel(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id, err := r.Create(KindGenerate)
	require.NoError(t, err)

	cursor, err := r.Subscribe(id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cursor.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the job is unaffected and the cursor can resume
	require.NoError(t, r.Append(id, types.TextChunk{Chunk: "after"}))
	ev, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.TextChunk{Chunk: "after"}, ev)
}

func TestRegistry_Sweep_EvictsAfterGrace(t *testing.T) {
	r, clock := newTestRegistry(Config{GracePeriod: 5 * time.Minute})
	finished, err := r.Create(KindGenerate)
	require.NoError(t, err)
	running, err := r.Create(KindGenerate)
	require.NoError(t, err)

	require.NoError(t, r.Append(finished, types.Done{}))

	clock.Advance(4 * time.Minute)
	assert.Zero(t, r.Sweep())
	_, err = r.Subscribe(finished)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())

	_, err = r.Subscribe(finished)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, r.Append(finished, types.Done{}), ErrUnknownJob)

	// unfinished jobs are kept when MaxAge is off
	_, err = r.Subscribe(running)
	assert.NoError(t, err)
}

func TestRegistry_Sweep_WakesBlockedReader(t *testing.T) {
	r, clock := newTestRegistry(Config{MaxAge: time.Minute})
	id, err := r.Create(KindGenerate)
	require.NoError(t, err)
	workerCtx, err := r.WorkerContext(id)
	require.NoError(t, err)

	cursor, err := r.Subscribe(id)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := cursor.Next(context.Background())
		result <- err
	}()

	clock.Advance(2 * time.Minute)
	// a reader is attached, so the job is not abandoned yet
	assert.Zero(t, r.Sweep())

	cursor.Close()
	assert.Equal(t, 1, r.Sweep())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked reader was not woken on eviction")
	}

	select {
	case <-workerCtx.Done():
	default:
		t.Fatal("worker context not cancelled on eviction")
	}
}

func TestRegistry_ConcurrentJobsStayIsolated(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	const jobs = 2
	const perJob = 100

	ids := make([]string, jobs)
	cursors := make([]*Cursor, jobs)
	for i := range ids {
		id, err := r.Create(KindGenerate)
		require.NoError(t, err)
		ids[i] = id
		cursors[i], err = r.Subscribe(id)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for n := 0; n < perJob; n++ {
				assert.NoError(t, r.Append(id, types.TextChunk{Chunk: fmt.Sprintf("%d:%d", i, n)}))
			}
			assert.NoError(t, r.Append(id, types.Done{}))
		}(i, id)
	}

	results := make([][]types.Event, jobs)
	var readers sync.WaitGroup
	for i := range cursors {
		readers.Add(1)
		go func(i int) {
			defer readers.Done()
			results[i] = drain(t, cursors[i])
		}(i)
	}
	wg.Wait()
	readers.Wait()

	for i, events := range results {
		require.Len(t, events, perJob+1)
		for n := 0; n < perJob; n++ {
			assert.Equal(t, types.TextChunk{Chunk: fmt.Sprintf("%d:%d", i, n)}, events[n])
		}
		assert.Equal(t, types.Done{}, events[perJob])
	}
}

func TestRegistry_Run_StopsOnCancel(t *testing.T) {
	r := New(Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
