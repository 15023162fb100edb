package jobs

import (
	"context"
	"sync"
	"time"

	"ragstream/types"
)

type job struct {
	id        string
	kind      Kind
	createdAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	mu         sync.Mutex
	status     Status
	events     []types.Event
	finishedAt time.Time
	evicted    bool
	readers    int
	// wake is closed and replaced on every state change.
	wake chan struct{}
}

// terminal must be called with j.mu held.
func (j *job) terminal() bool {
	return j.status == StatusDone || j.status == StatusFailed
}

// broadcast must be called with j.mu held.
func (j *job) broadcast() {
	close(j.wake)
	j.wake = make(chan struct{})
}

// evict must be called with j.mu held.
func (j *job) evict() {
	j.evicted = true
	j.events = nil
	j.broadcast()
	j.cancel()
}

// Cursor reads one job's log in append order. A Cursor is not safe for
// concurrent use; give each reader its own.
type Cursor struct {
	job    *job
	pos    int
	closed bool
}

// Next returns the next event past the cursor. It blocks while the log is
// exhausted but still open, and returns ErrEndOfStream once the log is
// terminal and fully read or the job has been evicted.
func (c *Cursor) Next(ctx context.Context) (types.Event, error) {
	j := c.job
	for {
		j.mu.Lock()
		if j.evicted {
			j.mu.Unlock()
			return nil, ErrEndOfStream
		}
		if c.pos < len(j.events) {
			ev := j.events[c.pos]
			c.pos++
			j.mu.Unlock()
			return ev, nil
		}
		if j.terminal() {
			j.mu.Unlock()
			return nil, ErrEndOfStream
		}
		wake := j.wake
		j.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Position is the number of events already returned.
func (c *Cursor) Position() int {
	return c.pos
}

// JobID returns the id of the job this cursor reads.
func (c *Cursor) JobID() string {
	return c.job.id
}

// Close detaches the reader from the job. It is safe to call more than once.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.job.mu.Lock()
	c.job.readers--
	c.job.mu.Unlock()
}
