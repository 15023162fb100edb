// Package jobs owns every asynchronous job in the process: its identity,
// status, and the append-only event log that workers write and streaming
// readers drain.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ragstream/types"

	"github.com/google/uuid"
)

var (
	ErrUnknownJob         = errors.New("unknown job")
	ErrJobAlreadyTerminal = errors.New("job already terminal")
	ErrResourceExhausted  = errors.New("job registry at capacity")
	ErrEndOfStream        = errors.New("end of stream")
)

type Kind string

const (
	KindGenerate Kind = "generate"
	KindUpload   Kind = "upload"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

type Config struct {
	// Capacity caps the number of live jobs. Zero means unlimited.
	Capacity int
	// GracePeriod is how long a finished job stays readable.
	GracePeriod time.Duration
	// SweepInterval is the period of the background reaper.
	SweepInterval time.Duration
	// MaxAge evicts unfinished jobs nobody is reading once they are this
	// old, cancelling their worker. Zero disables it.
	MaxAge time.Duration
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

type Registry struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*job
}

func New(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a pending job with an empty log.
func (r *Registry) Create(kind Kind) (string, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:        id,
		kind:      kind,
		createdAt: r.now(),
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusPending,
		wake:      make(chan struct{}),
	}

	r.mu.Lock()
	if r.cfg.Capacity > 0 && len(r.jobs) >= r.cfg.Capacity {
		r.mu.Unlock()
		cancel()
		return "", ErrResourceExhausted
	}
	r.jobs[id] = j
	r.mu.Unlock()

	r.logger.Debug("job created", "job_id", id, "kind", kind)
	return id, nil
}

func (r *Registry) lookup(id string) (*job, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return j, nil
}

// WorkerContext returns the context a job's worker should run under. It is
// cancelled when the job is evicted.
func (r *Registry) WorkerContext(id string) (context.Context, error) {
	j, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return j.ctx, nil
}

// MarkRunning moves a pending job to running.
func (r *Registry) MarkRunning(id string) error {
	j, err := r.lookup(id)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case j.evicted:
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	case j.terminal():
		return fmt.Errorf("%w: %s", ErrJobAlreadyTerminal, id)
	}
	j.status = StatusRunning
	return nil
}

// Append adds ev to the job's log and wakes every blocked reader. A terminal
// event closes the log for good.
func (r *Registry) Append(id string, ev types.Event) error {
	if ev == nil {
		return fmt.Errorf("append to %s: nil event", id)
	}
	j, err := r.lookup(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.evicted {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if j.terminal() {
		return fmt.Errorf("%w: %s", ErrJobAlreadyTerminal, id)
	}

	j.events = append(j.events, ev)
	if ev.Terminal() {
		j.status = StatusDone
		if ev.Name() == types.EventError {
			j.status = StatusFailed
		}
		j.finishedAt = r.now()
	}
	j.broadcast()
	return nil
}

// Subscribe returns a cursor positioned at the start of the job's log.
func (r *Registry) Subscribe(id string) (*Cursor, error) {
	j, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.evicted {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	j.readers++
	return &Cursor{job: j}, nil
}

type Snapshot struct {
	ID         string
	Kind       Kind
	Status     Status
	CreatedAt  time.Time
	FinishedAt time.Time
	Events     int
	Readers    int
}

func (r *Registry) Snapshot(id string) (Snapshot, error) {
	j, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:         j.id,
		Kind:       j.kind,
		Status:     j.status,
		CreatedAt:  j.createdAt,
		FinishedAt: j.finishedAt,
		Events:     len(j.events),
		Readers:    j.readers,
	}, nil
}

// Len reports the number of live jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Sweep evicts finished jobs past the grace period and, when MaxAge is set,
// unfinished jobs nobody reads. It returns the number of evicted jobs.
func (r *Registry) Sweep() int {
	now := r.now()
	evicted := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, j := range r.jobs {
		j.mu.Lock()
		expired := j.terminal() && now.Sub(j.finishedAt) >= r.cfg.GracePeriod
		abandoned := !j.terminal() && r.cfg.MaxAge > 0 && j.readers == 0 &&
			now.Sub(j.createdAt) >= r.cfg.MaxAge
		if expired || abandoned {
			j.evict()
			delete(r.jobs, id)
			evicted++
			if abandoned {
				r.logger.Warn("abandoned job evicted", "job_id", id, "kind", j.kind, "age", now.Sub(j.createdAt))
			}
		}
		j.mu.Unlock()
	}
	return evicted
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("reaped jobs", "count", n, "live", r.Len())
			}
		}
	}
}
