// Package jobs runs pipeline jobs on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

// Job is one pipeline run for one upload record.
type Job struct {
	UploadID     string
	OwnerID      string
	OriginalName string
	LocalPath    string
	Category     models.FileCategory
}

// Handler processes a job. It receives the dispatcher's base context.
type Handler func(ctx context.Context, job Job)

type Config struct {
	Workers    int
	QueueDepth int
}

// Dispatcher accepts jobs into a bounded queue and runs them on an ants
// pool. Enqueue never blocks the caller.
type Dispatcher struct {
	pool    *ants.Pool
	queue   chan Job
	handler Handler
	ctx     context.Context

	mu     sync.RWMutex
	closed bool
	fed    chan struct{}

	activeMu sync.Mutex
	active   map[string]struct{}
}

func NewDispatcher(ctx context.Context, cfg Config, handler Handler) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 0 {
		return nil, fmt.Errorf("queue depth must not be negative, got %d", cfg.QueueDepth)
	}

	panicHandler := func(p any) {
		slog.Error("Pipeline worker panicked.", "panic", fmt.Sprint(p))
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(panicHandler))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	d := &Dispatcher{
		pool:    pool,
		queue:   make(chan Job, cfg.QueueDepth),
		handler: handler,
		ctx:     ctx,
		fed:     make(chan struct{}),
		active:  make(map[string]struct{}),
	}
	go d.feed()
	return d, nil
}

// feed moves queued jobs onto the pool, blocking while every worker is busy.
func (d *Dispatcher) feed() {
	defer close(d.fed)
	for job := range d.queue {
		job := job
		err := d.pool.Submit(func() {
			defer d.release(job.UploadID)
			d.handler(d.ctx, job)
		})
		if err != nil {
			d.release(job.UploadID)
			slog.Error("Failed to submit job to worker pool.", "uploadId", job.UploadID, "error", err)
		}
	}
}

// Enqueue schedules job. It returns ErrQueueFull when the queue is at
// capacity and ErrClosed after Close.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.hold(job.UploadID)
	select {
	case d.queue <- job:
		queued, running := d.Stats()
		slog.Info("Job queued.", "uploadId", job.UploadID, "queued", queued, "running", running)
		return nil
	default:
		d.release(job.UploadID)
		return ErrQueueFull
	}
}

// InFlight reports whether the job for uploadID is queued or running here.
func (d *Dispatcher) InFlight(uploadID string) bool {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	_, ok := d.active[uploadID]
	return ok
}

func (d *Dispatcher) hold(uploadID string) {
	d.activeMu.Lock()
	d.active[uploadID] = struct{}{}
	d.activeMu.Unlock()
}

func (d *Dispatcher) release(uploadID string) {
	d.activeMu.Lock()
	delete(d.active, uploadID)
	d.activeMu.Unlock()
}

// Stats reports the number of queued and running jobs.
func (d *Dispatcher) Stats() (queued, running int) {
	return len(d.queue), d.pool.Running()
}

// Close stops accepting jobs, lets queued jobs start and waits up to timeout
// for running jobs to finish.
func (d *Dispatcher) Close(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	deadline := time.Now().Add(timeout)
	select {
	case <-d.fed:
	case <-time.After(timeout):
		d.pool.Release()
		return fmt.Errorf("timed out waiting for queued jobs to start")
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	if err := d.pool.ReleaseTimeout(remaining); err != nil {
		return fmt.Errorf("timed out waiting for running jobs: %w", err)
	}
	return nil
}
