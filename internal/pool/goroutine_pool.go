// Package pool provides a supervised worker pool for asynchronous step work.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Job is a unit of work. The context is the one passed at submission.
type Job func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`
	QueueSize   int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  32,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

// WorkerPool runs jobs on a bounded set of goroutines. Workers are spawned on
// demand and exit after IdleTimeout without work, keeping at least one alive.
// A panicking job is recovered, logged and counted as failed.
type WorkerPool struct {
	maxWorkers  int
	idleTimeout time.Duration
	queue       chan queuedJob

	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	closeMu     sync.RWMutex
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	logger *zap.Logger
}

type queuedJob struct {
	job  Job
	ctx  context.Context
	name string
	done chan error
}

// New creates a worker pool.
func New(config Config, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &WorkerPool{
		maxWorkers:  config.MaxWorkers,
		idleTimeout: config.IdleTimeout,
		queue:       make(chan queuedJob, config.QueueSize),
		logger:      logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit queues a job without waiting for it. It blocks while the queue is
// full until ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, name string, job Job) error {
	_, err := p.enqueue(ctx, name, job, true)
	return err
}

// TrySubmit queues a job or fails immediately with ErrPoolFull.
func (p *WorkerPool) TrySubmit(ctx context.Context, name string, job Job) error {
	_, err := p.enqueue(ctx, name, job, false)
	return err
}

// SubmitWait queues a job and waits for its result.
func (p *WorkerPool) SubmitWait(ctx context.Context, name string, job Job) error {
	done, err := p.enqueue(ctx, name, job, true)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, name string, job Job, block bool) (chan error, error) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	p.submitted.Add(1)

	qj := queuedJob{job: job, ctx: ctx, name: name, done: make(chan error, 1)}

	select {
	case p.queue <- qj:
		p.ensureWorker()
		return qj.done, nil
	default:
	}

	// queue full: a new worker may free a slot
	p.ensureWorker()
	if !block {
		select {
		case p.queue <- qj:
			return qj.done, nil
		default:
			p.rejected.Add(1)
			return nil, ErrPoolFull
		}
	}

	select {
	case p.queue <- qj:
		return qj.done, nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return nil, ctx.Err()
	}
}

func (p *WorkerPool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		// idle workers will pick the queued jobs up
		if idle := current - p.activeCount.Load(); current > 0 && int32(len(p.queue)) <= idle {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case qj, ok := <-p.queue:
			if !ok {
				p.workerCount.Add(-1)
				return
			}

			p.activeCount.Add(1)
			err := p.run(qj)
			p.activeCount.Add(-1)

			qj.done <- err
			close(qj.done)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			current := p.workerCount.Load()
			if current > 1 && p.workerCount.CompareAndSwap(current, current-1) {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *WorkerPool) run(qj queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				zap.String("job", qj.name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("job %s panicked: %v", qj.name, r)
		}
	}()

	if err := qj.ctx.Err(); err != nil {
		return err
	}
	return qj.job(qj.ctx)
}

// Close stops accepting jobs and waits for queued jobs to finish or for ctx
// to be done.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		return nil
	}
	close(p.queue)
	p.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("worker pool closed", zap.Int64("completed", p.completed.Load()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
