package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrQueueFull is returned by TrySubmit when the queue is at capacity.
	ErrQueueFull = errors.New("worker pool queue is full")

	// ErrPoolStopped is returned when submitting to a stopped pool.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Job is a unit of work run by the pool.
type Job func(ctx context.Context)

// Config controls pool sizing.
type Config struct {
	// Workers is the number of goroutines. Values <= 0 default to 1.
	Workers int

	// QueueCapacity bounds queued jobs. Values <= 0 default to 1024.
	QueueCapacity int

	// Logger receives panic diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// Pool is a fixed-size worker pool.
type Pool struct {
	workers int
	jobs    chan Job
	logger  *slog.Logger

	mu      sync.RWMutex // guards stopped and the close of jobs
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool and starts its workers.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: cfg.Workers,
		jobs:    make(chan Job, cfg.QueueCapacity),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(id, job)
		}
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker_panic",
				slog.Int("worker", id),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	job(p.ctx)
}

// Submit queues job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// TrySubmit queues job without blocking.
func (p *Pool) TrySubmit(job Job) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait queues job and waits for it to finish. It returns job's error,
// or an error if the job panicked or could not be queued.
func (p *Pool) SubmitWait(ctx context.Context, job func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := p.Submit(ctx, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.New("job panicked")
			}
		}()
		done <- job(ctx)
	})
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

// Len returns the number of queued jobs.
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Context returns the pool context, cancelled when the pool stops.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Stop discards queued jobs and waits for running jobs to return.
func (p *Pool) Stop() {
	p.cancel()
	p.close()
	p.wg.Wait()
}

// StopWait runs every queued job, then stops the workers.
func (p *Pool) StopWait() {
	p.close()
	p.wg.Wait()
	p.cancel()
}

func (p *Pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.jobs)
}

// IsRunning reports whether the pool accepts jobs.
func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.stopped
}
