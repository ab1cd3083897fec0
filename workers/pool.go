package workers

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultQueueSize = 16

var (
	ErrQueueFull   = errors.New("transcription queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job is a unit of blocking work. It must honour ctx.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	job  Job
	done chan error
}

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
// Submit never blocks: when the queue is full the job is rejected.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan task
	size   int
	log    logrus.FieldLogger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a pool of size workers with a queue of queueSize pending
// jobs. Zero values fall back to runtime.NumCPU() and DefaultQueueSize.
func NewPool(size, queueSize int, log logrus.FieldLogger) (*Pool, error) {
	if size < 0 {
		return nil, errors.Errorf("pool size must not be negative, got %d", size)
	}
	if queueSize < 0 {
		return nil, errors.Errorf("queue size must not be negative, got %d", queueSize)
	}
	if size == 0 {
		size = runtime.NumCPU()
	}
	if queueSize == 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan task, queueSize),
		size:   size,
		log:    log.WithField("component", "workers"),
	}, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.log.WithField("workers", p.size).Info("worker pool started")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.tasks:
			if err := t.ctx.Err(); err != nil {
				t.done <- err
				continue
			}
			t.done <- p.execute(id, t)
		}
	}
}

func (p *Pool) execute(id int, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("worker", id).Errorf("job panicked: %v", r)
			err = errors.Errorf("job panicked: %v", r)
		}
	}()
	// Jobs observe both their own context and the pool's, so Stop never
	// waits on a job whose caller has not cancelled it.
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	return t.job(ctx)
}

// Submit queues job and returns a channel that receives its result exactly
// once. It fails fast with ErrQueueFull or ErrPoolStopped.
func (p *Pool) Submit(ctx context.Context, job Job) (<-chan error, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrPoolStopped
	}
	t := task{ctx: ctx, job: job, done: make(chan error, 1)}
	select {
	case p.tasks <- t:
		return t.done, nil
	default:
		p.log.WithField("queued", len(p.tasks)).Warn("rejecting job, queue is full")
		return nil, ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Stop cancels the workers and the context of every running job, then waits
// for running jobs to return. Jobs still queued receive ErrPoolStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	for {
		select {
		case t := <-p.tasks:
			t.done <- ErrPoolStopped
		default:
			p.log.Info("worker pool stopped")
			return
		}
	}
}
