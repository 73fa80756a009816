package threadpool

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// ErrPoolStopped signals that a task was submitted to a pool that has
// already been shut down.
var ErrPoolStopped = errors.New("thread pool stopped")

// taskBacklog bounds the number of tasks that may be queued ahead of the
// workers before Spawn blocks.
const taskBacklog = 128

// Pool is a fixed-size worker pool. Submitted tasks are executed by the
// pool's workers in submission order. The pool is used both as the
// validation (priority) executor and as the dispatch executor the organizer
// hops completion handlers onto.
type Pool struct {
	name     string
	elevated bool

	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
}

// Cores returns the number of workers to allocate for a validation pool
// given the configured value. Zero means one worker per hardware thread,
// and any configured value is clamped to the hardware concurrency.
func Cores(configured int) int {
	hardware := runtime.NumCPU()
	if hardware < 1 {
		hardware = 1
	}
	if configured == 0 || configured > hardware {
		return hardware
	}
	return configured
}

// New creates a pool with the given number of workers and starts them. The
// elevated flag records that the caller asked for raised scheduling
// priority. The Go runtime offers no per-goroutine priority, so the flag
// only affects reporting.
func New(name string, workers int, elevated bool) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{
		name:     name,
		elevated: elevated,
		tasks:    make(chan func(), taskBacklog),
		quit:     make(chan struct{}),
	}

	log.Debugf("Starting pool %s with %d workers", name, workers)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		spawn(p.worker)
	}

	return p
}

// Name returns the pool name used in logs.
func (p *Pool) Name() string {
	return p.name
}

// Elevated returns whether the pool was configured for raised priority.
func (p *Pool) Elevated() bool {
	return p.elevated
}

// Spawn submits a task for execution by the pool. It blocks while the
// backlog is full and returns ErrPoolStopped after Shutdown.
func (p *Pool) Spawn(task func()) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Shutdown stops accepting tasks, drains tasks already queued, and blocks
// until all workers have exited.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

// worker processes queued tasks until shutdown, then drains whatever is
// still queued so completion handlers are never silently dropped.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.quit:
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}
