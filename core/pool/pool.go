// Package pool implements the fixed-size work-stealing scheduler that drives
// batch scans. Each worker owns a private deque and falls back to the shared
// pool queue, then to stealing from peers. Submission always lands on the
// shared queue; the controller drives phased submit/drain/aggregate cycles via
// WaitForIdle and WaitForFinished.
package pool

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"

	"gainscan/logger"
)

// ErrPoolClosed is returned by Submit after shutdown began.
var ErrPoolClosed = errors.New("pool: already shut down")

// Task is a unit of work. Ownership transfers to whichever worker dequeues
// it; a returned error is recorded on the task's handle, never acted on by
// the scheduler itself.
type Task func() error

type queuedTask struct {
	id  string
	run func()
}

// Handle tracks completion of a submitted task.
type Handle struct {
	id   string
	done chan struct{}
	err  error
}

// ID returns the task's correlation id used in debug logs.
func (h *Handle) ID() string { return h.id }

// Done returns a channel closed once the task has run.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task has run.
func (h *Handle) Wait() { <-h.done }

// Err returns the task's error. Valid only after Done is closed.
func (h *Handle) Err() error { return h.err }

// stealQueue is a mutex-guarded deque. Local pop and steal both take from the
// front: submission is always external, so there is no LIFO/FIFO asymmetry to
// preserve.
type stealQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
}

func (q *stealQueue) push(t queuedTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

func (q *stealQueue) tryPop() (queuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return queuedTask{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Pool is a fixed-size pool of workers with per-worker queues plus one shared
// queue. Created once per batch run and torn down by WaitForFinished.
type Pool struct {
	queues   []*stealQueue
	shared   stealQueue
	idling   []atomic.Bool
	waitIdle atomic.Bool
	done     atomic.Bool
	wg       sync.WaitGroup
	size     int
}

// DefaultThreads returns the worker count used when none is configured:
// the machine's physical core count, falling back to runtime.NumCPU.
func DefaultThreads() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// New constructs a pool with n workers and starts them. n <= 0 selects
// DefaultThreads; n is capped at the logical CPU count.
func New(n int) (*Pool, error) {
	if n < 0 {
		return nil, errors.New("pool: negative worker count")
	}
	if n == 0 {
		n = DefaultThreads()
	}
	if max := runtime.NumCPU(); n > max {
		n = max
	}

	p := &Pool{
		queues: make([]*stealQueue, n),
		idling: make([]atomic.Bool, n),
		size:   n,
	}
	for i := range p.queues {
		p.queues[i] = &stealQueue{}
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Debug("worker pool started", logger.Int("workers", n))
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Submit enqueues a task on the shared queue and returns a completion handle.
func (p *Pool) Submit(task Task) (*Handle, error) {
	if p.done.Load() {
		return nil, ErrPoolClosed
	}
	h := &Handle{id: uuid.NewString(), done: make(chan struct{})}
	p.shared.push(queuedTask{id: h.id, run: func() {
		defer close(h.done)
		h.err = task()
	}})
	return h, nil
}

// WaitForIdle blocks until every worker has simultaneously observed an empty
// local queue, shared queue and steal scan. The caller must not submit
// concurrently with WaitForIdle if it expects a clean synchronization point.
func (p *Pool) WaitForIdle() {
	p.waitIdle.Store(true)
	for {
		allIdle := true
		for i := range p.idling {
			if !p.idling[i].Load() {
				allIdle = false
				break
			}
		}
		if allIdle {
			break
		}
		time.Sleep(100 * time.Microsecond)
	}
	p.waitIdle.Store(false)
	for i := range p.idling {
		p.idling[i].Store(false)
	}
}

// WaitForFinished drains all outstanding work, then shuts the workers down
// and joins them. The pool cannot be reused afterwards.
func (p *Pool) WaitForFinished() {
	p.WaitForIdle()
	p.done.Store(true)
	p.wg.Wait()
	logger.Debug("worker pool finished")
}

func (p *Pool) worker(index int) {
	defer p.wg.Done()

	for !p.done.Load() {
		if t, ok := p.fetch(index); ok {
			p.execute(index, t)
			continue
		}
		if p.waitIdle.Load() && !p.idling[index].Load() {
			// Re-check after observing the drain phase: anything submitted
			// before WaitForIdle began is visible by now.
			if t, ok := p.fetch(index); ok {
				p.execute(index, t)
				continue
			}
			p.idling[index].Store(true)
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// fetch tries the local queue, the shared queue, then a steal scan. A worker
// that dequeues work is no longer idle.
func (p *Pool) fetch(index int) (queuedTask, bool) {
	if t, ok := p.queues[index].tryPop(); ok {
		p.idling[index].Store(false)
		return t, true
	}
	if t, ok := p.shared.tryPop(); ok {
		p.idling[index].Store(false)
		return t, true
	}
	if t, ok := p.steal(index); ok {
		p.idling[index].Store(false)
		return t, true
	}
	return queuedTask{}, false
}

// steal scans peers starting just after this worker's own index.
func (p *Pool) steal(index int) (queuedTask, bool) {
	for i := 0; i < len(p.queues); i++ {
		victim := (index + i + 1) % len(p.queues)
		if victim == index {
			continue
		}
		if t, ok := p.queues[victim].tryPop(); ok {
			return t, true
		}
	}
	return queuedTask{}, false
}

func (p *Pool) execute(index int, t queuedTask) {
	logger.Debug("task start", logger.String("task", t.id), logger.Int("worker", index))
	t.run()
}
