// Package jobs implements the bounded worker pool that runs chunk generation
// and placement pipelines off the owning world goroutine. Jobs are serviced
// in priority order (lower keys first, keyed by viewer distance) and may be
// cancelled at any point: a job cancelled while still queued is dropped
// without side effects, a job cancelled while executing has its result
// discarded by the caller.
package jobs

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Config holds the options for a Pool.
type Config struct {
	// Log is the logger jobs report panics and retries to. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
	// Workers bounds the number of jobs executing concurrently. If zero or
	// lower, a single worker is used.
	Workers int
}

// Fn is the unit of work of a job. The context is cancelled when the job is
// cancelled while executing; a job that observes the cancellation may return
// early with ctx.Err().
type Fn func(ctx context.Context) (any, error)

// Job wraps one chunk's generation and placement pipeline.
type Job struct {
	// Priority orders queued jobs; lower values are serviced first. The
	// world submits the squared viewer distance here so nearby chunks
	// generate before far ones.
	Priority int64
	// Run produces the job's result.
	Run Fn
	// Fallback, if non-nil, is invoked once when Run panics. The world
	// installs the degraded flat-terrain path here so a crashing generator
	// never leaves a hole in the terrain.
	Fallback Fn
}

// Result is delivered on a handle's Done channel exactly once.
type Result struct {
	Value any
	Err   error
	// Cancelled is true if the job was cancelled before or during execution.
	// A cancelled result is a normal discard outcome, not a failure.
	Cancelled bool
	// Retried is true if the result came from the job's fallback path after
	// the primary run panicked.
	Retried bool
}

type handleState int32

const (
	stateQueued handleState = iota
	stateRunning
	stateDone
	stateCancelled
)

// Handle identifies a submitted job. It is returned by Pool.Submit and
// accepted by Pool.Cancel.
type Handle struct {
	ID uuid.UUID

	pool     *Pool
	priority int64
	job      Job

	done chan Result

	// Guarded by the pool mutex.
	state     handleState
	heapIndex int
	cancel    context.CancelFunc
}

// Done returns a channel that receives the job's Result exactly once.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// Pool is a bounded-concurrency priority worker pool. The zero value is not
// usable; use New.
type Pool struct {
	conf Config

	mu     sync.Mutex
	queue  jobHeap
	closed bool

	wake    chan struct{}
	closing chan struct{}
	running sync.WaitGroup

	metrics Metrics
}

// New creates a Pool and starts its workers.
func New(conf Config) *Pool {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Workers <= 0 {
		conf.Workers = 1
	}
	p := &Pool{
		conf:    conf,
		wake:    make(chan struct{}, conf.Workers),
		closing: make(chan struct{}),
	}
	p.running.Add(conf.Workers)
	for i := 0; i < conf.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a job and returns its handle. Submitting to a closed pool
// returns a handle whose result is an immediate cancellation.
func (p *Pool) Submit(job Job) *Handle {
	h := &Handle{
		ID:       uuid.New(),
		pool:     p,
		priority: job.Priority,
		job:      job,
		done:     make(chan Result, 1),
	}
	p.mu.Lock()
	if p.closed {
		h.state = stateCancelled
		p.mu.Unlock()
		h.done <- Result{Cancelled: true}
		return h
	}
	heap.Push(&p.queue, h)
	p.metrics.Submitted.Add(1)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return h
}

// Cancel cancels the job behind the handle. If the job has not started yet it
// is removed from the queue and never runs; if it is executing, its context
// is cancelled and the eventual result carries Cancelled. Cancelling a
// finished or foreign handle is a no-op.
func (p *Pool) Cancel(h *Handle) {
	if h == nil || h.pool != p {
		return
	}
	p.mu.Lock()
	switch h.state {
	case stateQueued:
		heap.Remove(&p.queue, h.heapIndex)
		h.state = stateCancelled
		p.metrics.Cancelled.Add(1)
		p.mu.Unlock()
		h.done <- Result{Cancelled: true}
		return
	case stateRunning:
		h.state = stateCancelled
		if h.cancel != nil {
			h.cancel()
		}
	}
	p.mu.Unlock()
}

// QueueLen returns the number of jobs waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return p.metrics.snapshot()
}

// Close stops the workers and cancels all queued jobs. Running jobs finish
// their current work before the workers exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var dropped []*Handle
	for p.queue.Len() > 0 {
		h := heap.Pop(&p.queue).(*Handle)
		h.state = stateCancelled
		dropped = append(dropped, h)
	}
	p.mu.Unlock()

	for _, h := range dropped {
		p.metrics.Cancelled.Add(1)
		h.done <- Result{Cancelled: true}
	}
	close(p.closing)
	p.running.Wait()
}

func (p *Pool) worker() {
	defer p.running.Done()
	for {
		select {
		case <-p.closing:
			return
		case <-p.wake:
		}
		for {
			h := p.next()
			if h == nil {
				break
			}
			p.run(h)
		}
	}
}

// next pops the highest-priority queued job and marks it running, or returns
// nil if the queue is empty.
func (p *Pool) next() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() == 0 {
		return nil
	}
	h := heap.Pop(&p.queue).(*Handle)
	h.state = stateRunning
	return h
}

func (p *Pool) run(h *Handle) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	if h.state == stateCancelled {
		// Cancelled between next() and run(); deliver the discard outcome
		// without executing.
		p.mu.Unlock()
		cancel()
		p.metrics.Cancelled.Add(1)
		h.done <- Result{Cancelled: true}
		return
	}
	h.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	value, err, panicked := p.invoke(ctx, h, h.job.Run)
	retried := false
	if panicked && h.job.Fallback != nil {
		// One retry through the degraded path. A second panic is treated as
		// a plain job failure; the pool itself never terminates because of
		// one job.
		p.metrics.Retried.Add(1)
		retried = true
		value, err, panicked = p.invoke(ctx, h, h.job.Fallback)
	}
	if panicked {
		err = fmt.Errorf("job %v: worker panicked", h.ID)
	}

	p.mu.Lock()
	cancelled := h.state == stateCancelled || ctx.Err() != nil
	if !cancelled {
		h.state = stateDone
	}
	p.mu.Unlock()

	if cancelled {
		p.metrics.Cancelled.Add(1)
		h.done <- Result{Cancelled: true}
		return
	}
	p.metrics.Completed.Add(1)
	h.done <- Result{Value: value, Err: err, Retried: retried}
}

// invoke runs fn, converting a panic into a recorded failure so a crashing
// job cannot take its worker down.
func (p *Pool) invoke(ctx context.Context, h *Handle, fn Fn) (value any, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			p.conf.Log.Error("job panicked", "job", h.ID, "error", fmt.Sprint(r))
			panicked = true
		}
	}()
	value, err = fn(ctx)
	return value, err, false
}

// jobHeap orders handles by ascending priority key. Ties are broken by
// submission order through the monotonically growing seq counter so equal
// distances stay first-in-first-out.
type jobHeap struct {
	items []*Handle
	seqs  []uint64
	seq   uint64
}

func (q *jobHeap) Len() int { return len(q.items) }

func (q *jobHeap) Less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority < q.items[j].priority
	}
	return q.seqs[i] < q.seqs[j]
}

func (q *jobHeap) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.seqs[i], q.seqs[j] = q.seqs[j], q.seqs[i]
	q.items[i].heapIndex = i
	q.items[j].heapIndex = j
}

func (q *jobHeap) Push(x any) {
	h := x.(*Handle)
	h.heapIndex = len(q.items)
	q.seq++
	q.items = append(q.items, h)
	q.seqs = append(q.seqs, q.seq)
}

func (q *jobHeap) Pop() any {
	n := len(q.items) - 1
	h := q.items[n]
	q.items[n] = nil
	q.items = q.items[:n]
	q.seqs = q.seqs[:n]
	h.heapIndex = -1
	return h
}
