// Package queue provides an in-process job queue with delayed delivery
// and retry backoff. Jobs live in memory only; a restart drops scheduled
// work, so everything enqueued here is also recoverable from store scans.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/billgate/ports"
)

// Options configures the in-process queue.
type Options struct {
	// Workers is the number of concurrent handler goroutines.
	Workers int

	// MaxAttempts is the delivery limit per job. After this many failed
	// attempts the job is dropped with an error log.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry. Each further retry
	// doubles it.
	BaseBackoff time.Duration
}

// DefaultOptions returns the options used when a field is zero.
func DefaultOptions() Options {
	return Options{
		Workers:     4,
		MaxAttempts: 5,
		BaseBackoff: 30 * time.Second,
	}
}

type scheduled struct {
	job   ports.Job
	runAt time.Time
	seq   int64
}

// jobHeap orders jobs by runAt, then insertion order.
type jobHeap []*scheduled

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*scheduled)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Memory is an in-process ports.JobQueue.
type Memory struct {
	opts  Options
	clock ports.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	pending  jobHeap
	handlers map[string]ports.JobHandler
	seq      int64
	started  bool
	closed   bool

	wake   chan struct{}
	done   chan struct{}
	work   chan ports.Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewMemory creates an in-process queue. Zero option fields fall back to
// DefaultOptions.
func NewMemory(opts Options, clock ports.Clock, log zerolog.Logger) *Memory {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	return &Memory{
		opts:     opts,
		clock:    clock,
		log:      log.With().Str("component", "queue").Logger(),
		handlers: make(map[string]ports.JobHandler),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		work:     make(chan ports.Job),
	}
}

// Enqueue schedules a job to run no earlier than notBefore.
func (q *Memory) Enqueue(ctx context.Context, job ports.Job, notBefore time.Time) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.seq++
	heap.Push(&q.pending, &scheduled{job: job, runAt: notBefore, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Handle registers the handler for a job type. Must be called before Start.
func (q *Memory) Handle(jobType string, h ports.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Start begins delivering jobs.
func (q *Memory) Start() {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.wg.Add(1)
	go q.dispatch(ctx)
}

// Close stops delivery and waits for in-flight handlers. Jobs still
// pending are discarded.
func (q *Memory) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	close(q.done)
	if started {
		q.cancel()
		q.wg.Wait()
	}
	return nil
}

// dispatch moves due jobs from the heap to the worker channel.
func (q *Memory) dispatch(ctx context.Context) {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := q.clock.Now()

		q.mu.Lock()
		var next *scheduled
		if len(q.pending) > 0 {
			next = q.pending[0]
		}
		var due *scheduled
		if next != nil && !next.runAt.After(now) {
			due = heap.Pop(&q.pending).(*scheduled)
		}
		q.mu.Unlock()

		if due != nil {
			select {
			case q.work <- due.job:
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Second
		if next != nil {
			wait = next.runAt.Sub(now)
			if wait < 10*time.Millisecond {
				wait = 10 * time.Millisecond
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-q.wake:
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}
}

func (q *Memory) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.work:
			q.deliver(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Memory) deliver(ctx context.Context, job ports.Job) {
	q.mu.Lock()
	h := q.handlers[job.Type]
	q.mu.Unlock()

	if h == nil {
		q.log.Error().Str("type", job.Type).Msg("no handler registered, dropping job")
		return
	}

	err := h(ctx, job)
	if err == nil {
		return
	}

	job.Attempt++
	if job.Attempt >= q.opts.MaxAttempts {
		q.log.Error().
			Err(err).
			Str("type", job.Type).
			Int("attempts", job.Attempt).
			Msg("job failed permanently")
		return
	}

	backoff := q.opts.BaseBackoff << (job.Attempt - 1)
	q.log.Warn().
		Err(err).
		Str("type", job.Type).
		Int("attempt", job.Attempt).
		Dur("backoff", backoff).
		Msg("job failed, retrying")

	if qerr := q.Enqueue(ctx, job, q.clock.Now().Add(backoff)); qerr != nil {
		q.log.Error().Err(qerr).Str("type", job.Type).Msg("requeue failed")
	}
}

var _ ports.JobQueue = (*Memory)(nil)
