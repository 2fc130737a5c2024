package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// BookResolver is the work the queue serializes. *Resolver implements it.
type BookResolver interface {
	Resolve(ctx context.Context, isbn string) (*Record, error)
}

type result struct {
	record *Record
	err    error
}

type task struct {
	seq  uint64
	isbn string
	done chan result
}

// Queue runs resolutions on a single worker goroutine, one at a time, in
// submission order.
type Queue struct {
	resolver BookResolver
	limiter  *rate.Limiter

	mu      sync.Mutex
	pending []*task
	seq     uint64
	started bool
	closing bool

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a queue. interval is the minimum spacing between two
// lookups; zero or less means no spacing.
func NewQueue(resolver BookResolver, interval time.Duration) *Queue {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, 1),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closing {
		return
	}
	q.started = true
	go q.run()
	log.Info().Msg("Resolution queue started")
}

// Submit enqueues a lookup and waits for its result. If ctx ends first the
// caller gets ctx.Err() but the task still runs when its turn comes.
func (q *Queue) Submit(ctx context.Context, isbn string) (*Record, error) {
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		return nil, ErrShuttingDown
	}
	q.seq++
	t := &task{seq: q.seq, isbn: isbn, done: make(chan result, 1)}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-t.done:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of tasks waiting to run, excluding the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown stops accepting work, fails every queued task with
// ErrShuttingDown and waits for the in-flight task. If ctx ends first the
// in-flight lookup is canceled and ctx.Err() is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		<-q.stopped
		return nil
	}
	q.closing = true
	abandoned := q.pending
	q.pending = nil
	started := q.started
	q.mu.Unlock()

	for _, t := range abandoned {
		t.done <- result{err: ErrShuttingDown}
	}
	if len(abandoned) > 0 {
		log.Warn().Int("abandoned", len(abandoned)).Msg("Abandoned queued resolutions")
	}

	close(q.quit)
	if !started {
		close(q.stopped)
		q.cancel()
		return nil
	}

	select {
	case <-q.stopped:
		q.cancel()
		log.Info().Msg("Resolution queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.stopped
		log.Warn().Msg("Resolution queue stopped before in-flight lookup finished")
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		t := q.next()
		if t == nil {
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}
		t.done <- q.execute(t)
	}
}

// next pops the oldest pending task, or nil when there is none
func (q *Queue) next() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing || len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return t
}

func (q *Queue) execute(t *task) result {
	if err := q.limiter.Wait(q.ctx); err != nil {
		return result{err: ErrShuttingDown}
	}

	start := time.Now()
	rec, err := q.resolver.Resolve(q.ctx, t.isbn)
	if err != nil && q.ctx.Err() != nil {
		err = ErrShuttingDown
	}
	evt := log.Debug()
	if err != nil {
		evt = log.Info().Err(err)
	}
	evt.Uint64("seq", t.seq).
		Str("isbn", t.isbn).
		Dur("elapsed", time.Since(start)).
		Msg("Resolution finished")

	return result{record: rec, err: err}
}
