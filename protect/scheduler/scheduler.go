// Keyed work scheduler: items sharing a key run one at a time, in submission order, while different keys run in parallel on a fixed pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrQueueFull = errors.New("scheduler backlog full")
	ErrShutdown  = errors.New("scheduler shut down")
)

type WorkFunc func(ctx context.Context) error

type task struct {
	key string
	fn  WorkFunc
}

// Scheduler runs work on a fixed number of workers. Work for a key which is already being processed is queued behind it and picked up by the same worker.
type Scheduler struct {
	workers int
	// per-key backlog limit; zero means unbounded
	maxQueue int

	// context passed to every work item
	ctx context.Context

	next chan *task
	quit chan struct{}
	wg   sync.WaitGroup

	lk sync.Mutex
	// signalled whenever a key leaves the active set
	idle *sync.Cond
	// keys with work in flight, mapped to the work queued behind it
	active   map[string][]*task
	draining bool

	metrics poolMetrics
	log     *slog.Logger
}

type poolMetrics struct {
	added     prometheus.Counter
	processed prometheus.Counter
	dropped   prometheus.Counter
	failed    prometheus.Counter
	workers   prometheus.Gauge
}

func NewScheduler(ctx context.Context, workers, maxQueue int, pool string, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		workers:  workers,
		maxQueue: maxQueue,
		ctx:      ctx,
		next:     make(chan *task),
		quit:     make(chan struct{}),
		active:   make(map[string][]*task),
		metrics: poolMetrics{
			added:     workItemsAdded.WithLabelValues(pool),
			processed: workItemsProcessed.WithLabelValues(pool),
			dropped:   workItemsDropped.WithLabelValues(pool),
			failed:    workItemsFailed.WithLabelValues(pool),
			workers:   workersActive.WithLabelValues(pool),
		},
		log: logger.With("system", "scheduler", "pool", pool),
	}
	s.idle = sync.NewCond(&s.lk)

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	s.metrics.workers.Set(float64(workers))
	return s
}

// Shutdown refuses new work, waits for in-flight and queued work to finish, then stops the workers.
func (s *Scheduler) Shutdown() {
	s.lk.Lock()
	if s.draining {
		s.lk.Unlock()
		return
	}
	s.draining = true
	s.log.Info("draining scheduler", "keys", len(s.active))
	for len(s.active) > 0 {
		s.idle.Wait()
	}
	s.lk.Unlock()

	close(s.quit)
	s.wg.Wait()
	s.metrics.workers.Set(0)
	s.log.Info("scheduler stopped")
}

// AddWork submits fn to run after any earlier work for the same key. It blocks only while waiting for an idle worker for a new key.
func (s *Scheduler) AddWork(ctx context.Context, key string, fn WorkFunc) error {
	t := &task{key: key, fn: fn}

	s.lk.Lock()
	if s.draining {
		s.lk.Unlock()
		return ErrShutdown
	}
	if backlog, busy := s.active[key]; busy {
		if s.maxQueue > 0 && len(backlog) >= s.maxQueue {
			s.lk.Unlock()
			s.metrics.dropped.Inc()
			return fmt.Errorf("%w: key %s", ErrQueueFull, key)
		}
		s.active[key] = append(backlog, t)
		s.lk.Unlock()
		s.metrics.added.Inc()
		return nil
	}
	s.active[key] = nil
	s.lk.Unlock()

	select {
	case s.next <- t:
		s.metrics.added.Inc()
		return nil
	case <-ctx.Done():
	}

	// work may have been queued behind this key while we waited; it still needs a worker
	s.lk.Lock()
	backlog := s.active[key]
	if len(backlog) == 0 {
		s.release(key)
		s.lk.Unlock()
		return ctx.Err()
	}
	s.active[key] = backlog[1:]
	s.lk.Unlock()
	go func() { s.next <- backlog[0] }()
	return ctx.Err()
}

// release drops key from the active set; callers hold s.lk.
func (s *Scheduler) release(key string) {
	delete(s.active, key)
	s.idle.Broadcast()
}

func (s *Scheduler) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.failed.Inc()
			s.log.Error("recovered panic in scheduled work", "key", t.key, "panic", r)
		}
	}()
	if err := t.fn(s.ctx); err != nil {
		s.metrics.failed.Inc()
		s.log.Error("scheduled work failed", "key", t.key, "err", err)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.next:
			s.drain(t)
		case <-s.quit:
			return
		}
	}
}

// drain runs t and then everything queued behind its key.
func (s *Scheduler) drain(t *task) {
	for t != nil {
		s.run(t)
		s.metrics.processed.Inc()

		s.lk.Lock()
		backlog := s.active[t.key]
		if len(backlog) == 0 {
			s.release(t.key)
			t = nil
		} else {
			s.active[t.key] = backlog[1:]
			t = backlog[0]
		}
		s.lk.Unlock()
	}
}

// Pending is the number of keys with work in flight or queued.
func (s *Scheduler) Pending() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.active)
}
