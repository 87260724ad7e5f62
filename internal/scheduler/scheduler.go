// Package scheduler dispatches materializer tasks across fixed,
// named worker pools (spec §4.6).
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/metrics"
	"github.com/cuemby/warren/internal/store"
	"github.com/rs/zerolog"
)

// Task is one submission on the broadcast bus: a named worker pool and
// the input it should act on.
type Task struct {
	Name  string
	Input store.TaskInput
}

// Result is what a worker handler returns on success: any follow-up
// tasks to broadcast (spec §4.5 steps that "emit" further tasks).
type Result struct {
	FollowUps []Task
}

// Handler executes one task input for a named worker. It returns a
// coreerrors-tagged error: wrapping coreerrors.ErrTaskRetryable for a
// missing-input condition, coreerrors.ErrTaskCritical for a violated
// invariant, or nil plus follow-up tasks on success.
type Handler func(ctx context.Context, input store.TaskInput) (Result, error)

// Scheduler owns a fixed set of named worker pools and the broadcast
// bus that feeds them (spec §4.6 "Dispatch").
type Scheduler struct {
	store  store.Store
	logger zerolog.Logger

	bus chan Task

	mu    sync.Mutex
	pools map[string]*pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onCritical is invoked (once) when a worker reports a critical
	// failure or panics; the default terminates the process with exit
	// code 2 (spec §6).
	onCritical func(name string, input store.TaskInput, err error)
}

// pool is one named worker pool: a FIFO queue plus a dedup index of
// currently-enqueued inputs (spec §4.6).
type pool struct {
	name    string
	size    int
	handler Handler

	queue chan store.TaskInput

	mu    sync.Mutex
	dedup map[string]struct{}
}

// New builds a Scheduler backed by s. Register worker handlers with
// RegisterPool before calling Start.
func New(s store.Store) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	sc := &Scheduler{
		store:  s,
		logger: log.WithComponent("scheduler"),
		bus:    make(chan Task, 1024),
		pools:  make(map[string]*pool),
		ctx:    ctx,
		cancel: cancel,
	}
	sc.onCritical = sc.defaultOnCritical
	return sc
}

// SetCriticalHandler overrides the action taken when a worker reports a
// critical failure. Tests install a non-exiting handler; production
// wiring leaves the default (process exit 2).
func (s *Scheduler) SetCriticalHandler(fn func(name string, input store.TaskInput, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCritical = fn
}

func (s *Scheduler) defaultOnCritical(name string, input store.TaskInput, err error) {
	s.logger.Error().Err(err).Str("worker", name).Msg("critical task failure, terminating")
	os.Exit(2)
}

// RegisterPool declares a named worker pool with size concurrent
// workers. Must be called before Start.
func (s *Scheduler) RegisterPool(name string, size int, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[name] = &pool{
		name:    name,
		size:    size,
		handler: handler,
		queue:   make(chan store.TaskInput, 4096),
		dedup:   make(map[string]struct{}),
	}
}

// Start warm-starts every registered pool from persisted store tasks
// (so a restart resumes in-flight work) and launches the dispatcher and
// worker goroutines.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	pools := make([]*pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.Unlock()

	for _, p := range pools {
		inputs, err := s.store.ListTasks(p.name)
		if err != nil {
			return fmt.Errorf("scheduler: warm-start pool %q: %w", p.name, err)
		}
		for _, input := range inputs {
			p.enqueue(input)
		}
		for i := 0; i < p.size; i++ {
			s.wg.Add(1)
			go s.runWorker(p)
		}
	}

	s.wg.Add(1)
	go s.runDispatcher()
	return nil
}

// Stop cancels all worker and dispatcher goroutines and waits for the
// current unit of work in each to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Submit posts task to the broadcast bus (spec §4.6 "single broadcast
// bus"). Blocks briefly if the bus is full, providing the back-pressure
// spec §5 describes.
func (s *Scheduler) Submit(t Task) {
	select {
	case s.bus <- t:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) runDispatcher() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.bus:
			s.mu.Lock()
			p := s.pools[t.Name]
			s.mu.Unlock()
			if p == nil {
				s.logger.Warn().Str("worker", t.Name).Msg("task submitted for unregistered pool, dropping")
				continue
			}
			if p.enqueue(t.Input) {
				metrics.TasksEnqueued.WithLabelValues(t.Name).Inc()
			}
			metrics.TaskQueueDepth.WithLabelValues(t.Name).Set(float64(p.depth()))
		case <-s.ctx.Done():
			return
		}
	}
}

// enqueue inserts input into the pool's FIFO queue iff it is not
// already pending, returning whether it was newly enqueued.
func (p *pool) enqueue(input store.TaskInput) bool {
	h := input.Hash()
	key := string(h[:])
	p.mu.Lock()
	if _, exists := p.dedup[key]; exists {
		p.mu.Unlock()
		return false
	}
	p.dedup[key] = struct{}{}
	p.mu.Unlock()
	p.queue <- input
	return true
}

func (p *pool) depth() int {
	return len(p.queue)
}

func (s *Scheduler) runWorker(p *pool) {
	defer s.wg.Done()
	for {
		select {
		case input := <-p.queue:
			s.execute(p, input)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) execute(p *pool, input store.TaskInput) {
	timer := metrics.NewTimer()
	result, err := s.runHandlerSafely(p, input)
	timer.ObserveDuration(metrics.TaskDuration.WithLabelValues(p.name))

	h := input.Hash()
	p.mu.Lock()
	delete(p.dedup, string(h[:]))
	p.mu.Unlock()
	metrics.TaskQueueDepth.WithLabelValues(p.name).Set(float64(p.depth()))

	if err != nil {
		if coreerrors.Critical(err) {
			metrics.TasksFailedCritical.WithLabelValues(p.name).Inc()
			s.onCritical(p.name, input, err)
			return
		}
		metrics.TasksFailedRetryable.WithLabelValues(p.name).Inc()
		s.logger.Warn().Err(err).Str("worker", p.name).Msg("task failed retryably, discarding")
		// A retryable failure can still produce useful follow-up work
		// (e.g. the dependency worker enqueuing reduce tasks for the
		// targets it found missing) even though the task itself is not
		// removed from the store and may be retried later.
		for _, follow := range result.FollowUps {
			s.Submit(follow)
		}
		return
	}

	if removeErr := s.store.RemoveTask(p.name, input); removeErr != nil {
		s.logger.Error().Err(removeErr).Str("worker", p.name).Msg("failed to remove completed task from store")
	}
	metrics.TasksSucceeded.WithLabelValues(p.name).Inc()

	for _, follow := range result.FollowUps {
		s.Submit(follow)
	}
}

// runHandlerSafely turns a worker panic into a critical error instead of
// crashing the worker goroutine, so the scheduler's own exit path
// (rather than an unhandled panic) decides how the process terminates.
func (s *Scheduler) runHandlerSafely(p *pool, input store.TaskInput) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: worker %q panicked: %v", coreerrors.ErrTaskCritical, p.name, r)
		}
	}()
	return p.handler(s.ctx, input)
}
