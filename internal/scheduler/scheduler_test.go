package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSchedulerDedupesBeforeExecution(t *testing.T) {
	s := newTestStore(t)
	sc := New(s)

	var calls int64
	done := make(chan struct{}, 1)
	sc.RegisterPool("reduce", 1, func(ctx context.Context, input store.TaskInput) (Result, error) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			// Block the single worker so the second submission for the
			// same input has to be observed as a dedup drop, not a race.
			<-done
		}
		return Result{}, nil
	})
	require.NoError(t, sc.Start())
	defer sc.Stop()

	input := store.TaskInput{Kind: store.DocumentInput, DocumentID: [34]byte{1}}
	sc.Submit(Task{Name: "reduce", Input: input})
	time.Sleep(20 * time.Millisecond) // let the dispatcher pick it up and block the worker
	sc.Submit(Task{Name: "reduce", Input: input})
	time.Sleep(20 * time.Millisecond)
	close(done)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "duplicate input must not run a second time while the first is in flight")
}

func TestSchedulerRunsFollowUpTasks(t *testing.T) {
	s := newTestStore(t)
	sc := New(s)

	var mu sync.Mutex
	var seen []string
	allDone := make(chan struct{})

	sc.RegisterPool("reduce", 1, func(ctx context.Context, input store.TaskInput) (Result, error) {
		mu.Lock()
		seen = append(seen, "reduce")
		mu.Unlock()
		return Result{FollowUps: []Task{{Name: "dependency", Input: input}}}, nil
	})
	sc.RegisterPool("dependency", 1, func(ctx context.Context, input store.TaskInput) (Result, error) {
		mu.Lock()
		seen = append(seen, "dependency")
		done := len(seen) == 2
		mu.Unlock()
		if done {
			close(allDone)
		}
		return Result{}, nil
	})
	require.NoError(t, sc.Start())
	defer sc.Stop()

	sc.Submit(Task{Name: "reduce", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: [34]byte{2}}})

	select {
	case <-allDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for follow-up task to run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reduce", "dependency"}, seen)
}

func TestSchedulerRetryableFailureIsDiscardedNotCritical(t *testing.T) {
	s := newTestStore(t)
	sc := New(s)

	var criticalCalled bool
	sc.SetCriticalHandler(func(name string, input store.TaskInput, err error) {
		criticalCalled = true
	})

	ran := make(chan struct{})
	sc.RegisterPool("schema", 1, func(ctx context.Context, input store.TaskInput) (Result, error) {
		close(ran)
		return Result{}, coreerrors.ErrTaskRetryable
	})
	require.NoError(t, sc.Start())
	defer sc.Stop()

	sc.Submit(Task{Name: "schema", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: [34]byte{3}}})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker never ran")
	}
	time.Sleep(20 * time.Millisecond)
	assert.False(t, criticalCalled, "a retryable failure must not be treated as critical")
}

func TestSchedulerCriticalFailureInvokesHandler(t *testing.T) {
	s := newTestStore(t)
	sc := New(s)

	critical := make(chan error, 1)
	sc.SetCriticalHandler(func(name string, input store.TaskInput, err error) {
		critical <- err
	})
	sc.RegisterPool("blob", 1, func(ctx context.Context, input store.TaskInput) (Result, error) {
		return Result{}, coreerrors.ErrTaskCritical
	})
	require.NoError(t, sc.Start())
	defer sc.Stop()

	sc.Submit(Task{Name: "blob", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: [34]byte{4}}})

	select {
	case err := <-critical:
		assert.ErrorIs(t, err, coreerrors.ErrTaskCritical)
	case <-time.After(time.Second):
		t.Fatal("critical handler was never invoked")
	}
}

func TestSchedulerWarmStartsFromPersistedTasks(t *testing.T) {
	s := newTestStore(t)
	input := store.TaskInput{Kind: store.DocumentInput, DocumentID: [34]byte{5}}
	enqueued, err := s.EnqueueTask("reduce", input)
	require.NoError(t, err)
	require.True(t, enqueued)

	sc := New(s)
	ran := make(chan struct{})
	sc.RegisterPool("reduce", 1, func(ctx context.Context, got store.TaskInput) (Result, error) {
		assert.Equal(t, input, got)
		close(ran)
		return Result{}, nil
	})
	require.NoError(t, sc.Start())
	defer sc.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("warm-started task never ran")
	}
}
