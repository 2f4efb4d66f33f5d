package deferred

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type failureSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *failureSink) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *failureSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestDeferReturnsBeforeTaskCompletes(t *testing.T) {
	group := NewGroup(Options{})
	release := make(chan struct{})
	finished := make(chan struct{})

	start := time.Now()
	group.Defer(func(ctx context.Context) error {
		<-release
		close(finished)
		return nil
	})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Defer blocked for %v", elapsed)
	}
	if group.Inflight() != 1 {
		t.Fatalf("expected 1 inflight task, got %d", group.Inflight())
	}

	close(release)
	group.Wait()
	select {
	case <-finished:
	default:
		t.Fatalf("task should have finished after Wait")
	}
	if group.Inflight() != 0 {
		t.Fatalf("expected no inflight tasks, got %d", group.Inflight())
	}
}

func TestTaskFailureIsReported(t *testing.T) {
	sink := &failureSink{}
	logBuf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(logBuf)

	group := NewGroup(Options{Logger: logger, OnFailure: sink.record})
	boom := errors.New("boom")
	group.Defer(func(ctx context.Context) error { return boom })
	group.Wait()

	errs := sink.all()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("expected boom to be reported, got %v", errs)
	}
	if !strings.Contains(logBuf.String(), "deferred_task_failed") {
		t.Fatalf("expected failure to be logged, got %s", logBuf.String())
	}
}

func TestTaskPanicIsReported(t *testing.T) {
	sink := &failureSink{}
	group := NewGroup(Options{OnFailure: sink.record})
	group.Defer(func(ctx context.Context) error { panic("kaboom") })
	group.Wait()

	errs := sink.all()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "kaboom") {
		t.Fatalf("expected panic to be reported as error, got %v", errs)
	}
}

func TestTaskTimeoutAppliesToContext(t *testing.T) {
	group := NewGroup(Options{TaskTimeout: 20 * time.Millisecond})
	var got error
	group.Defer(func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return nil
	})
	group.Wait()
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", got)
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	sink := &failureSink{}
	group := NewGroup(Options{OnFailure: sink.record})

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		group.Defer(func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Close(context.Background()); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if ran != 5 {
		t.Fatalf("expected 5 tasks to settle before Close returned, got %d", ran)
	}

	group.Defer(func(ctx context.Context) error { return nil })
	errs := sink.all()
	if len(errs) != 1 || !errors.Is(errs[0], ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", errs)
	}
}

func TestCloseDeadlineCancelsTasks(t *testing.T) {
	group := NewGroup(Options{})
	cancelled := make(chan struct{})
	group.Defer(func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := group.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("task context should be cancelled once Close gives up")
	}
}

func TestCloseDeadlineDoesNotWaitForStuckTasks(t *testing.T) {
	group := NewGroup(Options{})
	release := make(chan struct{})
	group.Defer(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	returned := make(chan error, 1)
	go func() { returned <- group.Close(ctx) }()

	select {
	case err := <-returned:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Close should return once its deadline passes")
	}
	if group.Inflight() != 1 {
		t.Fatalf("stuck task should still be inflight, got %d", group.Inflight())
	}

	close(release)
	group.Wait()
}
