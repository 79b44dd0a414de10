package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatch_IndependentResults(t *testing.T) {
	b := NewBatch[string, string](2)

	tasks := map[string]Task[string]{
		"a": func(context.Context) (string, error) { time.Sleep(20 * time.Millisecond); return "A", nil },
		"b": func(context.Context) (string, error) { return "", errors.New("policy block") },
		"c": func(context.Context) (string, error) { time.Sleep(5 * time.Millisecond); return "C", nil },
		"d": func(context.Context) (string, error) { return "D", nil },
	}
	if err := b.Start(context.Background(), []string{"a", "b", "c", "d"}, tasks); err != nil {
		t.Fatal(err)
	}
	b.Wait()

	snap := b.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("got %d results, want 4", len(snap))
	}
	for _, k := range []string{"a", "c", "d"} {
		it := snap[k]
		if it.Status != StatusDone {
			t.Errorf("%s status = %s, want done", k, it.Status)
		}
	}
	if snap["a"].Value != "A" || snap["c"].Value != "C" {
		t.Errorf("values = %q/%q", snap["a"].Value, snap["c"].Value)
	}
	if it := snap["b"]; it.Status != StatusError || it.Error != "policy block" {
		t.Errorf("b = %+v, want error 'policy block'", it)
	}
	if !b.Done() {
		t.Error("Done() = false after Wait")
	}
	if got := b.Keys(); fmt.Sprint(got) != "[a b c d]" {
		t.Errorf("Keys() = %v", got)
	}
	if c := b.Counts(); c[StatusDone] != 3 || c[StatusError] != 1 {
		t.Errorf("Counts() = %v", c)
	}
}

func TestBatch_PendingUntilSettled(t *testing.T) {
	b := NewBatch[string, int](0)
	release := make(chan struct{})

	err := b.Start(context.Background(), nil, map[string]Task[int]{
		"slow": func(context.Context) (int, error) { <-release; return 1, nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	if it, ok := b.Get("slow"); !ok || it.Status != StatusPending {
		t.Errorf("Get(slow) = %+v, %v; want pending", it, ok)
	}
	if b.Done() {
		t.Error("Done() = true while item pending")
	}
	if err := b.Start(context.Background(), nil, map[string]Task[int]{}); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("restart while running error = %v, want ErrBatchRunning", err)
	}

	close(release)
	b.Wait()
	if it, _ := b.Get("slow"); it.Status != StatusDone || it.Value != 1 {
		t.Errorf("after release = %+v", it)
	}
}

func TestBatch_ConcurrencyLimit(t *testing.T) {
	const limit = 2
	b := NewBatch[int, int](limit)

	var inFlight, peak int32
	tasks := make(map[int]Task[int])
	for i := 0; i < 8; i++ {
		i := i
		tasks[i] = func(context.Context) (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return i, nil
		}
	}
	if err := b.Start(context.Background(), nil, tasks); err != nil {
		t.Fatal(err)
	}
	b.Wait()

	if peak > limit {
		t.Errorf("peak concurrency = %d, want <= %d", peak, limit)
	}
	if b.Len() != 8 {
		t.Errorf("Len() = %d, want 8", b.Len())
	}
}

func TestBatch_UnlimitedRunsAllAtOnce(t *testing.T) {
	const n = 6
	b := NewBatch[int, int](0)

	// Every task waits until all n are in flight, which only happens when
	// nothing is queued behind a limit.
	var arrived int32
	allIn := make(chan struct{})
	tasks := make(map[int]Task[int])
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = func(context.Context) (int, error) {
			if atomic.AddInt32(&arrived, 1) == n {
				close(allIn)
			}
			select {
			case <-allIn:
				return i, nil
			case <-time.After(2 * time.Second):
				return 0, errors.New("not every item was in flight")
			}
		}
	}
	if err := b.Start(context.Background(), nil, tasks); err != nil {
		t.Fatal(err)
	}
	b.Wait()

	if got := b.Counts()[StatusDone]; got != n {
		t.Errorf("done = %d, want %d: %+v", got, n, b.Snapshot())
	}
}

func TestBatch_PanicIsItemError(t *testing.T) {
	b := NewBatch[string, int](0)
	b.Start(context.Background(), nil, map[string]Task[int]{
		"ok":    func(context.Context) (int, error) { return 7, nil },
		"panic": func(context.Context) (int, error) { panic("boom") },
		"nil":   nil,
	})
	b.Wait()

	snap := b.Snapshot()
	if snap["ok"].Status != StatusDone {
		t.Errorf("ok status = %s", snap["ok"].Status)
	}
	if snap["panic"].Status != StatusError {
		t.Errorf("panic status = %s", snap["panic"].Status)
	}
	if snap["nil"].Status != StatusError {
		t.Errorf("nil task status = %s", snap["nil"].Status)
	}
}

func TestBatch_RestartReplacesResults(t *testing.T) {
	b := NewBatch[string, string](0)
	b.Start(context.Background(), nil, map[string]Task[string]{
		"old": func(context.Context) (string, error) { return "x", nil },
	})
	b.Wait()

	b.Start(context.Background(), nil, map[string]Task[string]{
		"new": func(context.Context) (string, error) { return "y", nil },
	})
	b.Wait()

	if _, ok := b.Get("old"); ok {
		t.Error("old key survived restart")
	}
	if it, ok := b.Get("new"); !ok || it.Value != "y" {
		t.Errorf("Get(new) = %+v, %v", it, ok)
	}
}
