package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "explicit", limit: 2, want: 2},
		{name: "zero uses default", limit: 0, want: DefaultLimit},
		{name: "negative uses default", limit: -3, want: DefaultLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.limit).Limit(); got != tt.want {
				t.Errorf("Limit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRun_SubmissionOrder(t *testing.T) {
	var tasks []Task[int]
	for i := range 8 {
		tasks = append(tasks, Task[int]{
			Name: fmt.Sprintf("t%d", i),
			Run: func(context.Context) (int, error) {
				// Later tasks finish first.
				time.Sleep(time.Duration(8-i) * time.Millisecond)
				return i * i, nil
			},
		})
	}

	results, err := Run(context.Background(), New(3), tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []int{0, 1, 4, 9, 16, 25, 36, 49}
	if diff := cmp.Diff(want, Values(results)); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
	if results[5].Name != "t5" {
		t.Errorf("results[5].Name = %s, want t5", results[5].Name)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	const limit = 2
	var inFlight, peak atomic.Int32

	var tasks []Task[struct{}]
	for i := range 10 {
		tasks = append(tasks, Task[struct{}]{
			Name: fmt.Sprint(i),
			Run: func(context.Context) (struct{}, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return struct{}{}, nil
			},
		})
	}

	if _, err := Run(context.Background(), New(limit), tasks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("peak in flight = %d, want <= %d", got, limit)
	}
}

func TestRun_ErrorsDoNotHaltOthers(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	tasks := []Task[string]{
		{Name: "en→fr", Run: func(context.Context) (string, error) { ran.Add(1); return "", boom }},
		{Name: "en→de", Run: func(context.Context) (string, error) { ran.Add(1); return "ok", nil }},
		{Name: "en→it", Run: func(context.Context) (string, error) { ran.Add(1); return "", errors.New("bad") }},
	}

	results, err := Run(context.Background(), New(1), tasks)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "en→fr: boom") || !strings.Contains(err.Error(), "en→it: bad") {
		t.Errorf("Run() error = %q, want both pairs named", err)
	}
	if ran.Load() != 3 {
		t.Errorf("ran %d tasks, want 3", ran.Load())
	}
	if diff := cmp.Diff([]string{"ok"}, Values(results)); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Run(ctx, New(1), []Task[int]{{Name: "x", Run: func(context.Context) (int, error) {
		called = true
		return 1, nil
	}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("task ran after cancellation")
	}
}
