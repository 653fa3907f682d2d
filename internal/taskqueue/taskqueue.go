// Package taskqueue runs a backlog of independent tasks on a fixed number of
// workers and hands back their results in submission order.
package taskqueue

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is the number of tasks in flight when none is configured.
const DefaultLimit = 4

// Task is one named unit of work.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result is the outcome of a task.
type Result[T any] struct {
	Name  string
	Value T
	Err   error
}

// Queue bounds how many tasks run at the same time.
type Queue struct {
	limit int
}

// New creates a queue running at most limit tasks at once. A limit below 1
// uses DefaultLimit.
func New(limit int) *Queue {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Queue{limit: limit}
}

// Limit returns the maximum number of tasks in flight.
func (q *Queue) Limit() int {
	return q.limit
}

// Run executes tasks with at most q.Limit() in flight and the rest queued.
// A failing task does not stop the others; every failure is returned joined,
// prefixed with the task name. Results are in submission order.
func Run[T any](ctx context.Context, q *Queue, tasks []Task[T]) ([]Result[T], error) {
	results := make([]Result[T], len(tasks))

	var g errgroup.Group
	g.SetLimit(q.limit)
	for i, task := range tasks {
		results[i].Name = task.Name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Value, results[i].Err = task.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Values returns the values of results in order, skipping failed tasks.
func Values[T any](results []Result[T]) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}
