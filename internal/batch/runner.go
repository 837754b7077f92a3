// Package batch runs independent jobs with bounded concurrency and per-job retries.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one independent unit of work submitted to a Runner.
type Task func(ctx context.Context) error

// Func is an operation producing a value, as run by Retry and Collect.
type Func[T any] func(ctx context.Context) (T, error)

// Hooks observe a batch as the Runner drives it.
type Hooks struct {
	// OnStart is called from the admission loop, in submission order, right
	// before the task at index is launched.
	OnStart func(index int)

	// OnFinish is called from the task's goroutine once it settles, before
	// its slot is released. It may run concurrently with other OnFinish calls.
	OnFinish func(index int, err error)
}

type Option func(*Runner)

// WithHooks attaches batch observers to the Runner.
func WithHooks(h Hooks) Option {
	return func(r *Runner) {
		r.hooks = h
	}
}

// Runner executes batches of tasks with bounded concurrency. A Runner holds
// no per-batch state, so one value can drive any number of concurrent Run
// calls, each with its own limit.
type Runner struct {
	logger *slog.Logger
	hooks  Hooks
}

func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Runner{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts tasks in order, keeping at most limit of them in flight, and
// returns once every started task has finished.
//
// A task that fails or panics is logged and otherwise ignored: it never stops
// its siblings and never makes Run fail. Run returns ErrInvalidLimit for a
// limit below 1, and ctx.Err() if the context ends before every task was
// started. In that case the remaining tasks are not invoked and Run still
// waits for the ones already running.
func (r *Runner) Run(ctx context.Context, tasks []Task, limit int) error {
	if limit < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidLimit, limit)
	}
	if len(tasks) == 0 {
		return nil
	}

	r.logger.Debug("batch started", "tasks", len(tasks), "limit", limit)

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	var admitErr error

	for i, task := range tasks {
		if err := r.admit(ctx, sem); err != nil {
			admitErr = err
			r.logger.Warn("batch admission stopped",
				"started", i,
				"total", len(tasks),
				"error", err,
			)
			break
		}

		if r.hooks.OnStart != nil {
			r.hooks.OnStart(i)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			err := call(ctx, task)
			if err != nil {
				r.logger.Warn("batch task failed", "index", i, "error", err)
			}
			if r.hooks.OnFinish != nil {
				r.hooks.OnFinish(i, err)
			}
		}()
	}

	wg.Wait()
	r.logger.Debug("batch finished", "tasks", len(tasks))
	return admitErr
}

// admit blocks until a slot is free. A slot won after the context ended is
// handed back so that no task starts after cancellation.
func (r *Runner) admit(ctx context.Context, sem *semaphore.Weighted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

func call(ctx context.Context, task Task) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

// Job is a Func with an identity and an optional retry policy. A nil Retry
// means the job runs exactly once.
type Job[T any] struct {
	ID    string
	Run   Func[T]
	Retry *RetryPolicy
}

// Result is the outcome of one Job, reported at the job's submission index.
type Result[T any] struct {
	Index    int
	ID       string
	Value    T
	Err      error
	Attempts int
}

func (j Job[T]) execute(ctx context.Context) (v T, attempts int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	if j.Retry == nil {
		v, err = j.Run(ctx)
		return v, 1, err
	}
	return RetryCount(ctx, *j.Retry, j.Run)
}

// Collect runs jobs through r like Run and returns their outcomes in
// submission order. Jobs that were never admitted carry ErrNotStarted.
func Collect[T any](ctx context.Context, r *Runner, jobs []Job[T], limit int) ([]Result[T], error) {
	results := make([]Result[T], len(jobs))
	tasks := make([]Task, len(jobs))

	for i, job := range jobs {
		results[i] = Result[T]{Index: i, ID: job.ID, Err: ErrNotStarted}
		tasks[i] = func(ctx context.Context) error {
			v, attempts, err := job.execute(ctx)
			results[i].Value = v
			results[i].Attempts = attempts
			results[i].Err = err
			return err
		}
	}

	err := r.Run(ctx, tasks, limit)
	return results, err
}
