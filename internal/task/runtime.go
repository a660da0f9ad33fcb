package task

import (
	"context"
	"sync"
)

// Runnable is anything schedulable by a Runtime; Task satisfies it.
type Runnable interface {
	Run(ctx context.Context) error
	Name() string
}

// Runtime launches a fixed set of tasks, each on its own goroutine, and
// waits for them all to unwind on shutdown. Tasks communicate only via the
// bus they were constructed with; the Runtime itself holds no shared
// mutable state.
type Runtime struct {
	tasks []Runnable
}

// NewRuntime creates a Runtime over the given tasks.
func NewRuntime(tasks ...Runnable) *Runtime {
	return &Runtime{tasks: tasks}
}

// Run starts every task and blocks until ctx is cancelled and all tasks
// have returned from their main loop and released their resources. It
// returns the first non-nil error returned by any task, if any.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(r.tasks))

	for _, t := range r.tasks {
		wg.Add(1)
		go func(t Runnable) {
			defer wg.Done()
			if err := t.Run(ctx); err != nil {
				errs <- err
			}
		}(t)
	}

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}
