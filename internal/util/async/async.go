package async

import (
	"context"
	"errors"
	"fmt"
)

// Task is a named unit of work.
type Task struct {
	Name string
	Func func(context.Context) error
}

// Run executes the tasks in parallel and waits for all of them. Each failure
// is prefixed with its task name; all failures are joined. A task that fails
// does not stop the others.
func Run(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}

	errs := make([]error, len(tasks))
	done := make(chan struct{}, len(tasks))

	for i, task := range tasks {
		go func() {
			defer func() { done <- struct{}{} }()
			if err := task.Func(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", task.Name, err)
			}
		}()
	}
	for range tasks {
		<-done
	}

	return errors.Join(errs...)
}
