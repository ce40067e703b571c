package download

import (
	"context"
	"sync"
)

// Task is one unit of bounded-parallelism work: a name for logging/results
// and a closure that performs it.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result pairs a Task with the error its Run returned (nil on success).
type Result struct {
	Task Task
	Err  error
}

// RunPool fans tasks out across concurrency workers and fans results back
// in using an urlsCh/resultsCh/WaitGroup pattern generalized from "download
// this URL" to "run this closure". All tasks run to completion even if some
// fail; the caller inspects Results afterward.
func RunPool(ctx context.Context, concurrency int, tasks []Task) []Result {
	if concurrency < 1 {
		concurrency = 1
	}
	taskCh := make(chan Task)
	resultCh := make(chan Result)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				err := t.Run(ctx)
				resultCh <- Result{Task: t, Err: err}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for _, t := range tasks {
			select {
			case taskCh <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]Result, 0, len(tasks))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}
