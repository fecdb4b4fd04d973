// Package worker provides the bounded worker pool behind the probe sweep.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool fans hostnames out over a fixed number of goroutines.
type Pool struct {
	size   int
	logger *slog.Logger
}

// JobResult pairs one processed hostname with its outcome.
type JobResult struct {
	Host  string
	Value any
	Err   error
}

// NewPool creates a pool of the given size. Size must be at least 1.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size, logger: logger}
}

// Process consumes hosts from inputs and runs fn on each with bounded
// concurrency. The returned channel carries one JobResult per input and is
// closed when all workers finish. Cancelling ctx stops workers after their
// in-flight job.
func (p *Pool) Process(ctx context.Context, inputs <-chan string, fn func(context.Context, string) (any, error)) <-chan JobResult {
	results := make(chan JobResult)
	var wg sync.WaitGroup

	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case host, ok := <-inputs:
					if !ok {
						return
					}
					val, err := fn(ctx, host)
					select {
					case <-ctx.Done():
						return
					case results <- JobResult{Host: host, Value: val, Err: err}:
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// Feed copies hosts into a channel sized for Process, stopping early when
// ctx is cancelled.
func Feed(ctx context.Context, hosts []string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for _, h := range hosts {
			select {
			case <-ctx.Done():
				return
			case out <- h:
			}
		}
	}()
	return out
}
