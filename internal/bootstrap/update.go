package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/compilo-build/compilo/internal/deps"
	"github.com/compilo-build/compilo/internal/failure"
)

type updateResult struct {
	index  int
	result deps.Result
	err    error
}

// update materializes every descriptor under the build directory on a pool
// scoped to this call. Every task runs to completion before update returns;
// any failures are then reported together.
func (o *Orchestrator) update(ctx context.Context) error {
	paths, err := deps.Find(o.buildDir())
	if err != nil {
		return failure.Wrap(failure.DependencyUpdateFailed, err, "listing dependency descriptors")
	}
	if len(paths) == 0 {
		return nil
	}
	fmt.Fprintln(o.out, "update:")

	results := o.runUpdates(ctx, paths)

	var errs error
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			errs = multierr.Append(errs, r.err)
			continue
		}
		o.logger.Debug("updated dependency",
			zap.String("name", r.result.Name),
			zap.Strings("fetched", r.result.Fetched),
			zap.Strings("kept", r.result.Kept),
			zap.Strings("removed", r.result.Removed))
	}
	if errs != nil {
		return failure.Wrap(failure.DependencyUpdateFailed, errs, "%d of %d dependency updates failed", failed, len(paths))
	}
	return nil
}

// runUpdates returns one result per path, in path order.
func (o *Orchestrator) runUpdates(ctx context.Context, paths []string) []updateResult {
	jobs := make(chan int, len(paths))
	results := make(chan updateResult, len(paths))

	numWorkers := min(o.opts.Workers, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				res, err := o.updateOne(ctx, paths[idx])
				results <- updateResult{index: idx, result: res, err: err}
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]updateResult, len(paths))
	for r := range results {
		ordered[r.index] = r
	}
	return ordered
}

func (o *Orchestrator) updateOne(ctx context.Context, path string) (deps.Result, error) {
	d, err := deps.ParseFile(path)
	if err != nil {
		return deps.Result{}, err
	}
	return o.updater.Update(ctx, d)
}
