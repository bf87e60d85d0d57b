package index

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

func analyzeConcurrently(ctx context.Context, docs []map[string]any, workers int, analyze func(map[string]any) (AnalyzedDocument, error)) ([]AnalyzedDocument, []error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]AnalyzedDocument, len(docs))
	errs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = analyze(doc)
			return nil
		})
	}
	// Per-document failures are reported through errs; the group only stops on cancellation.
	_ = g.Wait()

	return results, errs
}
