package orchestrator

import "context"

// BatchItem is one (project, model, weakness) run queued in a batch.
type BatchItem struct {
	Name string // human-readable label for diagnostics, e.g. "myapp/cwe89"
	Opts *Options
}

// BatchResult pairs a BatchItem's outcome with its Result or error.
type BatchResult struct {
	Name   string
	Result Result
	Err    error
}

// RunBatch runs every item in sequence, generalizing the dataset-root sweep
// the original driver ran one project/weakness pair at a time. A failing
// item is recorded and the batch continues: missing prerequisite artifacts
// for one project skip the remainder of that project, not the whole batch.
func RunBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, 0, len(items))
	for _, item := range items {
		res, err := Run(ctx, item.Opts)
		results = append(results, BatchResult{Name: item.Name, Result: res, Err: err})
	}
	return results
}
