// Package bulkop provides the shared fan-out machinery for bulk invitation
// and approval operations: fixed-width batching, per-item outcome capture,
// and the aggregate result returned to callers.
//
// Bulk calls are deliberately not transactional across items. Invitation
// creation has no compensating action, and operators prefer partial progress
// over all-or-nothing semantics, so one item's failure never aborts or rolls
// back the others. Do not "fix" this into an atomic batch.
package bulkop

import (
	"context"
	"sync"

	"github.com/smallbiznis/atrium/internal/fault"
)

// BatchWidth bounds in-flight work for a bulk call. Items within a batch run
// concurrently; batches run strictly one after another, so at most BatchWidth
// store or notification operations are outstanding at any time.
const BatchWidth = 10

// ItemFailure reports one failed item of a bulk call.
type ItemFailure struct {
	Identifier string `json:"identifier"`
	ErrorKind  string `json:"error_kind"`
	Message    string `json:"message"`
}

// Result aggregates a bulk call. Successful and Failed preserve submission
// order so callers can retry the failed subset or export it as CSV.
type Result struct {
	Total      int           `json:"total"`
	Successful []string      `json:"successful"`
	Failed     []ItemFailure `json:"failed"`
}

// ForEach runs fn once per index in fixed-width batches and returns the
// per-index errors in submission order. A nil entry means the item succeeded.
// Once started, the run goes to completion: ctx is passed through to fn for
// per-item work, but the loop itself does not stop early, matching the
// "bulk calls are not cancellable mid-flight" contract.
func ForEach(ctx context.Context, total int, fn func(ctx context.Context, index int) error) []error {
	errs := make([]error, total)
	for start := 0; start < total; start += BatchWidth {
		end := start + BatchWidth
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				errs[index] = fn(ctx, index)
			}(i)
		}
		wg.Wait()
	}
	return errs
}

// BuildResult pairs per-item identifiers with their outcomes. identifiers and
// errs must be index-aligned, as produced by ForEach.
func BuildResult(identifiers []string, errs []error) Result {
	result := Result{
		Total:      len(identifiers),
		Successful: make([]string, 0, len(identifiers)),
		Failed:     make([]ItemFailure, 0),
	}
	for i, identifier := range identifiers {
		if err := errs[i]; err != nil {
			result.Failed = append(result.Failed, ItemFailure{
				Identifier: identifier,
				ErrorKind:  string(fault.KindOf(err)),
				Message:    fault.Message(err),
			})
			continue
		}
		result.Successful = append(result.Successful, identifier)
	}
	return result
}
