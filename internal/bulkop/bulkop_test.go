package bulkop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/smallbiznis/atrium/internal/fault"
	"github.com/stretchr/testify/require"
)

func TestForEachVisitsEveryIndexOnce(t *testing.T) {
	const total = 37

	var visits [total]int32
	errs := ForEach(context.Background(), total, func(ctx context.Context, index int) error {
		atomic.AddInt32(&visits[index], 1)
		return nil
	})

	require.Len(t, errs, total)
	for i, n := range visits {
		require.EqualValues(t, 1, n, "index %d", i)
	}
}

func TestForEachBoundsConcurrency(t *testing.T) {
	var current, peak int32

	ForEach(context.Background(), 45, func(ctx context.Context, index int) error {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&current, -1)
		return nil
	})

	require.LessOrEqual(t, peak, int32(BatchWidth))
}

func TestForEachKeepsFailuresIndependent(t *testing.T) {
	boom := errors.New("boom")

	errs := ForEach(context.Background(), 25, func(ctx context.Context, index int) error {
		if index%5 == 0 {
			return boom
		}
		return nil
	})

	for i, err := range errs {
		if i%5 == 0 {
			require.ErrorIs(t, err, boom, "index %d", i)
		} else {
			require.NoError(t, err, "index %d", i)
		}
	}
}

func TestForEachRunsBatchesSequentially(t *testing.T) {
	var mu sync.Mutex
	var order []int

	ForEach(context.Background(), 23, func(ctx context.Context, index int) error {
		mu.Lock()
		order = append(order, index/BatchWidth)
		mu.Unlock()
		return nil
	})

	// Batch numbers must be non-decreasing: no item of batch n+1 runs
	// before batch n finishes.
	for i := 1; i < len(order); i++ {
		require.GreaterOrEqual(t, order[i], order[i-1])
	}
}

func TestBuildResultPreservesOrder(t *testing.T) {
	identifiers := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}
	errs := []error{
		nil,
		fault.New(fault.KindConflict, "a pending invitation already exists"),
		nil,
		fault.New(fault.KindValidation, "invalid email"),
	}

	result := BuildResult(identifiers, errs)

	require.Equal(t, 4, result.Total)
	require.Equal(t, []string{"a@x.com", "c@x.com"}, result.Successful)
	require.Len(t, result.Failed, 2)
	require.Equal(t, ItemFailure{
		Identifier: "b@x.com",
		ErrorKind:  "conflict",
		Message:    "a pending invitation already exists",
	}, result.Failed[0])
	require.Equal(t, ItemFailure{
		Identifier: "d@x.com",
		ErrorKind:  "validation",
		Message:    "invalid email",
	}, result.Failed[1])
}

func TestBuildResultMasksInternalMessages(t *testing.T) {
	result := BuildResult([]string{"a@x.com"}, []error{errors.New("pq: connection refused")})

	require.Len(t, result.Failed, 1)
	require.Equal(t, "internal", result.Failed[0].ErrorKind)
	require.Equal(t, "internal error", result.Failed[0].Message)
}

func TestWriteFailuresCSV(t *testing.T) {
	failures := []ItemFailure{
		{Identifier: "a@x.com", ErrorKind: "conflict", Message: "a pending invitation already exists"},
		{Identifier: "b@x.com", ErrorKind: "validation", Message: `email "b@x.com, extra" is invalid`},
	}

	var sb strings.Builder
	require.NoError(t, WriteFailuresCSV(&sb, failures))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "identifier,error_kind,message", lines[0])
	require.Equal(t, "a@x.com,conflict,a pending invitation already exists", lines[1])
	// Embedded comma and quotes force CSV quoting.
	require.Contains(t, sb.String(), `"email ""b@x.com, extra"" is invalid"`)
}
