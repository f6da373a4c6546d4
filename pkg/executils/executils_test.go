package executils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParallelExec(t *testing.T) {
	for name, tc := range map[string]struct {
		size      int
		threshold uint64
		step      uint64
	}{
		"Sequential":       {size: 10, threshold: 100, step: 2},
		"Parallel":         {size: 1000, threshold: 10, step: 7},
		"ParallelOneChunk": {size: 5, threshold: 1, step: 16},
		"Empty":            {size: 0, threshold: 0, step: 3},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			vals := make([]int, tc.size)
			for i := range vals {
				vals[i] = i
			}

			var mu sync.Mutex
			seen := make(map[int]int, tc.size)
			ParallelExec(vals, tc.threshold, tc.step, func(v int) {
				mu.Lock()
				seen[v]++
				mu.Unlock()
			})

			require.Len(t, seen, tc.size)
			for _, count := range seen {
				require.Equal(t, 1, count)
			}
		})
	}
}
