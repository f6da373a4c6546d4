package executils

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// ParallelExec calls fn for every value. Below parallelThreshold values are
// visited in order on the calling goroutine; above it they are split in chunks
// of step across one worker per CPU. ParallelExec returns once every call has
// returned.
func ParallelExec[T any](vals []T, parallelThreshold, step uint64, fn func(T)) {
	if uint64(len(vals)) < parallelThreshold || step == 0 {
		for _, v := range vals {
			fn(v)
		}
		return
	}

	cursor := atomic.NewUint64(0)
	end := uint64(len(vals))

	workers := runtime.NumCPU()
	if chunks := int((end + step - 1) / step); chunks < workers {
		workers = chunks
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for p := 0; p < workers; p++ {
		go func() {
			defer wg.Done()
			for {
				n := cursor.Add(step)
				if n >= end+step {
					return
				}

				for i := n - step; i < n && i < end; i++ {
					fn(vals[i])
				}
			}
		}()
	}
	wg.Wait()
}
