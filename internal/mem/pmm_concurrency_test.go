package mem

import (
	"context"
	"sync"
	"testing"

	"golang.org/x/sync/semaphore"
)

// TestPMMConcurrentAllocFreeBalance stresses the bitmap invariant
// (spec.md §8 property 1) under concurrent alloc/free from many
// goroutines. golang.org/x/sync/semaphore bounds how many goroutines can
// hold an outstanding allocation at once, the way a real deployment caps
// concurrent allocation pressure from guests; it is test-only and never
// linked into the hypervisor binary itself.
func TestPMMConcurrentAllocFreeBalance(t *testing.T) {
	var p PMM
	const totalPages = 2048
	if err := p.Init(0, totalPages*PageSize, totalPages-128); err != 0 {
		t.Fatalf("init: %v", err)
	}

	sem := semaphore.NewWeighted(16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				t.Error(err)
				return
			}
			defer sem.Release(1)

			a, err := p.AllocPages(2)
			if err != 0 {
				// exhaustion under heavy concurrency is expected
				// and not itself a failure.
				return
			}
			p.FreePages(a, 2)
		}()
	}
	wg.Wait()

	if free, pc := p.Free(), p.Popcount(); free+pc != p.Total() {
		t.Fatalf("free(%d) + popcount(%d) != total(%d)", free, pc, p.Total())
	}
}
