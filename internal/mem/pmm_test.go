package mem

import "testing"

func TestPMMAllocFreeBalance(t *testing.T) {
	// S1 from spec.md §8: init PMM with 1024 pages; alloc(3) -> index 0;
	// alloc(5) -> index 3; free(start, 3); alloc(2) -> index 0 again
	// (first-fit); final popcount = 5.
	var p PMM
	if err := p.Init(0, 1024*PageSize, 900); err != 0 {
		t.Fatalf("init: %v", err)
	}

	a1, err := p.AllocPages(3)
	if err != 0 || a1 != 0 {
		t.Fatalf("alloc(3): addr=%#x err=%v", a1, err)
	}

	a2, err := p.AllocPages(5)
	if err != 0 || a2 != PA(3*PageSize) {
		t.Fatalf("alloc(5): addr=%#x err=%v", a2, err)
	}

	p.FreePages(a1, 3)

	a3, err := p.AllocPages(2)
	if err != 0 || a3 != 0 {
		t.Fatalf("alloc(2) after free: addr=%#x err=%v", a3, err)
	}

	if got := p.Popcount(); got != 5 {
		t.Fatalf("final popcount = %d, want 5", got)
	}
}

func TestPMMBitmapInvariant(t *testing.T) {
	var p PMM
	if err := p.Init(0, 64*PageSize, 60); err != 0 {
		t.Fatalf("init: %v", err)
	}

	var allocs []struct {
		addr PA
		n    int
	}
	for i := 0; i < 8; i++ {
		a, err := p.AllocPages(3)
		if err != 0 {
			t.Fatalf("alloc %d: %v", i, err)
		}
		allocs = append(allocs, struct {
			addr PA
			n    int
		}{a, 3})
	}
	for _, a := range allocs {
		p.FreePages(a.addr, a.n)
	}

	if free, pc := p.Free(), p.Popcount(); free+pc != p.Total() {
		t.Fatalf("free(%d) + popcount(%d) != total(%d)", free, pc, p.Total())
	}
}

func TestPMMFreeOutOfRangeIsNoop(t *testing.T) {
	var p PMM
	p.Init(0, 16*PageSize, 8)
	p.FreePages(PA(1<<40), 1) // out of range, must not panic or corrupt state
	if free := p.Free(); free != p.Total() {
		t.Fatalf("free count changed after out-of-range free: %d", free)
	}
}

func TestPMMAllocPagesFSReservedOffset(t *testing.T) {
	var p PMM
	p.Init(0, 32*PageSize, 16)
	a, err := p.AllocPagesFS(1)
	if err != 0 {
		t.Fatalf("alloc_fs: %v", err)
	}
	if a < PA(16*PageSize) {
		t.Fatalf("alloc_fs returned %#x, want >= reserved offset", a)
	}
}

func TestPMMMisconfiguredRegion(t *testing.T) {
	var p PMM
	if err := p.Init(0, PageSize+1, 0); err == 0 {
		t.Fatal("expected EMISCONFIGURED for non-page-multiple size")
	}
}
