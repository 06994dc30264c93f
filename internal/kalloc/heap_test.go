package kalloc

import (
	"testing"

	"ember/internal/mem"
)

func newTestHeap(t *testing.T) (*Heap, *mem.PMM) {
	t.Helper()
	var p mem.PMM
	if err := p.Init(0, 4096*mem.PageSize, 4000); err != 0 {
		t.Fatalf("pmm init: %v", err)
	}
	return New(&p), &p
}

func TestSmallHeapReuse(t *testing.T) {
	// S2 from spec.md §8: kalloc(64,8) -> P1; kalloc(128,16) -> P2 with
	// P2 % 16 == 0; kfree(P1); kalloc(100,8) reuses P1's slot. All
	// pointers lie within one physical page.
	h, p := newTestHeap(t)

	p1, err := h.Kalloc(64, 8)
	if err != 0 {
		t.Fatalf("kalloc p1: %v", err)
	}
	p2, err := h.Kalloc(128, 16)
	if err != 0 {
		t.Fatalf("kalloc p2: %v", err)
	}
	if p2%16 != 0 {
		t.Fatalf("p2 = %#x not 16-byte aligned", p2)
	}

	if err := h.Kfree(p1); err != 0 {
		t.Fatalf("kfree p1: %v", err)
	}

	p3, err := h.Kalloc(100, 8)
	if err != 0 {
		t.Fatalf("kalloc p3: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("expected reuse of p1 (%#x), got %#x", p1, p3)
	}

	base := p.PageBase(p1)
	for _, ptr := range []mem.PA{p1, p2, p3} {
		if p.PageBase(ptr) != base {
			t.Fatalf("pointer %#x not within single page %#x", ptr, base)
		}
	}
}

func TestHeapMagicHeader(t *testing.T) {
	h, _ := newTestHeap(t)

	ptr, err := h.Kalloc(32, 8)
	if err != 0 {
		t.Fatalf("kalloc: %v", err)
	}
	if m := h.HeaderMagic(ptr); m != magic {
		t.Fatalf("header magic = %#x, want %#x", m, magic)
	}

	if err := h.Kfree(ptr); err != 0 {
		t.Fatalf("kfree: %v", err)
	}
	if m := h.HeaderMagic(ptr); m != 0 {
		t.Fatalf("header magic after free = %#x, want 0", m)
	}
}

func TestHeapNoLeak(t *testing.T) {
	// spec.md §8 property 2: after any matched kalloc/kfree sequence,
	// total PMM pages held by the heap returns to zero.
	h, _ := newTestHeap(t)

	var ptrs []mem.PA
	for i := 0; i < 64; i++ {
		p, err := h.Kalloc(32+i, 8)
		if err != 0 {
			t.Fatalf("kalloc %d: %v", i, err)
		}
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		if err := h.Kfree(p); err != 0 {
			t.Fatalf("kfree %#x: %v", p, err)
		}
	}

	if held := h.PagesHeld(); held != 0 {
		t.Fatalf("heap still holds %d pages after draining all allocations", held)
	}
}

func TestHeapLargePath(t *testing.T) {
	h, _ := newTestHeap(t)

	ptr, err := h.Kalloc(LargeThreshold, 8)
	if err != 0 {
		t.Fatalf("kalloc large: %v", err)
	}
	if err := h.Kfree(ptr); err != 0 {
		t.Fatalf("kfree large: %v", err)
	}
	if held := h.PagesHeld(); held != 0 {
		t.Fatalf("large allocation leaked %d pages", held)
	}
}

func TestHeapBadPointer(t *testing.T) {
	h, _ := newTestHeap(t)
	if err := h.Kfree(mem.PA(0xdeadbeef)); err == 0 {
		t.Fatal("expected EBADPTR for unknown pointer")
	}
}

func TestHeapInvalidAlignment(t *testing.T) {
	h, _ := newTestHeap(t)
	if _, err := h.Kalloc(16, 3); err == 0 {
		t.Fatal("expected EINVAL for non-power-of-two alignment")
	}
}
