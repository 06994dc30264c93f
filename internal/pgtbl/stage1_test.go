package pgtbl

import (
	"testing"

	"ember/internal/barrier"
)

// TestStage1WithoutBarrierStaleTLB demonstrates spec.md §8 property 8:
// a raw descriptor write is not visible to the (simulated) TLB until the
// mandated barrier sequence runs.
func TestStage1WithoutBarrierStaleTLB(t *testing.T) {
	disc := barrier.NewDiscipline(64)
	s1 := NewStage1(disc, 7)

	s1.writeRaw(RegionKernel, MakeStage1Leaf(0x40000000, Stage1Attrs{Writable: true}))

	if _, ok := s1.Access(RegionKernel); ok {
		t.Fatalf("expected stale TLB view before Invalidate, got a valid translation")
	}

	s1.Invalidate(RegionKernel)

	pte, ok := s1.Access(RegionKernel)
	if !ok {
		t.Fatalf("expected valid translation after Invalidate")
	}
	if pte.Addr() != 0x40000000 {
		t.Fatalf("addr = %#x, want %#x", pte.Addr(), 0x40000000)
	}
}

// TestStage1MapRunsFullSequence checks that Map (the only production
// entry point) both writes the descriptor and leaves the log showing the
// complete clean-invalidate/dsb/tlbi/dsb/isb order.
func TestStage1MapRunsFullSequence(t *testing.T) {
	disc := barrier.NewDiscipline(64)
	s1 := NewStage1(disc, 3)

	s1.Map(RegionUser0, 0x80000000, Stage1Attrs{Writable: true, XN: true})

	pte, ok := s1.Access(RegionUser0)
	if !ok || pte.Addr() != 0x80000000 {
		t.Fatalf("Map did not produce a visible translation: pte=%#x ok=%v", uint64(pte), ok)
	}
	if !pte.Valid() {
		t.Fatalf("expected leaf to be valid")
	}

	log := disc.Log()
	want := []barrier.Op{barrier.OpCleanInvalidate, barrier.OpDSB, barrier.OpTLBI, barrier.OpDSB, barrier.OpISB}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log[%d] = %v, want %v", i, log[i], want[i])
		}
	}
}

// TestStage1IndependentRegions checks that mapping one region doesn't
// disturb another's cached view.
func TestStage1IndependentRegions(t *testing.T) {
	disc := barrier.NewDiscipline(64)
	s1 := NewStage1(disc, 1)

	s1.Map(RegionDevice, 0x09000000, Stage1Attrs{Writable: true, XN: true})
	if _, ok := s1.Access(RegionKernel); ok {
		t.Fatalf("RegionKernel should still be unmapped")
	}

	s1.Map(RegionKernel, 0x40000000, Stage1Attrs{Writable: true})
	dpte, ok := s1.Access(RegionDevice)
	if !ok || dpte.Addr() != 0x09000000 {
		t.Fatalf("RegionDevice mapping clobbered: pte=%#x ok=%v", uint64(dpte), ok)
	}
}
