package pgtbl

import "ember/internal/barrier"

// Stage1Region names the four entries of the coarse 1 GiB-block mapping
// spec.md §4.3 describes for EL1/EL2 boot-time translation: one L0
// pointing to one L1 whose four entries map the device region, the
// kernel RAM region, and two user regions.
type Stage1Region int

const (
	RegionDevice Stage1Region = iota
	RegionKernel
	RegionUser0
	RegionUser1
	stage1RegionCount
)

/// Stage1 is the coarse block-mapped Stage-1 table used by EL1 and EL2
/// themselves (not a guest). A simulated per-entry TLB cache lets tests
/// observe spec.md §8 property 8: a raw memory write is not visible
/// until the mandated barrier sequence runs.
type Stage1 struct {
	disc *barrier.Discipline
	asid uint16

	l1  [stage1RegionCount]PTE // authoritative, in-memory entries
	tlb [stage1RegionCount]PTE // what the mutating CPU's TLB currently caches
}

/// NewStage1 constructs an empty Stage-1 table for the given ASID.
func NewStage1(disc *barrier.Discipline, asid uint16) *Stage1 {
	return &Stage1{disc: disc, asid: asid}
}

/// writeRaw performs the bare memory write with none of the mandated
/// barriers — exposed only so tests can demonstrate why skipping the
/// discipline in §4.7 leaves a stale TLB entry (spec.md §8 property 8).
/// Production code must always call Map.
func (s *Stage1) writeRaw(r Stage1Region, pte PTE) {
	s.l1[r] = pte
}

/// Invalidate runs the full clean-invalidate/dsb/tlbi/dsb/isb sequence
/// for region r and, having done so, makes the mutating CPU's cached
/// view consistent with memory again.
func (s *Stage1) Invalidate(r Stage1Region) {
	s.disc.Sequence(uint64(r), barrier.TLBIScope{Stage2: false, ASID: s.asid})
	s.tlb[r] = s.l1[r]
}

/// Map writes a Stage-1 leaf descriptor for region r and immediately
/// carries out the mandated barrier discipline, so the mapping is safe
/// to use on return (spec.md §4.3, §4.7).
func (s *Stage1) Map(r Stage1Region, pa uint64, attrs Stage1Attrs) {
	s.writeRaw(r, MakeStage1Leaf(pa, attrs))
	s.Invalidate(r)
}

/// Access looks up region r through the (simulated) TLB, returning
/// whether a translation for it is currently valid from this CPU's
/// point of view — which lags memory until Invalidate runs.
func (s *Stage1) Access(r Stage1Region) (PTE, bool) {
	pte := s.tlb[r]
	return pte, pte.Valid()
}
