package pgtbl

import (
	"ember/internal/barrier"
	"ember/internal/defs"
	"ember/internal/mem"
)

// Stage-2 index widths: L1 index is ipa>>30 into a 512-entry root page,
// 512 L2 per L1, 512 L3 per L2, 4 KiB leaves.
const (
	l1Shift = 30
	l2Shift = 21
	l3Shift = 12
	l2Mask  = 0x1FF
	l3Mask  = 0x1FF
)

/// Window describes one region of a guest's IPA space: either the RAM
/// window or one MMIO window (spec.md §3's VM invariant: "the IPA space
/// mapped by the Stage-2 tables covers exactly the declared guest RAM
/// window plus the declared MMIO windows").
type Window struct {
	Base  uint64
	Size  uint64
	// Device marks an MMIO window; false means the RAM window.
	Device bool
	// Trap marks a window whose accesses must never actually touch
	// physical memory — used for the GICC window, which spec.md §4.3
	// gives {read=0, write=0} so every access traps to emulation.
	Trap bool
}

func (w Window) contains(ipa uint64) bool {
	return ipa >= w.Base && ipa < w.Base+w.Size
}

/// Stage2 is the per-VM Stage-2 (IPA -> PA) translation table (spec.md
/// §4.3). Construction identity-maps the RAM window and marks every
/// MMIO window as trapping device memory; after Construct returns the
/// table is ready to be loaded into VTTBR_EL2.
type Stage2 struct {
	pmm  *mem.PMM
	disc *barrier.Discipline
	vmid defs.VMID

	l1 mem.PA

	ram     Window
	mmio    []Window
	committed bool
}

/// NewStage2 allocates the L1 root page and returns an empty Stage2.
func NewStage2(pmm *mem.PMM, disc *barrier.Discipline, vmid defs.VMID) (*Stage2, defs.Err_t) {
	l1, err := pmm.AllocPages(1)
	if err != 0 {
		return nil, err
	}
	return &Stage2{pmm: pmm, disc: disc, vmid: vmid, l1: l1}, 0
}

func (s *Stage2) l1Entries() []uint64 { return mem.PTEView(s.pmm.Dmap(s.l1)) }

func (s *Stage2) getOrCreateL2(l1idx uint64) mem.PA {
	l1es := s.l1Entries()
	pte := PTE(l1es[l1idx])
	if pte.Valid() {
		return mem.PA(pte.Addr())
	}
	pg, _ := s.pmm.AllocPages(1)
	l1es[l1idx] = uint64(MakeTable(uint64(pg)))
	return pg
}

func (s *Stage2) getOrCreateL3(l2pa mem.PA, l2idx uint64) mem.PA {
	l2es := mem.PTEView(s.pmm.Dmap(l2pa))
	pte := PTE(l2es[l2idx])
	if pte.Valid() {
		return mem.PA(pte.Addr())
	}
	pg, _ := s.pmm.AllocPages(1)
	l2es[l2idx] = uint64(MakeTable(uint64(pg)))
	return pg
}

func (s *Stage2) setLeaf(ipa uint64, pte PTE) {
	l1idx := (ipa >> l1Shift)
	l2idx := (ipa >> l2Shift) & l2Mask
	l3idx := (ipa >> l3Shift) & l3Mask

	l2pa := s.getOrCreateL2(l1idx)
	l3pa := s.getOrCreateL3(l2pa, l2idx)
	l3es := mem.PTEView(s.pmm.Dmap(l3pa))
	l3es[l3idx] = uint64(pte)
}

/// Construct populates every leaf in the RAM window (identity-mapped,
/// read/write, normal cacheable, inner-shareable, XN=0) and every leaf
/// in each MMIO window (device memory, non-shareable, XN=1; GICC-style
/// trapping windows additionally get read=write=0), then issues the
/// single mandated barrier sequence (spec.md §4.3) before returning.
func (s *Stage2) Construct(ram Window, mmio []Window) defs.Err_t {
	if ram.Device {
		return -defs.EINVAL
	}
	s.ram = ram
	s.mmio = mmio

	for ipa := ram.Base; ipa < ram.Base+ram.Size; ipa += mem.PageSize {
		s.setLeaf(ipa, MakeStage2Leaf(ipa, Stage2Attrs{Read: true, Write: true, XN: false, Device: false}))
	}
	for _, w := range mmio {
		for ipa := w.Base; ipa < w.Base+w.Size; ipa += mem.PageSize {
			attrs := Stage2Attrs{Read: !w.Trap, Write: !w.Trap, XN: true, Device: true}
			s.setLeaf(ipa, MakeStage2Leaf(ipa, attrs))
		}
	}

	s.disc.Sequence(ram.Base, barrier.TLBIScope{Stage2: true, VMID: uint16(s.vmid)})
	s.committed = true
	return 0
}

/// Walk translates ipa to a physical address, returning the leaf PTE and
/// whether a valid mapping exists. Used both by the real translation
/// path and by the round-trip test (spec.md §8 property 7).
func (s *Stage2) Walk(ipa uint64) (pa uint64, pte PTE, ok bool) {
	l1idx := ipa >> l1Shift
	l2idx := (ipa >> l2Shift) & l2Mask
	l3idx := (ipa >> l3Shift) & l3Mask

	l1es := s.l1Entries()
	if l1idx >= uint64(len(l1es)) {
		return 0, 0, false
	}
	l1pte := PTE(l1es[l1idx])
	if !l1pte.Valid() {
		return 0, 0, false
	}
	l2es := mem.PTEView(s.pmm.Dmap(mem.PA(l1pte.Addr())))
	l2pte := PTE(l2es[l2idx])
	if !l2pte.Valid() {
		return 0, 0, false
	}
	l3es := mem.PTEView(s.pmm.Dmap(mem.PA(l2pte.Addr())))
	l3pte := PTE(l3es[l3idx])
	if !l3pte.Valid() {
		return 0, 0, false
	}
	off := ipa & (mem.PageSize - 1)
	return l3pte.Addr() + off, l3pte, true
}

/// Classify reports which window ipa falls in, used by the Stage-2
/// fault dispatcher (spec.md §4.6).
type Region int

const (
	RegionRAM Region = iota
	RegionMMIO
	RegionUnknown
)

/// ClassifyResult pairs a region with the matching window, when any.
type ClassifyResult struct {
	Region Region
	Window Window
}

/// Classify returns which configured window (if any) contains ipa.
func (s *Stage2) Classify(ipa uint64) ClassifyResult {
	if s.ram.contains(ipa) {
		return ClassifyResult{Region: RegionRAM, Window: s.ram}
	}
	for _, w := range s.mmio {
		if w.contains(ipa) {
			return ClassifyResult{Region: RegionMMIO, Window: w}
		}
	}
	return ClassifyResult{Region: RegionUnknown}
}

/// VTTBR returns the physical address to program into VTTBR_EL2.
func (s *Stage2) VTTBR() mem.PA { return s.l1 }
