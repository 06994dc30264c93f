// Package pgtbl implements the two MMU translation regimes spec.md §4.3
// describes: a coarse Stage-1 identity/high-half block mapping used by
// EL1 and EL2 themselves, and the per-guest Stage-2 (IPA->PA) four-level
// LPAE table in the 2-9-9-12 layout. PTE field layout and the
// non-leaf-must-be-page-aligned-RAM invariant follow spec.md §3/§4.3;
// the struct shapes and the "non-leaf entries live in PMM-owned pages,
// walked through mem.PTEView" idiom follow the teacher's Pmap_t
// (biscuit/src/mem/mem.go, biscuit/src/vm/as.go).
package pgtbl

// PTE is a single 64-bit LPAE descriptor. Stage-1 and Stage-2 use
// distinct field layouts, accessed through the typed wrappers below so
// callers never hand-roll bit offsets.
type PTE uint64

const (
	bitValid = 1 << 0
	bitTable = 1 << 1 // 1 = table/ page descriptor, 0 = block descriptor (only meaningful above the last level)

	// Stage-1 fields (AArch64 VMSAv8-64, simplified to what this core uses).
	s1APShift   = 6
	s1APUserRW  = 0b01 << s1APShift
	s1APUserRO  = 0b11 << s1APShift
	s1SHShift   = 8
	s1InnerSh   = 0b11 << s1SHShift
	s1AF        = 1 << 10
	s1XN        = 1 << 54
	s1AttrShift = 2
	s1AttrMask  = 0b111 << s1AttrShift

	// Stage-2 fields.
	s2S2APShift = 6
	s2Read      = 0b01 << s2S2APShift
	s2Write     = 0b10 << s2S2APShift
	s2SHShift   = 8
	s2InnerSh   = 0b11 << s2SHShift
	s2NonSh     = 0b00 << s2SHShift
	s2AF        = 1 << 10
	s2XN        = 1 << 54
	s2MemAttrShift = 2
	s2MemAttrMask  = 0b1111 << s2MemAttrShift
	s2MemAttrNormalWB = 0b1111 << s2MemAttrShift
	s2MemAttrDevice   = 0b0001 << s2MemAttrShift

	addrMask = 0x0000FFFFFFFFF000 // bits [47:12], the output address field
)

/// Valid reports whether the descriptor's valid bit is set.
func (p PTE) Valid() bool { return p&bitValid != 0 }

/// IsTable reports whether a non-leaf-level descriptor points at
/// another table (as opposed to being a block mapping).
func (p PTE) IsTable() bool { return p&bitTable != 0 }

/// Addr extracts the physical address a descriptor points to, whether
/// that is the base of the next-level table or a leaf page frame.
func (p PTE) Addr() uint64 { return uint64(p) & addrMask }

/// WithAddr returns p with its address field replaced.
func (p PTE) WithAddr(pa uint64) PTE {
	return PTE(uint64(p)&^addrMask | (pa & addrMask))
}

/// MakeTable builds a valid, non-leaf descriptor pointing at the
/// page-aligned table at pa. Per spec.md §3, pa must be page-aligned RAM
/// owned by the PMM; callers are responsible for that invariant.
func MakeTable(pa uint64) PTE {
	return PTE(pa&addrMask | bitTable | bitValid)
}

// --- Stage-1 leaf descriptors ---

/// Stage1Attrs describes the fields the spec assigns to a Stage-1 leaf
/// (spec.md §4.3: "{AP, SH, AF, XN, memory-type-index}").
type Stage1Attrs struct {
	Writable bool
	XN       bool
	MAIRIdx  uint8 // memory-attribute index, 0-7
}

/// MakeStage1Leaf builds a valid Stage-1 block/page leaf descriptor.
func MakeStage1Leaf(pa uint64, a Stage1Attrs) PTE {
	pte := PTE(pa&addrMask | bitValid | s1AF | s1InnerSh)
	if a.Writable {
		pte |= s1APUserRW
	} else {
		pte |= s1APUserRO
	}
	if a.XN {
		pte |= s1XN
	}
	pte |= PTE(uint64(a.MAIRIdx)&0b111) << s1AttrShift
	return pte
}

// --- Stage-2 leaf descriptors ---

/// Stage2Attrs describes the independent read/write/execute-never bits,
/// shareability, memory-attribute index, and access flag a Stage-2 leaf
/// carries (spec.md §3).
type Stage2Attrs struct {
	Read, Write bool
	XN          bool
	Device      bool // true => device memory, non-shareable; false => normal WB cacheable, inner-shareable
}

/// MakeStage2Leaf builds a valid Stage-2 leaf descriptor per spec.md
/// §4.3's RAM-window / device-window attribute assignment.
func MakeStage2Leaf(pa uint64, a Stage2Attrs) PTE {
	pte := PTE(pa&addrMask | bitValid | bitTable | s2AF)
	if a.Read {
		pte |= s2Read
	}
	if a.Write {
		pte |= s2Write
	}
	if a.XN {
		pte |= s2XN
	}
	if a.Device {
		pte |= s2MemAttrDevice | s2NonSh
	} else {
		pte |= s2MemAttrNormalWB | s2InnerSh
	}
	return pte
}

/// IsDevice reports whether a Stage-2 leaf carries device-memory
/// attributes (spec.md §8 property 7).
func (p PTE) IsDevice() bool {
	return uint64(p)&s2MemAttrMask == s2MemAttrDevice
}

/// IsXN reports whether the execute-never bit is set.
func (p PTE) IsXN() bool { return uint64(p)&s2XN != 0 }

/// Readable reports the Stage-2 read permission bit.
func (p PTE) Readable() bool { return uint64(p)&s2Read != 0 }

/// WritableS2 reports the Stage-2 write permission bit.
func (p PTE) WritableS2() bool { return uint64(p)&s2Write != 0 }
