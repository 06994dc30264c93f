// Package trap implements the Stage-2 fault dispatcher spec.md §4.6
// describes: classifying a trapped data/prefetch abort by IPA and
// routing it to vGIC distributor emulation, the GICC-to-GICV
// pass-through path, or a generic MMIO read/write. The syndrome's
// register index and access size are taken as given: no trapping
// instruction is decoded, and golang.org/x/arch's arm64asm decoder (the
// package tinyrange-cc's arm64 backend, another example repo, decodes
// instructions with) is not called.
package trap

import "ember/internal/sched"

// Syndrome is the subset of ESR_EL2 (and the companion HPFAR_EL2/FAR_EL2)
// a Stage-2 abort hands the dispatcher (spec.md §4.6).
type Syndrome struct {
	IPA   uint64
	GVA   uint64
	Write bool
	Size  int // access size in bytes: 1, 2, 4, or 8
	Reg   int // register index, 0-30
}

// xzrReg is the register index spec.md §4.6 singles out for read-zero
// / write-discard treatment ("ARM convention for XZR").
const xzrReg = 30

// GenericMMIO performs the register-index/size extraction and
// memcpy-style access spec.md §4.6 describes through the read and write
// callbacks the caller supplies. For writes, the low syn.Size bytes of ctx.R[syn.Reg] are
// copied to the target; for reads, syn.Size bytes are loaded and
// zero-extended into ctx.R[syn.Reg]. Register 30 is the zero register:
// a store from it reaches no target, and a load into it leaves
// ctx.R[30] unchanged.
func GenericMMIO(ctx *sched.TrapFrame, syn Syndrome, read func(size int) uint64, write func(size int, value uint64)) {
	if syn.Write {
		if syn.Reg != xzrReg {
			write(syn.Size, ctx.R[syn.Reg]&sizeMask(syn.Size))
		}
		return
	}

	value := read(syn.Size) & sizeMask(syn.Size)
	if syn.Reg != xzrReg {
		ctx.R[syn.Reg] = value
	}
}

func sizeMask(size int) uint64 {
	switch size {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	case 4:
		return 0xFFFFFFFF
	default:
		return ^uint64(0)
	}
}
