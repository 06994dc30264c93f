package trap

import (
	"ember/internal/defs"
	"ember/internal/pgtbl"
	"ember/internal/sched"
	"ember/internal/vcpu"
	"ember/internal/vgic"
)

// PhysMMIO is the host-facing read/write pair used for the pass-through
// path (spec.md §4.6's "useful for pass-through devices" and the
// GICC-to-GICV rebase).
type PhysMMIO interface {
	Read(addr uint64, size int) uint64
	Write(addr uint64, size int, value uint64)
}

// Dispatcher routes a trapped Stage-2 fault per spec.md §4.6's IPA
// classification: GICD window to distributor emulation, GICC window
// rebased to GICV on the physical GIC, everything else a direct
// pass-through MMIO access.
type Dispatcher struct {
	Stage2    *pgtbl.Stage2
	Dist      *vgic.Distributor
	GICDBase  uint64
	GICCBase  uint64
	GICVBase  uint64
	Phys      PhysMMIO
}

// Dispatch handles one fault, mutating ctx's general registers on a
// read. It issues no dsb/isb barrier of its own after the access.
func (d *Dispatcher) Dispatch(ctx *sched.TrapFrame, v *vcpu.VCPU, syn Syndrome) defs.Err_t {
	switch {
	case syn.IPA >= d.GICDBase && syn.IPA < d.GICDBase+0x10000:
		HandleGICD(d.Dist, d.GICDBase, ctx, syn)

	case syn.IPA >= d.GICCBase && syn.IPA < d.GICCBase+0x10000:
		gicvAddr := syn.IPA - d.GICCBase + d.GICVBase
		GenericMMIO(ctx, syn,
			func(size int) uint64 { return d.Phys.Read(gicvAddr, size) },
			func(size int, value uint64) { d.Phys.Write(gicvAddr, size, value) },
		)
		if syn.Write && syn.IPA-d.GICCBase == gicvEOIOffset && syn.Reg != xzrReg {
			d.handleEOI(v, defs.IRQ(ctx.R[syn.Reg]&0x3FF))
		}

	default:
		cls := d.Stage2.Classify(syn.IPA)
		if cls.Region == pgtbl.RegionUnknown {
			return -defs.EGUESTFAULT
		}
		GenericMMIO(ctx, syn,
			func(size int) uint64 { return d.Phys.Read(syn.IPA, size) },
			func(size int, value uint64) { d.Phys.Write(syn.IPA, size, value) },
		)
	}
	return 0
}

// gicvEOIOffset is the GICC_EOIR register's offset within the GICC
// (and, after rebasing, GICV) MMIO window.
const gicvEOIOffset = 0x10

// handleEOI implements spec.md §4.8's EOI handling: the vCPU's list
// register for id is cleared, and if it was HW-backed, the physical IRQ
// is deactivated on the host.
func (d *Dispatcher) handleEOI(v *vcpu.VCPU, id defs.IRQ) {
	phys, wasHW := v.GIC.EOI(id)
	if wasHW && d.Phys != nil {
		d.Phys.Write(d.GICDBase+0x2000+uint64(phys)/8, 1, 1<<(uint(phys)%8))
	}
}
