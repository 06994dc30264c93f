package trap

import (
	"ember/internal/defs"
	"ember/internal/sched"
	"ember/internal/vgic"
)

// GICD register offsets, matching the real GICv2 distributor memory
// map (spec.md §8 scenario S4 cites GICD+0x100 as GICD_ISENABLER
// directly, so the offsets below are not a free choice). Each *n
// register bank is word-indexed: ISENABLER/ICENABLER/ISPENDR/ICPENDR/
// ISACTIVER/ICACTIVER pack 32 IRQs per 4-byte word (1 bit/IRQ);
// IPRIORITYR/ITARGETSR pack 4 IRQs per word (1 byte/IRQ); ICFGR packs
// 16 IRQs per word (2 bits/IRQ).
const (
	offISENABLER = 0x100
	offICENABLER = 0x180
	offISPENDR   = 0x200
	offICPENDR   = 0x280
	offISACTIVER = 0x300
	offICACTIVER = 0x380
	offIPRIORITY = 0x400
	offITARGETS  = 0x800
	offICFGR     = 0xC00
	offEnd       = 0xD00
)

// HandleGICD emulates one guest access to the distributor MMIO window,
// dispatching through GenericMMIO so the XZR/size conventions stay
// uniform across every trap path (spec.md §4.6).
func HandleGICD(dist *vgic.Distributor, base uint64, ctx *sched.TrapFrame, syn Syndrome) {
	off := syn.IPA - base
	GenericMMIO(ctx, syn,
		func(size int) uint64 { return readGICD(dist, off, size) },
		func(size int, value uint64) { writeGICD(dist, off, size, value) },
	)
}

func readGICD(dist *vgic.Distributor, off uint64, size int) uint64 {
	switch {
	case off >= offISENABLER && off < offICENABLER:
		return packBits(dist, off-offISENABLER, size, 1, getEnable)
	case off >= offICENABLER && off < offISPENDR:
		return packBits(dist, off-offICENABLER, size, 1, getEnable)
	case off >= offISPENDR && off < offICPENDR:
		return packBits(dist, off-offISPENDR, size, 1, getPending)
	case off >= offICPENDR && off < offISACTIVER:
		return packBits(dist, off-offICPENDR, size, 1, getPending)
	case off >= offISACTIVER && off < offICACTIVER:
		return packBits(dist, off-offISACTIVER, size, 1, getActive)
	case off >= offICACTIVER && off < offIPRIORITY:
		return packBits(dist, off-offICACTIVER, size, 1, getActive)
	case off >= offIPRIORITY && off < offITARGETS:
		return packBits(dist, off-offIPRIORITY, size, 8, getPriority)
	case off >= offITARGETS && off < offICFGR:
		return packBits(dist, off-offITARGETS, size, 8, getTarget)
	case off >= offICFGR && off < offEnd:
		return packBits(dist, off-offICFGR, size, 2, getConfig)
	default:
		// CTLR/TYPER/IIDR and every reserved region: not modeled, reads
		// as zero.
		return 0
	}
}

func writeGICD(dist *vgic.Distributor, off uint64, size int, value uint64) {
	switch {
	case off >= offISENABLER && off < offICENABLER:
		setBitsWhereOne(dist, off-offISENABLER, size, value, setEnableTrue)
	case off >= offICENABLER && off < offISPENDR:
		setBitsWhereOne(dist, off-offICENABLER, size, value, setEnableFalse)
	case off >= offISPENDR && off < offICPENDR:
		setBitsWhereOne(dist, off-offISPENDR, size, value, setPendingTrue)
	case off >= offICPENDR && off < offISACTIVER:
		setBitsWhereOne(dist, off-offICPENDR, size, value, setPendingFalse)
	case off >= offISACTIVER && off < offICACTIVER:
		setBitsWhereOne(dist, off-offISACTIVER, size, value, setActiveTrue)
	case off >= offICACTIVER && off < offIPRIORITY:
		setBitsWhereOne(dist, off-offICACTIVER, size, value, setActiveFalse)
	case off >= offIPRIORITY && off < offITARGETS:
		unpackBits(dist, off-offIPRIORITY, size, 8, value, setPriority)
	case off >= offITARGETS && off < offICFGR:
		unpackBits(dist, off-offITARGETS, size, 8, value, setTarget)
	case off >= offICFGR && off < offEnd:
		unpackBits(dist, off-offICFGR, size, 2, value, setConfig)
	default:
		// CTLR/TYPER/IIDR and every reserved region: not modeled, writes
		// are discarded.
	}
}

// packBits reconstructs an access-sized value out of bitsPerIRQ-wide
// fields, one per IRQ, starting at the IRQ implied by regOff (the byte
// offset within a register bank). This is always how a read is formed,
// regardless of whether the bank is a plain register or a W1S/W1C one
// (spec.md §4.8: "reads return the shadow").
func packBits(dist *vgic.Distributor, regOff uint64, size, bitsPerIRQ int, get func(*vgic.Distributor, defs.IRQ) uint64) uint64 {
	irqsPerByte := 8 / bitsPerIRQ
	firstIRQ := defs.IRQ(regOff * uint64(irqsPerByte))
	mask := uint64(1)<<uint(bitsPerIRQ) - 1

	var val uint64
	n := size * irqsPerByte
	for i := 0; i < n; i++ {
		val |= (get(dist, firstIRQ+defs.IRQ(i)) & mask) << uint(i*bitsPerIRQ)
	}
	return val
}

// unpackBits is packBits' inverse for plain (non set/clear) registers:
// every field in the access window is overwritten from value.
func unpackBits(dist *vgic.Distributor, regOff uint64, size, bitsPerIRQ int, value uint64, set func(*vgic.Distributor, defs.IRQ, uint64)) {
	irqsPerByte := 8 / bitsPerIRQ
	firstIRQ := defs.IRQ(regOff * uint64(irqsPerByte))
	mask := uint64(1)<<uint(bitsPerIRQ) - 1

	n := size * irqsPerByte
	for i := 0; i < n; i++ {
		set(dist, firstIRQ+defs.IRQ(i), (value>>uint(i*bitsPerIRQ))&mask)
	}
}

// setBitsWhereOne implements GICv2's W1S/W1C registers (ISENABLER,
// ICENABLER, ISPENDR, ICPENDR, ISACTIVER, ICACTIVER): only the bit
// positions set to 1 in value take effect; a 0 bit leaves that IRQ's
// state untouched.
func setBitsWhereOne(dist *vgic.Distributor, regOff uint64, size int, value uint64, apply func(*vgic.Distributor, defs.IRQ)) {
	firstIRQ := defs.IRQ(regOff * 8)
	n := size * 8
	for i := 0; i < n; i++ {
		if value&(1<<uint(i)) != 0 {
			apply(dist, firstIRQ+defs.IRQ(i))
		}
	}
}

func getEnable(dist *vgic.Distributor, id defs.IRQ) uint64 {
	enable, _, _, _, _, _ := dist.Read(id)
	return boolToU64(enable)
}
func setEnableTrue(dist *vgic.Distributor, id defs.IRQ)  { dist.WriteEnable(id, true) }
func setEnableFalse(dist *vgic.Distributor, id defs.IRQ) { dist.WriteEnable(id, false) }

func getPending(dist *vgic.Distributor, id defs.IRQ) uint64 {
	_, pending, _, _, _, _ := dist.Read(id)
	return boolToU64(pending)
}
func setPendingTrue(dist *vgic.Distributor, id defs.IRQ)  { dist.SetPending(id, true) }
func setPendingFalse(dist *vgic.Distributor, id defs.IRQ) { dist.SetPending(id, false) }

func getActive(dist *vgic.Distributor, id defs.IRQ) uint64 {
	_, _, active, _, _, _ := dist.Read(id)
	return boolToU64(active)
}
func setActiveTrue(dist *vgic.Distributor, id defs.IRQ)  { dist.SetActive(id, true) }
func setActiveFalse(dist *vgic.Distributor, id defs.IRQ) { dist.SetActive(id, false) }

func getPriority(dist *vgic.Distributor, id defs.IRQ) uint64 {
	_, _, _, prio, _, _ := dist.Read(id)
	return uint64(prio)
}
func setPriority(dist *vgic.Distributor, id defs.IRQ, v uint64) { dist.WritePriority(id, uint8(v)) }

func getTarget(dist *vgic.Distributor, id defs.IRQ) uint64 {
	_, _, _, _, target, _ := dist.Read(id)
	return uint64(target)
}
func setTarget(dist *vgic.Distributor, id defs.IRQ, v uint64) { dist.WriteTarget(id, uint8(v)) }

func getConfig(dist *vgic.Distributor, id defs.IRQ) uint64 {
	_, _, _, _, _, cfg := dist.Read(id)
	return uint64(cfg)
}
func setConfig(dist *vgic.Distributor, id defs.IRQ, v uint64) { dist.WriteConfig(id, vgic.Config(v)) }

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
