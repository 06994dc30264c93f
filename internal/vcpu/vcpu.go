// Package vcpu implements the vcpu_in/vcpu_out context-switch hooks
// spec.md §4.5 describes: saving and restoring a vCPU's system-register
// bank, GIC CPU-interface core state, and virtual timer state around a
// context switch.
package vcpu

import (
	"ember/internal/sched"
	"ember/internal/vgic"
	"ember/internal/vtimer"
)

// HW is the hardware-facing side of a context switch: the set of
// register reads/writes vcpu_in/vcpu_out perform against real AArch64
// system and GIC registers. Production code backs this with actual
// MSR/MRS sequences; tests back it with a fake that records calls.
type HW interface {
	SaveSysRegs() sched.SysRegBank
	RestoreSysRegs(sched.SysRegBank)

	SaveGICCCore() (apr, hppir, eoi uint32)
	RestoreGICCCore(apr, hppir, eoi uint32)
	RestoreListRegs(regs []vgic.ListReg)

	SaveTimer() (cval uint64, ctl uint32, off uint64)
	RestoreTimer(cval uint64, ctl uint32, off uint64)
}

// VCPU bundles one vCPU's emulated state: the TCB it rides on, its
// per-vCPU vGIC interface, its virtual timer, and the VM-wide
// distributor it shares with sibling vCPUs.
type VCPU struct {
	TCB   *sched.TCB
	GIC   *vgic.CPUInterface
	Timer vtimer.State
	Dist  *vgic.Distributor
}

// New constructs a VCPU bound to an already-allocated vCPU TCB.
func New(tcb *sched.TCB, dist *vgic.Distributor, listRegs int) *VCPU {
	return &VCPU{TCB: tcb, GIC: vgic.NewCPUInterface(listRegs), Dist: dist}
}

// Out saves all hardware-resident vCPU state into memory (spec.md
// §4.5): system-register bank first, then the physical GIC
// CPU-interface registers in use, then virtual timer state. Per
// spec.md's ordering rule, software state in memory is authoritative
// after Out returns — registers are read from hardware and cached, in
// that order.
func Out(v *VCPU, hw HW) {
	bank := hw.SaveSysRegs()
	v.TCB.CPUInfo.SysRegs = &bank

	apr, hppir, eoi := hw.SaveGICCCore()
	v.GIC.APR, v.GIC.HPPIR, v.GIC.EOICount = apr, hppir, eoi

	cval, ctl, off := hw.SaveTimer()
	v.Timer.SaveFromHW(cval, ctl, off)
}

// In restores a vCPU onto hardware (spec.md §4.5): if the task carries
// no VM (a native task), it returns immediately. Otherwise it restores
// the system-register bank, scans the pending-IRQ FIFO and attempts
// list-register injection, restores virtual timer state, and restores
// GIC CPU-interface core state. Per spec.md's ordering rule, memory is
// updated first — the injection decision is made against the in-memory
// shadow — and only then is hardware programmed from that memory.
func In(v *VCPU, hw HW) {
	if v.TCB.VM == nil {
		return
	}
	// A freshly created vCPU TCB has a VM but has never been through
	// Out yet, so CPUInfo.SysRegs is still nil; restore the zero bank
	// in that case rather than treating it as a native task.
	var bank sched.SysRegBank
	if v.TCB.CPUInfo.SysRegs != nil {
		bank = *v.TCB.CPUInfo.SysRegs
	}
	hw.RestoreSysRegs(bank)
	v.GIC.Inject(v.Dist)
	cval, ctl, off := v.Timer.RestoreToHW()
	hw.RestoreTimer(cval, ctl, off)
	hw.RestoreGICCCore(v.GIC.APR, v.GIC.HPPIR, v.GIC.EOICount)
	hw.RestoreListRegs(v.GIC.Regs)
}
