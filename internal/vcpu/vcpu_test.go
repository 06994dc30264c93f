package vcpu

import (
	"testing"

	"ember/internal/defs"
	"ember/internal/sched"
	"ember/internal/vgic"
)

type fakeHW struct {
	regs            sched.SysRegBank
	restored        bool
	apr, hppir, eoi uint32
	cval            uint64
	ctl             uint32
	off             uint64
	listRegs        []vgic.ListReg
}

func (f *fakeHW) SaveSysRegs() sched.SysRegBank { return f.regs }
func (f *fakeHW) RestoreSysRegs(b sched.SysRegBank) {
	f.restored = true
	f.regs = b
}
func (f *fakeHW) SaveGICCCore() (uint32, uint32, uint32) { return f.apr, f.hppir, f.eoi }
func (f *fakeHW) RestoreGICCCore(apr, hppir, eoi uint32) { f.apr, f.hppir, f.eoi = apr, hppir, eoi }
func (f *fakeHW) RestoreListRegs(regs []vgic.ListReg)    { f.listRegs = regs }
func (f *fakeHW) SaveTimer() (uint64, uint32, uint64)    { return f.cval, f.ctl, f.off }
func (f *fakeHW) RestoreTimer(cval uint64, ctl uint32, off uint64) {
	f.cval, f.ctl, f.off = cval, ctl, off
}

func TestVCPUOutThenInRoundTrips(t *testing.T) {
	pool := sched.NewPool(1)
	tcb, err := pool.AllocTCB()
	if err != 0 {
		t.Fatalf("alloc tcb: %v", err)
	}
	tcb.VM = "fake-vm"

	dist := vgic.NewDistributor()
	v := New(tcb, dist, 4)

	hw := &fakeHW{regs: sched.SysRegBank{SCTLREL1: 0xABCD}, cval: 100, ctl: 1, off: 0}

	Out(v, hw)
	if tcb.CPUInfo.SysRegs == nil || tcb.CPUInfo.SysRegs.SCTLREL1 != 0xABCD {
		t.Fatalf("Out did not save sys regs into the TCB")
	}

	hw.regs = sched.SysRegBank{} // simulate hardware being repurposed meanwhile
	In(v, hw)
	if !hw.restored || hw.regs.SCTLREL1 != 0xABCD {
		t.Fatalf("In did not restore sys regs from the TCB, got %#x", hw.regs.SCTLREL1)
	}
}

func TestVCPUInNoopWithoutVM(t *testing.T) {
	pool := sched.NewPool(1)
	tcb, _ := pool.AllocTCB()
	dist := vgic.NewDistributor()
	v := New(tcb, dist, 4)

	hw := &fakeHW{}
	In(v, hw) // tcb.VM is nil: a native task, not a vCPU
	if hw.restored {
		t.Fatal("In should be a no-op for a task with no VM")
	}
}

// TestVCPUInOnFreshVCPUWithoutSavedSysRegs checks that a vCPU TCB's
// very first In() call proceeds (restoring a zero sysreg bank) instead
// of being mistaken for a native task merely because Out() has never
// run yet to populate CPUInfo.SysRegs.
func TestVCPUInOnFreshVCPUWithoutSavedSysRegs(t *testing.T) {
	pool := sched.NewPool(1)
	tcb, _ := pool.AllocTCB()
	tcb.VM = "fake-vm"
	if tcb.CPUInfo.SysRegs != nil {
		t.Fatal("test setup: expected a fresh TCB to have no saved sys regs")
	}

	dist := vgic.NewDistributor()
	v := New(tcb, dist, 4)

	hw := &fakeHW{}
	In(v, hw)
	if !hw.restored {
		t.Fatal("In should restore hardware state for a vCPU task even before its first Out()")
	}
}

func TestVCPUInInjectsPendingIRQBeforeProgrammingHardware(t *testing.T) {
	pool := sched.NewPool(1)
	tcb, _ := pool.AllocTCB()
	tcb.VM = "fake-vm"
	tcb.CPUInfo.SysRegs = &sched.SysRegBank{}

	dist := vgic.NewDistributor()
	v := New(tcb, dist, 4)
	v.GIC.Assert(dist, defs.IRQ(vgic.VirtualTimerIRQ))

	hw := &fakeHW{}
	In(v, hw)

	found := false
	for _, r := range hw.listRegs {
		if r.Valid && r.VIRQ == defs.IRQ(vgic.VirtualTimerIRQ) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the pending virtual timer IRQ to reach hardware list registers")
	}
}
