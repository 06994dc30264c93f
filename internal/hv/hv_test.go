package hv

import (
	"testing"

	"ember/internal/bootcfg"
	"ember/internal/defs"
	"ember/internal/mem"
	"ember/internal/pgtbl"
	"ember/internal/sched"
	"ember/internal/trap"
	"ember/internal/vtimer"
)

func testConfig() bootcfg.Config {
	return bootcfg.Config{
		RAMSize:       64 * mem.PageSize,
		GuestRAM:      pgtbl.Window{Base: 0x40000000, Size: 8 * mem.PageSize},
		NumCPUs:       2,
		TickMs:        10,
		ListRegisters: 4,
		GICDBase:      0x08000000,
		GICCBase:      0x08010000,
		GICVBase:      0x08020000,
	}
}

func TestBootCPUInstallsIdleTask(t *testing.T) {
	h, err := New(testConfig(), 64)
	if err != 0 {
		t.Fatalf("new: %v", err)
	}
	idle, err := h.BootCPU(0)
	if err != 0 {
		t.Fatalf("boot cpu: %v", err)
	}
	if h.Sched.Current(0) != idle {
		t.Fatal("expected idle task to be current after boot")
	}
}

func TestCreateVMBuildsStage2AndVCPUs(t *testing.T) {
	h, _ := New(testConfig(), 64)
	h.BootCPU(0)
	h.BootCPU(1)

	vm, err := h.CreateVM(testConfig().GuestRAM, nil, []defs.CPUID{0, 1})
	if err != 0 {
		t.Fatalf("create vm: %v", err)
	}
	if len(vm.VCPUs) != 2 {
		t.Fatalf("expected 2 vcpus, got %d", len(vm.VCPUs))
	}
	pa, _, ok := vm.Stage2.Walk(0x40000000)
	if !ok || pa != 0x40000000 {
		t.Fatalf("expected identity-mapped guest ram, got pa=%#x ok=%v", pa, ok)
	}
}

func TestOnTickAssertsExpiredVirtualTimer(t *testing.T) {
	h, _ := New(testConfig(), 64)
	h.BootCPU(0)
	vm, _ := h.CreateVM(testConfig().GuestRAM, nil, []defs.CPUID{0})

	v := vm.VCPUs[0]
	v.Timer = vtimer.State{CntvCval: 100, CntvCtl: vtimer.CtlEnable}

	h.OnTick(0, 150, []*VM{vm})

	if v.Timer.CntvCtl&vtimer.CtlISTATUS == 0 {
		t.Fatal("expected ISTATUS to be set after an expired tick")
	}
	if v.GIC.Pending.Len() != 1 {
		t.Fatalf("expected the virtual timer vIRQ pending, got %d entries", v.GIC.Pending.Len())
	}
}

func TestDispatchThroughFacade(t *testing.T) {
	h, _ := New(testConfig(), 64)
	h.BootCPU(0)
	vm, _ := h.CreateVM(testConfig().GuestRAM, []pgtbl.Window{{Base: 0x09000000, Size: mem.PageSize, Device: true}}, []defs.CPUID{0})

	var fr sched.TrapFrame
	syn := trap.Syndrome{IPA: 0xDEAD0000, Write: false, Size: 4, Reg: 0}
	if err := h.OnStage2Fault(&fr, vm.VCPUs[0], syn); err != -defs.EGUESTFAULT {
		t.Fatalf("expected EGUESTFAULT for an unmapped ipa, got %v", err)
	}
}
