// Package hv is the hypervisor façade: it wires internal/mem,
// internal/kalloc, internal/pgtbl, internal/sched, internal/vcpu,
// internal/vgic, internal/vtimer, and internal/trap into the boot and
// runtime flow spec.md §2 describes, without introducing any kernel
// logic of its own. No teacher file wires a hypervisor boot flow
// directly (the teacher is a monolithic kernel, not a hypervisor), so
// this package is new, following the pack's convention that a thin
// top-level package only constructs and threads dependencies together
// (see cmd/ember).
package hv

import (
	"ember/internal/bootcfg"
	"ember/internal/defs"
	"ember/internal/kalloc"
	"ember/internal/mem"
	"ember/internal/pgtbl"
	"ember/internal/sched"
	"ember/internal/trap"
	"ember/internal/vcpu"
	"ember/internal/vgic"

	"ember/internal/barrier"
)

// VM is one guest: its Stage-2 translation table, its vGIC
// distributor, and the vCPUs scheduled on its behalf (spec.md §3's VM
// entity).
type VM struct {
	ID      defs.VMID
	Stage2  *pgtbl.Stage2
	Dist    *vgic.Distributor
	VCPUs   []*vcpu.VCPU
}

// Hypervisor bundles the boot-time singletons every CPU and every VM
// shares: the physical-memory allocator, the kernel heap, the barrier
// discipline, and the scheduler.
type Hypervisor struct {
	Cfg   bootcfg.Config
	PMM   *mem.PMM
	Heap  *kalloc.Heap
	Disc  *barrier.Discipline
	Sched *sched.Scheduler
	Dispatcher *trap.Dispatcher

	nextVMID defs.VMID
}

// New constructs a Hypervisor from a validated board configuration.
// This mirrors the boot sequence spec.md §2/§4.1 describes: the PMM is
// initialized over the declared RAM region, the heap is layered on top,
// and one PerCPU scheduler slot is created per configured core.
func New(cfg bootcfg.Config, dmineLine int) (*Hypervisor, defs.Err_t) {
	if err := cfg.Validate(); err != nil {
		return nil, -defs.EMISCONFIGURED
	}

	pmm := &mem.PMM{}
	if err := pmm.Init(mem.PA(cfg.RAMBase), cfg.RAMSize, cfg.FSReserve); err != 0 {
		return nil, err
	}
	heap := kalloc.New(pmm)
	disc := barrier.NewDiscipline(dmineLine)
	s := sched.New(cfg.NumCPUs, cfg.NumCPUs*64, cfg.TickMs)

	h := &Hypervisor{
		Cfg:   cfg,
		PMM:   pmm,
		Heap:  heap,
		Disc:  disc,
		Sched: s,
		nextVMID: 1,
	}
	h.Dispatcher = &trap.Dispatcher{
		GICDBase: cfg.GICDBase,
		GICCBase: cfg.GICCBase,
		GICVBase: cfg.GICVBase,
	}
	return h, 0
}

// BootCPU performs one physical CPU's boot-time setup (spec.md §4.4:
// "each CPU initializes its own idle task ... registers the IPI_SCHED
// handler, enables the local timer, and enters the idle loop"). Timer
// enable and the IPI_SCHED SGI registration are hardware operations
// owned by the caller (cmd/ember); BootCPU only installs the idle task.
func (h *Hypervisor) BootCPU(cpu defs.CPUID) (*sched.TCB, defs.Err_t) {
	return h.Sched.NewIdleTask(cpu)
}

// CreateVM constructs a new guest: a Stage-2 table covering ram and
// mmio, a fresh vGIC distributor, and one vCPU TCB per requested core,
// each scheduled with the given affinity (spec.md §3's VM entity,
// §4.3's Stage-2 construction, §4.4's vCPU tasks).
func (h *Hypervisor) CreateVM(ram pgtbl.Window, mmio []pgtbl.Window, affinities []defs.CPUID) (*VM, defs.Err_t) {
	vmid := h.nextVMID
	h.nextVMID++

	s2, err := pgtbl.NewStage2(h.PMM, h.Disc, vmid)
	if err != 0 {
		return nil, err
	}
	if err := s2.Construct(ram, mmio); err != 0 {
		return nil, err
	}

	vm := &VM{ID: vmid, Stage2: s2, Dist: vgic.NewDistributor()}
	for _, cpu := range affinities {
		tcb, err := h.Sched.NewVCPUTask(vm, cpu)
		if err != 0 {
			return nil, err
		}
		vm.VCPUs = append(vm.VCPUs, vcpu.New(tcb, vm.Dist, h.Cfg.ListRegisters))
	}
	return vm, 0
}

// OnTick runs the per-physical-timer-tick flow (spec.md §2's Flow
// paragraph): the virtual timer of every vCPU with affinity to cpu is
// compared against cntpct so an expired one asserts its vIRQ, then the
// scheduler's own
// tick bookkeeping runs and may switch tasks.
func (h *Hypervisor) OnTick(cpu defs.CPUID, cntpct uint64, vms []*VM) {
	for _, vm := range vms {
		for _, v := range vm.VCPUs {
			if v.TCB.Affinity != cpu {
				continue
			}
			v.Timer.Tick(cntpct, v.Dist, v.GIC)
		}
	}
	h.Sched.Tick(cpu)
}

// OnStage2Fault runs the Stage-2 fault flow (spec.md §2's Flow
// paragraph, §4.6): the dispatcher classifies and handles the fault,
// possibly updating guest register state in ctx.
func (h *Hypervisor) OnStage2Fault(ctx *sched.TrapFrame, v *vcpu.VCPU, syn trap.Syndrome) defs.Err_t {
	d := *h.Dispatcher
	if vm, ok := v.TCB.VM.(*VM); ok {
		d.Stage2 = vm.Stage2
		d.Dist = vm.Dist
	}
	return d.Dispatch(ctx, v, syn)
}

// stage2Writer adapts a VM's Stage-2 table to loader.Writer by
// translating each IPA through Walk and copying into the PMM's direct
// map, so internal/loader can place guest images without depending on
// internal/pgtbl directly.
type stage2Writer struct {
	pmm *mem.PMM
	s2  *pgtbl.Stage2
}

// WriteAt implements loader.Writer.
func (w stage2Writer) WriteAt(ipa uint64, p []byte) defs.Err_t {
	remaining := p
	for len(remaining) > 0 {
		pa, _, ok := w.s2.Walk(ipa &^ (mem.PageSize - 1))
		if !ok {
			return -defs.EGUESTFAULT
		}
		pageOff := int(ipa & (mem.PageSize - 1))
		dst := w.pmm.Dmap(mem.PA(pa))[pageOff:]
		n := copy(dst, remaining)
		remaining = remaining[n:]
		ipa += uint64(n)
	}
	return 0
}

// LoaderWriter returns a loader.Writer that places guest image bytes into
// vm's Stage-2-mapped RAM via the host direct map.
func (h *Hypervisor) LoaderWriter(vm *VM) stage2Writer {
	return stage2Writer{pmm: h.PMM, s2: vm.Stage2}
}
