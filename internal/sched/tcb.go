// Package sched implements the per-CPU preemptive round-robin scheduler
// spec.md §4.4 describes: a fixed-size TCB pool, per-CPU ready and sleep
// lists, an idle task per CPU, and IPI-driven cross-CPU wake. List nodes
// are pointers into the fixed-size pool, which is never reallocated; this
// is the arena pattern the teacher uses for its Pg_t pools
// (biscuit/src/mem/mem.go), with pointers in place of indices.
package sched

import "ember/internal/defs"

// State is one of the TCB lifecycle states spec.md §3 names.
type State int

const (
	StateCreate State = iota
	StateReady
	StateRunning
	StateWaiting
	StateWaitIrq
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreate:
		return "create"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateWaitIrq:
		return "waitirq"
	case StateDead:
		return "dead"
	default:
		return "?"
	}
}

// Ctx holds the callee-saved register set a context switch exchanges
// (spec.md §3: "callee-saved registers + x29, x30, sp, tpidr").
type Ctx struct {
	X19, X20, X21, X22, X23, X24, X25, X26, X27, X28 uint64
	X29, X30, SP, TPIDR                               uint64
}

// TrapFrame is the general-purpose register snapshot taken on the last
// entry to EL2 (spec.md §3's "CPU Info / vCPU State").
type TrapFrame struct {
	R      [31]uint64 // x0-x30
	SPEL0  uint64
	ELR    uint64
	SPSR   uint64
}

// SysRegBank holds the AArch64 system registers owned by one vCPU's
// EL1 state (spec.md §3).
type SysRegBank struct {
	SCTLREL1  uint64
	TTBR0EL1  uint64
	TTBR1EL1  uint64
	TCREL1    uint64
	MAIREL1   uint64
	VBAREL1   uint64
	SPSREL1   uint64
	ELREL1    uint64
}

// CPUInfo is the per-TCB register snapshot block: a trap frame plus,
// for vCPU tasks only, a system-register bank (spec.md §3).
type CPUInfo struct {
	Trap    TrapFrame
	SysRegs *SysRegBank
}

// VMRef is an opaque handle to the VM a vCPU TCB belongs to. The
// scheduler never looks inside it; internal/vcpu and internal/hv supply
// and consume the concrete type.
type VMRef interface{}

// TCB is the Task Control Block: every runnable entity, whether a
// native kernel task or a vCPU, is one (spec.md §3).
type TCB struct {
	TaskID   defs.Tid_t
	State    State
	Affinity defs.CPUID

	RemainingTicks int
	SleepTicks     int

	// PgDir is the IPA of this task's Stage-1 root, meaningful only for
	// a native task. VM is set instead for a vCPU task; the two are
	// mutually exclusive.
	PgDir uintptr
	VM    VMRef

	Ctx     Ctx
	CPUInfo CPUInfo

	Entry    func()
	StackTop uintptr

	// runPrev/runNext link this TCB into whichever of {ready, sleep}
	// list of its owning CPU it currently sits on; the two lists are
	// mutually exclusive per spec.md §3's invariant. The backing pool
	// array is fixed-size and never reallocated, so these pointers stay
	// valid for the TCB's whole lifetime (the arena+index pattern,
	// expressed with pointers instead of hand-rolled indices).
	runPrev, runNext *TCB

	// waitPrev/waitNext link this TCB into a mutex's wait queue, a
	// structure independent of the ready/sleep lists.
	waitPrev, waitNext *TCB

	inUse bool
}

func (t *TCB) resetLinks() {
	t.runPrev, t.runNext = nil, nil
	t.waitPrev, t.waitNext = nil, nil
}

// Pool is the fixed-size arena of TCBs a Scheduler allocates from.
type Pool struct {
	slots  []TCB
	nextID defs.Tid_t
}

// NewPool allocates a pool able to hold size TCBs.
func NewPool(size int) *Pool {
	return &Pool{slots: make([]TCB, size), nextID: 1}
}

// AllocTCB scans for a free slot (task_id == 0), as spec.md §4.4
// describes, assigns a monotonic ID, and returns it zeroed.
func (p *Pool) AllocTCB() (*TCB, defs.Err_t) {
	for i := range p.slots {
		if !p.slots[i].inUse {
			p.slots[i] = TCB{}
			p.slots[i].inUse = true
			p.slots[i].TaskID = p.nextID
			p.nextID++
			p.slots[i].resetLinks()
			return &p.slots[i], 0
		}
	}
	return nil, -defs.ENOMEM
}

// FreeTCB zeroes t, which returns its slot to the pool. It does not
// unlink t from any ready, sleep or wait list; callers must have
// already unlinked it.
func (p *Pool) FreeTCB(t *TCB) {
	*t = TCB{}
}
