package sched

import (
	"sync"

	"ember/internal/defs"
)

// DefaultSliceTicks is the number of ticks a task's time-slice refills
// to when it expires (spec.md §4.4 step 2).
const DefaultSliceTicks = 3

// list is a doubly linked intrusive list of TCBs, used for both the
// ready and the sleep list of a CPU.
type list struct {
	head, tail *TCB
}

func (l *list) pushTail(t *TCB) {
	t.runPrev, t.runNext = l.tail, nil
	if l.tail != nil {
		l.tail.runNext = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *list) pushHead(t *TCB) {
	t.runPrev, t.runNext = nil, l.head
	if l.head != nil {
		l.head.runPrev = t
	} else {
		l.tail = t
	}
	l.head = t
}

func (l *list) remove(t *TCB) {
	if t.runPrev != nil {
		t.runPrev.runNext = t.runNext
	} else if l.head == t {
		l.head = t.runNext
	}
	if t.runNext != nil {
		t.runNext.runPrev = t.runPrev
	} else if l.tail == t {
		l.tail = t.runPrev
	}
	t.runPrev, t.runNext = nil, nil
}

func (l *list) popHead() *TCB {
	t := l.head
	if t != nil {
		l.remove(t)
	}
	return t
}

func (l *list) empty() bool { return l.head == nil }

// PerCPU holds the state one physical CPU's scheduler owns: its own
// ready and sleep lists, idle task, and the currently running TCB.
// Per spec.md §3/§4.4, only the owning CPU ever mutates ready/sleep;
// cross-CPU placement goes through the pendingRemote queue, which is
// the one piece of state genuinely shared with other CPUs and so is
// the only one protected by a lock.
type PerCPU struct {
	ready, sleep list
	idle         *TCB
	current      *TCB

	mu            sync.Mutex
	pendingRemote []*TCB

	// slicesGranted counts, for the fairness test (spec.md §8 property
	// 4), how many times each task has been scheduled in.
	slicesGranted map[*TCB]int
}

// Scheduler owns the TCB pool and one PerCPU per physical core.
type Scheduler struct {
	Pool    *Pool
	CPUs    []PerCPU
	TickMs  int
}

// New constructs a Scheduler with numCPUs physical cores and a TCB pool
// of poolSize slots. tickMs is the physical timer period (spec.md §4.4:
// "10 ms tick on the reference platform").
func New(numCPUs, poolSize, tickMs int) *Scheduler {
	s := &Scheduler{
		Pool:   NewPool(poolSize),
		CPUs:   make([]PerCPU, numCPUs),
		TickMs: tickMs,
	}
	for i := range s.CPUs {
		s.CPUs[i].slicesGranted = make(map[*TCB]int)
	}
	return s
}

// NewIdleTask installs and returns CPU cpu's idle task. The idle task
// is a real TCB (spec.md §9's redesign guidance) but is never linked
// onto the ready list and is only ever picked when that list is empty.
func (s *Scheduler) NewIdleTask(cpu defs.CPUID) (*TCB, defs.Err_t) {
	t, err := s.Pool.AllocTCB()
	if err != 0 {
		return nil, err
	}
	t.State = StateRunning
	t.Affinity = cpu
	s.CPUs[cpu].idle = t
	if s.CPUs[cpu].current == nil {
		s.CPUs[cpu].current = t
	}
	return t, 0
}

// NewNativeTask constructs an EL1 native task per spec.md §4.4: it is
// assigned entry/stackTop/affinity, starts Ready, and is appended to its
// affinity CPU's ready list tail.
func (s *Scheduler) NewNativeTask(entry func(), stackTop uintptr, affinity defs.CPUID) (*TCB, defs.Err_t) {
	t, err := s.Pool.AllocTCB()
	if err != 0 {
		return nil, err
	}
	t.Entry = entry
	t.StackTop = stackTop
	t.Affinity = affinity
	t.RemainingTicks = DefaultSliceTicks
	t.State = StateReady
	s.CPUs[affinity].ready.pushTail(t)
	return t, 0
}

// NewVCPUTask constructs a vCPU task: identical to a native task except
// it carries a VM reference instead of a page-directory IPA (spec.md
// §4.4).
func (s *Scheduler) NewVCPUTask(vm VMRef, affinity defs.CPUID) (*TCB, defs.Err_t) {
	t, err := s.Pool.AllocTCB()
	if err != 0 {
		return nil, err
	}
	t.VM = vm
	t.Affinity = affinity
	t.RemainingTicks = DefaultSliceTicks
	t.State = StateReady
	s.CPUs[affinity].ready.pushTail(t)
	return t, 0
}

// Current returns the TCB currently running on cpu.
func (s *Scheduler) Current(cpu defs.CPUID) *TCB { return s.CPUs[cpu].current }

// SendIPISched places t onto target's pending-remote queue, simulating
// the IPI_SCHED SGI spec.md §4.4/§4.8 reserves for cross-CPU wake. The
// owning CPU only observes it the next time DeliverIPIs runs, which
// Tick and Schedule do on entry.
func (s *Scheduler) SendIPISched(target defs.CPUID, t *TCB) {
	cpu := &s.CPUs[target]
	cpu.mu.Lock()
	cpu.pendingRemote = append(cpu.pendingRemote, t)
	cpu.mu.Unlock()
}

// DeliverIPIs drains cpu's pending-remote queue into its local ready
// list tail. This is the "IPI handler" side of spec.md §4.4's "the IPI
// handler on the remote side inspects whether a wake-up is pending."
func (s *Scheduler) DeliverIPIs(cpuID defs.CPUID) {
	cpu := &s.CPUs[cpuID]
	cpu.mu.Lock()
	pending := cpu.pendingRemote
	cpu.pendingRemote = nil
	cpu.mu.Unlock()

	for _, t := range pending {
		t.State = StateReady
		cpu.ready.pushTail(t)
	}
}

// Tick runs the per-tick bookkeeping spec.md §4.4 describes: age the
// sleep list, decrement the current task's slice, and invoke Schedule
// if a wakeup occurred or the slice expired.
func (s *Scheduler) Tick(cpuID defs.CPUID) {
	s.DeliverIPIs(cpuID)
	cpu := &s.CPUs[cpuID]

	hasWakeup := false
	for t := cpu.sleep.head; t != nil; {
		next := t.runNext
		t.SleepTicks--
		if t.SleepTicks <= 0 {
			cpu.sleep.remove(t)
			t.State = StateReady
			cpu.ready.pushHead(t)
			hasWakeup = true
		}
		t = next
	}

	expired := false
	cur := cpu.current
	if cur != nil && cur != cpu.idle {
		cur.RemainingTicks--
		if cur.RemainingTicks <= 0 {
			cur.RemainingTicks = DefaultSliceTicks
			cur.State = StateReady
			cpu.ready.pushTail(cur)
			expired = true
		}
	}

	// The idle task never has a slice to expire, but its whole job is to
	// WFI and re-check for work on every tick; without this, a CPU that
	// went idle before any task existed would never notice one appear.
	idling := cur == cpu.idle && !cpu.ready.empty()

	if hasWakeup || expired || idling {
		s.Schedule(cpuID)
	}
}

// Schedule picks the head Ready task on cpu's local ready list (or the
// idle task if none) and performs a context switch onto it (spec.md
// §4.4). The caller is responsible for any EL1/EL2-specific switch work
// (TTBR0_EL1 reload, vcpu_in/out); Schedule only updates scheduler state
// and returns the newly current TCB.
func (s *Scheduler) Schedule(cpuID defs.CPUID) *TCB {
	s.DeliverIPIs(cpuID)
	cpu := &s.CPUs[cpuID]
	next := cpu.ready.popHead()
	if next == nil {
		next = cpu.idle
	}
	next.State = StateRunning
	cpu.current = next
	if cpu.slicesGranted != nil {
		cpu.slicesGranted[next]++
	}
	return next
}

// SlicesGranted reports how many times t has been picked by Schedule on
// its CPU, for the fairness property (spec.md §8 property 4).
func (s *Scheduler) SlicesGranted(t *TCB) int {
	return s.CPUs[t.Affinity].slicesGranted[t]
}

// Sleep implements spec.md §4.4's sleep(ms): computes the tick count,
// marks the task Waiting, appends it to its CPU's sleep list, and
// reschedules.
func (s *Scheduler) Sleep(t *TCB, ms int) {
	ticks := ms / s.TickMs
	if ticks < 1 {
		ticks = 1
	}
	t.SleepTicks = ticks
	t.State = StateWaiting
	cpu := &s.CPUs[t.Affinity]
	cpu.sleep.pushTail(t)
	s.Schedule(t.Affinity)
}

// Yield implements spec.md §4.4's task_yield(): append to the local
// ready list tail and reschedule.
func (s *Scheduler) Yield(t *TCB) {
	t.State = StateReady
	cpu := &s.CPUs[t.Affinity]
	cpu.ready.pushTail(t)
	s.Schedule(t.Affinity)
}

// WaitIrq implements spec.md §4.4's WaitIrq: the task is marked WaitIrq
// and its CPU reschedules; only an explicit WakeFromIrq re-admits it.
// It does not unlink the task from any list, so the task must not be
// on its ready or sleep list when this is called.
func (s *Scheduler) WaitIrq(t *TCB) {
	t.State = StateWaitIrq
	s.Schedule(t.Affinity)
}

// WakeFromIrq re-queues t to its CPU's ready list tail, as only an IRQ
// handler may do per spec.md §4.4.
func (s *Scheduler) WakeFromIrq(t *TCB) {
	t.State = StateReady
	s.CPUs[t.Affinity].ready.pushTail(t)
}

// ReadyLen reports the number of tasks on cpu's ready list, for tests.
func (s *Scheduler) ReadyLen(cpu defs.CPUID) int {
	n := 0
	for t := s.CPUs[cpu].ready.head; t != nil; t = t.runNext {
		n++
	}
	return n
}
