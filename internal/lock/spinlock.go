package lock

import "sync/atomic"

/// IRQMasker is implemented by the scheduler so spinlocks can disable
/// and restore local interrupts around a critical section, per spec.md
/// §9: "protected by a spinlock that disables local IRQs on acquire."
/// A nil IRQMasker (the zero value of SpinLock before the scheduler
/// boots) makes Lock/Unlock a plain ticket lock with no IRQ masking,
/// which is what the earliest boot code — before any CPU takes an
/// interrupt — needs.
type IRQMasker interface {
	// IRQSave disables local interrupts and returns the prior state.
	IRQSave() uintptr
	// IRQRestore restores local interrupts to the state IRQSave returned.
	IRQRestore(uintptr)
}

/// SpinLock is a ticket lock: waiters are served in arrival order, which
/// keeps CPU-private ready/sleep-list mutations (spec.md §5) from
/// starving under contention. Never park a task while holding one; a
/// spinlock critical section must be short and non-blocking.
type SpinLock struct {
	ticket  uint32
	serving uint32
	masker  IRQMasker
	saved   uintptr
}

/// SetIRQMasker installs the scheduler's IRQ masker. Called once at
/// boot, after the per-CPU scheduler state exists.
func (s *SpinLock) SetIRQMasker(m IRQMasker) {
	s.masker = m
}

/// Lock disables local IRQs (if a masker is installed) and spins until
/// this caller's ticket is being served.
func (s *SpinLock) Lock() {
	if s.masker != nil {
		s.saved = s.masker.IRQSave()
	}
	my := atomic.AddUint32(&s.ticket, 1) - 1
	for LoadAcquire(&s.serving) != my {
		// busy-wait; real hardware would issue `wfe` here after the
		// first failed check and rely on the `stlxr` in Unlock to send
		// the event that wakes it.
	}
}

/// Unlock advances to the next ticket and restores local IRQs.
func (s *SpinLock) Unlock() {
	StoreRelease(&s.serving, s.serving+1)
	if s.masker != nil {
		s.masker.IRQRestore(s.saved)
	}
}
