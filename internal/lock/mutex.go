package lock

/// Waiter is the minimal view of a schedulable entity the mutex needs in
/// order to park and wake it: Biscuit's proc code and this core both
/// avoid a direct dependency on the scheduler package from the lock
/// package by going through a small interface (spec.md §9's "context
/// objects... threaded through APIs" guidance).
type Waiter interface {
	// ParkOn suspends the calling task, pushing it onto the mutex's
	// wait queue, and does not return until woken by WakeOne.
	ParkOn(q *WaitQueue)
}

/// WaitQueue is a FIFO of parked waiters, owned by exactly one Mutex.
/// The scheduler implementation backing Waiter is responsible for the
/// actual linked-list bookkeeping of TCBs; WaitQueue here only tracks
/// how many are parked so Mutex can decide whether a release must wake
/// anyone.
type WaitQueue struct {
	parked int
	wake   func()
}

/// SetWaker installs the callback invoked to wake the head of the
/// queue. The scheduler supplies this at boot once its ready lists
/// exist; WakeOne is a no-op until then (mirrors teacher: locks taken
/// before the scheduler exists are uncontended boot-time locks).
func (q *WaitQueue) SetWaker(f func()) { q.wake = f }

/// Mutex is a test-and-set, futex-style lock: an uncontended acquire is
/// a single CAS; a contended acquirer parks the calling task instead of
/// spinning, per spec.md §4.10.
type Mutex struct {
	state uint32 // 0 = free, 1 = held
	q     WaitQueue
	owner Waiter
}

/// TryLock attempts the uncontended fast path and reports success.
func (m *Mutex) TryLock() bool {
	return CASAcquire(&m.state, 0, 1)
}

/// Lock acquires the mutex, parking w (via w.ParkOn) on contention. The
/// caller must not hold any spinlock while calling Lock, since parking
/// may invoke the scheduler.
func (m *Mutex) Lock(w Waiter) {
	for !m.TryLock() {
		m.q.parked++
		w.ParkOn(&m.q)
	}
	m.owner = w
}

/// Unlock releases the mutex and, if any task is parked, wakes exactly
/// one (the scheduler re-adds it to its owning CPU's ready list, by IPI
/// if that CPU differs from the releaser's).
func (m *Mutex) Unlock() {
	m.owner = nil
	StoreRelease(&m.state, 0)
	if m.q.parked > 0 {
		m.q.parked--
		if m.q.wake != nil {
			m.q.wake()
		}
	}
}

/// WaitQueue exposes the mutex's internal wait queue so a scheduler can
/// install a waker once during boot.
func (m *Mutex) WaitQueue() *WaitQueue { return &m.q }
