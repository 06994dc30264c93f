package sched

import (
	"ember/internal/lock"
)

// waiterFIFO is the ordered set of TCBs parked on one lock.WaitQueue.
// lock.WaitQueue itself only tracks a count (to avoid the lock package
// depending on sched); the scheduler keeps the actual FIFO here, keyed
// by the WaitQueue's identity.
type waiterFIFO struct {
	head, tail *TCB
}

func (f *waiterFIFO) pushTail(t *TCB) {
	t.waitPrev, t.waitNext = f.tail, nil
	if f.tail != nil {
		f.tail.waitNext = t
	} else {
		f.head = t
	}
	f.tail = t
}

func (f *waiterFIFO) popHead() *TCB {
	t := f.head
	if t == nil {
		return nil
	}
	f.head = t.waitNext
	if f.head != nil {
		f.head.waitPrev = nil
	} else {
		f.tail = nil
	}
	t.waitPrev, t.waitNext = nil, nil
	return t
}

// Waiters implements lock.Waiter on behalf of every TCB, without the
// lock package needing to know about the scheduler (spec.md §9's
// "context objects threaded through APIs" guidance, already used by
// lock.Waiter itself).
type Waiters struct {
	s        *Scheduler
	fifos    map[*lock.WaitQueue]*waiterFIFO
	hookedOn map[*lock.WaitQueue]bool
}

// NewWaiters constructs the scheduler-side mutex-parking glue.
func NewWaiters(s *Scheduler) *Waiters {
	return &Waiters{
		s:        s,
		fifos:    make(map[*lock.WaitQueue]*waiterFIFO),
		hookedOn: make(map[*lock.WaitQueue]bool),
	}
}

// For returns a lock.Waiter bound to t, to pass to Mutex.Lock.
func (w *Waiters) For(t *TCB) lock.Waiter {
	return &boundWaiter{w: w, t: t}
}

type boundWaiter struct {
	w *Waiters
	t *TCB
}

// ParkOn implements lock.Waiter: append t to q's FIFO, install the
// queue's wake callback on first use, mark t Waiting, and reschedule
// (spec.md §4.10).
func (b *boundWaiter) ParkOn(q *lock.WaitQueue) {
	w := b.w
	fifo, ok := w.fifos[q]
	if !ok {
		fifo = &waiterFIFO{}
		w.fifos[q] = fifo
	}
	fifo.pushTail(b.t)

	if !w.hookedOn[q] {
		w.hookedOn[q] = true
		q.SetWaker(func() { w.wakeHead(q) })
	}

	b.t.State = StateWaiting
	w.s.Schedule(b.t.Affinity)
}

// wakeHead pops the head of q's FIFO and re-admits it to its owning
// CPU's ready list, via IPI if that CPU differs from the one running
// Unlock (spec.md §4.10: "re-added to its owner CPU's ready list, by
// IPI if remote").
func (w *Waiters) wakeHead(q *lock.WaitQueue) {
	fifo, ok := w.fifos[q]
	if !ok {
		return
	}
	t := fifo.popHead()
	if t == nil {
		return
	}
	t.State = StateReady
	w.s.SendIPISched(t.Affinity, t)
}
