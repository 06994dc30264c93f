// Package lock encapsulates every primitive memory-ordering operation
// used by the hypervisor core behind a named function, per spec.md §9:
// "inline assembly for atomics ... encapsulate behind a named inline
// function with its exact memory-ordering contract documented. No other
// code is allowed to emit these instructions." On real AArch64 hardware
// these compile to ldaxr/stlxr pairs and acquire/release barriers; here
// they are expressed with sync/atomic, which gives the same
// happens-before guarantees the ARMv8 memory model promises for
// acquire-load / release-store, so every caller above this package can
// reason about ordering without touching assembly.
package lock

import "sync/atomic"

/// CASAcquire performs a compare-and-swap with acquire semantics: if it
/// succeeds, every store made by the thread that last released addr is
/// visible to the caller afterward. Equivalent to ldaxr+cmp+stlxr retried
/// until it sticks.
func CASAcquire(addr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(addr, old, new)
}

/// DecReturnRelease decrements *addr with release semantics (every prior
/// store by this thread becomes visible to the next acquirer) and
/// returns the new value. Equivalent to a ldaxr/sub/stlxr loop.
func DecReturnRelease(addr *int32) int32 {
	return atomic.AddInt32(addr, -1)
}

/// IncReturnRelease increments *addr with release semantics and returns
/// the new value.
func IncReturnRelease(addr *int32) int32 {
	return atomic.AddInt32(addr, 1)
}

/// AddReturnRelease adds delta to *addr with release semantics and
/// returns the new value.
func AddReturnRelease(addr *int32, delta int32) int32 {
	return atomic.AddInt32(addr, delta)
}

/// XchgAcqRel atomically stores new into *addr and returns the previous
/// value, with both acquire and release semantics (a full barrier),
/// equivalent to ldaxr/stlxr with no intervening branch on failure.
func XchgAcqRel(addr *uint32, new uint32) uint32 {
	return atomic.SwapUint32(addr, new)
}

/// LoadAcquire loads *addr with acquire semantics: every store that
/// happened-before the most recent StoreRelease to addr on any CPU is
/// visible to the caller after this returns. Equivalent to ldar.
func LoadAcquire(addr *uint32) uint32 {
	return atomic.LoadUint32(addr)
}

/// StoreRelease stores val into *addr with release semantics: every
/// store made by the calling thread before this call is visible to any
/// thread that subsequently performs a LoadAcquire on addr and observes
/// val. Equivalent to stlr.
func StoreRelease(addr *uint32, val uint32) {
	atomic.StoreUint32(addr, val)
}

/// LoadAcquire64 is the 64-bit counterpart of LoadAcquire.
func LoadAcquire64(addr *uint64) uint64 {
	return atomic.LoadUint64(addr)
}

/// StoreRelease64 is the 64-bit counterpart of StoreRelease.
func StoreRelease64(addr *uint64, val uint64) {
	atomic.StoreUint64(addr, val)
}
