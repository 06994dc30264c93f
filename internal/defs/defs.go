// Package defs holds the error taxonomy and small shared types used
// throughout the hypervisor core, in the teacher's errno-flavored style:
// errors are small negative integers rather than allocated error values,
// so a hot path (a stage-2 fault, a scheduler tick) never allocates.
package defs

import "fmt"

/// Err_t is a kind-tagged error code. The zero value means success.
/// Callers that receive a non-zero Err_t negate it back to a positive
/// kind before inspecting it, matching the teacher's `-defs.ENOMEM` idiom.
type Err_t int

const (
	_ Err_t = iota

	/// ENOMEM is returned when the PMM or kernel heap is exhausted.
	ENOMEM

	/// EINVAL is returned for zero-size allocations, non-power-of-two
	/// alignments, negative sleep durations, and bad file descriptors.
	EINVAL

	/// EFAULT is returned when a pointer or IPA does not resolve to a
	/// mapped, accessible region.
	EFAULT

	/// EBADPTR is returned by kfree on an address outside any owned
	/// heap page, or when a block's magic fails to validate.
	EBADPTR

	/// ENOENT is returned by filesystem-shaped operations (guest image
	/// lookups) for a missing path.
	ENOENT

	/// ENOTMOUNTED is returned when the backing filesystem has not been
	/// mounted yet.
	ENOTMOUNTED

	/// ECORRUPT indicates page-table or allocator corruption. Always
	/// fatal: the caller is expected to log and halt.
	ECORRUPT

	/// EGUESTFAULT marks a stage-2 fault outside every known MMIO and
	/// RAM window.
	EGUESTFAULT

	/// EMISCONFIGURED marks a PMM region whose size is not a multiple
	/// of the page size.
	EMISCONFIGURED
)

var names = map[Err_t]string{
	ENOMEM:         "no space",
	EINVAL:         "invalid argument",
	EFAULT:         "bad address",
	EBADPTR:        "bad pointer",
	ENOENT:         "not found",
	ENOTMOUNTED:    "not mounted",
	ECORRUPT:       "corruption",
	EGUESTFAULT:    "guest fault",
	EMISCONFIGURED: "misconfigured region",
}

/// Error renders the error kind. Err_t satisfies the error interface so
/// it composes with idiomatic Go call sites while remaining a plain int
/// at the hot paths that only compare it against zero.
func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	k := e
	if k < 0 {
		k = -k
	}
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("err_t(%d)", int(e))
}

/// Ok reports whether e represents success.
func (e Err_t) Ok() bool { return e == 0 }

/// Tid_t identifies a schedulable entity (a monotonic ID assigned at
/// TCB allocation).
type Tid_t uint32

/// CPUID identifies a physical CPU core, 0-based.
type CPUID int

/// IRQ identifies an interrupt source, physical or virtual.
type IRQ uint32

/// VMID identifies a guest's Stage-2 translation context.
type VMID uint16
