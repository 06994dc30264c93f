// Package bootcfg centralizes the board-specific tunables the
// hypervisor core is handed at boot, in the spirit of the teacher's
// limits package, but as a single constructed value rather than
// compiled-in constants, since the same core image must run on more
// than one reference board (spec.md §2, component 13).
package bootcfg

import "ember/internal/pgtbl"

// Config is the board description the hypervisor façade needs to
// bring up memory, a Stage-2 layout, a scheduler, and a vGIC.
type Config struct {
	// RAMBase/RAMSize bound host physical memory available to the PMM.
	RAMBase uint64
	RAMSize int

	// FSReserve is the page index at which the PMM's filesystem
	// allocations (AllocPagesFS) start scanning, mirroring the
	// teacher's Physmem_t fsReserve accounting. The general pool
	// (AllocPages) also scans over those pages.
	FSReserve int

	// GuestRAM is the Stage-2 RAM window handed to every guest booted
	// on this board.
	GuestRAM pgtbl.Window

	// GuestMMIO lists the Stage-2 MMIO windows (GICD/GICC rebase
	// target, platform devices) every guest on this board sees.
	GuestMMIO []pgtbl.Window

	// NumCPUs is the number of physical cores the scheduler spreads
	// per-CPU ready/sleep lists across.
	NumCPUs int

	// TickMs is the scheduler's timer-tick period in milliseconds.
	TickMs int

	// ListRegisters is the number of hypervisor list registers this
	// board's physical GIC implements.
	ListRegisters int

	// GICDBase/GICCBase/GICVBase locate the physical distributor, CPU
	// interface, and virtual CPU interface MMIO windows.
	GICDBase uint64
	GICCBase uint64
	GICVBase uint64
}

// Validate checks the invariants the rest of the core assumes hold: a
// positive RAM size, at least one CPU (spec.md §4.4), a positive tick
// period, at least one list register, and a nonzero guest RAM window.
// Region alignment is not checked.
func (c Config) Validate() error {
	switch {
	case c.RAMSize <= 0:
		return errInvalidConfig("ram size must be positive")
	case c.NumCPUs <= 0:
		return errInvalidConfig("at least one cpu is required")
	case c.TickMs <= 0:
		return errInvalidConfig("tick_ms must be positive")
	case c.ListRegisters <= 0:
		return errInvalidConfig("at least one list register is required")
	case c.GuestRAM.Size == 0:
		return errInvalidConfig("guest ram window must be nonzero")
	}
	return nil
}

type errInvalidConfig string

func (e errInvalidConfig) Error() string { return string(e) }
