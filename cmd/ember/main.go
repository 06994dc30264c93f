// Command ember is the hypervisor's boot entry: it constructs the
// board configuration, wires the internal/hv façade, boots an idle
// task on every configured CPU, and installs a guest. Real PSCI secondary-
// core bring-up, UART wiring, and asm exception-vector installation
// are out of scope (spec.md Non-goals) and are assumed to have already
// run in the assembly stub that transfers control here with MMU and
// caches enabled.
package main

import (
	"os"

	"ember/internal/bootcfg"
	"ember/internal/console"
	"ember/internal/defs"
	"ember/internal/hv"
	"ember/internal/klog"
	"ember/internal/pgtbl"
)

// referenceBoard describes the single reference platform this core
// image targets, in place of a board-description blob parsed at boot
// (internal/bootcfg's Config is the parsed shape; nothing here reads a
// DTB or config file).
func referenceBoard() bootcfg.Config {
	return bootcfg.Config{
		RAMBase:       0x40000000,
		RAMSize:       256 << 20,
		FSReserve:     0,
		GuestRAM:      pgtbl.Window{Base: 0x40000000, Size: 128 << 20},
		GuestMMIO:     []pgtbl.Window{{Base: 0x08010000, Size: 0x10000, Device: true, Trap: true}},
		NumCPUs:       4,
		TickMs:        10,
		ListRegisters: 4,
		GICDBase:      0x08000000,
		GICCBase:      0x08010000,
		GICVBase:      0x08020000,
	}
}

func run() defs.Err_t {
	cfg := referenceBoard()
	// DminLine is read from CTR_EL0 in production (spec.md §4.7); 64
	// bytes is the common AArch64 cacheline size and stands in for that
	// read until this runs on real hardware.
	h, err := hv.New(cfg, 64)
	if err != 0 {
		return err
	}

	log := klog.New(console.Writer{UART: &console.Loopback{}}, klog.LevelInfo, false)

	for cpu := defs.CPUID(0); int(cpu) < cfg.NumCPUs; cpu++ {
		if _, err := h.BootCPU(cpu); err != 0 {
			return err
		}
	}
	log.Infof("booted %d cpus", cfg.NumCPUs)

	vm, err := h.CreateVM(cfg.GuestRAM, cfg.GuestMMIO, []defs.CPUID{0})
	if err != 0 {
		log.Errorf("create vm: %v", err)
		return err
	}
	log.Infof("vm %d created with %d vcpus", vm.ID, len(vm.VCPUs))

	// A real board wires loader.Loader.FS to its filesystem and calls
	// Load with a guest.Manifest describing the image to boot; no
	// filesystem implementation ships in this module (spec.md
	// Non-goals), so that step is left to board-specific glue.

	return 0
}

func main() {
	if err := run(); err != 0 {
		os.Exit(int(err))
	}
}
