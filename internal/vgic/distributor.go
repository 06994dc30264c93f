// Package vgic implements a per-VM virtual GICv2: a distributor shadow
// indexed by interrupt ID, and per-vCPU pending-IRQ FIFOs and
// hypervisor list-register shadows (spec.md §4.8). The pending FIFO's
// bounded-ring shape follows the teacher's Circbuf_t
// (biscuit/src/circbuf/circbuf.go).
package vgic

import "ember/internal/defs"

// MaxIRQ is the number of interrupt IDs the reference GICv2 distributor
// supports (spec.md §3: "keyed by interrupt ID (0..1019)").
const MaxIRQ = 1020

// IPISched is the SGI ID the hypervisor reserves for inter-CPU
// scheduling wake (spec.md §4.8).
const IPISched = 0

// VirtualTimerIRQ is the PPI ID the virtual timer asserts (spec.md §6).
const VirtualTimerIRQ = 27

// Config is an interrupt's edge/level trigger configuration.
type Config int

const (
	ConfigLevel Config = iota
	ConfigEdge
)

// irqState is one distributor-shadow slot.
type irqState struct {
	Enable bool
	Pending bool
	Active  bool
	Priority uint8
	Target   uint8 // target CPU id/mask
	Config   Config
	// HWBacked marks a pass-through interrupt: enable, priority and
	// target writes to this ID's shadow are mirrored to the physical
	// GICD (spec.md §4.8); config, pending and active writes are not.
	HWBacked bool
	PhysIRQ  defs.IRQ
}

// Distributor is the per-VM distributor shadow.
type Distributor struct {
	irqs        [MaxIRQ]irqState
	GroupEnable bool

	// physWrite, when non-nil, mirrors a pass-through interrupt's
	// enable/priority/target changes to the real GICD. Left nil in
	// tests, where there is no physical distributor to mirror to.
	physWrite func(id defs.IRQ, st irqState)
}

// NewDistributor constructs an empty distributor shadow.
func NewDistributor() *Distributor {
	return &Distributor{}
}

// SetPassthrough marks id as HW-backed, routed to physical IRQ phys,
// with a callback used to mirror distributor writes to real hardware.
func (d *Distributor) SetPassthrough(id defs.IRQ, phys defs.IRQ, mirror func(id defs.IRQ, st irqState)) {
	d.irqs[id].HWBacked = true
	d.irqs[id].PhysIRQ = phys
	d.physWrite = mirror
}

// WriteEnable implements a guest write to GICD_ISENABLER/ICENABLER for
// interrupt id.
func (d *Distributor) WriteEnable(id defs.IRQ, enable bool) {
	st := &d.irqs[id]
	st.Enable = enable
	d.mirror(id)
}

// WritePriority implements a guest write to GICD_IPRIORITYR.
func (d *Distributor) WritePriority(id defs.IRQ, prio uint8) {
	st := &d.irqs[id]
	st.Priority = prio
	d.mirror(id)
}

// WriteTarget implements a guest write to GICD_ITARGETSR.
func (d *Distributor) WriteTarget(id defs.IRQ, target uint8) {
	st := &d.irqs[id]
	st.Target = target
	d.mirror(id)
}

// WriteConfig implements a guest write to GICD_ICFGR.
func (d *Distributor) WriteConfig(id defs.IRQ, cfg Config) {
	d.irqs[id].Config = cfg
}

// SetPending marks id pending, as a guest write to GICD_ISPENDR would
// (or as the hypervisor does internally when it asserts a virtual
// interrupt, e.g. the virtual timer).
func (d *Distributor) SetPending(id defs.IRQ, pending bool) {
	d.irqs[id].Pending = pending
}

// SetActive updates the active bit, written on EOI (spec.md §4.8).
func (d *Distributor) SetActive(id defs.IRQ, active bool) {
	d.irqs[id].Active = active
}

// Read returns the shadow state for id, exactly as a guest MMIO read
// from the distributor would observe (spec.md §4.8: "Reads return the
// shadow").
func (d *Distributor) Read(id defs.IRQ) (enable, pending, active bool, priority, target uint8, cfg Config) {
	st := d.irqs[id]
	return st.Enable, st.Pending, st.Active, st.Priority, st.Target, st.Config
}

func (d *Distributor) mirror(id defs.IRQ) {
	if d.irqs[id].HWBacked && d.physWrite != nil {
		d.physWrite(id, d.irqs[id])
	}
}
