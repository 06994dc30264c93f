package vgic

import "ember/internal/defs"

// ListReg shadows one hypervisor list register: a virtual interrupt in
// flight to a vCPU, constructed with "virtual interrupt, priority,
// group, and for HW-backed IRQs the physical IRQ ID" (spec.md §4.8).
type ListReg struct {
	Valid    bool
	VIRQ     defs.IRQ
	Priority uint8
	Group    uint8
	HW       bool
	PhysIRQ  defs.IRQ
	Active   bool
}

// CPUInterface is the per-vCPU vGIC state: the pending FIFO plus the
// list-register shadow and the GICC core-interface fields vcpu_in/out
// must save and restore (spec.md §3, §4.5).
type CPUInterface struct {
	Pending *PendingFIFO
	Regs    []ListReg

	// GICC core-interface shadow (spec.md §4.5's "physical GIC
	// CPU-interface registers ... APR, HPPIR, AIAR/AEOIR counters").
	APR   uint32
	HPPIR uint32
	EOICount uint32
}

// NewCPUInterface constructs a per-vCPU vGIC interface with the given
// number of hypervisor list registers.
func NewCPUInterface(listRegs int) *CPUInterface {
	if listRegs <= 0 {
		listRegs = 4
	}
	return &CPUInterface{
		Pending: NewPendingFIFO(listRegs),
		Regs:    make([]ListReg, listRegs),
	}
}

// Assert marks id pending in dist and pushes it onto the pending FIFO
// (spec.md §4.8). Inject later reads the interrupt's priority and
// HW-backing from the distributor when it builds the list register.
func (c *CPUInterface) Assert(dist *Distributor, id defs.IRQ) {
	dist.SetPending(id, true)
	c.Pending.Push(id)
}

// Inject writes up to len(c.Regs) pending vIRQs into free list-register
// slots, consulting dist for priority/HW-backing, as vcpu_in does
// (spec.md §4.5, §4.8).
func (c *CPUInterface) Inject(dist *Distributor) {
	for i := range c.Regs {
		if c.Regs[i].Valid {
			continue
		}
		id, ok := c.Pending.Pop()
		if !ok {
			return
		}
		st := dist.irqs[id]
		c.Regs[i] = ListReg{
			Valid:    true,
			VIRQ:     id,
			Priority: st.Priority,
			HW:       st.HWBacked,
			PhysIRQ:  st.PhysIRQ,
		}
	}
}

// EOI handles the guest's End-Of-Interrupt write (trapped via GICC MMIO
// emulation, spec.md §4.6): it clears the matching list register and,
// if the vIRQ was HW-backed, reports the physical IRQ that must be
// deactivated on the host so the caller can do so.
func (c *CPUInterface) EOI(id defs.IRQ) (physToDeactivate defs.IRQ, wasHW bool) {
	for i := range c.Regs {
		if c.Regs[i].Valid && c.Regs[i].VIRQ == id {
			wasHW = c.Regs[i].HW
			physToDeactivate = c.Regs[i].PhysIRQ
			c.Regs[i] = ListReg{}
			c.EOICount++
			return physToDeactivate, wasHW
		}
	}
	return 0, false
}
