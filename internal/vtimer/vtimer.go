// Package vtimer implements the per-vCPU virtual timer state spec.md
// §4.9 describes: {cntv_cval, cntv_ctl, cntvoff}, compared against the
// physical counter on every tick to decide whether to assert the
// virtual timer IRQ.
package vtimer

import "ember/internal/vgic"

// Control bits of CNTV_CTL_EL0 (ARMv8 generic timer), the subset this
// core inspects.
const (
	CtlEnable uint32 = 1 << 0
	CtlMask   uint32 = 1 << 1
	CtlISTATUS uint32 = 1 << 2
)

// State is one vCPU's virtual timer register triple (spec.md §3).
type State struct {
	CntvCval uint64
	CntvCtl  uint32
	Cntvoff  uint64
}

// Expired reports whether the virtual timer has fired: cntpct compared
// against cntv_cval-cntvoff, gated on the enable bit and not masked
// (spec.md §4.9).
func (s *State) Expired(cntpct uint64) bool {
	if s.CntvCtl&CtlEnable == 0 {
		return false
	}
	if s.CntvCtl&CtlMask != 0 {
		return false
	}
	return cntpct-s.Cntvoff >= s.CntvCval
}

// Tick compares the virtual timer against cntpct and, if it has
// expired, sets ISTATUS and asserts the virtual timer vIRQ (ID 27) on
// ci via dist (spec.md §4.9, §6).
func (s *State) Tick(cntpct uint64, dist *vgic.Distributor, ci *vgic.CPUInterface) {
	if !s.Expired(cntpct) {
		return
	}
	s.CntvCtl |= CtlISTATUS
	ci.Assert(dist, vgic.VirtualTimerIRQ)
}

// SaveFromHW captures the three hardware timer registers into s, as
// vcpu_out does (spec.md §4.5: "on out ... registers are saved first").
func (s *State) SaveFromHW(cval uint64, ctl uint32, off uint64) {
	s.CntvCval, s.CntvCtl, s.Cntvoff = cval, ctl, off
}

// RestoreToHW returns the register triple vcpu_in must program into
// CNTV_CVAL_EL0, CNTV_CTL_EL0, and CNTVOFF_EL2.
func (s *State) RestoreToHW() (cval uint64, ctl uint32, off uint64) {
	return s.CntvCval, s.CntvCtl, s.Cntvoff
}
