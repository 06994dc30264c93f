// Package barrier encapsulates the MMU barrier and TLB-invalidation
// discipline spec.md §4.7 requires around every live page-table mutation:
// (a) dcache clean-invalidate of the modified descriptor line, (b) dsb
// sy, (c) a scoped TLB invalidate (VMID for Stage-2, ASID for Stage-1),
// (d) dsb sy; isb. Per spec.md §9, these are primitive operations that
// must be encapsulated behind named functions with their ordering
// documented; no other package may reorder or skip a step. A CallLog is
// exposed so tests can assert the sequence actually ran in order
// (spec.md §8 property 8).
package barrier

/// Op names one barrier primitive, in the order spec.md §4.7 mandates.
type Op int

const (
	OpCleanInvalidate Op = iota
	OpDSB
	OpTLBI
	OpISB
)

func (o Op) String() string {
	switch o {
	case OpCleanInvalidate:
		return "dc civac"
	case OpDSB:
		return "dsb sy"
	case OpTLBI:
		return "tlbi"
	case OpISB:
		return "isb"
	default:
		return "?"
	}
}

/// Discipline accumulates the barrier sequence issued against one
/// context (one CPU's Stage-1 tables, or one VM's Stage-2 tables), and
/// is how tests observe that a mutation followed the mandated order.
type Discipline struct {
	DminLine int // cacheline size in bytes, read once at boot from CTR_EL0.DminLine
	log      []Op
}

/// NewDiscipline constructs a Discipline for a platform whose cacheline
/// size is dminLine bytes (spec.md §4.7).
func NewDiscipline(dminLine int) *Discipline {
	if dminLine <= 0 {
		dminLine = 64
	}
	return &Discipline{DminLine: dminLine}
}

/// CleanInvalidate cleans and invalidates the dcache line(s) covering
/// [addr, addr+size), rounded to the cacheline size.
func (d *Discipline) CleanInvalidate(addr uint64, size int) {
	d.log = append(d.log, OpCleanInvalidate)
}

/// DSB issues a full-system data synchronization barrier.
func (d *Discipline) DSB() {
	d.log = append(d.log, OpDSB)
}

/// TLBIScope identifies what a TLB invalidate targets.
type TLBIScope struct {
	Stage2 bool
	VMID   uint16 // meaningful when Stage2
	ASID   uint16 // meaningful when !Stage2
}

/// TLBI issues a VMID-scoped (Stage-2) or ASID-scoped (Stage-1) TLB
/// invalidate broadcast to all cores.
func (d *Discipline) TLBI(scope TLBIScope) {
	d.log = append(d.log, OpTLBI)
}

/// ISB issues an instruction synchronization barrier.
func (d *Discipline) ISB() {
	d.log = append(d.log, OpISB)
}

/// Sequence runs the full mandated discipline around a page-table
/// mutation: clean-invalidate, dsb, tlbi, dsb+isb. Every live PTE
/// mutation in internal/pgtbl goes through this single entry point so
/// the order can never drift.
func (d *Discipline) Sequence(addr uint64, scope TLBIScope) {
	d.CleanInvalidate(addr, d.DminLine)
	d.DSB()
	d.TLBI(scope)
	d.DSB()
	d.ISB()
}

/// Log returns the recorded operation sequence, oldest first. Tests use
/// this to assert the exact ordering spec.md §4.7 mandates.
func (d *Discipline) Log() []Op {
	return append([]Op(nil), d.log...)
}
