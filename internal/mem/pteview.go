package mem

import "unsafe"

// PTEView reinterprets a page-sized byte slice (as returned by Dmap) as
// a slice of 64-bit page-table entries, the way the teacher's pg2pmap
// (biscuit/src/mem/mem.go) reinterprets a Pg_t as a Pmap_t. Every
// page-table walker in internal/pgtbl reaches entries exclusively
// through this helper instead of hand-rolled byte offsets.
func PTEView(buf []byte) []uint64 {
	n := len(buf) / 8
	return unsafe.Slice((*uint64)(unsafe.Pointer(&buf[0])), n)
}
