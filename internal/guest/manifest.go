// Package guest describes the image a VM boots from. Parsing a
// manifest off a disk filesystem is out of scope (spec.md Non-goals);
// only the parsed shape spec.md §6 names is implemented here, so a
// caller (test harness or board-specific glue) can construct one
// directly. ParseFDT in fdt.go does decode a real binary format: the
// flattened device-tree blob a Manifest's DTBPath points at, once
// loaded.
package guest

// Manifest names the files and load addresses a guest boots with,
// exactly as spec.md §6 lists them.
type Manifest struct {
	Name        string
	KernelPath  string
	DTBPath     string // empty if NeedsDTB is false
	InitrdPath  string // empty if NeedsInitrd is false
	BinLoadAddr uint64
	DTBLoadAddr uint64
	FSLoadAddr  uint64
	SMPNum      int
	NeedsDTB    bool
	NeedsInitrd bool
}
