package guest

import (
	"encoding/binary"

	"ember/internal/defs"
)

// Flattened device tree structure-block tokens (devicetree.org spec
// v0.4 §5.4.1).
const (
	fdtBeginNode = 0x00000001
	fdtEndNode   = 0x00000002
	fdtProp      = 0x00000003
	fdtNop       = 0x00000004
	fdtEnd       = 0x00000009
)

const fdtMagic = 0xd00dfeed

// fdtHeader mirrors the 40-byte big-endian FDT header (devicetree.org
// spec v0.4 §5.2); every field but Magic/TotalSize/OffDtStruct/
// OffDtStrings goes unused by this reader.
type fdtHeader struct {
	Magic          uint32
	TotalSize      uint32
	OffDtStruct    uint32
	OffDtStrings   uint32
	OffMemRsvmap   uint32
	Version        uint32
	LastCompVer    uint32
	BootCPUIDPhys  uint32
	SizeDtStrings  uint32
	SizeDtStruct   uint32
}

// Node is one node of a parsed device tree: its unit name and
// properties, plus its children in document order. The root node's
// Name is empty.
type Node struct {
	Name       string
	Properties map[string][]byte
	Children   []*Node
}

// Property looks up a property by name on n only (not its children),
// reporting whether it was present.
func (n *Node) Property(name string) ([]byte, bool) {
	v, ok := n.Properties[name]
	return v, ok
}

// Find walks n's children (not n itself) depth-first for a node with
// the given unit name, as board glue needs to locate e.g. "memory" or
// "chosen".
func (n *Node) Find(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// ParseFDT decodes a flattened device tree blob into a Node tree. It
// is a small hand-rolled reader rather than a pulled-in dependency:
// DTBs are a fixed big-endian binary format with no parser in the
// example pack to build on.
func ParseFDT(blob []byte) (*Node, defs.Err_t) {
	if len(blob) < 40 {
		return nil, -defs.EINVAL
	}
	var hdr fdtHeader
	hdr.Magic = binary.BigEndian.Uint32(blob[0:4])
	hdr.TotalSize = binary.BigEndian.Uint32(blob[4:8])
	hdr.OffDtStruct = binary.BigEndian.Uint32(blob[8:12])
	hdr.OffDtStrings = binary.BigEndian.Uint32(blob[12:16])

	if hdr.Magic != fdtMagic {
		return nil, -defs.EINVAL
	}
	if uint64(hdr.TotalSize) > uint64(len(blob)) {
		return nil, -defs.EINVAL
	}

	r := &fdtReader{
		blob:    blob,
		strings: hdr.OffDtStrings,
	}
	r.off = hdr.OffDtStruct

	root, err := r.parseTree()
	if err != 0 {
		return nil, err
	}
	return root, 0
}

type fdtReader struct {
	blob    []byte
	off     uint32
	strings uint32
}

func (r *fdtReader) u32() (uint32, defs.Err_t) {
	if uint64(r.off)+4 > uint64(len(r.blob)) {
		return 0, -defs.EINVAL
	}
	v := binary.BigEndian.Uint32(r.blob[r.off : r.off+4])
	r.off += 4
	return v, 0
}

// cstr reads a NUL-terminated string starting at off and returns it
// without the NUL. It moves no read offset; callers advance r.off.
func (r *fdtReader) cstr(off uint32) (string, defs.Err_t) {
	end := off
	for {
		if uint64(end) >= uint64(len(r.blob)) {
			return "", -defs.EINVAL
		}
		if r.blob[end] == 0 {
			break
		}
		end++
	}
	return string(r.blob[off:end]), 0
}

func align4(off uint32) uint32 { return (off + 3) &^ 3 }

// parseTree walks the struct block starting at the current offset,
// which must be positioned at an FDT_BEGIN_NODE token, and returns the
// node it describes along with all its descendants.
func (r *fdtReader) parseTree() (*Node, defs.Err_t) {
	tok, err := r.u32()
	if err != 0 {
		return nil, err
	}
	if tok != fdtBeginNode {
		return nil, -defs.EINVAL
	}

	name, err := r.cstr(r.off)
	if err != 0 {
		return nil, err
	}
	r.off = align4(r.off + uint32(len(name)) + 1)

	n := &Node{Name: name, Properties: map[string][]byte{}}

	for {
		tok, err := r.u32()
		if err != 0 {
			return nil, err
		}
		switch tok {
		case fdtNop:
			continue
		case fdtProp:
			pname, pval, err := r.parseProp()
			if err != 0 {
				return nil, err
			}
			n.Properties[pname] = pval
		case fdtBeginNode:
			r.off -= 4
			child, err := r.parseTree()
			if err != 0 {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case fdtEndNode:
			return n, 0
		default:
			return nil, -defs.EINVAL
		}
	}
}

// parseProp reads one FDT_PROP record: a length, a name offset into
// the strings block, and the (4-byte aligned, padded) value bytes.
func (r *fdtReader) parseProp() (string, []byte, defs.Err_t) {
	length, err := r.u32()
	if err != 0 {
		return "", nil, err
	}
	nameOff, err := r.u32()
	if err != 0 {
		return "", nil, err
	}
	name, err := r.cstr(r.strings + nameOff)
	if err != 0 {
		return "", nil, err
	}

	if uint64(r.off)+uint64(length) > uint64(len(r.blob)) {
		return "", nil, -defs.EINVAL
	}
	val := make([]byte, length)
	copy(val, r.blob[r.off:r.off+length])
	r.off = align4(r.off + length)

	return name, val, 0
}
