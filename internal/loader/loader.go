// Package loader implements spec.md §6's guest image load interface:
// given a guest.Manifest, read each named file in full through a
// minimal open/read/seek/close filesystem interface and copy it to the
// guest's intermediate physical address. Parsing the manifest off an
// actual disk filesystem is out of scope (spec.md Non-goals); only the
// load path that consumes an already-parsed Manifest is implemented,
// grounded on the teacher's block/file interfaces (fs/blk.go, ufs/ufs.go)
// which this package consumes rather than reimplements.
package loader

import (
	"ember/internal/defs"
	"ember/internal/guest"
	"ember/internal/kalloc"
	"ember/internal/mem"
)

// Whence mirrors the three seek origins a Seek call accepts.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// FD is a single open file handle as returned by FS.Open.
type FD interface {
	Read(buf []byte) (n int, err defs.Err_t)
	Seek(off int64, whence Whence) (newpos int64, err defs.Err_t)
	Close()
}

// FS is the narrow filesystem surface the loader requires, exactly
// spec.md §6's "open(path) -> fd, read(fd, buf, n) -> n_read,
// seek(fd, off, whence) -> newpos, close(fd)".
type FS interface {
	Open(path string) (FD, defs.Err_t)
}

// chunkSize bounds each read to a single kernel-heap page buffer
// (spec.md §6: "allocates a temporary page buffer from the kernel heap").
const chunkSize = mem.PageSize

// Loader copies guest image files from an FS into guest IPA space
// through a Writer (the Stage-2-backed RAM window, or any flat
// byte-addressable target in tests).
type Loader struct {
	FS   FS
	Heap *kalloc.Heap
	PMM  *mem.PMM
}

// Writer is the guest-physical memory the loader copies file contents
// into; the writer internal/hv's Hypervisor.LoaderWriter returns
// satisfies it by walking the VM's Stage-2 table and copying through
// the host's direct map.
type Writer interface {
	// WriteAt copies p into guest memory starting at ipa.
	WriteAt(ipa uint64, p []byte) defs.Err_t
}

// Result reports what the loader actually did, so callers can log
// which optional pieces were skipped.
type Result struct {
	KernelLoaded bool
	DTBLoaded    bool
	InitrdLoaded bool
}

// Load reads m's kernel, and its DTB/initrd if requested, copying each
// to its load address. A kernel failure is fatal (spec.md §6); a
// missing/failed DTB or initrd is only a warning, reported via Result
// so the caller can log it — this package does not log directly.
func (l *Loader) Load(m guest.Manifest, w Writer) (Result, defs.Err_t) {
	var res Result

	if err := l.copyFile(m.KernelPath, m.BinLoadAddr, w); err != 0 {
		return res, err
	}
	res.KernelLoaded = true

	if m.NeedsDTB {
		if err := l.copyFile(m.DTBPath, m.DTBLoadAddr, w); err == 0 {
			res.DTBLoaded = true
		}
	}
	if m.NeedsInitrd {
		if err := l.copyFile(m.InitrdPath, m.FSLoadAddr, w); err == 0 {
			res.InitrdLoaded = true
		}
	}
	return res, 0
}

func (l *Loader) copyFile(path string, loadAddr uint64, w Writer) defs.Err_t {
	fd, err := l.FS.Open(path)
	if err != 0 {
		return err
	}
	defer fd.Close()

	bufPA, err := l.Heap.Kalloc(chunkSize, 8)
	if err != 0 {
		return err
	}
	defer l.Heap.Kfree(bufPA)
	buf := l.PMM.Dmap(bufPA)[:chunkSize]

	ipa := loadAddr
	for {
		n, rerr := fd.Read(buf)
		if n > 0 {
			if werr := w.WriteAt(ipa, buf[:n]); werr != 0 {
				return werr
			}
			ipa += uint64(n)
		}
		if rerr != 0 {
			return rerr
		}
		if n == 0 {
			break
		}
	}
	return 0
}
