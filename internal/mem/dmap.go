package mem

// Dmap gives byte-addressable access to the page containing a physical
// address, the way the teacher's Physmem_t.Dmap/Dmap8 (mem/dmap.go)
// convert a Pa_t into a slice through the kernel's direct map. On real
// AArch64 hardware this would be a fixed virtual offset added to pa;
// here, since the core owns no real RAM, the PMM lazily backs each page
// with an actual Go byte slice the first time it is touched and every
// caller (kalloc, pgtbl) reaches physical memory exclusively through
// this method, never through a raw pointer.
func (p *PMM) Dmap(addr PA) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dmapLocked(addr)
}

func (p *PMM) dmapLocked(addr PA) []byte {
	idx := int((addr - p.start) / PageSize)
	if p.backing == nil {
		p.backing = make(map[int][]byte)
	}
	b, ok := p.backing[idx]
	if !ok {
		b = make([]byte, PageSize)
		p.backing[idx] = b
	}
	return b
}

// PageBase rounds addr down to its containing page's physical address.
func (p *PMM) PageBase(addr PA) PA {
	off := (addr - p.start) % PageSize
	return addr - off
}
