// Package pagetable builds the 4-level identity-mapped x86_64 page
// table hierarchy of spec §4.B, covering the full 1 GiB guest-physical
// window [0, 2^30) at 4 KiB granularity.
//
// The PTE bit vocabulary (PRESENT/RW/NX) is the same one Biscuit's
// mem.go defines for its own kernel pmaps (PTE_P, PTE_W, PTE_ADDR, ...);
// this package adapts it to build a guest's tables from the host side
// instead of a kernel's own, and fixes the table footprint at a single
// static location the way Biscuit never needs to (a kernel builds its
// tables incrementally as it maps pages; a guest image is built once,
// before the first instruction runs).
package pagetable

import (
	"encoding/binary"

	"ivee/ierr"
	"ivee/memmap"
)

const (
	pageSize = memmap.PageSize

	// WindowSize is the guest-physical window this package identity-maps.
	WindowSize = 1 << 30

	// FootprintPages is the total page-table footprint: one PML4 page,
	// one PDPT page, one PD page, and 512 PT pages (one per PD entry,
	// each covering 2 MiB of 4 KiB pages).
	FootprintPages = 515

	footprintSize = FootprintPages * pageSize

	// PML4Base is the guest-physical base of the page-table footprint,
	// placed at the top of the 1 GiB window so CR3 is a compile-time
	// constant.
	PML4Base = WindowSize - footprintSize
	pdptBase = PML4Base + pageSize
	pdBase   = pdptBase + pageSize
	ptBase   = pdBase + pageSize

	present uint64 = 1 << 0
	rw      uint64 = 1 << 1
	nx      uint64 = 1 << 63
)

// / Build allocates the page-table footprint region in m and populates a
// / 4-level identity mapping for every region already present in m,
// / including the footprint region itself. It must run after the loader
// / has finished populating m and before m is pushed to the hypervisor
// / driver. It returns PML4Base, the value CR3 must be set to.
func Build(m *memmap.Map) (uint64, error) {
	const op = "build_page_tables"

	region, err := m.MapHostMemory(PML4Base, footprintSize, nil, false, memmap.ProtWrite)
	if err != nil {
		return 0, ierr.New(op, errKindOf(err), err)
	}
	buf := region.Bytes()

	pml4 := buf[0:pageSize]
	pdpt := buf[pageSize : 2*pageSize]
	pd := buf[2*pageSize : 3*pageSize]
	pts := buf[3*pageSize:]

	putEntry(pml4, 0, pdptBase|present)
	putEntry(pdpt, 0, pdBase|present)
	for i := 0; i < 512; i++ {
		putEntry(pd, i, uint64(ptBase+i*pageSize)|present|rw)
	}
	// PTE slots start zero because the footprint region is a freshly
	// mmap'd anonymous allocation; only the slots named below are
	// written, everything else stays non-present.

	const maxGFN = WindowSize / pageSize
	for _, r := range m.Iterate() {
		for gfn := r.FirstGFN; gfn <= r.LastGFN; gfn++ {
			if gfn >= maxGFN {
				panic("pagetable: region gfn outside the identity-mapped window; loader produced an invalid region")
			}
			ptIndex := gfn >> 9
			pteIndex := gfn & 0x1FF
			entry := gfn<<12 | present
			if r.Prot&memmap.ProtWrite != 0 {
				entry |= rw
			}
			if r.Prot&memmap.ProtExec == 0 {
				entry |= nx
			}
			putEntry(pts[ptIndex*pageSize:(ptIndex+1)*pageSize], int(pteIndex), entry)
		}
	}

	return PML4Base, nil
}

func putEntry(table []byte, index int, entry uint64) {
	binary.LittleEndian.PutUint64(table[index*8:index*8+8], entry)
}

// errKindOf narrows a memmap error's kind for re-reporting under this
// package's operation name, defaulting to OutOfMemory since the only
// failure MapHostMemory can realistically produce here (the footprint's
// arguments are all compile-time constants) is an allocation failure.
func errKindOf(err error) ierr.Kind {
	if e, ok := err.(*ierr.Error); ok {
		return e.Kind
	}
	return ierr.OutOfMemory
}
