package memmap

import (
	"os"
	"sort"
	"sync"

	"ivee/ierr"
)

// Map is an ordered sequence of Regions sorted by FirstGFN, plus a
// finalized flag. The flag is bookkeeping only: MapHostMemory does not
// consult it, and Reset still empties a finalized map. The guest may
// write through its own page-table region at runtime.
type Map struct {
	mu        sync.Mutex
	regions   []*Region
	finalized bool
}

// / New returns an empty MemoryMap.
func New() *Map {
	return &Map{}
}

// / MapHostMemory allocates host backing and registers a region covering
// / [gpa, gpa+roundUp(size, PageSize)). When file is non-nil the region
// / is a read-only mapping of the file's first `size` bytes; otherwise it
// / is an anonymous, host-writable, zero-filled allocation. readOnly must
// / be true whenever file is non-nil (flat-binary and ELF loaders never
// / mix the two).
func (m *Map) MapHostMemory(gpa uint64, size uint64, file *os.File, readOnly bool, prot Prot) (*Region, error) {
	const op = "map_host_memory"

	if size == 0 {
		return nil, ierr.New(op, ierr.InvalidArg, nil)
	}
	if gpa%PageSize != 0 {
		return nil, ierr.New(op, ierr.InvalidArg, nil)
	}

	rounded := roundUpPage(size)
	firstGFN := gpa / PageSize
	lastGFN := firstGFN + rounded/PageSize - 1

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, conflict := m.insertionIndex(firstGFN, lastGFN)
	if conflict {
		return nil, ierr.New(op, ierr.Conflict, nil)
	}

	var buf []byte
	var err error
	backing := BackingAnon
	if file != nil {
		buf, err = mapFile(int(file.Fd()), rounded)
		backing = BackingFile
	} else {
		buf, err = mapAnon(rounded)
	}
	if err != nil {
		return nil, ierr.New(op, ierr.OutOfMemory, err)
	}

	r := &Region{
		FirstGFN: firstGFN,
		LastGFN:  lastGFN,
		HVA:      uintptr(unsafeSliceAddr(buf)),
		Size:     rounded,
		Prot:     prot,
		Backing:  backing,
		buf:      buf,
	}

	m.regions = append(m.regions, nil)
	copy(m.regions[idx+1:], m.regions[idx:])
	m.regions[idx] = r

	return r, nil
}

// insertionIndex returns the index at which a region spanning
// [firstGFN, lastGFN] should be inserted to keep m.regions sorted by
// FirstGFN, and whether that span conflicts with an existing region.
// Caller must hold m.mu.
func (m *Map) insertionIndex(firstGFN, lastGFN uint64) (int, bool) {
	idx := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].FirstGFN >= firstGFN
	})
	if idx < len(m.regions) && m.regions[idx].FirstGFN <= lastGFN {
		return idx, true
	}
	if idx > 0 && m.regions[idx-1].LastGFN >= firstGFN {
		return idx, true
	}
	return idx, false
}

// / Iterate returns the regions in ascending FirstGFN order. The
// / returned slice is a copy of the internal index; callers must not
// / mutate the Regions it points to outside of the loader/page-table
// / builder.
func (m *Map) Iterate() []*Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// / Lookup returns the region containing gfn, if any.
func (m *Map) Lookup(gfn uint64) (*Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].LastGFN >= gfn
	})
	if idx < len(m.regions) && m.regions[idx].Contains(gfn) {
		return m.regions[idx], true
	}
	return nil, false
}

// / Finalize sets the finalized flag. Called once, after the loader and
// / the page-table builder have both run. It does not block later
// / MapHostMemory calls; the map stays mutable.
func (m *Map) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
}

// / Finalized reports whether Finalize has been called.
func (m *Map) Finalized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}

// / Reset discards every region's host backing and empties the map,
// / without marking it finalized. Used by the loader to unwind a
// / partially-populated map after a load failure.
func (m *Map) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, r := range m.regions {
		if err := r.unmap(); err != nil && first == nil {
			first = err
		}
	}
	m.regions = nil
	m.finalized = false
	return first
}

// / Free releases all host-side backings and region metadata. Idempotent.
func (m *Map) Free() error {
	return m.Reset()
}

// / ReadAt copies the bytes covering guest-physical range [gpa, gpa+len(p))
// / into p. The whole range must be covered by already-mapped regions.
func (m *Map) ReadAt(gpa uint64, p []byte) error {
	return m.xferAt(gpa, p, false)
}

// / WriteAt copies p into the guest-physical range [gpa, gpa+len(p)). The
// / whole range must be covered by already-mapped, writable regions.
func (m *Map) WriteAt(gpa uint64, p []byte) error {
	return m.xferAt(gpa, p, true)
}

func (m *Map) xferAt(gpa uint64, p []byte, write bool) error {
	const op = "memmap_xfer"
	off := 0
	for off < len(p) {
		gfn := (gpa + uint64(off)) / PageSize
		r, ok := m.Lookup(gfn)
		if !ok {
			return ierr.New(op, ierr.InvalidArg, nil)
		}
		if write && r.Prot&ProtWrite == 0 {
			return ierr.New(op, ierr.InvalidArg, nil)
		}
		regionByteOff := int((gpa + uint64(off)) - r.GPA())
		n := PageSize - int((gpa+uint64(off))%PageSize)
		if off+n > len(p) {
			n = len(p) - off
		}
		if write {
			copy(r.Bytes()[regionByteOff:regionByteOff+n], p[off:off+n])
		} else {
			copy(p[off:off+n], r.Bytes()[regionByteOff:regionByteOff+n])
		}
		off += n
	}
	return nil
}
