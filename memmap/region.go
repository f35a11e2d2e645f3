// Package memmap implements the ordered guest memory map of spec §4.A:
// a set of host-backed guest-physical regions, kept sorted by first
// guest frame number so that page-table construction can iterate them
// deterministically.
//
// The region bookkeeping is grounded on Biscuit's vm.Vmregion/as.go
// address-space model (a mutex-guarded ordered set of regions backing a
// process's address space) and its mem.Pa_t/PTE bit-constant vocabulary
// in mem/mem.go, adapted from "the kernel's own physical memory" to
// "host-backed guest-physical memory a hypervisor maps into a VM".
package memmap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// / PageSize is the fixed 4 KiB page granularity this module supports.
const PageSize = 4096

// Prot is the set of permissions a region grants the guest. READ is
// always implied when a region exists, so there is no explicit Read bit.
type Prot uint8

const (
	ProtWrite Prot = 1 << iota
	ProtExec
)

// / Backing names how a region's host memory was obtained.
type Backing int

const (
	// BackingAnon is a private, host-writable anonymous allocation.
	BackingAnon Backing = iota
	// BackingFile is a read-only mapping of a contiguous file range
	// starting at offset 0.
	BackingFile
)

// Region is a contiguous span of guest-physical memory backed by a
// host-virtual buffer. Once a Region has been returned by
// Map.MapHostMemory it is stable for the lifetime of the map: nothing
// in this package moves or resizes it afterwards.
type Region struct {
	FirstGFN uint64
	LastGFN  uint64 // inclusive
	HVA      uintptr
	Size     uint64 // byte length, a multiple of PageSize
	Prot     Prot
	Backing  Backing

	buf []byte // the mmap'd host buffer itself; len(buf) == int(Size)
}

// / GPA returns the guest-physical base address of the region.
func (r *Region) GPA() uint64 { return r.FirstGFN * PageSize }

// / Bytes exposes the region's host-backed buffer for direct read/write
// / access, e.g. by the loader (to deposit segment contents) and the
// / page-table builder (to write PTEs into the table region itself).
func (r *Region) Bytes() []byte { return r.buf }

// / Contains reports whether gfn falls within this region's span.
func (r *Region) Contains(gfn uint64) bool {
	return gfn >= r.FirstGFN && gfn <= r.LastGFN
}

func roundUpPage(n uint64) uint64 {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

func (r *Region) unmap() error {
	if r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	return err
}

// mapAnon creates a private, writable, zero-filled host allocation of
// size bytes.
func mapAnon(size uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// mapFile creates a read-only mapping of the first size bytes of fd.
func mapFile(fd int, size uint64) ([]byte, error) {
	return unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
}

// unsafeSliceAddr returns the host-virtual address backing a non-empty
// byte slice, for Region.HVA bookkeeping (informational; nothing in this
// package dereferences it directly, it always goes through buf).
func unsafeSliceAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
