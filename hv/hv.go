// Package hv defines the hypervisor collaborator contract of spec §6:
// the thin driver binding this module requires but treats as an
// external collaborator — subsystem init, VM/vCPU lifecycle, memory
// registration, vCPU state load/store, and running the vCPU to the next
// exit. Everything in the core (memmap, pagetable, loader, cpuboot,
// vcpurun) depends only on this interface, never on a concrete driver;
// package hvkvm provides the one concrete implementation this module
// ships.
package hv

import "ivee/cpuboot"

// MemoryRegion is the subset of a memmap.Region the driver needs to
// register a guest-physical slot: guest-physical base, byte length,
// host-virtual base, and whether the slot is read-only. Kept separate
// from memmap.Region so this package has no dependency on memmap,
// matching spec §6's framing of the driver as an external collaborator
// referenced only by its operation contract.
type MemoryRegion struct {
	GPA      uint64
	Size     uint64
	HVA      uintptr
	ReadOnly bool
}

// ExitReason classifies why Run returned control to the host.
type ExitReason int

const (
	// ExitIO is a guest IN/OUT instruction.
	ExitIO ExitReason = iota
	// ExitOther is any exit reason this module does not special-case;
	// the run loop dispatcher always fails the call on this reason.
	ExitOther
)

// IODirection is the direction of a port I/O exit.
type IODirection int

const (
	IODirectionOut IODirection = iota
	IODirectionIn
)

// IOExit carries the fields spec §6 names for a PIO exit: port,
// direction, operand width, repeat count, and the offset within the
// driver's shared exit buffer where the transferred data lives.
type IOExit struct {
	Port       uint16
	Direction  IODirection
	Size       uint
	Count      uint32
	DataOffset uint64
}

// Exit is the full exit descriptor Run returns.
type Exit struct {
	Reason ExitReason
	IO     IOExit
}

// VM is one hypervisor-backed virtual machine with exactly one vCPU, per
// spec §5's single-vCPU concurrency model.
type VM interface {
	// SetMemoryMap registers every region as a guest-physical slot. The
	// driver may reject overlapping or unaligned regions; regions is
	// always supplied in ascending GPA order.
	SetMemoryMap(regions []MemoryRegion) error

	// LoadState pushes an x86 boot-state image into the vCPU.
	LoadState(*cpuboot.State) error

	// StoreState reads the vCPU's current register image back out.
	StoreState() (*cpuboot.State, error)

	// ReadExitData copies the IO exit's transferred bytes (at
	// Exit.IO.DataOffset, Exit.IO.Size*Exit.IO.Count bytes long) out of
	// the driver's shared exit buffer.
	ReadExitData(exit IOExit) []byte

	// Run resumes the vCPU until the next exit.
	Run() (Exit, error)

	// Close releases the vCPU and VM handle.
	Close() error
}

// Driver is the process-wide hypervisor subsystem binding.
type Driver interface {
	// Init is idempotent and process-wide: concurrent callers across
	// independent Instances must be able to call it concurrently and
	// safely.
	Init() error

	// NewVM creates a VM with one vCPU.
	NewVM() (VM, error)
}
