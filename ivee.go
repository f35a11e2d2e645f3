// Package ivee is an embeddable, in-process x86_64 execution sandbox:
// a host program hands it a loadable object or a raw flat binary plus a
// set of initial register values, and calls the guest as if calling a
// function. The guest runs in 64-bit long mode under a one-vCPU
// hardware-assisted VM until it signals termination by writing to a
// fixed I/O port, at which point the final register file is returned.
//
// The host-facing surface is deliberately small: Create, Destroy,
// LoadExecutable, Call. Everything else — the guest address-space
// builder, the ELF/flat-binary loader, the boot-state initializer, and
// the run loop — lives in the memmap, loader, cpuboot, and vcpurun
// packages this one wires together, per spec §2's data flow.
package ivee

import (
	"ivee/cpuboot"
	"ivee/hv"
	"ivee/ierr"
	"ivee/loader"
	"ivee/memmap"
	"ivee/pagetable"
	"ivee/vcpurun"
)

// Re-export the symbolic error taxonomy under the root package so
// callers write ivee.KindConflict rather than reaching into ierr.
type Kind = ierr.Kind

const (
	KindInvalidArg   = ierr.InvalidArg
	KindUnsupported  = ierr.Unsupported
	KindOutOfMemory  = ierr.OutOfMemory
	KindConflict     = ierr.Conflict
	KindIOError      = ierr.IOError
	KindNotAvailable = ierr.NotAvailable
)

// Error is the error type every exported operation returns.
type Error = ierr.Error

// Format selects how LoadExecutable interprets the file at path.
type Format = loader.Format

const (
	FormatBin   = loader.FormatBin
	FormatELF64 = loader.FormatELF64
	FormatAny   = loader.FormatAny
)

// Regs is the host-facing register file passed to and returned from
// Call: RAX-R15, RBP, RSI, RDI, RSP, RIP, RFLAGS. Call only consumes
// RAX-R15 (excluding RSP) and RBP from the input value — RSP, RIP and
// RFLAGS are always reset by Call per the guest ABI (spec §9's RSP
// open question); all fields are populated with the guest's final
// values on return.
type Regs = cpuboot.GPRegs

// Capabilities is the bitset spec §6's capabilities()/create(caps)
// exchange. No bits are currently advertised; Create rejects any
// nonzero value with KindUnsupported.
type Capabilities uint64

// NoCapabilities is the only Capabilities value Create currently
// accepts.
const NoCapabilities Capabilities = 0

// / SupportedCapabilities returns the capability bits this build
// / advertises. It is always NoCapabilities today.
func SupportedCapabilities() Capabilities { return NoCapabilities }

// Instance owns exactly one MemoryMap, one hypervisor VM handle with
// one vCPU, one x86 boot-state image, the guest entry address, and the
// diagnostic value most recently written to the exit port. Per spec §5
// no operation on a given Instance may be issued concurrently from more
// than one execution context; Instance performs no internal locking to
// enforce that, matching the single-threaded-per-instance contract.
type Instance struct {
	driver hv.Driver
	vm     hv.VM
	mmap   *memmap.Map

	boot  *cpuboot.State
	entry uint64

	loaded        bool
	lastExitValue uint32
}

// / Create allocates an Instance, initializes the hypervisor subsystem
// / behind driver, creates its VM and single vCPU, and starts it off
// / with an empty memory map. Any partial failure unwinds the steps
// / already taken. caps must be NoCapabilities; anything else is
// / rejected with KindUnsupported since no capability bits are
// / currently advertised.
func Create(caps Capabilities, driver hv.Driver) (*Instance, error) {
	const op = "create"

	if caps != NoCapabilities {
		return nil, ierr.New(op, ierr.Unsupported, nil)
	}

	if err := driver.Init(); err != nil {
		return nil, ierr.New(op, ierr.NotAvailable, err)
	}

	vm, err := driver.NewVM()
	if err != nil {
		return nil, ierr.New(op, ierr.NotAvailable, err)
	}

	return &Instance{
		driver: driver,
		vm:     vm,
		mmap:   memmap.New(),
	}, nil
}

// / Destroy releases the hypervisor handle and every region the
// / instance's memory map still owns. Safe to call once per Instance;
// / not safe to use the Instance afterwards.
func (inst *Instance) Destroy() error {
	var firstErr error
	if err := inst.mmap.Free(); err != nil {
		firstErr = err
	}
	if err := inst.vm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// / LoadExecutable parses the file at path per format, populates the
// / instance's memory map, builds the identity-mapped page tables over
// / it, pushes the finalized map to the hypervisor driver, and primes
// / the boot-state snapshot Call will use. On any failure the memory map
// / is discarded and the instance is left exactly as Create returned it.
func (inst *Instance) LoadExecutable(path string, format Format) error {
	const op = "load_executable"

	if inst.loaded {
		return ierr.New(op, ierr.InvalidArg, nil)
	}

	entry, err := loader.Load(inst.mmap, path, format)
	if err != nil {
		return err
	}

	pml4Base, err := pagetable.Build(inst.mmap)
	if err != nil {
		_ = inst.mmap.Reset()
		return err
	}

	inst.mmap.Finalize()

	if err := inst.pushMemoryMap(); err != nil {
		_ = inst.mmap.Reset()
		return ierr.New(op, ierr.IOError, err)
	}

	inst.boot = cpuboot.Initial(pml4Base, entry)
	inst.entry = entry
	inst.loaded = true
	return nil
}

func (inst *Instance) pushMemoryMap() error {
	regions := inst.mmap.Iterate()
	hvRegions := make([]hv.MemoryRegion, len(regions))
	for i, r := range regions {
		hvRegions[i] = hv.MemoryRegion{
			GPA:      r.GPA(),
			Size:     r.Size,
			HVA:      r.HVA,
			ReadOnly: r.Backing == memmap.BackingFile,
		}
	}
	return inst.vm.SetMemoryMap(hvRegions)
}

// / Call loads regs into the vCPU's boot-state image, runs the guest
// / from its entry address until it writes to IVEE_PIO_EXIT_PORT, and
// / stores the guest's final register file back into regs. On failure
// / regs is left unmodified.
func (inst *Instance) Call(regs *Regs) error {
	const op = "call"

	if !inst.loaded {
		return ierr.New(op, ierr.InvalidArg, nil)
	}

	img := *inst.boot
	img.LoadCallerRegs(*regs, inst.entry)

	result, err := vcpurun.Run(inst.vm, &img, inst.mmap)
	if err != nil {
		return err
	}

	*regs = result.Regs
	inst.lastExitValue = result.ExitValue
	return nil
}

// / LastExitValue returns the value most recently written to
// / IVEE_PIO_EXIT_PORT by a successful Call. It is a diagnostic only —
// / per spec's open question, termination never depends on it.
func (inst *Instance) LastExitValue() uint32 { return inst.lastExitValue }

// ExitPort is IVEE_PIO_EXIT_PORT, the fixed port a guest must write to
// in order to terminate a Call.
const ExitPort = vcpurun.ExitPort
