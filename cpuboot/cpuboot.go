// Package cpuboot produces the deterministic x86_64 boot-state
// snapshot of spec §4.D: general registers, control registers, EFER,
// and the eight segment descriptors needed to place a vCPU directly in
// 64-bit long mode with a flat segment model, bypassing real-mode and
// protected-mode bootstrapping entirely.
//
// The segment descriptor field layout (base/limit/selector/type/DPL/
// flags) follows the same vocabulary Biscuit's own mem.go PTE constants
// use for page-table bits (named bit constants, no bitfield-packing
// library) rather than a generic bitfield-tag struct.
package cpuboot

// GPRegs holds the general-purpose register file spec §3 lists:
// RAX-R15, RBP, RSI, RDI, RSP, RIP, RFLAGS.
type GPRegs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
}

// ControlRegs holds CR0, CR2, CR3, CR4 and EFER.
type ControlRegs struct {
	CR0, CR2, CR3, CR4 uint64
	EFER               uint64
}

// SegFlag is the segment descriptor flags bitfield of spec §3: S
// (descriptor type), P (present), G (granularity), L (long mode), DB
// (default operation size).
type SegFlag uint8

const (
	SegS SegFlag = 1 << iota
	SegP
	SegG
	SegL
	SegDB
)

// Segment descriptor types used by Initial. Values match the x86_64
// segment descriptor type field (4 bits) for the four kinds of
// descriptor this module ever builds.
const (
	SegTypeCodeAccessed uint8 = 0xB // execute/read, accessed
	SegTypeDataAccessed uint8 = 0x3 // read/write, accessed
	SegTypeTSS32Avail   uint8 = 0x9 // 32-bit TSS, available
	SegTypeLDT          uint8 = 0x2 // LDT
)

// Segment is one of the eight segment descriptors spec §3 lists: CS,
// DS, SS, ES, FS, GS, TR, LDT.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Type     uint8
	DPL      uint8
	Flags    SegFlag
}

// State is the complete vCPU image: general registers, control
// registers, and all eight segments. Instance re-materializes one of
// these on every Call from the caller-supplied registers and this
// boot snapshot.
type State struct {
	GPR GPRegs
	CR  ControlRegs

	CS, DS, SS, ES, FS, GS Segment
	TR, LDT                Segment
}

const (
	flatLimit = 0xFFFFFFFF

	selCode = 0x08
	selData = 0x10

	cr0PEWPPG = 0x80010001 // PE | WP | PG
	cr4PAE    = 0x20
	eferLMELM = 0x500 // LME | LMA
)

// / Initial returns the deterministic boot-state snapshot of spec §4.D:
// / zeroed general registers (RFLAGS = 0x2, the reserved-1 bit), flat
// / code/data segments, an empty TR/LDT, CR0/CR4/EFER primed for 64-bit
// / long mode, and CR3 pointing at pml4Base. entryAddr seeds RIP so a
// / freshly materialized State can be pushed to the hypervisor without
// / further edits if the caller passes no registers of its own.
func Initial(pml4Base, entryAddr uint64) *State {
	return &State{
		GPR: GPRegs{RFLAGS: 0x2, RIP: entryAddr},
		CR: ControlRegs{
			CR0:  cr0PEWPPG,
			CR3:  pml4Base,
			CR4:  cr4PAE,
			EFER: eferLMELM,
		},
		CS: Segment{Base: 0, Limit: flatLimit, Selector: selCode, Type: SegTypeCodeAccessed, Flags: SegS | SegP | SegG | SegL},
		DS: Segment{Base: 0, Limit: flatLimit, Selector: selData, Type: SegTypeDataAccessed, Flags: SegS | SegP | SegG | SegDB},
		SS: Segment{Base: 0, Limit: flatLimit, Selector: selData, Type: SegTypeDataAccessed, Flags: SegS | SegP | SegG | SegDB},
		ES: Segment{Base: 0, Limit: flatLimit, Selector: selData, Type: SegTypeDataAccessed, Flags: SegS | SegP | SegG | SegDB},
		FS: Segment{Base: 0, Limit: flatLimit, Selector: selData, Type: SegTypeDataAccessed, Flags: SegS | SegP | SegG | SegDB},
		GS: Segment{Base: 0, Limit: flatLimit, Selector: selData, Type: SegTypeDataAccessed, Flags: SegS | SegP | SegG | SegDB},
		TR: Segment{Base: 0, Limit: 0, Selector: 0, Type: SegTypeTSS32Avail, Flags: SegP},
		LDT: Segment{Base: 0, Limit: 0, Selector: 0, Type: SegTypeLDT, Flags: SegP},
	}
}

// / LoadCallerRegs copies the subset of caller-supplied registers spec
// / §4.E step 1 names (RAX...R15 excluding RSP, plus RBP) into s, then
// / sets RIP to entryAddr and RSP to zero. RFLAGS and every segment/
// / control register are left untouched, i.e. they keep whatever the
// / boot snapshot this State was copied from set them to. RSP is
// / caller-zero-init today: the guest must set up its own stack inside a
// / region it loaded, preserved as ABI per spec's open question rather
// / than silently seeded here.
func (s *State) LoadCallerRegs(in GPRegs, entryAddr uint64) {
	s.GPR.RAX, s.GPR.RBX, s.GPR.RCX, s.GPR.RDX = in.RAX, in.RBX, in.RCX, in.RDX
	s.GPR.RSI, s.GPR.RDI, s.GPR.RBP = in.RSI, in.RDI, in.RBP
	s.GPR.R8, s.GPR.R9, s.GPR.R10, s.GPR.R11 = in.R8, in.R9, in.R10, in.R11
	s.GPR.R12, s.GPR.R13, s.GPR.R14, s.GPR.R15 = in.R12, in.R13, in.R14, in.R15
	s.GPR.RSP = 0
	s.GPR.RIP = entryAddr
}
