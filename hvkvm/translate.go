//go:build linux

package hvkvm

import "ivee/cpuboot"

func toKVMRegs(g *cpuboot.GPRegs) kvmRegs {
	return kvmRegs{
		RAX: g.RAX, RBX: g.RBX, RCX: g.RCX, RDX: g.RDX,
		RSI: g.RSI, RDI: g.RDI, RSP: g.RSP, RBP: g.RBP,
		R8: g.R8, R9: g.R9, R10: g.R10, R11: g.R11,
		R12: g.R12, R13: g.R13, R14: g.R14, R15: g.R15,
		RIP: g.RIP, RFLAGS: g.RFLAGS,
	}
}

func toKVMSregs(s *cpuboot.State) kvmSregs {
	return kvmSregs{
		CS: toKVMSegment(s.CS), DS: toKVMSegment(s.DS), ES: toKVMSegment(s.ES),
		FS: toKVMSegment(s.FS), GS: toKVMSegment(s.GS), SS: toKVMSegment(s.SS),
		TR: toKVMSegment(s.TR), LDT: toKVMSegment(s.LDT),
		CR0: s.CR.CR0, CR2: s.CR.CR2, CR3: s.CR.CR3, CR4: s.CR.CR4,
		EFER: s.CR.EFER,
	}
}

func toKVMSegment(s cpuboot.Segment) kvmSegment {
	return kvmSegment{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: s.Selector,
		Type:     s.Type,
		Present:  flagBit(s.Flags, cpuboot.SegP),
		DPL:      s.DPL,
		DB:       flagBit(s.Flags, cpuboot.SegDB),
		S:        flagBit(s.Flags, cpuboot.SegS),
		L:        flagBit(s.Flags, cpuboot.SegL),
		G:        flagBit(s.Flags, cpuboot.SegG),
	}
}

func flagBit(flags, bit cpuboot.SegFlag) uint8 {
	if flags&bit != 0 {
		return 1
	}
	return 0
}

func fromKVM(regs *kvmRegs, sregs *kvmSregs) *cpuboot.State {
	return &cpuboot.State{
		GPR: cpuboot.GPRegs{
			RAX: regs.RAX, RBX: regs.RBX, RCX: regs.RCX, RDX: regs.RDX,
			RSI: regs.RSI, RDI: regs.RDI, RSP: regs.RSP, RBP: regs.RBP,
			R8: regs.R8, R9: regs.R9, R10: regs.R10, R11: regs.R11,
			R12: regs.R12, R13: regs.R13, R14: regs.R14, R15: regs.R15,
			RIP: regs.RIP, RFLAGS: regs.RFLAGS,
		},
		CR: cpuboot.ControlRegs{
			CR0: sregs.CR0, CR2: sregs.CR2, CR3: sregs.CR3, CR4: sregs.CR4,
			EFER: sregs.EFER,
		},
		CS: fromKVMSegment(sregs.CS), DS: fromKVMSegment(sregs.DS), ES: fromKVMSegment(sregs.ES),
		FS: fromKVMSegment(sregs.FS), GS: fromKVMSegment(sregs.GS), SS: fromKVMSegment(sregs.SS),
		TR: fromKVMSegment(sregs.TR), LDT: fromKVMSegment(sregs.LDT),
	}
}

func fromKVMSegment(s kvmSegment) cpuboot.Segment {
	var flags cpuboot.SegFlag
	if s.Present != 0 {
		flags |= cpuboot.SegP
	}
	if s.DB != 0 {
		flags |= cpuboot.SegDB
	}
	if s.S != 0 {
		flags |= cpuboot.SegS
	}
	if s.L != 0 {
		flags |= cpuboot.SegL
	}
	if s.G != 0 {
		flags |= cpuboot.SegG
	}
	return cpuboot.Segment{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: s.Selector,
		Type:     s.Type,
		DPL:      s.DPL,
		Flags:    flags,
	}
}
