// Package vcpurun implements spec §4.E: the run loop that submits vCPU
// state to the hypervisor driver, consumes exits, and dispatches them
// until the guest signals termination through the designated I/O port.
package vcpurun

import (
	"fmt"

	"golang.org/x/arch/x86asm"

	"ivee/cpuboot"
	"ivee/hv"
	"ivee/ierr"
	"ivee/memmap"
)

// ExitPort is IVEE_PIO_EXIT_PORT: the fixed port the guest ABI requires
// a write to in order to terminate a Call. It is part of the published
// guest ABI, not a negotiated or runtime-configurable value.
const ExitPort uint16 = 0x500

// Result carries everything Run reports back about one Call beyond the
// updated register file: the termination port's value (a diagnostic
// channel, per spec's open question on the PIO exit value — it never
// gates termination). A Result is only returned on success; when the
// loop ends on an unhandled exit, the best-effort disassembly of the
// faulting instruction is part of the returned error's message instead.
type Result struct {
	Regs      cpuboot.GPRegs
	ExitValue uint32
}

// / Run loads img into vm, then repeatedly asks vm to run the vCPU until
// / the guest writes to ExitPort or a handler fails. On success it
// / returns the updated register file and the value written to ExitPort;
// / on failure the caller's register struct (not constructed here; see
// / the root package's Call) must be left unchanged.
func Run(vm hv.VM, img *cpuboot.State, regions *memmap.Map) (*Result, error) {
	const op = "call"

	if err := vm.LoadState(img); err != nil {
		return nil, wrap(op, ierr.IOError, err)
	}

	var exitValue uint32
	terminated := false
	for !terminated {
		exit, err := vm.Run()
		if err != nil {
			return nil, wrap(op, ierr.IOError, err)
		}

		switch exit.Reason {
		case hv.ExitIO:
			done, value, err := handleIO(vm, exit.IO)
			if err != nil {
				return nil, err
			}
			exitValue, terminated = value, done
		default:
			return nil, unsupportedExit(vm, regions, op)
		}
	}

	final, err := vm.StoreState()
	if err != nil {
		return nil, wrap(op, ierr.IOError, err)
	}

	return &Result{Regs: final.GPR, ExitValue: exitValue}, nil
}

// handleIO implements the PIO handler of spec §4.E: a write to ExitPort
// signals termination regardless of value, direction, or width; any
// other port is UNSUPPORTED.
func handleIO(vm hv.VM, io hv.IOExit) (done bool, value uint32, err error) {
	if io.Port != ExitPort {
		return false, 0, ierr.New("call", ierr.Unsupported, fmt.Errorf("unhandled PIO port %#x", io.Port))
	}

	data := vm.ReadExitData(io)
	var v uint32
	for i := 0; i < len(data) && i < 4; i++ {
		v |= uint32(data[i]) << (8 * i)
	}
	return true, v, nil
}

// unsupportedExit builds the UNSUPPORTED error for any non-IO exit
// reason, best-effort-disassembling one instruction at the stored RIP
// so the diagnostic names what the guest was actually doing instead of
// just the bare exit reason.
func unsupportedExit(vm hv.VM, regions *memmap.Map, op string) error {
	cause := fmt.Errorf("unhandled vCPU exit")

	if st, stErr := vm.StoreState(); stErr == nil {
		if text, ok := disassembleAt(regions, st.GPR.RIP); ok {
			cause = fmt.Errorf("unhandled vCPU exit at rip=%#x (%s)", st.GPR.RIP, text)
		} else {
			cause = fmt.Errorf("unhandled vCPU exit at rip=%#x", st.GPR.RIP)
		}
	}

	return ierr.New(op, ierr.Unsupported, cause)
}

// disassembleAt decodes one instruction at guest-physical address rip
// out of whichever region covers it, for diagnostics only: a decode
// failure or an address outside any region is not itself an error,
// it just means no extra detail is available.
func disassembleAt(regions *memmap.Map, rip uint64) (string, bool) {
	if regions == nil {
		return "", false
	}
	const maxInsnLen = 15
	buf := make([]byte, maxInsnLen)
	if err := regions.ReadAt(rip, buf); err != nil {
		// Instruction may straddle a region boundary or the tail of
		// memory; try progressively shorter reads before giving up.
		ok := false
		for n := maxInsnLen - 1; n > 0 && !ok; n-- {
			buf = buf[:n]
			if err := regions.ReadAt(rip, buf); err == nil {
				ok = true
			}
		}
		if !ok {
			return "", false
		}
	}
	insn, err := x86asm.Decode(buf, 64)
	if err != nil {
		return "", false
	}
	return insn.String(), true
}

func wrap(op string, kind ierr.Kind, err error) error {
	return ierr.New(op, kind, err)
}
