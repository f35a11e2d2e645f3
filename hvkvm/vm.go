//go:build linux

package hvkvm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"ivee/cpuboot"
	"ivee/hv"
)

// vm is one KVM-backed VM with one vCPU, satisfying hv.VM.
type vm struct {
	vmFd  int
	cpuFd int
	run   []byte // mmap'd struct kvm_run
	slots uint32
}

func (v *vm) SetMemoryMap(regions []hv.MemoryRegion) error {
	for _, r := range regions {
		region := kvmUserspaceMemoryRegion{
			Slot:          v.slots,
			GuestPhysAddr: r.GPA,
			MemorySize:    r.Size,
			UserspaceAddr: uint64(r.HVA),
		}
		if r.ReadOnly {
			region.Flags = 1 << 1 // KVM_MEM_READONLY
		}
		if err := ioctlPtr(uintptr(v.vmFd), kvmSetUserMemoryRegion, unsafe.Pointer(&region)); err != nil {
			return fmt.Errorf("KVM_SET_USER_MEMORY_REGION slot %d: %w", v.slots, err)
		}
		v.slots++
	}
	return nil
}

func (v *vm) LoadState(s *cpuboot.State) error {
	regs := toKVMRegs(&s.GPR)
	if err := ioctlPtr(uintptr(v.cpuFd), kvmSetRegs, unsafe.Pointer(&regs)); err != nil {
		return fmt.Errorf("KVM_SET_REGS: %w", err)
	}

	sregs := toKVMSregs(s)
	if err := ioctlPtr(uintptr(v.cpuFd), kvmSetSregs, unsafe.Pointer(&sregs)); err != nil {
		return fmt.Errorf("KVM_SET_SREGS: %w", err)
	}
	return nil
}

func (v *vm) StoreState() (*cpuboot.State, error) {
	var regs kvmRegs
	if err := ioctlPtr(uintptr(v.cpuFd), kvmGetRegs, unsafe.Pointer(&regs)); err != nil {
		return nil, fmt.Errorf("KVM_GET_REGS: %w", err)
	}

	var sregs kvmSregs
	if err := ioctlPtr(uintptr(v.cpuFd), kvmGetSregs, unsafe.Pointer(&sregs)); err != nil {
		return nil, fmt.Errorf("KVM_GET_SREGS: %w", err)
	}

	return fromKVM(&regs, &sregs), nil
}

func (v *vm) ReadExitData(io hv.IOExit) []byte {
	n := int(io.Size) * int(io.Count)
	if n <= 0 {
		return nil
	}
	start := int(io.DataOffset)
	if start < 0 || start+n > len(v.run) {
		return nil
	}
	out := make([]byte, n)
	copy(out, v.run[start:start+n])
	return out
}

func (v *vm) Run() (hv.Exit, error) {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(v.cpuFd), kvmRun, 0); errno != 0 {
		if errno == unix.EINTR {
			// A signal unblocked the run call; the spec's concurrency
			// model treats this as a reportable failure, not a retry.
			return hv.Exit{}, fmt.Errorf("KVM_RUN interrupted: %w", errno)
		}
		return hv.Exit{}, fmt.Errorf("KVM_RUN: %w", errno)
	}

	hdr := readRunHeader(v.run)
	if hdr.ExitReason != kvmExitIO {
		return hv.Exit{Reason: hv.ExitOther}, nil
	}

	// KVM_EXIT_IO_IN == 0, KVM_EXIT_IO_OUT == 1.
	dir := hv.IODirectionIn
	if hdr.IODirection == 1 {
		dir = hv.IODirectionOut
	}

	return hv.Exit{
		Reason: hv.ExitIO,
		IO: hv.IOExit{
			Port:       hdr.IOPort,
			Direction:  dir,
			Size:       uint(hdr.IOSize),
			Count:      hdr.IOCount,
			DataOffset: hdr.IODataOffset,
		},
	}, nil
}

func (v *vm) Close() error {
	var firstErr error
	if v.run != nil {
		if err := unix.Munmap(v.run); err != nil {
			firstErr = err
		}
		v.run = nil
	}
	if err := unix.Close(v.cpuFd); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(v.vmFd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
