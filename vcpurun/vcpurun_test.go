package vcpurun

import (
	"errors"
	"testing"

	"ivee/cpuboot"
	"ivee/hv"
	"ivee/ierr"
	"ivee/memmap"
)

// fakeVM is a minimal hv.VM double that replays a scripted sequence of
// exits, for exercising the dispatch loop without a real hypervisor.
type fakeVM struct {
	exits     []hv.Exit
	exitData  []byte
	loaded    *cpuboot.State
	stored    *cpuboot.State
	loadErr   error
	runErr    error
	storeErr  error
	callCount int
}

func (f *fakeVM) SetMemoryMap([]hv.MemoryRegion) error { return nil }

func (f *fakeVM) LoadState(s *cpuboot.State) error {
	f.loaded = s
	return f.loadErr
}

func (f *fakeVM) StoreState() (*cpuboot.State, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return f.stored, nil
}

func (f *fakeVM) ReadExitData(hv.IOExit) []byte { return f.exitData }

func (f *fakeVM) Run() (hv.Exit, error) {
	if f.runErr != nil {
		return hv.Exit{}, f.runErr
	}
	e := f.exits[f.callCount]
	f.callCount++
	return e, nil
}

func (f *fakeVM) Close() error { return nil }

func TestRunTerminatesOnExitPortWrite(t *testing.T) {
	final := &cpuboot.State{GPR: cpuboot.GPRegs{RAX: 42, RIP: 0x400003}}
	vm := &fakeVM{
		exits: []hv.Exit{
			{Reason: hv.ExitIO, IO: hv.IOExit{Port: ExitPort, Size: 1, Count: 1}},
		},
		exitData: []byte{7},
		stored:   final,
	}

	result, err := Run(vm, cpuboot.Initial(0x1000, 0x400000), memmap.New())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Regs.RAX != 42 {
		t.Fatalf("RAX = %d, want 42", result.Regs.RAX)
	}
	if result.ExitValue != 7 {
		t.Fatalf("ExitValue = %d, want 7", result.ExitValue)
	}
}

func TestRunFailsOnUnknownPort(t *testing.T) {
	vm := &fakeVM{
		exits: []hv.Exit{
			{Reason: hv.ExitIO, IO: hv.IOExit{Port: 0x42}},
		},
	}

	_, err := Run(vm, cpuboot.Initial(0x1000, 0x400000), memmap.New())
	if err == nil {
		t.Fatal("expected error for unknown PIO port")
	}
	e, ok := err.(*ierr.Error)
	if !ok || e.Kind != ierr.Unsupported {
		t.Fatalf("got %v, want Unsupported", err)
	}
}

func TestRunFailsOnUnhandledExitReason(t *testing.T) {
	vm := &fakeVM{
		exits: []hv.Exit{
			{Reason: hv.ExitOther},
		},
		stored: &cpuboot.State{GPR: cpuboot.GPRegs{RIP: 0x400000}},
	}

	_, err := Run(vm, cpuboot.Initial(0x1000, 0x400000), memmap.New())
	if err == nil {
		t.Fatal("expected error for unhandled exit reason")
	}
	e, ok := err.(*ierr.Error)
	if !ok || e.Kind != ierr.Unsupported {
		t.Fatalf("got %v, want Unsupported", err)
	}
}

func TestRunPropagatesLoadStateFailure(t *testing.T) {
	vm := &fakeVM{loadErr: errors.New("boom")}
	if _, err := Run(vm, cpuboot.Initial(0x1000, 0x400000), memmap.New()); err == nil {
		t.Fatal("expected error when LoadState fails")
	}
}
