package ivee

import (
	"os"
	"path/filepath"
	"testing"

	"ivee/cpuboot"
	"ivee/hv"
)

// fakeDriver/fakeVM stand in for hvkvm so the lifecycle and call wiring
// can be exercised without a real /dev/kvm device.
type fakeDriver struct {
	vm *fakeVM
}

func (d *fakeDriver) Init() error { return nil }

func (d *fakeDriver) NewVM() (hv.VM, error) {
	d.vm = &fakeVM{}
	return d.vm, nil
}

type fakeVM struct {
	regions []hv.MemoryRegion
	loaded  *cpuboot.State
	closed  bool
}

func (v *fakeVM) SetMemoryMap(regions []hv.MemoryRegion) error {
	v.regions = regions
	return nil
}

func (v *fakeVM) LoadState(s *cpuboot.State) error {
	v.loaded = s
	return nil
}

func (v *fakeVM) StoreState() (*cpuboot.State, error) {
	// Simulate a guest that increments RAX and writes to the exit port.
	final := *v.loaded
	final.GPR.RAX++
	final.GPR.RIP += 3
	return &final, nil
}

func (v *fakeVM) ReadExitData(hv.IOExit) []byte { return []byte{0} }

func (v *fakeVM) Run() (hv.Exit, error) {
	return hv.Exit{Reason: hv.ExitIO, IO: hv.IOExit{Port: ExitPort, Size: 1, Count: 1}}, nil
}

func (v *fakeVM) Close() error {
	v.closed = true
	return nil
}

func TestCreateRejectsUnknownCapabilities(t *testing.T) {
	if _, err := Create(Capabilities(1), &fakeDriver{}); err == nil {
		t.Fatal("expected error for nonzero capability bits")
	}
}

func TestLoadExecutableAndCallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.bin")
	if err := os.WriteFile(path, []byte{0x90, 0x90, 0xF4}, 0o755); err != nil {
		t.Fatal(err)
	}

	drv := &fakeDriver{}
	inst, err := Create(NoCapabilities, drv)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := inst.LoadExecutable(path, FormatBin); err != nil {
		t.Fatalf("LoadExecutable: %v", err)
	}
	if len(drv.vm.regions) == 0 {
		t.Fatal("SetMemoryMap was never called with any regions")
	}

	regs := Regs{RAX: 41}
	if err := inst.Call(&regs); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if regs.RAX != 42 {
		t.Fatalf("RAX = %d, want 42", regs.RAX)
	}
	if regs.RIP == 0 {
		t.Fatal("RIP not populated after Call")
	}

	if err := inst.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !drv.vm.closed {
		t.Fatal("Destroy did not close the VM")
	}
}

func TestCallBeforeLoadExecutableFails(t *testing.T) {
	inst, err := Create(NoCapabilities, &fakeDriver{})
	if err != nil {
		t.Fatal(err)
	}
	var regs Regs
	if err := inst.Call(&regs); err == nil {
		t.Fatal("expected error calling before LoadExecutable")
	}
}
