//go:build linux

package hvkvm

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"

	"ivee/hv"
)

// driver is the process-wide /dev/kvm binding. A single driver value
// may be shared by many Instances; Init is idempotent so concurrent
// Instance creation never double-opens the device.
type driver struct {
	once    sync.Once
	initErr error

	dev         *os.File
	vcpuMmapLen int
}

// / New returns an hv.Driver backed by /dev/kvm. One driver value should
// / be shared across every Instance in a process: Init is safe to call
// / concurrently and only opens the device once.
func New() hv.Driver {
	return &driver{}
}

func (d *driver) Init() error {
	d.once.Do(func() {
		d.initErr = backoff.Retry(d.open, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4))
	})
	return d.initErr
}

// open performs the one-time /dev/kvm handshake: open the device, check
// the API version, and learn the per-vCPU mmap size for the run
// structure. Transient failures (EBUSY/EINTR from a sibling process
// racing us to open the device) are retried by Init's backoff wrapper;
// anything else is given up on immediately via backoff.Permanent.
func (d *driver) open() error {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	version, err := ioctlNoArg(f.Fd(), kvmGetAPIVersion)
	if err != nil {
		f.Close()
		return backoff.Permanent(err)
	}
	if version != 12 {
		f.Close()
		return backoff.Permanent(fmt.Errorf("unsupported /dev/kvm API version %d", version))
	}

	mmapLen, err := ioctlNoArg(f.Fd(), kvmGetVCPUMmapSize)
	if err != nil {
		f.Close()
		return backoff.Permanent(err)
	}

	d.dev = f
	d.vcpuMmapLen = mmapLen
	return nil
}

func (d *driver) NewVM() (hv.VM, error) {
	if err := d.Init(); err != nil {
		return nil, err
	}

	vmFd, err := ioctlNoArg(d.dev.Fd(), kvmCreateVM)
	if err != nil {
		return nil, fmt.Errorf("KVM_CREATE_VM: %w", err)
	}

	cpuFd, err := ioctlNoArg(uintptr(vmFd), kvmCreateVCPU)
	if err != nil {
		unix.Close(vmFd)
		return nil, fmt.Errorf("KVM_CREATE_VCPU: %w", err)
	}

	runBuf, err := unix.Mmap(cpuFd, 0, d.vcpuMmapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(cpuFd)
		unix.Close(vmFd)
		return nil, fmt.Errorf("mmap vcpu run struct: %w", err)
	}

	return &vm{vmFd: vmFd, cpuFd: cpuFd, run: runBuf}, nil
}

func isTransient(err error) bool {
	if pe, ok := err.(*os.PathError); ok {
		err = pe.Err
	}
	return err == unix.EINTR || err == unix.EBUSY || err == unix.EAGAIN
}

func ioctlNoArg(fd uintptr, req uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

func ioctlPtr(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
