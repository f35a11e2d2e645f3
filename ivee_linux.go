//go:build linux

package ivee

import "ivee/hvkvm"

// / defaultDriver is the /dev/kvm-backed driver from package hvkvm that
// / CreateKVM wires in as the hypervisor collaborator. One driver value
// / is shared across every CreateKVM call from this process, since
// / hvkvm's Init is idempotent and safe for concurrent Instances.
var defaultDriver = hvkvm.New()

// / CreateKVM allocates an Instance against the default /dev/kvm driver.
// / Equivalent to Create(caps, hvkvm.New()) except that the driver handle
// / is shared process-wide rather than reopened per Instance.
func CreateKVM(caps Capabilities) (*Instance, error) {
	return Create(caps, defaultDriver)
}
