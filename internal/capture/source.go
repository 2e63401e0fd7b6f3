package capture

import "sync/atomic"

// Source feeds raw capture records into the shared ring. Run blocks until
// Close is called; startup failures surface from the constructor, never from
// Run, so the agent can refuse to start without an attached capture path.
type Source interface {
	Run() error
	Close() error
}

// Stats holds the capture-path diagnostic counters. The eBPF source mirrors
// the kernel-side counters into it; userspace sources bump it directly.
type Stats struct {
	KernelRingDrops atomic.Uint64
	NonIPv4         atomic.Uint64
	IPv6            atomic.Uint64
	Malformed       atomic.Uint64
}
