//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// Kernel diagnostic counter slots, mirroring bpf/flowscope.bpf.c.
const (
	diagRingDrops = 0
	diagNonIP     = 1
	diagIPv6      = 2
	diagMalformed = 3
)

const diagRefreshInterval = 5 * time.Second

// EBPFConfig configures the kernel capture program.
type EBPFConfig struct {
	Interface string
	// ObjectPath is the compiled classifier object.
	ObjectPath string
	// RingBytes is the kernel ring buffer capacity, fixed at load time.
	// Must be a power-of-two multiple of the page size.
	RingBytes uint32
}

// EBPFSource attaches the TC ingress classifier and drains its kernel ring
// buffer into the shared userspace ring.
type EBPFSource struct {
	coll   *ebpf.Collection
	link   link.Link
	reader *ringbuf.Reader
	ring   *Ring
	stats  *Stats

	closeOnce sync.Once
	done      chan struct{}
}

// NewEBPFSource loads the classifier object, attaches it to the interface at
// ingress, and opens the kernel ring buffer. Any failure here is a startup
// fault: the caller must not serve traffic without an attached program.
func NewEBPFSource(cfg EBPFConfig, ring *Ring, stats *Stats) (*EBPFSource, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("loading classifier spec from %s: %w", cfg.ObjectPath, err)
	}
	if cfg.RingBytes > 0 {
		if m, ok := spec.Maps["events"]; ok {
			m.MaxEntries = cfg.RingBytes
		}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("verifier rejected classifier: %+v", ve)
		}
		return nil, fmt.Errorf("loading classifier: %w", err)
	}

	prog, ok := coll.Programs["flowscope_ingress"]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("object %s has no flowscope_ingress program", cfg.ObjectPath)
	}

	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("interface %q not found: %w", cfg.Interface, err)
	}

	l, err := link.AttachTCX(link.TCXOptions{
		Interface: ifi.Index,
		Program:   prog,
		Attach:    ebpf.AttachTCXIngress,
	})
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("attaching to %s ingress: %w", cfg.Interface, err)
	}

	reader, err := ringbuf.NewReader(coll.Maps["events"])
	if err != nil {
		l.Close()
		coll.Close()
		return nil, fmt.Errorf("opening kernel ring buffer: %w", err)
	}

	log.Printf("TC classifier attached to %s (ingress)", cfg.Interface)
	return &EBPFSource{
		coll:   coll,
		link:   l,
		reader: reader,
		ring:   ring,
		stats:  stats,
		done:   make(chan struct{}),
	}, nil
}

// Run drains kernel records into the userspace ring until Close.
func (s *EBPFSource) Run() error {
	go s.refreshDiagLoop()

	for {
		rec, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			log.Printf("Error reading kernel ring buffer: %v", err)
			continue
		}
		// Overflow of the userspace ring is counted there.
		s.ring.Push(rec.RawSample)
	}
}

func (s *EBPFSource) refreshDiagLoop() {
	ticker := time.NewTicker(diagRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refreshDiag()
		case <-s.done:
			s.refreshDiag()
			return
		}
	}
}

// refreshDiag mirrors the kernel-side counters into Stats.
func (s *EBPFSource) refreshDiag() {
	diag, ok := s.coll.Maps["diag"]
	if !ok {
		return
	}
	read := func(slot uint32) uint64 {
		var v uint64
		if err := diag.Lookup(&slot, &v); err != nil {
			return 0
		}
		return v
	}
	s.stats.KernelRingDrops.Store(read(diagRingDrops))
	s.stats.NonIPv4.Store(read(diagNonIP))
	s.stats.IPv6.Store(read(diagIPv6))
	s.stats.Malformed.Store(read(diagMalformed))
}

// Close detaches the classifier and releases all kernel resources. The
// caller drains the ingestion loop first so outstanding records are not
// abandoned.
func (s *EBPFSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.reader.Close()
		s.link.Close()
		s.coll.Close()
		log.Println("TC classifier detached.")
	})
	return nil
}
