package dma

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type hostWindow struct {
	handler MMIOHandler
	size    int
}

// HostMemory is a Memory implementation for running in userspace: coherent
// regions come from anonymous mmap, addresses are identity mapped (the
// "physical" address of a region is its pointer value), and MMIO windows are
// served by handlers registered with AddMMIO. It backs the CLI and tests;
// allocation accounting doubles as the leak instrumentation the tests use.
type HostMemory struct {
	mu      sync.Mutex
	allocs  map[PhysAddr]int
	windows map[PhysAddr]hostWindow
}

func NewHostMemory() *HostMemory {
	return &HostMemory{
		allocs:  make(map[PhysAddr]int),
		windows: make(map[PhysAddr]hostWindow),
	}
}

func (m *HostMemory) AllocCoherent(size, align int) (PhysAddr, []byte, error) {
	if size <= 0 {
		return 0, nil, fmt.Errorf("invalid coherent allocation size %d", size)
	}
	if align > pageSize {
		return 0, nil, fmt.Errorf("unsupported coherent alignment %d", align)
	}

	// Page-aligned anonymous pages satisfy every alignment drivers request.
	ptr, err := unix.MmapPtr(-1, 0, nil, uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, nil, fmt.Errorf("allocate coherent region: %w", err)
	}

	mem := unsafe.Slice((*byte)(ptr), size)
	phys := PhysAddr(uintptr(ptr))

	m.mu.Lock()
	m.allocs[phys] = size
	m.mu.Unlock()

	return phys, mem, nil
}

func (m *HostMemory) FreeCoherent(phys PhysAddr, mem []byte) error {
	m.mu.Lock()
	size, ok := m.allocs[phys]
	if ok {
		delete(m.allocs, phys)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("region %#x was not allocated by this service", uint64(phys))
	}
	if size != len(mem) {
		return fmt.Errorf("region %#x freed with size %d, allocated with %d", uint64(phys), len(mem), size)
	}

	return unix.MunmapPtr(unsafe.Pointer(&mem[0]), uintptr(len(mem)))
}

// PhysToVirt is the identity conversion: host regions are addressed by their
// pointer values on both sides.
func (m *HostMemory) PhysToVirt(p PhysAddr) uintptr {
	return uintptr(p)
}

func (m *HostMemory) VirtToPhys(v uintptr) PhysAddr {
	return PhysAddr(v)
}

func (m *HostMemory) MapMMIO(phys PhysAddr, size int) (MMIOHandler, error) {
	m.mu.Lock()
	w, ok := m.windows[phys]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no MMIO window at %#x", uint64(phys))
	}
	if size > w.size {
		return nil, fmt.Errorf("MMIO window at %#x is %d bytes, %d requested", uint64(phys), w.size, size)
	}
	return w.handler, nil
}

// AddMMIO registers the handler serving a physical register window. Device
// models install themselves here before discovery runs.
func (m *HostMemory) AddMMIO(phys PhysAddr, size int, h MMIOHandler) {
	m.mu.Lock()
	m.windows[phys] = hostWindow{handler: h, size: size}
	m.mu.Unlock()
}

// OutstandingBytes reports how much coherent memory is currently allocated.
func (m *HostMemory) OutstandingBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, size := range m.allocs {
		total += size
	}
	return total
}

const pageSize = 4096
