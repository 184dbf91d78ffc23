// Package dma bridges DMA-capable drivers to the kernel's memory subsystem.
// It owns coherent buffer bookkeeping and the conversions between bus,
// physical and CPU virtual addresses; drivers never fabricate addresses, they
// only hand back what this package produced.
package dma

import (
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// BusAddr is an address as seen by a device performing DMA.
type BusAddr uint64

// PhysAddr is a CPU physical address.
type PhysAddr uint64

// Coherent allocations are 8-byte aligned, enough for every descriptor
// layout the supported NICs use.
const coherentAlign = 8

// Memory is the kernel physical memory service. Implementations must
// serialize concurrent allocation requests themselves.
type Memory interface {
	// AllocCoherent returns a physically contiguous, cache-coherent region
	// and its CPU view.
	AllocCoherent(size, align int) (PhysAddr, []byte, error)

	// FreeCoherent releases a region previously returned by AllocCoherent.
	FreeCoherent(phys PhysAddr, mem []byte) error

	PhysToVirt(PhysAddr) uintptr
	VirtToPhys(uintptr) PhysAddr

	// MapMMIO maps a physical register window for load/store access.
	MapMMIO(phys PhysAddr, size int) (MMIOHandler, error)
}

// Buf is one coherent allocation: the device view, the CPU view and the
// length. The zero Buf is the "no allocation" sentinel returned when the
// allocator is exhausted.
type Buf struct {
	Bus  BusAddr
	Virt uintptr
	Size int
}

// Valid reports whether the allocation actually exists.
func (b Buf) Valid() bool {
	return b.Virt != 0
}

// Adapter is the per-driver-family shim between a driver's address space and
// the kernel memory service. One adapter serves the whole discovery pass;
// the registry of mapped register windows enforces that each window is
// handed to at most one driver instance.
type Adapter struct {
	mem     Memory
	l       *logrus.Logger
	bufs    map[uintptr][]byte
	windows map[PhysAddr]bool
}

func NewAdapter(l *logrus.Logger, mem Memory) *Adapter {
	return &Adapter{
		mem:     mem,
		l:       l,
		bufs:    make(map[uintptr][]byte),
		windows: make(map[PhysAddr]bool),
	}
}

// AllocCoherent requests size bytes of coherent memory. On exhaustion it
// returns the zero Buf rather than an error; callers check Valid.
func (a *Adapter) AllocCoherent(size int) Buf {
	phys, mem, err := a.mem.AllocCoherent(size, coherentAlign)
	if err != nil {
		a.l.WithError(err).WithField("size", size).Debug("Coherent allocation failed")
		return Buf{}
	}

	virt := uintptr(unsafe.Pointer(&mem[0]))
	a.bufs[virt] = mem

	// No IOMMU in this memory model: bus addresses and physical addresses
	// coincide.
	return Buf{Bus: BusAddr(phys), Virt: virt, Size: size}
}

// Bytes returns the CPU view of a coherent allocation.
func (a *Adapter) Bytes(b Buf) []byte {
	mem, ok := a.bufs[b.Virt]
	if !ok {
		panic("dma: Bytes of a buffer this adapter did not allocate")
	}
	return mem[:b.Size]
}

// FreeCoherent releases an allocation. The caller must present the exact Buf
// returned by AllocCoherent; anything else is a contract violation.
func (a *Adapter) FreeCoherent(b Buf) {
	mem, ok := a.bufs[b.Virt]
	if !ok || len(mem) != b.Size {
		panic("dma: FreeCoherent of a mismatched buffer")
	}
	delete(a.bufs, b.Virt)

	if err := a.mem.FreeCoherent(PhysAddr(b.Bus), mem); err != nil {
		a.l.WithError(err).Error("Failed to release coherent memory")
	}
}

// MMIOToVirt converts a physical register-window address to its CPU virtual
// address. Unmapped addresses are a programming error, not a runtime
// condition; this never fails.
func (a *Adapter) MMIOToVirt(p PhysAddr) uintptr {
	return a.mem.PhysToVirt(p)
}

// VirtToMMIO is the inverse of MMIOToVirt.
func (a *Adapter) VirtToMMIO(v uintptr) PhysAddr {
	return a.mem.VirtToPhys(v)
}

// WaitUntil spins until d has elapsed. It always reports success; hardware
// readiness is checked by the caller polling a completion flag afterwards.
func (a *Adapter) WaitUntil(d time.Duration) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
	return nil
}

// MapRegisters maps a device's register window and wraps it in a
// RegisterWindow. Each physical window can be mapped once; the returned
// wrapper is the sole holder of its access and belongs to exactly one driver
// instance for its lifetime.
func (a *Adapter) MapRegisters(phys PhysAddr, size int) (*RegisterWindow, error) {
	if a.windows[phys] {
		return nil, &WindowBusyError{Phys: phys}
	}

	h, err := a.mem.MapMMIO(phys, size)
	if err != nil {
		return nil, err
	}

	a.windows[phys] = true
	return &RegisterWindow{phys: phys, size: size, io: h}, nil
}

// UnmapRegisters gives up ownership of a window, making it mappable again.
// A probe that peeked at registers and declined the device must release the
// window so the next candidate can claim it.
func (a *Adapter) UnmapRegisters(w *RegisterWindow) {
	if !a.windows[w.phys] {
		panic("dma: UnmapRegisters of a window this adapter did not map")
	}
	delete(a.windows, w.phys)
}

// WindowBusyError reports an attempt to map a register window that is
// already owned by a driver.
type WindowBusyError struct {
	Phys PhysAddr
}

func (e *WindowBusyError) Error() string {
	return "register window already mapped"
}
