package dma

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MMIOHandler performs the actual loads and stores of a mapped register
// window. Device registers are 32 bits wide on every bus this scanner
// supports. Handlers do not fail; an out-of-window access is a programming
// error and panics.
type MMIOHandler interface {
	Read32(offset int) uint32
	Write32(offset int, v uint32)
}

// RegisterWindow is the ownership-scoped view of one device's memory-mapped
// registers. The dma.Adapter hands each window to a single driver instance,
// so register access is never aliased between drivers.
type RegisterWindow struct {
	phys PhysAddr
	size int
	io   MMIOHandler
}

func (w *RegisterWindow) Base() PhysAddr {
	return w.phys
}

func (w *RegisterWindow) Len() int {
	return w.size
}

func (w *RegisterWindow) Read32(offset int) uint32 {
	w.check(offset)
	return w.io.Read32(offset)
}

func (w *RegisterWindow) Write32(offset int, v uint32) {
	w.check(offset)
	w.io.Write32(offset, v)
}

// SetBits32 read-modify-writes bits into a register.
func (w *RegisterWindow) SetBits32(offset int, bits uint32) {
	w.Write32(offset, w.Read32(offset)|bits)
}

// ClearBits32 read-modify-writes bits out of a register.
func (w *RegisterWindow) ClearBits32(offset int, bits uint32) {
	w.Write32(offset, w.Read32(offset)&^bits)
}

// Poll32 busy-polls a register until the masked value equals want or the
// timeout elapses, reporting whether the condition was met. This is the
// completion check paired with Adapter.WaitUntil.
func (w *RegisterWindow) Poll32(offset int, mask, want uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if w.Read32(offset)&mask == want {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
}

func (w *RegisterWindow) check(offset int) {
	if offset < 0 || offset+4 > w.size {
		panic(fmt.Sprintf("dma: register access at %#x outside %d byte window", offset, w.size))
	}
}

// BytesHandler is an MMIOHandler over a plain byte slice, little endian. It
// backs identity-mapped host windows and the device models used in tests.
type BytesHandler struct {
	mem []byte
}

func NewBytesHandler(mem []byte) *BytesHandler {
	return &BytesHandler{mem: mem}
}

func (h *BytesHandler) Read32(offset int) uint32 {
	return binary.LittleEndian.Uint32(h.mem[offset:])
}

func (h *BytesHandler) Write32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(h.mem[offset:], v)
}
