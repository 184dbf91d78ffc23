// Package virtio binds virtio devices over the mmio and PCI transports.
// The transport carries device identity, feature negotiation and queue
// placement; queue memory itself is coherent DMA memory owned by the
// adapter.
package virtio

import (
	"errors"
	"fmt"

	"github.com/driftos/devscan/dma"
)

const (
	// MagicValue reads "virt" at register 0 of every virtio-mmio slot.
	MagicValue = 0x74726976

	// PCIVendor is the vendor id of every virtio PCI device.
	PCIVendor = 0x1af4
)

// Device ids carried by the transport.
const (
	IDNet   = 1
	IDBlock = 2
	IDGPU   = 16
)

// virtio-mmio register offsets.
const (
	regMagicValue      = 0x000
	regVersion         = 0x004
	regDeviceID        = 0x008
	regVendorID        = 0x00c
	regDeviceFeatures  = 0x010
	regDriverFeatures  = 0x020
	regQueueSel        = 0x030
	regQueueNumMax     = 0x034
	regQueueNum        = 0x038
	regQueueReady      = 0x044
	regQueueNotify     = 0x050
	regStatus          = 0x070
	regQueueDescLow    = 0x080
	regQueueDescHigh   = 0x084
	regQueueDriverLow  = 0x090
	regQueueDriverHigh = 0x094
	regQueueDeviceLow  = 0x0a0
	regQueueDeviceHigh = 0x0a4
	regConfig          = 0x100
)

// Device status bits.
const (
	statusAck        = 1
	statusDriver     = 2
	statusDriverOK   = 4
	statusFeaturesOK = 8
	statusFailed     = 128
)

var (
	errBadMagic   = errors.New("virtio: bad magic value")
	errBadVersion = errors.New("virtio: unsupported version")
)

// transport is the device-side plumbing shared by the mmio and PCI flavors.
type transport interface {
	// DeviceID reports the virtio device type, 0 for an empty slot.
	DeviceID() uint32

	// Negotiate runs the status handshake up to DRIVER_OK.
	Negotiate() error

	// SetQueue places a queue's split rings by bus address.
	SetQueue(index, size int, desc, avail, used dma.BusAddr)

	// Notify tells the device a queue has new buffers.
	Notify(queue int)

	// ReadConfig32 reads a dword of device-specific configuration.
	ReadConfig32(offset int) uint32

	// Fail marks the device as unusable after a failed bring-up.
	Fail()
}

// mmioTransport is the virtio-mmio register block behind a mapped window.
type mmioTransport struct {
	regs *dma.RegisterWindow
}

// newMMIOTransport validates the slot's magic and version.
func newMMIOTransport(regs *dma.RegisterWindow) (*mmioTransport, error) {
	if regs.Read32(regMagicValue) != MagicValue {
		return nil, errBadMagic
	}
	if v := regs.Read32(regVersion); v != 1 && v != 2 {
		return nil, fmt.Errorf("%w: %d", errBadVersion, v)
	}
	return &mmioTransport{regs: regs}, nil
}

func (t *mmioTransport) DeviceID() uint32 {
	return t.regs.Read32(regDeviceID)
}

func (t *mmioTransport) Negotiate() error {
	t.regs.Write32(regStatus, 0)
	t.regs.Write32(regStatus, statusAck)
	t.regs.SetBits32(regStatus, statusDriver)

	// Accept whatever the device offers; none of the shells depend on
	// optional features.
	t.regs.Write32(regDriverFeatures, t.regs.Read32(regDeviceFeatures))
	t.regs.SetBits32(regStatus, statusFeaturesOK)
	if t.regs.Read32(regStatus)&statusFeaturesOK == 0 {
		return errors.New("virtio: device rejected feature selection")
	}

	t.regs.SetBits32(regStatus, statusDriverOK)
	return nil
}

func (t *mmioTransport) SetQueue(index, size int, desc, avail, used dma.BusAddr) {
	t.regs.Write32(regQueueSel, uint32(index))
	t.regs.Write32(regQueueNum, uint32(size))
	t.regs.Write32(regQueueDescLow, uint32(desc))
	t.regs.Write32(regQueueDescHigh, uint32(desc>>32))
	t.regs.Write32(regQueueDriverLow, uint32(avail))
	t.regs.Write32(regQueueDriverHigh, uint32(avail>>32))
	t.regs.Write32(regQueueDeviceLow, uint32(used))
	t.regs.Write32(regQueueDeviceHigh, uint32(used>>32))
	t.regs.Write32(regQueueReady, 1)
}

func (t *mmioTransport) Notify(queue int) {
	t.regs.Write32(regQueueNotify, uint32(queue))
}

func (t *mmioTransport) ReadConfig32(offset int) uint32 {
	return t.regs.Read32(regConfig + offset)
}

func (t *mmioTransport) Fail() {
	t.regs.SetBits32(regStatus, statusFailed)
}

// Split-ring sizes per queue entry: 16 byte descriptors, 2 byte available
// ring entries, 8 byte used ring entries, 6 byte ring headers.
const (
	descSize      = 16
	availHeader   = 6
	usedHeader    = 6
	usedEntrySize = 8
	usedAlign     = 4
)

// queue is one split virtqueue living in a single coherent allocation.
type queue struct {
	index int
	size  int
	mem   dma.Buf
	hal   *dma.Adapter

	descOff  int
	availOff int
	usedOff  int
}

// newQueue allocates and places one virtqueue. The zero-allocation sentinel
// from the adapter surfaces as an error here.
func newQueue(hal *dma.Adapter, t transport, index, size int) (*queue, error) {
	descBytes := size * descSize
	availBytes := availHeader + 2*size
	usedOff := align(descBytes+availBytes, usedAlign)
	total := usedOff + usedHeader + size*usedEntrySize

	mem := hal.AllocCoherent(total)
	if !mem.Valid() {
		return nil, errors.New("virtio: coherent queue allocation failed")
	}

	q := &queue{
		index:    index,
		size:     size,
		mem:      mem,
		hal:      hal,
		descOff:  0,
		availOff: descBytes,
		usedOff:  usedOff,
	}

	base := mem.Bus
	t.SetQueue(index, size,
		base+dma.BusAddr(q.descOff),
		base+dma.BusAddr(q.availOff),
		base+dma.BusAddr(q.usedOff))

	return q, nil
}

func (q *queue) release() {
	if q != nil && q.mem.Valid() {
		q.hal.FreeCoherent(q.mem)
		q.mem = dma.Buf{}
	}
}

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
