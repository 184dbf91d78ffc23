package devscan

import "fmt"

// DeviceClass categorizes a bound device.
type DeviceClass int

const (
	Net DeviceClass = iota
	Block
	Display
)

const classCount = 3

func (c DeviceClass) String() string {
	switch c {
	case Net:
		return "net"
	case Block:
		return "block"
	case Display:
		return "display"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classes lists every device class in the fixed probing order.
func Classes() []DeviceClass {
	return []DeviceClass{Net, Block, Display}
}

// NetDriver is the contract of a bound network controller.
type NetDriver interface {
	DeviceName() string
	MACAddress() [6]byte
	MTU() int
	Send(frame []byte) error
	Receive() ([]byte, error)
}

// BlockDriver is the contract of a bound block device.
type BlockDriver interface {
	DeviceName() string
	BlockSize() int
	NumBlocks() uint64
	ReadBlock(lba uint64, buf []byte) error
	WriteBlock(lba uint64, buf []byte) error
	Flush() error
}

// DisplayDriver is the contract of a bound display controller.
type DisplayDriver interface {
	DeviceName() string
	Resolution() (width, height int)
	Framebuffer() []byte
	Present() error
}

// Handle is a successfully bound device: a class tag plus exactly one
// concrete driver instance, owned by the handle for its lifetime. The class
// is fixed at construction.
type Handle struct {
	class   DeviceClass
	net     NetDriver
	block   BlockDriver
	display DisplayDriver
}

func FromNet(d NetDriver) *Handle {
	return &Handle{class: Net, net: d}
}

func FromBlock(d BlockDriver) *Handle {
	return &Handle{class: Block, block: d}
}

func FromDisplay(d DisplayDriver) *Handle {
	return &Handle{class: Display, display: d}
}

func (h *Handle) Class() DeviceClass {
	return h.class
}

// Name reports the wrapped driver's device name.
func (h *Handle) Name() string {
	switch h.class {
	case Net:
		return h.net.DeviceName()
	case Block:
		return h.block.DeviceName()
	case Display:
		return h.display.DeviceName()
	}
	panic("devscan: handle with no driver")
}

// Net returns the wrapped network driver. Calling the accessor of the wrong
// class is a programming error and panics.
func (h *Handle) Net() NetDriver {
	if h.class != Net {
		panic(fmt.Sprintf("devscan: %s handle is not a net device", h.class))
	}
	return h.net
}

func (h *Handle) Block() BlockDriver {
	if h.class != Block {
		panic(fmt.Sprintf("devscan: %s handle is not a block device", h.class))
	}
	return h.block
}

func (h *Handle) Display() DisplayDriver {
	if h.class != Display {
		panic(fmt.Sprintf("devscan: %s handle is not a display device", h.class))
	}
	return h.display
}
