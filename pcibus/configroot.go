package pcibus

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Standard configuration-space offsets. Every function has at least 64
// bytes of header; only the type 0 layout is interesting here.
const (
	cfgVendorID   = 0x00
	cfgClassCode  = 0x08
	cfgHeaderType = 0x0c
	cfgBar0       = 0x10
)

const (
	headerTypeMask     = 0x7f
	headerMultifunc    = 0x80
	maxBars            = 6
	invalidVendor      = 0xffff
	barIOSpace         = 0x1
	barMemTypeMask     = 0x6
	barMemType64       = 0x4
	barMemPrefetchable = 0x8
)

// ConfigSpace is raw dword access to PCI configuration space. The kernel
// supplies an implementation appropriate to the platform (port 0xcf8/0xcfc,
// ECAM, or a hypervisor shim).
type ConfigSpace interface {
	Read32(addr Addr, offset int) uint32
	Write32(addr Addr, offset int, v uint32)
}

// ConfigRoot enumerates functions by brute-force scanning configuration
// space and decodes BARs with the usual write-all-ones sizing dance.
type ConfigRoot struct {
	cs ConfigSpace
	l  *logrus.Logger
}

func NewConfigRoot(l *logrus.Logger, cs ConfigSpace) *ConfigRoot {
	return &ConfigRoot{cs: cs, l: l}
}

func (r *ConfigRoot) Walk(visit func(Addr, *FunctionInfo) bool) {
	for bus := 0; bus < 256; bus++ {
		for dev := 0; dev < 32; dev++ {
			a := Addr{Bus: uint8(bus), Device: uint8(dev)}
			id := r.cs.Read32(a, cfgVendorID)
			if id&0xffff == invalidVendor {
				continue
			}

			funcs := 1
			if r.cs.Read32(a, cfgHeaderType)>>16&headerMultifunc != 0 {
				funcs = 8
			}

			for fn := 0; fn < funcs; fn++ {
				a.Function = uint8(fn)
				id = r.cs.Read32(a, cfgVendorID)
				if id&0xffff == invalidVendor {
					continue
				}

				info := r.functionInfo(a, id)
				r.l.WithField("function", a.String()).
					WithField("id", info.String()).
					Debug("Enumerated PCI function")

				if !visit(a, info) {
					return
				}
			}
		}
	}
}

func (r *ConfigRoot) functionInfo(a Addr, id uint32) *FunctionInfo {
	class := r.cs.Read32(a, cfgClassCode)
	return &FunctionInfo{
		VendorID: uint16(id),
		DeviceID: uint16(id >> 16),
		Class:    uint8(class >> 24),
		Subclass: uint8(class >> 16),
		ProgIF:   uint8(class >> 8),
		Revision: uint8(class),
	}
}

// BarInfo decodes the BAR at index. Sizing writes all ones to the register,
// reads back the settable bits and restores the original value; the device
// must be idle while this happens, which holds during the single discovery
// pass.
func (r *ConfigRoot) BarInfo(a Addr, index int) (Bar, error) {
	if index < 0 || index >= maxBars {
		return nil, fmt.Errorf("BAR index %d out of range", index)
	}

	off := cfgBar0 + index*4
	low := r.cs.Read32(a, off)

	if low&barIOSpace != 0 {
		r.cs.Write32(a, off, 0xffffffff)
		sz := r.cs.Read32(a, off)
		r.cs.Write32(a, off, low)

		return IOBar{
			Port: low &^ 0x3,
			Size: ^(sz &^ 0x3) + 1,
		}, nil
	}

	is64 := low&barMemTypeMask == barMemType64
	if is64 && index == maxBars-1 {
		return nil, fmt.Errorf("64-bit BAR at index %d has no upper half", index)
	}

	addr := uint64(low &^ 0xf)
	var high uint32
	if is64 {
		high = r.cs.Read32(a, off+4)
		addr |= uint64(high) << 32
	}

	r.cs.Write32(a, off, 0xffffffff)
	szLow := r.cs.Read32(a, off) &^ 0xf
	r.cs.Write32(a, off, low)

	size := uint64(szLow)
	if is64 {
		r.cs.Write32(a, off+4, 0xffffffff)
		szHigh := r.cs.Read32(a, off+4)
		r.cs.Write32(a, off+4, high)
		size |= uint64(szHigh) << 32
		size = ^size + 1
	} else {
		size = uint64(^szLow + 1)
	}

	return MemoryBar{
		Address:      addr,
		Size:         size,
		Prefetchable: low&barMemPrefetchable != 0,
		Is64Bit:      is64,
	}, nil
}
