// Package pcibus models the PCI side of device discovery: function
// addresses, configuration-space identity, and resolved base address
// registers. The kernel's bus walker is consumed through the Root interface
// so probing code never touches configuration space directly.
package pcibus

import (
	"fmt"

	"github.com/siderolabs/go-pcidb/pkg/pcidb"
)

// Addr identifies a single PCI function by its bus/device/function triple.
type Addr struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x.%x", a.Bus, a.Device, a.Function)
}

// FunctionInfo is the read-only identity of a discovered function, taken
// from the first bytes of its configuration space.
type FunctionInfo struct {
	VendorID uint16
	DeviceID uint16
	Class    uint8
	Subclass uint8
	ProgIF   uint8
	Revision uint8
}

// VendorName resolves the vendor id against the PCI database, falling back
// to the hex id for unknown hardware.
func (fi *FunctionInfo) VendorName() string {
	if v, ok := pcidb.LookupVendor(fi.VendorID); ok {
		return v
	}
	return fmt.Sprintf("0x%04x", fi.VendorID)
}

// ProductName resolves the device id against the PCI database, falling back
// to the hex id for unknown hardware.
func (fi *FunctionInfo) ProductName() string {
	if p, ok := pcidb.LookupProduct(fi.VendorID, fi.DeviceID); ok {
		return p
	}
	return fmt.Sprintf("0x%04x", fi.DeviceID)
}

func (fi *FunctionInfo) String() string {
	return fmt.Sprintf("%04x:%04x (%s %s)", fi.VendorID, fi.DeviceID, fi.VendorName(), fi.ProductName())
}

// Bar is the resolved contents of one base address register. It is either a
// MemoryBar or an IOBar; callers must type switch before use since drivers
// that perform DMA require a memory-mapped window.
type Bar interface {
	isBar()
}

// MemoryBar describes a memory-mapped register window.
type MemoryBar struct {
	Address      uint64
	Size         uint64
	Prefetchable bool
	Is64Bit      bool
}

// IOBar describes a port I/O window.
type IOBar struct {
	Port uint32
	Size uint32
}

func (MemoryBar) isBar() {}
func (IOBar) isBar()     {}

// Root is the bus-walker collaborator: it enumerates discovered functions
// and resolves their base address registers on demand.
type Root interface {
	// Walk visits every discovered function in bus/device/function order.
	// Returning false from the visitor stops the walk.
	Walk(visit func(Addr, *FunctionInfo) bool)

	// BarInfo resolves the BAR at the given index for a function previously
	// reported by Walk.
	BarInfo(addr Addr, index int) (Bar, error)
}
