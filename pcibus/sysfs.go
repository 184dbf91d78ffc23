package pcibus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// resource file flag bits, from the kernel's ioport.h
const (
	resourceIO       = 0x100
	resourceMem      = 0x200
	resourcePrefetch = 0x2000
	resourceMem64    = 0x100000
)

// SysfsRoot enumerates PCI functions from /sys/bus/pci/devices. It lets the
// scanner run against live hardware from userspace without touching
// configuration space.
type SysfsRoot struct {
	path string
	l    *logrus.Logger
}

func NewSysfsRoot(l *logrus.Logger) *SysfsRoot {
	return &SysfsRoot{path: "/sys/bus/pci/devices", l: l}
}

func (r *SysfsRoot) Walk(visit func(Addr, *FunctionInfo) bool) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		r.l.WithError(err).Debug("No PCI devices visible via sysfs")
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		addr, err := parseSysfsAddr(name)
		if err != nil {
			continue
		}

		info, err := r.functionInfo(name)
		if err != nil {
			r.l.WithField("function", name).WithError(err).Debug("Skipping unreadable PCI function")
			continue
		}

		if !visit(addr, info) {
			return
		}
	}
}

func (r *SysfsRoot) BarInfo(a Addr, index int) (Bar, error) {
	if index < 0 || index >= maxBars {
		return nil, fmt.Errorf("BAR index %d out of range", index)
	}

	name := fmt.Sprintf("0000:%02x:%02x.%x", a.Bus, a.Device, a.Function)
	b, err := os.ReadFile(filepath.Join(r.path, name, "resource"))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if index >= len(lines) {
		return nil, fmt.Errorf("%s has no BAR%d", a, index)
	}

	fields := strings.Fields(lines[index])
	if len(fields) != 3 {
		return nil, fmt.Errorf("malformed resource line for %s BAR%d", a, index)
	}

	start, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return nil, err
	}
	end, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return nil, err
	}
	flags, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return nil, err
	}

	if start == 0 && end == 0 {
		return nil, fmt.Errorf("%s has no BAR%d", a, index)
	}

	size := end - start + 1
	if flags&resourceIO != 0 {
		return IOBar{Port: uint32(start), Size: uint32(size)}, nil
	}
	if flags&resourceMem != 0 {
		return MemoryBar{
			Address:      start,
			Size:         size,
			Prefetchable: flags&resourcePrefetch != 0,
			Is64Bit:      flags&resourceMem64 != 0,
		}, nil
	}

	return nil, fmt.Errorf("%s BAR%d has unknown resource flags %#x", a, index, flags)
}

func (r *SysfsRoot) functionInfo(name string) (*FunctionInfo, error) {
	vendor, err := r.readHex(name, "vendor")
	if err != nil {
		return nil, err
	}
	device, err := r.readHex(name, "device")
	if err != nil {
		return nil, err
	}
	class, err := r.readHex(name, "class")
	if err != nil {
		return nil, err
	}
	revision, err := r.readHex(name, "revision")
	if err != nil {
		revision = 0
	}

	return &FunctionInfo{
		VendorID: uint16(vendor),
		DeviceID: uint16(device),
		Class:    uint8(class >> 16),
		Subclass: uint8(class >> 8),
		ProgIF:   uint8(class),
		Revision: uint8(revision),
	}, nil
}

func (r *SysfsRoot) readHex(name, file string) (uint64, error) {
	b, err := os.ReadFile(filepath.Join(r.path, name, file))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
}

// parseSysfsAddr turns a sysfs device name like 0000:03:00.1 into an Addr.
// Functions on other PCI domains are skipped.
func parseSysfsAddr(name string) (Addr, error) {
	var domain, bus, dev, fn uint64
	_, err := fmt.Sscanf(name, "%04x:%02x:%02x.%x", &domain, &bus, &dev, &fn)
	if err != nil {
		return Addr{}, err
	}
	if domain != 0 {
		return Addr{}, fmt.Errorf("unsupported PCI domain %04x", domain)
	}
	return Addr{Bus: uint8(bus), Device: uint8(dev), Function: uint8(fn)}, nil
}
