package devscan

import (
	"strings"

	"github.com/driftos/devscan/pcibus"
	"github.com/rcrowley/go-metrics"
)

// DeviceSet is the final mapping from device class to ordered bound handles,
// consumed by the device-management subsystem.
type DeviceSet struct {
	handles [classCount][]*Handle
}

func (s *DeviceSet) add(h *Handle) {
	s.handles[h.Class()] = append(s.handles[h.Class()], h)
}

// Handles returns the bound devices of a class in discovery order.
func (s *DeviceSet) Handles(class DeviceClass) []*Handle {
	return s.handles[class]
}

// Len reports the total number of bound devices.
func (s *DeviceSet) Len() int {
	n := 0
	for _, hs := range s.handles {
		n += len(hs)
	}
	return n
}

type discoveryMetrics struct {
	probes   metrics.Counter
	matches  [classCount]metrics.Counter
	skipped  metrics.Counter
	failures metrics.Counter
}

func newDiscoveryMetrics() *discoveryMetrics {
	m := &discoveryMetrics{
		probes:   metrics.GetOrRegisterCounter("discovery.probes", nil),
		skipped:  metrics.GetOrRegisterCounter("discovery.pci.skipped", nil),
		failures: metrics.GetOrRegisterCounter("discovery.failures", nil),
	}
	for _, class := range Classes() {
		m.matches[class] = metrics.GetOrRegisterCounter("discovery.matches."+class.String(), nil)
	}
	return m
}

// Discover runs the three probing passes in fixed order, global then MMIO
// then PCI, and returns every device that bound. Discovery is a single
// sequential pass during system start-up; a driver that fails to bring up
// recognized hardware costs only that device slot, never the sequence.
func Discover(env *Env, reg *Registry, board *Board, pciRoot pcibus.Root) *DeviceSet {
	found := &DeviceSet{}
	dm := newDiscoveryMetrics()

	discoverGlobal(env, reg, found, dm)
	discoverMMIO(env, reg, board, found, dm)
	if board.PCI && pciRoot != nil {
		discoverPCI(env, reg, pciRoot, found, dm)
	}

	for _, class := range Classes() {
		env.L.WithField("class", class.String()).
			WithField("devices", len(found.Handles(class))).
			Info("Device discovery finished")
	}

	return found
}

func discoverGlobal(env *Env, reg *Registry, found *DeviceSet, dm *discoveryMetrics) {
	for _, class := range Classes() {
		for _, e := range reg.Entries(class) {
			h := runProbe(env, dm, e.Name, func() *Handle {
				return e.Prober.ProbeGlobal(env)
			})
			if h != nil {
				env.L.WithField("driver", e.Name).WithField("device", h.Name()).
					Info("Bound global device")
				found.add(h)
				dm.matches[h.Class()].Inc(1)
			}
		}
	}
}

func discoverMMIO(env *Env, reg *Registry, board *Board, found *DeviceSet, dm *discoveryMetrics) {
	for _, region := range board.MMIO {
		bound := false
		for _, class := range Classes() {
			if bound {
				break
			}
			for _, e := range reg.Entries(class) {
				if !region.ownedBy(e.Name) {
					continue
				}

				h := runProbe(env, dm, e.Name, func() *Handle {
					return e.Prober.ProbeMMIO(env, region.Base, region.Size)
				})
				if h != nil {
					env.L.WithField("driver", e.Name).WithField("device", h.Name()).
						WithField("region", region.String()).
						Info("Bound MMIO device")
					found.add(h)
					dm.matches[h.Class()].Inc(1)
					bound = true
					break
				}
			}
		}
	}
}

func discoverPCI(env *Env, reg *Registry, root pcibus.Root, found *DeviceSet, dm *discoveryMetrics) {
	root.Walk(func(addr pcibus.Addr, info *pcibus.FunctionInfo) bool {
		// Only BAR0 is resolved during discovery; no supported driver uses
		// a higher index. Functions with no usable BAR0 are still offered
		// to drivers, which may not need a BAR at all.
		bar0, err := root.BarInfo(addr, 0)
		if err != nil {
			env.L.WithField("function", addr.String()).WithError(err).
				Debug("Could not resolve BAR0")
		}

		for _, class := range Classes() {
			for _, e := range reg.Entries(class) {
				h := runProbe(env, dm, e.Name, func() *Handle {
					return e.Prober.ProbePCI(env, addr, info, bar0)
				})
				if h != nil {
					env.L.WithField("driver", e.Name).WithField("device", h.Name()).
						WithField("function", addr.String()).
						WithField("id", info.String()).
						Info("Bound PCI device")
					found.add(h)
					dm.matches[h.Class()].Inc(1)
					return true
				}
			}
		}

		// Most enumerated functions are irrelevant to this kernel.
		dm.skipped.Inc(1)
		env.L.WithField("function", addr.String()).WithField("id", info.String()).
			Debug("No driver for PCI function")
		return true
	})
}

// runProbe invokes one probe attempt with a panic guard: a driver whose
// hardware initialization dies loses its device slot, not the discovery
// sequence.
func runProbe(env *Env, dm *discoveryMetrics, driver string, probe func() *Handle) (h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			dm.failures.Inc(1)
			env.L.WithField("driver", driver).WithField("panic", r).
				Error("Driver failed during hardware initialization")
			h = nil
		}
	}()

	dm.probes.Inc(1)
	return probe()
}

// ownedBy reports whether a driver should be offered this region: either the
// region names no owner, or the driver belongs to the owning family
// ("virtio" owns "virtio-net").
func (r MMIORegion) ownedBy(driver string) bool {
	if r.Owner == "" {
		return true
	}
	return driver == r.Owner || strings.HasPrefix(driver, r.Owner+"-")
}
