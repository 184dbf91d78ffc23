package devscan

import (
	"fmt"

	"github.com/driftos/devscan/config"
	"github.com/sirupsen/logrus"
)

// Entry is one registered driver candidate.
type Entry struct {
	Name   string
	Prober Prober
}

// Registry holds, per device class, the ordered list of drivers enabled in
// this configuration. Order is configuration priority: when two drivers
// could claim the same device, the earlier registration wins. The registry
// is assembled once before probing and is read-only afterwards, so it may be
// consulted from any context without locking.
type Registry struct {
	entries [classCount][]Entry
	built   bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a driver to its class list. Registering after Build is a
// programming error and panics.
func (r *Registry) Register(class DeviceClass, name string, p Prober) {
	if r.built {
		panic("devscan: Register called after Build")
	}
	r.entries[class] = append(r.entries[class], Entry{Name: name, Prober: p})
}

// Build freezes the registry.
func (r *Registry) Build() *Registry {
	r.built = true
	return r
}

// Entries returns the ordered driver list for a class.
func (r *Registry) Entries(class DeviceClass) []Entry {
	return r.entries[class]
}

// Len reports the number of registered drivers for a class.
func (r *Registry) Len(class DeviceClass) int {
	return len(r.entries[class])
}

// Builder constructs a driver's prober from configuration.
type Builder func(l *logrus.Logger, c *config.C) Prober

// CatalogEntry describes one driver available to this build: its device
// class and its constructor. The catalog is the compile-time wiring; which
// of it is active comes from the drivers config block.
type CatalogEntry struct {
	Class DeviceClass
	Build Builder
}

// NewRegistryFromConfig builds the registry from the drivers config block,
// resolving names against the catalog in the order they are listed:
//
//	drivers:
//	  net: [ixgbe, igb]
//	  block: [ramdisk]
//
// An unknown driver name is a configuration error.
func NewRegistryFromConfig(l *logrus.Logger, c *config.C, catalog map[string]CatalogEntry) (*Registry, error) {
	r := NewRegistry()

	for _, class := range Classes() {
		names := c.GetStringSlice("drivers."+class.String(), nil)
		for _, name := range names {
			ce, ok := catalog[name]
			if !ok {
				return nil, fmt.Errorf("unknown %s driver %q", class, name)
			}
			if ce.Class != class {
				return nil, fmt.Errorf("driver %q is a %s driver, listed under %s", name, ce.Class, class)
			}

			r.Register(class, name, ce.Build(l, c))
			l.WithField("driver", name).WithField("class", class.String()).Debug("Registered driver")
		}
	}

	return r.Build(), nil
}
