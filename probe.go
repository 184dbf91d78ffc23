package devscan

import (
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
	"github.com/sirupsen/logrus"
)

// Env carries the collaborators a probe may need: the logger and the DMA
// adapter that owns coherent memory and register windows.
type Env struct {
	L   *logrus.Logger
	DMA *dma.Adapter
}

// Prober is the capability a driver candidate implements to attempt binding
// against a bus location. Each operation returns the bound handle or nil for
// "no match"; declining a device is never an error. Drivers embed NoMatch
// and override only the discovery paths relevant to them, so the
// orchestrator can try any driver against any mechanism uniformly.
//
// A probe that recognizes its hardware performs in-place initialization; if
// that fails the probe logs the failure and returns nil, dropping the device
// slot without aborting discovery.
type Prober interface {
	// ProbeGlobal binds devices that are not discovered via any bus, such
	// as a configuration-conjured ramdisk.
	ProbeGlobal(env *Env) *Handle

	// ProbeMMIO attempts to bind a fixed, board-configured register range.
	ProbeMMIO(env *Env, base, size uintptr) *Handle

	// ProbePCI inspects an enumerated function and, on an exact
	// vendor/device match, completes initialization using the resolved
	// BAR0.
	ProbePCI(env *Env, addr pcibus.Addr, info *pcibus.FunctionInfo, bar0 pcibus.Bar) *Handle
}

// NoMatch supplies the default "no match" behavior for all three probe
// operations.
type NoMatch struct{}

func (NoMatch) ProbeGlobal(*Env) *Handle {
	return nil
}

func (NoMatch) ProbeMMIO(*Env, uintptr, uintptr) *Handle {
	return nil
}

func (NoMatch) ProbePCI(*Env, pcibus.Addr, *pcibus.FunctionInfo, pcibus.Bar) *Handle {
	return nil
}
