package ixgbe

import (
	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
)

// Probe recognizes the 82599 by exact vendor/device identity on the PCI
// bus.
type Probe struct {
	devscan.NoMatch
}

func NewProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{}
}

func (p *Probe) ProbePCI(env *devscan.Env, addr pcibus.Addr, info *pcibus.FunctionInfo, bar0 pcibus.Bar) *devscan.Handle {
	if info.VendorID != IntelVendor || info.DeviceID != Dev82599 {
		return nil
	}

	env.L.WithField("function", addr.String()).Info("ixgbe PCI device found")

	switch bar := bar0.(type) {
	case pcibus.MemoryBar:
		regs, err := env.DMA.MapRegisters(dma.PhysAddr(bar.Address), int(bar.Size))
		if err != nil {
			env.L.WithError(err).Error("ixgbe: failed to map BAR0")
			return nil
		}

		nic, err := Init(env.DMA, regs)
		if err != nil {
			env.L.WithError(err).Error("ixgbe: failed to initialize device")
			return nil
		}
		return devscan.FromNet(nic)

	case pcibus.IOBar:
		// DMA descriptor rings need memory-mapped register access; an
		// I/O-mapped BAR0 is never used, even though the ids matched.
		env.L.WithField("function", addr.String()).Info("ixgbe: BAR0 is of I/O type")
		return nil

	default:
		env.L.WithField("function", addr.String()).Info("ixgbe: BAR0 could not be resolved")
		return nil
	}
}
