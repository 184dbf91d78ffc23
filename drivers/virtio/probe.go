package virtio

import (
	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
)

// Probe recognizes one virtio device type over either transport. Separate
// probes per type keep registry priority in the board's hands.
type Probe struct {
	devscan.NoMatch
	id    uint32
	class devscan.DeviceClass
}

func NewNetProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{id: IDNet, class: devscan.Net}
}

func NewBlockProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{id: IDBlock, class: devscan.Block}
}

func NewGPUProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{id: IDGPU, class: devscan.Display}
}

func (p *Probe) ProbeMMIO(env *devscan.Env, base, size uintptr) *devscan.Handle {
	regs, err := env.DMA.MapRegisters(dma.PhysAddr(base), int(size))
	if err != nil {
		env.L.WithError(err).WithField("base", base).Debug("virtio: could not map MMIO slot")
		return nil
	}

	t, err := newMMIOTransport(regs)
	if err != nil {
		// Not a virtio slot at all.
		env.DMA.UnmapRegisters(regs)
		return nil
	}

	id := t.DeviceID()
	if id != p.id {
		// id 0 is an empty slot; anything else belongs to a sibling probe.
		env.DMA.UnmapRegisters(regs)
		return nil
	}

	return p.bind(env, t)
}

func (p *Probe) ProbePCI(env *devscan.Env, addr pcibus.Addr, info *pcibus.FunctionInfo, bar0 pcibus.Bar) *devscan.Handle {
	if info.VendorID != PCIVendor || pciDeviceType(info.DeviceID) != p.id {
		return nil
	}

	switch bar := bar0.(type) {
	case pcibus.MemoryBar:
		regs, err := env.DMA.MapRegisters(dma.PhysAddr(bar.Address), int(bar.Size))
		if err != nil {
			env.L.WithError(err).Error("virtio: failed to map BAR0")
			return nil
		}

		// This platform's virtio PCI shim exposes the mmio register block
		// through BAR0.
		t, err := newMMIOTransport(regs)
		if err != nil {
			env.L.WithField("function", addr.String()).WithError(err).
				Info("virtio: BAR0 does not carry the register block")
			env.DMA.UnmapRegisters(regs)
			return nil
		}

		env.L.WithField("function", addr.String()).Info("virtio PCI device found")
		return p.bind(env, t)

	case pcibus.IOBar:
		// Legacy I/O transport is not supported.
		env.L.WithField("function", addr.String()).Info("virtio: BAR0 is of I/O type")
		return nil

	default:
		return nil
	}
}

// bind negotiates and constructs the device shell for this probe's type.
func (p *Probe) bind(env *devscan.Env, t transport) *devscan.Handle {
	if err := t.Negotiate(); err != nil {
		env.L.WithError(err).Error("virtio: feature negotiation failed")
		t.Fail()
		return nil
	}

	switch p.id {
	case IDNet:
		d, err := newNetDevice(t, env.DMA)
		if err != nil {
			env.L.WithError(err).Error("virtio-net: initialization failed")
			t.Fail()
			return nil
		}
		return devscan.FromNet(d)

	case IDBlock:
		d, err := newBlockDevice(t, env.DMA)
		if err != nil {
			env.L.WithError(err).Error("virtio-blk: initialization failed")
			t.Fail()
			return nil
		}
		return devscan.FromBlock(d)

	case IDGPU:
		d, err := newGPUDevice(t, env.DMA)
		if err != nil {
			env.L.WithError(err).Error("virtio-gpu: initialization failed")
			t.Fail()
			return nil
		}
		return devscan.FromDisplay(d)
	}

	return nil
}

// pciDeviceType maps a virtio PCI device id to the transport device type:
// transitional ids start at 0x1000, modern ids at 0x1040 + type.
func pciDeviceType(device uint16) uint32 {
	switch device {
	case 0x1000:
		return IDNet
	case 0x1001:
		return IDBlock
	}
	if device >= 0x1040 && device < 0x1080 {
		return uint32(device - 0x1040)
	}
	return 0
}
