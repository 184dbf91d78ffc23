// Package igb drives Intel 82576 1 Gb network controllers. Like ixgbe it is
// a DMA-capable PCI device and refuses to operate through an I/O-mapped
// BAR.
package igb

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
)

const (
	IntelVendor = 0x8086
	Dev82576    = 0x10c9
)

// Register offsets, 82576 datasheet.
const (
	regCtrl   = 0x00000
	regStatus = 0x00008
	regRDBAL  = 0x0c000
	regRDBAH  = 0x0c004
	regRDLEN  = 0x0c008
	regRDT    = 0x0c018
	regTDBAL  = 0x0e000
	regTDBAH  = 0x0e004
	regTDLEN  = 0x0e008
	regTDT    = 0x0e018
	regRAL    = 0x05400
	regRAH    = 0x05404
)

const (
	ctrlRST = 1 << 26 // device reset, self-clearing

	queueSize = 1024
	descBytes = 16
	frameSize = 2048
	mtu       = 1500
)

// NIC is a bound 82576 with one queue each way.
type NIC struct {
	regs *dma.RegisterWindow
	hal  *dma.Adapter

	rxRing dma.Buf
	txRing dma.Buf
	frames dma.Buf

	txTail uint32
	mac    [6]byte
}

func Init(hal *dma.Adapter, regs *dma.RegisterWindow) (*NIC, error) {
	n := &NIC{regs: regs, hal: hal}

	regs.SetBits32(regCtrl, ctrlRST)
	if err := hal.WaitUntil(time.Millisecond); err != nil {
		return nil, err
	}
	if !regs.Poll32(regCtrl, ctrlRST, 0, 100*time.Millisecond) {
		return nil, errors.New("igb: device did not leave reset")
	}

	ral := regs.Read32(regRAL)
	rah := regs.Read32(regRAH)
	n.mac = [6]byte{
		byte(ral), byte(ral >> 8), byte(ral >> 16), byte(ral >> 24),
		byte(rah), byte(rah >> 8),
	}

	ringBytes := queueSize * descBytes
	n.rxRing = hal.AllocCoherent(ringBytes)
	n.txRing = hal.AllocCoherent(ringBytes)
	n.frames = hal.AllocCoherent(2 * queueSize * frameSize)
	if !n.rxRing.Valid() || !n.txRing.Valid() || !n.frames.Valid() {
		for _, b := range []dma.Buf{n.rxRing, n.txRing, n.frames} {
			if b.Valid() {
				hal.FreeCoherent(b)
			}
		}
		return nil, errors.New("igb: coherent ring allocation failed")
	}

	regs.Write32(regRDBAL, uint32(n.rxRing.Bus))
	regs.Write32(regRDBAH, uint32(n.rxRing.Bus>>32))
	regs.Write32(regRDLEN, uint32(ringBytes))
	regs.Write32(regTDBAL, uint32(n.txRing.Bus))
	regs.Write32(regTDBAH, uint32(n.txRing.Bus>>32))
	regs.Write32(regTDLEN, uint32(ringBytes))

	return n, nil
}

func (n *NIC) DeviceName() string {
	return "igb"
}

func (n *NIC) MACAddress() [6]byte {
	return n.mac
}

func (n *NIC) MTU() int {
	return mtu
}

func (n *NIC) Send(frame []byte) error {
	if len(frame) > frameSize {
		return fmt.Errorf("igb: frame of %d bytes exceeds buffer size", len(frame))
	}

	slot := n.txTail % queueSize
	frames := n.hal.Bytes(n.frames)
	copy(frames[int(slot)*frameSize:(int(slot)+1)*frameSize], frame)

	n.txTail++
	n.regs.Write32(regTDT, n.txTail%queueSize)
	return nil
}

// Receive reports no pending frames; receive-path bring-up happens when the
// device-management subsystem enables the queue after discovery.
func (n *NIC) Receive() ([]byte, error) {
	return nil, nil
}

// Probe recognizes the 82576 by exact vendor/device identity.
type Probe struct {
	devscan.NoMatch
}

func NewProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{}
}

func (p *Probe) ProbePCI(env *devscan.Env, addr pcibus.Addr, info *pcibus.FunctionInfo, bar0 pcibus.Bar) *devscan.Handle {
	if info.VendorID != IntelVendor || info.DeviceID != Dev82576 {
		return nil
	}

	env.L.WithField("function", addr.String()).Info("igb PCI device found")

	switch bar := bar0.(type) {
	case pcibus.MemoryBar:
		regs, err := env.DMA.MapRegisters(dma.PhysAddr(bar.Address), int(bar.Size))
		if err != nil {
			env.L.WithError(err).Error("igb: failed to map BAR0")
			return nil
		}

		nic, err := Init(env.DMA, regs)
		if err != nil {
			env.L.WithError(err).Error("igb: failed to initialize device")
			return nil
		}
		return devscan.FromNet(nic)

	case pcibus.IOBar:
		env.L.WithField("function", addr.String()).Info("igb: BAR0 is of I/O type")
		return nil

	default:
		env.L.WithField("function", addr.String()).Info("igb: BAR0 could not be resolved")
		return nil
	}
}
