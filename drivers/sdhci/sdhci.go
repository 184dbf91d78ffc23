// Package sdhci drives the bcm2835 SD host controller. The controller sits
// at a fixed board-configured MMIO range and moves data by programmed I/O,
// so it needs no coherent memory, only its register window.
package sdhci

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
)

// EMMC register offsets.
const (
	regBlkSizeCount = 0x04
	regArg1         = 0x08
	regCmdtm        = 0x0c
	regData         = 0x20
	regStatus       = 0x24
	regControl1     = 0x2c
	regInterrupt    = 0x30
)

const (
	ctrl1ClkIntlEn = 1 << 0
	ctrl1ClkStable = 1 << 1
	ctrl1SrstHC    = 1 << 24 // host circuit reset, self-clearing

	intCmdDone  = 1 << 0
	intDataDone = 1 << 1
	intWrReady  = 1 << 4
	intRdReady  = 1 << 5

	cmdReadSingle  = 17 << 24
	cmdWriteSingle = 24 << 24
)

const blockSize = 512

// Controller is a bound SD host controller.
type Controller struct {
	regs     *dma.RegisterWindow
	hal      *dma.Adapter
	capacity uint64
}

// Init resets the host circuit and waits for a stable clock. A controller
// that never stabilizes is a fatal initialization failure for this slot.
func Init(hal *dma.Adapter, regs *dma.RegisterWindow, capacity uint64) (*Controller, error) {
	c := &Controller{regs: regs, hal: hal, capacity: capacity}

	regs.SetBits32(regControl1, ctrl1SrstHC)
	if err := hal.WaitUntil(time.Millisecond); err != nil {
		return nil, err
	}
	if !regs.Poll32(regControl1, ctrl1SrstHC, 0, 100*time.Millisecond) {
		return nil, errors.New("sdhci: host circuit did not leave reset")
	}

	regs.SetBits32(regControl1, ctrl1ClkIntlEn)
	if !regs.Poll32(regControl1, ctrl1ClkStable, ctrl1ClkStable, 100*time.Millisecond) {
		return nil, errors.New("sdhci: internal clock never stabilized")
	}

	return c, nil
}

func (c *Controller) DeviceName() string {
	return "sdhci"
}

func (c *Controller) BlockSize() int {
	return blockSize
}

func (c *Controller) NumBlocks() uint64 {
	return c.capacity / blockSize
}

func (c *Controller) ReadBlock(lba uint64, buf []byte) error {
	if err := c.checkAccess(lba, len(buf)); err != nil {
		return err
	}

	for b := 0; b < len(buf)/blockSize; b++ {
		c.regs.Write32(regBlkSizeCount, 1<<16|blockSize)
		c.regs.Write32(regArg1, uint32(lba)+uint32(b))
		c.regs.Write32(regCmdtm, cmdReadSingle)

		if !c.regs.Poll32(regInterrupt, intRdReady, intRdReady, 100*time.Millisecond) {
			return errors.New("sdhci: card never signalled read ready")
		}

		for w := 0; w < blockSize/4; w++ {
			v := c.regs.Read32(regData)
			off := b*blockSize + w*4
			buf[off] = byte(v)
			buf[off+1] = byte(v >> 8)
			buf[off+2] = byte(v >> 16)
			buf[off+3] = byte(v >> 24)
		}

		c.regs.Write32(regInterrupt, intRdReady|intDataDone)
	}

	return nil
}

func (c *Controller) WriteBlock(lba uint64, buf []byte) error {
	if err := c.checkAccess(lba, len(buf)); err != nil {
		return err
	}

	for b := 0; b < len(buf)/blockSize; b++ {
		c.regs.Write32(regBlkSizeCount, 1<<16|blockSize)
		c.regs.Write32(regArg1, uint32(lba)+uint32(b))
		c.regs.Write32(regCmdtm, cmdWriteSingle)

		if !c.regs.Poll32(regInterrupt, intWrReady, intWrReady, 100*time.Millisecond) {
			return errors.New("sdhci: card never signalled write ready")
		}

		for w := 0; w < blockSize/4; w++ {
			off := b*blockSize + w*4
			v := uint32(buf[off]) | uint32(buf[off+1])<<8 |
				uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
			c.regs.Write32(regData, v)
		}

		c.regs.Write32(regInterrupt, intWrReady|intDataDone)
	}

	return nil
}

func (c *Controller) Flush() error {
	return nil
}

func (c *Controller) checkAccess(lba uint64, n int) error {
	if n%blockSize != 0 {
		return fmt.Errorf("sdhci: buffer length %d is not block aligned", n)
	}
	if lba+uint64(n/blockSize) > c.NumBlocks() {
		return fmt.Errorf("sdhci: access beyond card capacity at block %d", lba)
	}
	return nil
}

// Probe binds the controller at its board-configured register range.
type Probe struct {
	devscan.NoMatch
	capacity uint64
}

// NewProbe reads sdhci.capacity from config; the boot card size is a board
// constant here, card identification is left to the block subsystem.
func NewProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{capacity: uint64(c.GetSize("sdhci.capacity", 1<<30))}
}

func (p *Probe) ProbeMMIO(env *devscan.Env, base, size uintptr) *devscan.Handle {
	regs, err := env.DMA.MapRegisters(dma.PhysAddr(base), int(size))
	if err != nil {
		env.L.WithError(err).WithField("base", base).Debug("sdhci: could not map register range")
		return nil
	}

	ctrl, err := Init(env.DMA, regs, p.capacity)
	if err != nil {
		env.L.WithError(err).Error("sdhci: failed to initialize controller")
		env.DMA.UnmapRegisters(regs)
		return nil
	}

	return devscan.FromBlock(ctrl)
}
