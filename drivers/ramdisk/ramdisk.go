// Package ramdisk provides a RAM-backed block device. It is conjured by
// configuration rather than discovered on a bus, so it binds during the
// global probing pass.
package ramdisk

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
)

const (
	// DefaultSize matches the historical 16 MiB scratch disk.
	DefaultSize = 16 << 20

	blockSize = 512
)

// Disk is a zero-initialized in-memory block device.
type Disk struct {
	mem []byte
}

// New allocates a disk of the given byte size, rounded down to a whole
// number of blocks.
func New(size int) *Disk {
	if size < blockSize {
		size = blockSize
	}
	return &Disk{mem: make([]byte, size-size%blockSize)}
}

func (d *Disk) DeviceName() string {
	return "ramdisk"
}

func (d *Disk) BlockSize() int {
	return blockSize
}

func (d *Disk) NumBlocks() uint64 {
	return uint64(len(d.mem) / blockSize)
}

func (d *Disk) ReadBlock(lba uint64, buf []byte) error {
	off, err := d.offset(lba, len(buf))
	if err != nil {
		return err
	}
	copy(buf, d.mem[off:])
	return nil
}

func (d *Disk) WriteBlock(lba uint64, buf []byte) error {
	off, err := d.offset(lba, len(buf))
	if err != nil {
		return err
	}
	copy(d.mem[off:], buf)
	return nil
}

// Flush is a no-op, memory is always consistent.
func (d *Disk) Flush() error {
	return nil
}

func (d *Disk) offset(lba uint64, n int) (int, error) {
	if n%blockSize != 0 {
		return 0, fmt.Errorf("ramdisk: buffer length %d is not block aligned", n)
	}
	end := lba*blockSize + uint64(n)
	if end > uint64(len(d.mem)) {
		return 0, fmt.Errorf("ramdisk: access beyond end of disk at block %d", lba)
	}
	return int(lba * blockSize), nil
}

// Probe binds the ramdisk unconditionally during the global pass.
type Probe struct {
	devscan.NoMatch
	size int
}

// NewProbe reads ramdisk.size from config (default 16 MiB).
func NewProbe(l *logrus.Logger, c *config.C) devscan.Prober {
	return &Probe{size: int(c.GetSize("ramdisk.size", DefaultSize))}
}

func (p *Probe) ProbeGlobal(env *devscan.Env) *devscan.Handle {
	d := New(p.size)
	env.L.WithField("blocks", d.NumBlocks()).Debug("Created ramdisk")
	return devscan.FromBlock(d)
}
