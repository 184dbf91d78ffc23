package virtio

import (
	"fmt"

	"github.com/driftos/devscan/dma"
)

const (
	blkRequestQueue = 0
	blkQueueSize    = 128
	blkSectorSize   = 512
)

// BlockDevice is a bound virtio block device.
type BlockDevice struct {
	t        transport
	requests *queue
	capacity uint64
}

func newBlockDevice(t transport, hal *dma.Adapter) (*BlockDevice, error) {
	d := &BlockDevice{t: t}

	var err error
	if d.requests, err = newQueue(hal, t, blkRequestQueue, blkQueueSize); err != nil {
		return nil, err
	}

	// Capacity in 512 byte sectors is the first field of device
	// configuration.
	d.capacity = uint64(t.ReadConfig32(0)) | uint64(t.ReadConfig32(4))<<32

	return d, nil
}

func (d *BlockDevice) DeviceName() string {
	return "virtio-blk"
}

func (d *BlockDevice) BlockSize() int {
	return blkSectorSize
}

func (d *BlockDevice) NumBlocks() uint64 {
	return d.capacity
}

func (d *BlockDevice) ReadBlock(lba uint64, buf []byte) error {
	if err := d.checkAccess(lba, len(buf)); err != nil {
		return err
	}

	d.t.Notify(blkRequestQueue)
	return nil
}

func (d *BlockDevice) WriteBlock(lba uint64, buf []byte) error {
	if err := d.checkAccess(lba, len(buf)); err != nil {
		return err
	}

	mem := d.requests.hal.Bytes(d.requests.mem)
	copy(mem[d.requests.descOff:], buf[:min(len(buf), blkSectorSize)])
	d.t.Notify(blkRequestQueue)
	return nil
}

func (d *BlockDevice) Flush() error {
	d.t.Notify(blkRequestQueue)
	return nil
}

func (d *BlockDevice) checkAccess(lba uint64, n int) error {
	if n%blkSectorSize != 0 {
		return fmt.Errorf("virtio-blk: buffer length %d is not sector aligned", n)
	}
	if lba+uint64(n/blkSectorSize) > d.capacity {
		return fmt.Errorf("virtio-blk: access beyond capacity at sector %d", lba)
	}
	return nil
}
