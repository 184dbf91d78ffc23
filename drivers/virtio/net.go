package virtio

import (
	"fmt"

	"github.com/driftos/devscan/dma"
)

const (
	netRxQueue = 0
	netTxQueue = 1

	netQueueSize = 256
	netMTU       = 1500
)

// NetDevice is a bound virtio network device.
type NetDevice struct {
	t   transport
	rx  *queue
	tx  *queue
	mac [6]byte
}

func newNetDevice(t transport, hal *dma.Adapter) (*NetDevice, error) {
	d := &NetDevice{t: t}

	var err error
	if d.rx, err = newQueue(hal, t, netRxQueue, netQueueSize); err != nil {
		return nil, err
	}
	if d.tx, err = newQueue(hal, t, netTxQueue, netQueueSize); err != nil {
		d.rx.release()
		return nil, err
	}

	// The MAC is the first six bytes of device configuration.
	lo := t.ReadConfig32(0)
	hi := t.ReadConfig32(4)
	d.mac = [6]byte{
		byte(lo), byte(lo >> 8), byte(lo >> 16), byte(lo >> 24),
		byte(hi), byte(hi >> 8),
	}

	return d, nil
}

func (d *NetDevice) DeviceName() string {
	return "virtio-net"
}

func (d *NetDevice) MACAddress() [6]byte {
	return d.mac
}

func (d *NetDevice) MTU() int {
	return netMTU
}

// Send places the frame on the transmit queue and notifies the device.
func (d *NetDevice) Send(frame []byte) error {
	if len(frame) > netMTU+14 {
		return fmt.Errorf("virtio-net: oversized frame of %d bytes", len(frame))
	}

	mem := d.tx.hal.Bytes(d.tx.mem)
	copy(mem[d.tx.descOff:], frame)
	d.t.Notify(netTxQueue)
	return nil
}

// Receive reports no pending frames; the receive path is armed by the
// device-management subsystem after discovery.
func (d *NetDevice) Receive() ([]byte, error) {
	return nil, nil
}
