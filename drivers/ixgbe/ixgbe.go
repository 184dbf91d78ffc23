// Package ixgbe drives Intel 82599 10 Gb network controllers. The device is
// discovered on the PCI bus and requires a memory-mapped BAR0: descriptor
// rings live in coherent DMA memory and the hardware reads them by bus
// address.
package ixgbe

import (
	"errors"
	"fmt"
	"time"

	"github.com/driftos/devscan/dma"
)

const (
	IntelVendor = 0x8086
	Dev82599    = 0x10fb
)

// Register offsets, 82599 datasheet section 8.2.
const (
	regCtrl   = 0x00000
	regStatus = 0x00008
	regEEC    = 0x10010
	regRDBAL  = 0x01000
	regRDBAH  = 0x01004
	regRDLEN  = 0x01008
	regRDT    = 0x01018
	regTDBAL  = 0x06000
	regTDBAH  = 0x06004
	regTDLEN  = 0x06008
	regTDT    = 0x06018
	regRAL    = 0x0a200
	regRAH    = 0x0a204
)

const (
	ctrlLRST = 1 << 3  // link reset
	ctrlRST  = 1 << 26 // global device reset, self-clearing
	eecARD   = 1 << 9  // EEPROM auto-read done
)

const (
	// One queue of 1024 descriptors each way, 16 bytes per descriptor.
	queueSize = 1024
	descBytes = 16
	frameSize = 2048
	mtu       = 1500
)

var errResetTimeout = errors.New("ixgbe: device did not leave reset")

// NIC is a bound 82599. It owns its register window and two descriptor
// rings for the nic's single enabled queue.
type NIC struct {
	regs *dma.RegisterWindow
	hal  *dma.Adapter

	rxRing dma.Buf
	txRing dma.Buf

	rxBufs dma.Buf
	txBufs dma.Buf

	txTail uint32
	rxTail uint32

	mac [6]byte
}

// Init resets the device, waits for it to reach ready state and sets up the
// descriptor rings. A device that never becomes ready is a fatal
// initialization failure for this slot.
func Init(hal *dma.Adapter, regs *dma.RegisterWindow) (*NIC, error) {
	n := &NIC{regs: regs, hal: hal}

	// Global reset; the bit self-clears when the device is done.
	regs.SetBits32(regCtrl, ctrlRST|ctrlLRST)
	if err := hal.WaitUntil(time.Millisecond); err != nil {
		return nil, err
	}
	if !regs.Poll32(regCtrl, ctrlRST, 0, 100*time.Millisecond) {
		return nil, errResetTimeout
	}

	// EEPROM contents must have been auto-loaded before the MAC address is
	// readable.
	if !regs.Poll32(regEEC, eecARD, eecARD, 100*time.Millisecond) {
		return nil, errors.New("ixgbe: EEPROM auto-read never finished")
	}

	ral := regs.Read32(regRAL)
	rah := regs.Read32(regRAH)
	n.mac = [6]byte{
		byte(ral), byte(ral >> 8), byte(ral >> 16), byte(ral >> 24),
		byte(rah), byte(rah >> 8),
	}

	if err := n.setupRings(); err != nil {
		n.releaseRings()
		return nil, err
	}

	return n, nil
}

func (n *NIC) setupRings() error {
	ringBytes := queueSize * descBytes

	n.rxRing = n.hal.AllocCoherent(ringBytes)
	n.txRing = n.hal.AllocCoherent(ringBytes)
	n.rxBufs = n.hal.AllocCoherent(queueSize * frameSize)
	n.txBufs = n.hal.AllocCoherent(queueSize * frameSize)
	if !n.rxRing.Valid() || !n.txRing.Valid() || !n.rxBufs.Valid() || !n.txBufs.Valid() {
		return errors.New("ixgbe: coherent ring allocation failed")
	}

	// Point each descriptor at its frame buffer by bus address.
	rx := n.hal.Bytes(n.rxRing)
	tx := n.hal.Bytes(n.txRing)
	for i := 0; i < queueSize; i++ {
		putDescAddr(rx[i*descBytes:], uint64(n.rxBufs.Bus)+uint64(i*frameSize))
		putDescAddr(tx[i*descBytes:], uint64(n.txBufs.Bus)+uint64(i*frameSize))
	}

	n.regs.Write32(regRDBAL, uint32(n.rxRing.Bus))
	n.regs.Write32(regRDBAH, uint32(n.rxRing.Bus>>32))
	n.regs.Write32(regRDLEN, uint32(ringBytes))
	n.regs.Write32(regTDBAL, uint32(n.txRing.Bus))
	n.regs.Write32(regTDBAH, uint32(n.txRing.Bus>>32))
	n.regs.Write32(regTDLEN, uint32(ringBytes))

	return nil
}

func (n *NIC) releaseRings() {
	for _, b := range []dma.Buf{n.rxRing, n.txRing, n.rxBufs, n.txBufs} {
		if b.Valid() {
			n.hal.FreeCoherent(b)
		}
	}
	n.rxRing, n.txRing, n.rxBufs, n.txBufs = dma.Buf{}, dma.Buf{}, dma.Buf{}, dma.Buf{}
}

func (n *NIC) DeviceName() string {
	return "ixgbe"
}

func (n *NIC) MACAddress() [6]byte {
	return n.mac
}

func (n *NIC) MTU() int {
	return mtu
}

// Send copies the frame into the next transmit slot and advances the tail
// register so the hardware picks it up.
func (n *NIC) Send(frame []byte) error {
	if len(frame) > frameSize {
		return fmt.Errorf("ixgbe: frame of %d bytes exceeds buffer size", len(frame))
	}

	slot := n.txTail % queueSize
	bufs := n.hal.Bytes(n.txBufs)
	copy(bufs[int(slot)*frameSize:], frame)

	desc := n.hal.Bytes(n.txRing)[slot*descBytes:]
	putDescLen(desc, uint16(len(frame)))

	n.txTail++
	n.regs.Write32(regTDT, n.txTail%queueSize)
	return nil
}

// Receive returns the frame in the next receive slot, or nil when the
// hardware has not filled it yet.
func (n *NIC) Receive() ([]byte, error) {
	slot := n.rxTail % queueSize
	desc := n.hal.Bytes(n.rxRing)[slot*descBytes:]

	length := descLen(desc)
	if length == 0 {
		return nil, nil
	}
	putDescLen(desc, 0)

	bufs := n.hal.Bytes(n.rxBufs)
	frame := make([]byte, length)
	copy(frame, bufs[int(slot)*frameSize:])

	n.rxTail++
	n.regs.Write32(regRDT, n.rxTail%queueSize)
	return frame, nil
}

// Descriptor layout helpers. Both ring formats start with the 64-bit buffer
// bus address followed by a 16-bit length.
func putDescAddr(desc []byte, addr uint64) {
	for i := 0; i < 8; i++ {
		desc[i] = byte(addr >> (8 * i))
	}
}

func putDescLen(desc []byte, length uint16) {
	desc[8] = byte(length)
	desc[9] = byte(length >> 8)
}

func descLen(desc []byte) uint16 {
	return uint16(desc[8]) | uint16(desc[9])<<8
}
