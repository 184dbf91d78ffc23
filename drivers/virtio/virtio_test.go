package virtio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
	"github.com/driftos/devscan/test"
)

const slotSize = 0x200

// newSlot builds a virtio register block backed by plain memory. Status
// writes read back as written, which satisfies the FEATURES_OK check, so a
// passive register file is enough to bring a device shell up.
func newSlot(id uint32, cfg ...uint32) []byte {
	mem := make([]byte, slotSize)
	binary.LittleEndian.PutUint32(mem[regMagicValue:], MagicValue)
	binary.LittleEndian.PutUint32(mem[regVersion:], 2)
	binary.LittleEndian.PutUint32(mem[regDeviceID:], id)
	for i, v := range cfg {
		binary.LittleEndian.PutUint32(mem[regConfig+4*i:], v)
	}
	return mem
}

func reg32(mem []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(mem[offset:])
}

func newEnv(base dma.PhysAddr, slot []byte) (*devscan.Env, *dma.HostMemory) {
	l := test.NewLogger()
	mem := dma.NewHostMemory()
	mem.AddMMIO(base, len(slot), dma.NewBytesHandler(slot))
	return &devscan.Env{L: l, DMA: dma.NewAdapter(l, mem)}, mem
}

func TestProbeMMIO_Net(t *testing.T) {
	// MAC 52:54:00:12:34:56 in the first six config bytes.
	slot := newSlot(IDNet, 0x00125452, 0x5634)
	env, _ := newEnv(0x10001000, slot)

	p := NewNetProbe(env.L, nil)
	h := p.ProbeMMIO(env, 0x10001000, slotSize)
	require.NotNil(t, h)
	require.Equal(t, devscan.Net, h.Class())

	d := h.Net()
	assert.Equal(t, "virtio-net", d.DeviceName())
	assert.Equal(t, [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}, d.MACAddress())
	assert.Equal(t, 1500, d.MTU())

	// The status handshake must have reached DRIVER_OK.
	status := reg32(slot, regStatus)
	assert.Equal(t, uint32(statusAck|statusDriver|statusFeaturesOK|statusDriverOK), status)

	// Both queues were placed; the transmit queue was selected last.
	assert.Equal(t, uint32(netTxQueue), reg32(slot, regQueueSel))
	assert.Equal(t, uint32(netQueueSize), reg32(slot, regQueueNum))
	assert.Equal(t, uint32(1), reg32(slot, regQueueReady))
	assert.NotZero(t, reg32(slot, regQueueDescLow))

	require.NoError(t, d.Send([]byte{1, 2, 3}))
	assert.Equal(t, uint32(netTxQueue), reg32(slot, regQueueNotify))

	got, err := d.Receive()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProbeMMIO_SiblingDecline(t *testing.T) {
	// A block device in the slot: the net probe must decline and release
	// the window so the block probe can claim it afterwards.
	slot := newSlot(IDBlock, 2048, 0)
	env, _ := newEnv(0x10002000, slot)

	netProbe := NewNetProbe(env.L, nil)
	assert.Nil(t, netProbe.ProbeMMIO(env, 0x10002000, slotSize))

	blkProbe := NewBlockProbe(env.L, nil)
	h := blkProbe.ProbeMMIO(env, 0x10002000, slotSize)
	require.NotNil(t, h)

	d := h.Block()
	assert.Equal(t, "virtio-blk", d.DeviceName())
	assert.Equal(t, 512, d.BlockSize())
	assert.Equal(t, uint64(2048), d.NumBlocks())
}

func TestProbeMMIO_EmptyOrForeignSlot(t *testing.T) {
	env, _ := newEnv(0x10003000, newSlot(0))
	p := NewNetProbe(env.L, nil)

	// Empty slot, id 0.
	assert.Nil(t, p.ProbeMMIO(env, 0x10003000, slotSize))

	// Not a virtio slot at all.
	garbage := make([]byte, slotSize)
	env2, _ := newEnv(0x10004000, garbage)
	assert.Nil(t, p.ProbeMMIO(env2, 0x10004000, slotSize))
}

func TestProbePCI(t *testing.T) {
	slot := newSlot(IDBlock, 4096, 0)
	env, _ := newEnv(0xfe000000, slot)

	p := NewBlockProbe(env.L, nil)
	addr := pcibus.Addr{Bus: 0, Device: 6, Function: 0}
	memBar := pcibus.MemoryBar{Address: 0xfe000000, Size: slotSize}

	// Wrong vendor never matches.
	assert.Nil(t, p.ProbePCI(env, addr, &pcibus.FunctionInfo{VendorID: 0x8086, DeviceID: 0x1001}, memBar))

	// Legacy I/O transport is declined.
	info := &pcibus.FunctionInfo{VendorID: PCIVendor, DeviceID: 0x1001}
	assert.Nil(t, p.ProbePCI(env, addr, info, pcibus.IOBar{Port: 0xc000, Size: 0x20}))

	h := p.ProbePCI(env, addr, info, memBar)
	require.NotNil(t, h)
	assert.Equal(t, uint64(4096), h.Block().NumBlocks())
}

func TestProbePCI_ModernID(t *testing.T) {
	slot := newSlot(IDGPU)
	env, _ := newEnv(0xfd000000, slot)

	p := NewGPUProbe(env.L, nil)
	addr := pcibus.Addr{Bus: 0, Device: 7, Function: 0}
	info := &pcibus.FunctionInfo{VendorID: PCIVendor, DeviceID: 0x1040 + IDGPU}

	h := p.ProbePCI(env, addr, info, pcibus.MemoryBar{Address: 0xfd000000, Size: slotSize})
	require.NotNil(t, h)

	d := h.Display()
	assert.Equal(t, "virtio-gpu", d.DeviceName())
	w, hgt := d.Resolution()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, hgt)
	assert.Len(t, d.Framebuffer(), 1024*768*4)

	require.NoError(t, d.Present())
	assert.Equal(t, uint32(gpuControlQueue), reg32(slot, regQueueNotify))
}

func TestPCIDeviceType(t *testing.T) {
	assert.Equal(t, uint32(IDNet), pciDeviceType(0x1000))
	assert.Equal(t, uint32(IDBlock), pciDeviceType(0x1001))
	assert.Equal(t, uint32(IDNet), pciDeviceType(0x1041))
	assert.Equal(t, uint32(IDGPU), pciDeviceType(0x1050))
	assert.Equal(t, uint32(0), pciDeviceType(0x1002))
	assert.Equal(t, uint32(0), pciDeviceType(0x1080))
}

func TestBlockDevice_AccessChecks(t *testing.T) {
	slot := newSlot(IDBlock, 16, 0)
	env, _ := newEnv(0x10005000, slot)

	h := NewBlockProbe(env.L, nil).ProbeMMIO(env, 0x10005000, slotSize)
	require.NotNil(t, h)
	d := h.Block()

	buf := make([]byte, 512)
	require.NoError(t, d.ReadBlock(0, buf))
	require.NoError(t, d.WriteBlock(15, buf))
	require.NoError(t, d.Flush())

	assert.Error(t, d.ReadBlock(0, make([]byte, 100)))
	assert.Error(t, d.WriteBlock(16, buf))
}

func TestQueueLayout(t *testing.T) {
	slot := newSlot(IDNet)
	env, mem := newEnv(0x10006000, slot)

	regs, err := env.DMA.MapRegisters(0x10006000, slotSize)
	require.NoError(t, err)
	tr, err := newMMIOTransport(regs)
	require.NoError(t, err)

	q, err := newQueue(env.DMA, tr, 0, 8)
	require.NoError(t, err)

	// Used ring starts aligned, after descriptors and the available ring.
	assert.Equal(t, 0, q.descOff)
	assert.Equal(t, 8*descSize, q.availOff)
	assert.Equal(t, align(8*descSize+availHeader+2*8, usedAlign), q.usedOff)
	assert.Equal(t, q.usedOff%usedAlign, 0)

	q.release()
	assert.Equal(t, 0, mem.OutstandingBytes())
}
