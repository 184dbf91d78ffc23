package igb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
	"github.com/driftos/devscan/test"
)

const (
	modelBase = dma.PhysAddr(0xf7900000)
	modelSize = 0x20000
)

// model answers the registers Init uses: self-clearing reset plus the
// station address.
type model struct {
	regs map[int]uint32
}

func newModel(mac [6]byte) *model {
	return &model{regs: map[int]uint32{
		regRAL: uint32(mac[0]) | uint32(mac[1])<<8 | uint32(mac[2])<<16 | uint32(mac[3])<<24,
		regRAH: uint32(mac[4]) | uint32(mac[5])<<8,
	}}
}

func (m *model) Read32(offset int) uint32 {
	return m.regs[offset]
}

func (m *model) Write32(offset int, v uint32) {
	if offset == regCtrl {
		v &^= ctrlRST
	}
	m.regs[offset] = v
}

func TestProbePCI(t *testing.T) {
	l := test.NewLogger()
	mac := [6]byte{0x00, 0x25, 0x90, 0x01, 0x02, 0x03}
	dev := newModel(mac)

	mem := dma.NewHostMemory()
	mem.AddMMIO(modelBase, modelSize, dev)
	env := &devscan.Env{L: l, DMA: dma.NewAdapter(l, mem)}

	p := &Probe{}
	addr := pcibus.Addr{Bus: 0, Device: 5, Function: 0}
	info := &pcibus.FunctionInfo{VendorID: IntelVendor, DeviceID: Dev82576}
	memBar := pcibus.MemoryBar{Address: uint64(modelBase), Size: modelSize}

	assert.Nil(t, p.ProbePCI(env, addr, &pcibus.FunctionInfo{VendorID: IntelVendor, DeviceID: 0x10c8}, memBar))
	assert.Nil(t, p.ProbePCI(env, addr, info, pcibus.IOBar{Port: 0xd000, Size: 0x20}))

	h := p.ProbePCI(env, addr, info, memBar)
	require.NotNil(t, h)

	nic := h.Net()
	assert.Equal(t, "igb", nic.DeviceName())
	assert.Equal(t, mac, nic.MACAddress())

	// Rings are programmed during Init.
	assert.Equal(t, uint32(queueSize*descBytes), dev.regs[regRDLEN])
	assert.Equal(t, uint32(queueSize*descBytes), dev.regs[regTDLEN])

	require.NoError(t, nic.Send([]byte{1, 2, 3}))
	assert.Equal(t, uint32(1), dev.regs[regTDT])

	got, err := nic.Receive()
	require.NoError(t, err)
	assert.Nil(t, got)
}
