package pcibus

import (
	"testing"

	"github.com/driftos/devscan/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cfgKey struct {
	addr Addr
	off  int
}

// fakeConfigSpace emulates enough of a device's configuration space to
// exercise enumeration and BAR sizing: writing all ones to a BAR register
// makes the read-back expose the size mask, any other write restores it.
type fakeConfigSpace struct {
	regs    map[cfgKey]uint32
	barMask map[cfgKey]uint32
}

func newFakeConfigSpace() *fakeConfigSpace {
	return &fakeConfigSpace{
		regs:    make(map[cfgKey]uint32),
		barMask: make(map[cfgKey]uint32),
	}
}

func (f *fakeConfigSpace) Read32(a Addr, off int) uint32 {
	if v, ok := f.regs[cfgKey{a, off}]; ok {
		return v
	}
	return 0xffffffff
}

func (f *fakeConfigSpace) Write32(a Addr, off int, v uint32) {
	k := cfgKey{a, off}
	if mask, sized := f.barMask[k]; sized && v == 0xffffffff {
		f.regs[k] = mask
		return
	}
	f.regs[k] = v
}

func (f *fakeConfigSpace) addFunction(a Addr, vendor, device uint16, multifunc bool) {
	f.regs[cfgKey{a, cfgVendorID}] = uint32(device)<<16 | uint32(vendor)
	f.regs[cfgKey{a, cfgClassCode}] = 0x02000001
	ht := uint32(0)
	if multifunc {
		ht = uint32(headerMultifunc) << 16
	}
	f.regs[cfgKey{Addr{a.Bus, a.Device, 0}, cfgHeaderType}] = ht
	f.regs[cfgKey{a, cfgHeaderType}] = ht
}

func (f *fakeConfigSpace) addBar(a Addr, index int, value, sizeMask uint32) {
	k := cfgKey{a, cfgBar0 + index*4}
	f.regs[k] = value
	f.barMask[k] = sizeMask
}

func TestConfigRoot_Walk(t *testing.T) {
	l := test.NewLogger()
	cs := newFakeConfigSpace()
	cs.addFunction(Addr{0, 2, 0}, 0x8086, 0x10fb, false)
	cs.addFunction(Addr{0, 3, 0}, 0x1af4, 0x1041, true)
	cs.addFunction(Addr{0, 3, 1}, 0x1af4, 0x1001, true)

	root := NewConfigRoot(l, cs)

	var seen []Addr
	root.Walk(func(a Addr, info *FunctionInfo) bool {
		seen = append(seen, a)
		return true
	})
	assert.Equal(t, []Addr{{0, 2, 0}, {0, 3, 0}, {0, 3, 1}}, seen)

	// function 1 of a single-function device is never visited
	root.Walk(func(a Addr, info *FunctionInfo) bool {
		assert.NotEqual(t, Addr{0, 2, 1}, a)
		return true
	})

	// visitor can stop the walk early
	seen = nil
	root.Walk(func(a Addr, info *FunctionInfo) bool {
		seen = append(seen, a)
		return false
	})
	assert.Len(t, seen, 1)
}

func TestConfigRoot_WalkInfo(t *testing.T) {
	l := test.NewLogger()
	cs := newFakeConfigSpace()
	cs.addFunction(Addr{0, 2, 0}, 0x8086, 0x10fb, false)

	root := NewConfigRoot(l, cs)
	root.Walk(func(a Addr, info *FunctionInfo) bool {
		assert.Equal(t, uint16(0x8086), info.VendorID)
		assert.Equal(t, uint16(0x10fb), info.DeviceID)
		assert.Equal(t, uint8(0x02), info.Class)
		assert.Equal(t, uint8(0x00), info.Subclass)
		assert.Equal(t, uint8(0x01), info.Revision)
		return true
	})
}

func TestConfigRoot_BarInfoMemory32(t *testing.T) {
	l := test.NewLogger()
	cs := newFakeConfigSpace()
	a := Addr{0, 2, 0}
	cs.addFunction(a, 0x8086, 0x10fb, false)
	cs.addBar(a, 0, 0xfebd0000, 0xffffc000)

	root := NewConfigRoot(l, cs)
	bar, err := root.BarInfo(a, 0)
	require.NoError(t, err)

	mem, ok := bar.(MemoryBar)
	require.True(t, ok)
	assert.Equal(t, uint64(0xfebd0000), mem.Address)
	assert.Equal(t, uint64(0x4000), mem.Size)
	assert.False(t, mem.Is64Bit)
	assert.False(t, mem.Prefetchable)

	// sizing must restore the original register contents
	assert.Equal(t, uint32(0xfebd0000), cs.Read32(a, cfgBar0))
}

func TestConfigRoot_BarInfoMemory64(t *testing.T) {
	l := test.NewLogger()
	cs := newFakeConfigSpace()
	a := Addr{0, 2, 0}
	cs.addFunction(a, 0x8086, 0x10fb, false)
	cs.addBar(a, 0, 0xd000000c, 0xff00000c)
	cs.addBar(a, 1, 0x00000001, 0xffffffff)

	root := NewConfigRoot(l, cs)
	bar, err := root.BarInfo(a, 0)
	require.NoError(t, err)

	mem, ok := bar.(MemoryBar)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1d0000000), mem.Address)
	assert.Equal(t, uint64(0x1000000), mem.Size)
	assert.True(t, mem.Is64Bit)
	assert.True(t, mem.Prefetchable)
}

func TestConfigRoot_BarInfoIO(t *testing.T) {
	l := test.NewLogger()
	cs := newFakeConfigSpace()
	a := Addr{0, 4, 0}
	cs.addFunction(a, 0x8086, 0x100e, false)
	cs.addBar(a, 0, 0x0000c001, 0xffffffe1)

	root := NewConfigRoot(l, cs)
	bar, err := root.BarInfo(a, 0)
	require.NoError(t, err)

	io, ok := bar.(IOBar)
	require.True(t, ok)
	assert.Equal(t, uint32(0xc000), io.Port)
	assert.Equal(t, uint32(0x20), io.Size)
}

func TestConfigRoot_BarInfoRange(t *testing.T) {
	l := test.NewLogger()
	root := NewConfigRoot(l, newFakeConfigSpace())

	_, err := root.BarInfo(Addr{}, -1)
	assert.Error(t, err)
	_, err = root.BarInfo(Addr{}, 6)
	assert.Error(t, err)
}

func TestStaticRoot(t *testing.T) {
	fn := StaticFunction{
		Addr: Addr{0, 2, 0},
		Info: FunctionInfo{VendorID: 0x8086, DeviceID: 0x10d3},
	}
	fn.Bars[0] = MemoryBar{Address: 0xfebd0000, Size: 0x4000}

	root := NewStaticRoot(fn)

	count := 0
	root.Walk(func(a Addr, info *FunctionInfo) bool {
		count++
		assert.Equal(t, fn.Addr, a)
		assert.Equal(t, uint16(0x10d3), info.DeviceID)
		return true
	})
	assert.Equal(t, 1, count)

	bar, err := root.BarInfo(fn.Addr, 0)
	require.NoError(t, err)
	assert.Equal(t, MemoryBar{Address: 0xfebd0000, Size: 0x4000}, bar)

	_, err = root.BarInfo(fn.Addr, 1)
	assert.Error(t, err)
	_, err = root.BarInfo(Addr{1, 0, 0}, 0)
	assert.Error(t, err)
}

func TestAddrString(t *testing.T) {
	assert.Equal(t, "00:02.0", Addr{0, 2, 0}.String())
	assert.Equal(t, "03:1f.7", Addr{3, 31, 7}.String())
}
