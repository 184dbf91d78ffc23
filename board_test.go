package devscan

import (
	"testing"

	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBoardFromConfig(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString(`
pci:
  enabled: false
mmio:
  - base: 0x10001000
    size: 0x1000
    owner: virtio
  - base: 0x3f300000
    size: 0x100
`))

	b, err := NewBoardFromConfig(l, c)
	require.NoError(t, err)

	assert.False(t, b.PCI)
	require.Len(t, b.MMIO, 2)
	assert.Equal(t, MMIORegion{Base: 0x10001000, Size: 0x1000, Owner: "virtio"}, b.MMIO[0])
	assert.Equal(t, MMIORegion{Base: 0x3f300000, Size: 0x100}, b.MMIO[1])
}

func TestNewBoardFromConfig_Defaults(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("logging:\n  level: info"))

	b, err := NewBoardFromConfig(l, c)
	require.NoError(t, err)
	assert.True(t, b.PCI)
	assert.Empty(t, b.MMIO)
}

func TestNewBoardFromConfig_Invalid(t *testing.T) {
	l := test.NewLogger()

	for _, raw := range []string{
		"mmio: notalist",
		"mmio:\n  - notamap",
		"mmio:\n  - base: bogus\n    size: 0x100",
		"mmio:\n  - base: 0x1000\n    size: bogus",
		"mmio:\n  - base: 0x1000\n    size: 0",
	} {
		c := config.NewC(l)
		require.NoError(t, c.LoadString(raw))
		_, err := NewBoardFromConfig(l, c)
		assert.Error(t, err, "expected %q to fail", raw)
	}
}

func TestMMIORegion_OwnedBy(t *testing.T) {
	anyone := MMIORegion{Base: 0x1000, Size: 0x100}
	assert.True(t, anyone.ownedBy("sdhci"))
	assert.True(t, anyone.ownedBy("virtio-net"))

	virtio := MMIORegion{Base: 0x1000, Size: 0x100, Owner: "virtio"}
	assert.True(t, virtio.ownedBy("virtio"))
	assert.True(t, virtio.ownedBy("virtio-net"))
	assert.True(t, virtio.ownedBy("virtio-blk"))
	assert.False(t, virtio.ownedBy("sdhci"))
	assert.False(t, virtio.ownedBy("virtiox"))
}
