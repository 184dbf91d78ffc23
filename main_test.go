package devscan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftos/devscan"
	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/drivers"
	"github.com/driftos/devscan/test"
)

func TestMain_RamdiskOnly(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString(`
logging:
  level: debug
drivers:
  block: [ramdisk]
ramdisk:
  size: 4MiB
pci:
  enabled: false
`))

	found, err := devscan.Main(c, false, "test", l, drivers.Catalog(), nil, dma.NewHostMemory())
	require.NoError(t, err)

	require.Equal(t, 1, found.Len())
	d := found.Handles(devscan.Block)[0].Block()
	assert.Equal(t, uint64((4<<20)/512), d.NumBlocks())
}

func TestMain_ConfigTest(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString(`
drivers:
  block: [ramdisk]
`))

	found, err := devscan.Main(c, true, "test", l, drivers.Catalog(), nil, dma.NewHostMemory())
	require.NoError(t, err)
	assert.Equal(t, 0, found.Len())
}

func TestMain_BadDriverName(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString(`
drivers:
  net: [nosuch]
`))

	_, err := devscan.Main(c, false, "test", l, drivers.Catalog(), nil, dma.NewHostMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry")
}
