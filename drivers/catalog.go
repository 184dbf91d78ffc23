// Package drivers assembles the catalog of driver families compiled into
// this build. Which entries are active, and in what priority order, comes
// from the drivers block of the board configuration.
package drivers

import (
	"github.com/driftos/devscan"
	"github.com/driftos/devscan/drivers/igb"
	"github.com/driftos/devscan/drivers/ixgbe"
	"github.com/driftos/devscan/drivers/ramdisk"
	"github.com/driftos/devscan/drivers/sdhci"
	"github.com/driftos/devscan/drivers/virtio"
)

// Catalog returns every driver this build knows, keyed by config name.
func Catalog() map[string]devscan.CatalogEntry {
	return map[string]devscan.CatalogEntry{
		"ixgbe":      {Class: devscan.Net, Build: ixgbe.NewProbe},
		"igb":        {Class: devscan.Net, Build: igb.NewProbe},
		"virtio-net": {Class: devscan.Net, Build: virtio.NewNetProbe},

		"ramdisk":    {Class: devscan.Block, Build: ramdisk.NewProbe},
		"virtio-blk": {Class: devscan.Block, Build: virtio.NewBlockProbe},
		"sdhci":      {Class: devscan.Block, Build: sdhci.NewProbe},

		"virtio-gpu": {Class: devscan.Display, Build: virtio.NewGPUProbe},
	}
}
