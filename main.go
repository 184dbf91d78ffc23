package devscan

import (
	"github.com/sirupsen/logrus"

	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/dma"
	"github.com/driftos/devscan/pcibus"
	"github.com/driftos/devscan/util"
)

// Main wires configuration into a full discovery run: logger, stats, board,
// registry, DMA adapter, then the three probing passes. With configTest set
// it validates everything and stops before touching any hardware.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, catalog map[string]CatalogEntry, pciRoot pcibus.Root, mem dma.Memory) (*DeviceSet, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	err = startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.NewContextualError("Failed to start stats emission", nil, err)
	}

	board, err := NewBoardFromConfig(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load board description", nil, err)
	}

	reg, err := NewRegistryFromConfig(l, c, catalog)
	if err != nil {
		return nil, util.NewContextualError("Failed to build driver registry", nil, err)
	}

	if configTest {
		return &DeviceSet{}, nil
	}

	env := &Env{L: l, DMA: dma.NewAdapter(l, mem)}
	return Discover(env, reg, board, pciRoot), nil
}
