package devscan

import (
	"fmt"

	"github.com/driftos/devscan/config"
	"github.com/sirupsen/logrus"
)

// MMIORegion is one board-configured fixed register range and the driver
// family expected to live there. Regions are constants of the board, not
// discovered at runtime.
type MMIORegion struct {
	Base  uintptr
	Size  uintptr
	Owner string
}

func (r MMIORegion) String() string {
	return fmt.Sprintf("%#x+%#x (%s)", r.Base, r.Size, r.Owner)
}

// Board is the static hardware description discovery runs against.
type Board struct {
	MMIO []MMIORegion
	PCI  bool
}

// NewBoardFromConfig parses the board description:
//
//	pci:
//	  enabled: true
//	mmio:
//	  - base: 0x10001000
//	    size: 0x1000
//	    owner: virtio
func NewBoardFromConfig(l *logrus.Logger, c *config.C) (*Board, error) {
	b := &Board{
		PCI: c.GetBool("pci.enabled", true),
	}

	raw := c.Get("mmio")
	if raw == nil {
		return b, nil
	}

	regions, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("mmio should be a list, got %T", raw)
	}

	for i, rr := range regions {
		m, ok := rr.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("mmio entry %d should be a map, got %T", i, rr)
		}

		base, err := config.AsUintptr(m["base"])
		if err != nil {
			return nil, fmt.Errorf("mmio entry %d has an invalid base: %w", i, err)
		}

		size, err := config.AsSize(m["size"])
		if err != nil {
			return nil, fmt.Errorf("mmio entry %d has an invalid size: %w", i, err)
		}
		if size == 0 {
			return nil, fmt.Errorf("mmio entry %d has a zero size", i)
		}

		owner := ""
		if o, ok := m["owner"]; ok {
			owner = fmt.Sprintf("%v", o)
		}

		region := MMIORegion{Base: base, Size: size, Owner: owner}
		b.MMIO = append(b.MMIO, region)
		l.WithField("region", region.String()).Debug("Board MMIO region")
	}

	return b, nil
}
