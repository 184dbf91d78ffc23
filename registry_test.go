package devscan

import (
	"testing"

	"github.com/driftos/devscan/config"
	"github.com/driftos/devscan/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	NoMatch
}

func stubBuilder(l *logrus.Logger, c *config.C) Prober {
	return &stubProber{}
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	r.Register(Net, "first", &stubProber{})
	r.Register(Net, "second", &stubProber{})
	r.Register(Block, "third", &stubProber{})
	r.Build()

	entries := r.Entries(Net)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Name)
	assert.Equal(t, "second", entries[1].Name)

	assert.Equal(t, 2, r.Len(Net))
	assert.Equal(t, 1, r.Len(Block))
	assert.Equal(t, 0, r.Len(Display))
}

func TestRegistry_RegisterAfterBuildPanics(t *testing.T) {
	r := NewRegistry().Build()
	assert.Panics(t, func() {
		r.Register(Net, "late", &stubProber{})
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("drivers:\n  net: [b, a]\n  block: [d]"))

	catalog := map[string]CatalogEntry{
		"a": {Class: Net, Build: stubBuilder},
		"b": {Class: Net, Build: stubBuilder},
		"d": {Class: Block, Build: stubBuilder},
	}

	r, err := NewRegistryFromConfig(l, c, catalog)
	require.NoError(t, err)

	// config order, not catalog order
	entries := r.Entries(Net)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Name)
	assert.Equal(t, "a", entries[1].Name)
	assert.Equal(t, 1, r.Len(Block))
}

func TestNewRegistryFromConfig_UnknownDriver(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("drivers:\n  net: [nope]"))

	_, err := NewRegistryFromConfig(l, c, map[string]CatalogEntry{})
	assert.Error(t, err)
}

func TestNewRegistryFromConfig_WrongClass(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("drivers:\n  block: [a]"))

	catalog := map[string]CatalogEntry{
		"a": {Class: Net, Build: stubBuilder},
	}

	_, err := NewRegistryFromConfig(l, c, catalog)
	assert.Error(t, err)
}

func TestNewRegistryFromConfig_EmptyConfig(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)
	require.NoError(t, c.LoadString("logging:\n  level: info"))

	r, err := NewRegistryFromConfig(l, c, map[string]CatalogEntry{})
	require.NoError(t, err)
	for _, class := range Classes() {
		assert.Zero(t, r.Len(class))
	}
}
