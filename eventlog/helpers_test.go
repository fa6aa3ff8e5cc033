package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/fabric-errd/device"
	"github.com/rocketbitz/fabric-errd/errdomain"
	"github.com/rocketbitz/fabric-errd/internal/csr"
)

func openSimDevice(t *testing.T, cfg device.Config) (*device.Device, *csr.Sim) {
	t.Helper()
	sim := csr.NewSim()
	for _, d := range errdomain.MustDefault().Domains() {
		for _, g := range d.Groups {
			require.NoError(t, sim.MapErrorBlock(g.Status, g.Clear, g.Force))
		}
	}
	dev, err := device.Open(cfg, sim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev, sim
}
