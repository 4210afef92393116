package wmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsPacketsSent(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.PacketSent("reliable")
	c.PacketSent("reliable")
	c.PacketSent("volatile")

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, fam := range families {
		if fam.GetName() != "gnet_packets_sent_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(3), total)
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	require.NotPanics(t, func() {
		c.PacketSent("reliable")
		c.PacketReceived("delivered")
		c.PacketRetransmitted()
		c.SetConnectionsByStatus("open", 1)
	})
}
