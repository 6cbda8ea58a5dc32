package metrics_test

import (
	"testing"

	"github.com/ardanlabs/chainnode/foundation/blockchain/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.SetTip(12, 400)
	m.SetPeers(3)
	m.SetSyncing(true)
	m.Block("stored")
	m.Block("stored")
	m.Penalty("violation", true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Should be able to gather the metrics: %s", err)
	}
	if len(families) == 0 {
		t.Fatalf("Should gather registered metrics.")
	}

	n, err := testutil.GatherAndCount(reg, "chainnode_blocks_total")
	if err != nil {
		t.Fatalf("Should be able to count the block metrics: %s", err)
	}
	if n != 1 {
		t.Logf("got: %d", n)
		t.Logf("exp: %d", 1)
		t.Fatalf("Should have one series for stored blocks.")
	}

	var nilMetrics *metrics.Metrics
	nilMetrics.SetTip(1, 1)
	nilMetrics.Block("stored")
}
