package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsShared(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	if a != b {
		t.Fatal("NewMetrics() returned two instances")
	}

	before := testutil.ToFloat64(a.ResolveTierTotal.WithLabelValues("local", "hit"))
	b.ResolveTierTotal.WithLabelValues("local", "hit").Inc()
	if got := testutil.ToFloat64(a.ResolveTierTotal.WithLabelValues("local", "hit")); got != before+1 {
		t.Errorf("resolve tier counter = %v, want %v", got, before+1)
	}
}

func TestCollectorsAreRegistered(t *testing.T) {
	m := NewMetrics()
	m.IntakeTotal.WithLabelValues("success").Inc()

	n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "witvis_intake_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n == 0 {
		t.Error("witvis_intake_total not exported")
	}
}
