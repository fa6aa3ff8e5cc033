package device

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/errdomain"
)

func TestOTelMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	base := map[string]string{labelDevice: "hfi2_0"}
	metrics.DispatcherStarted(base)
	metrics.DispatcherStopped(base)

	attrs := map[string]string{
		labelDevice: "hfi2_0",
		labelDomain: "fpc",
		labelGroup:  errdomain.GroupFPC,
		labelAction: errdomain.ActionFPCLinkDown.String(),
	}
	metrics.ClearDownCompleted(2, attrs)
	metrics.EventFired(attrs)
	metrics.GroupMasked(attrs)
	metrics.RecordRouted(asyncerr.OutcomeDroppedFull.String(), attrs)
	metrics.FatalError(FatalNode.String(), attrs)

	ctx := context.Background()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	cases := map[string]float64{
		"fabric_errd.dispatcher.started":    1,
		"fabric_errd.dispatcher.stopped":    1,
		"fabric_errd.clear_downs":           1,
		"fabric_errd.clear_down.iterations": 2,
		"fabric_errd.events":                1,
		"fabric_errd.groups_masked":         1,
		"fabric_errd.records_routed":        1,
		"fabric_errd.fatal_errors":          1,
	}

	for name, want := range cases {
		if got := otelCounterValue(rm, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func otelCounterValue(rm metricdata.ResourceMetrics, name string) float64 {
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				var sum float64
				for _, dp := range data.DataPoints {
					sum += float64(dp.Value)
				}
				return sum
			}
		}
	}
	return 0
}
