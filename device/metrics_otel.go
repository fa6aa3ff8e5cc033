package device

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter               metric.Meter
	dispatcherStarted   metric.Int64Counter
	dispatcherStopped   metric.Int64Counter
	clearDowns          metric.Int64Counter
	clearDownIterations metric.Int64Counter
	eventsFired         metric.Int64Counter
	groupsMasked        metric.Int64Counter
	recordsRouted       metric.Int64Counter
	fatalErrors         metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/fabric-errd/device"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	o := &OTelMetrics{meter: meter}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&o.dispatcherStarted, "fabric_errd.dispatcher.started", "Interrupt dispatcher starts"},
		{&o.dispatcherStopped, "fabric_errd.dispatcher.stopped", "Interrupt dispatcher stops"},
		{&o.clearDowns, "fabric_errd.clear_downs", "Error domain clear-downs"},
		{&o.clearDownIterations, "fabric_errd.clear_down.iterations", "Drain passes across all clear-downs"},
		{&o.eventsFired, "fabric_errd.events", "Fault bits fired"},
		{&o.groupsMasked, "fabric_errd.groups_masked", "Runaway bit masks applied"},
		{&o.recordsRouted, "fabric_errd.records_routed", "Async error records offered to consumers"},
		{&o.fatalErrors, "fabric_errd.fatal_errors", "Fatal errors escalated"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return o, nil
}

// DispatcherStarted records that the dispatcher loop has started executing.
func (o *OTelMetrics) DispatcherStarted(attrs map[string]string) {
	o.dispatcherStarted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// DispatcherStopped records that the dispatcher loop has exited.
func (o *OTelMetrics) DispatcherStopped(attrs map[string]string) {
	o.dispatcherStopped.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// ClearDownCompleted counts a clear-down and its drain passes.
func (o *OTelMetrics) ClearDownCompleted(iterations int, attrs map[string]string) {
	opt := metric.WithAttributes(otelAttrs(attrs, labelDomain)...)
	o.clearDowns.Add(context.Background(), 1, opt)
	o.clearDownIterations.Add(context.Background(), int64(iterations), opt)
}

// EventFired counts a fired fault bit.
func (o *OTelMetrics) EventFired(attrs map[string]string) {
	o.eventsFired.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelDomain, labelGroup, labelAction)...))
}

// GroupMasked counts a runaway mask.
func (o *OTelMetrics) GroupMasked(attrs map[string]string) {
	o.groupsMasked.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelDomain, labelGroup)...))
}

// RecordRouted counts an async error record by delivery outcome.
func (o *OTelMetrics) RecordRouted(outcome string, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelOutcome, outcome))
	o.recordsRouted.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// FatalError counts an escalated fatal error.
func (o *OTelMetrics) FatalError(kind string, attrs map[string]string) {
	attributes := append(otelAttrs(attrs, labelDomain), attribute.String(labelKind, kind))
	o.fatalErrors.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

func otelAttrs(attrs map[string]string, keys ...string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelDevice, attrs[labelDevice]),
	}
	for _, key := range keys {
		if v := attrs[key]; v != "" {
			kvs = append(kvs, attribute.String(key, v))
		}
	}
	return kvs
}
