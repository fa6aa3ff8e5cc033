package device

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// PrometheusMetrics implements MetricHook using Prometheus counters.
var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	dispatcherStarted   *prometheus.CounterVec
	dispatcherStopped   *prometheus.CounterVec
	clearDowns          *prometheus.CounterVec
	clearDownIterations *prometheus.CounterVec
	eventsFired         *prometheus.CounterVec
	groupsMasked        *prometheus.CounterVec
	recordsRouted       *prometheus.CounterVec
	fatalErrors         *prometheus.CounterVec
}

var (
	dispatcherLabelKeys = []string{labelDevice}
	domainLabelKeys     = []string{labelDevice, labelDomain}
	eventLabelKeys      = []string{labelDevice, labelDomain, labelGroup, labelAction}
	groupLabelKeys      = []string{labelDevice, labelDomain, labelGroup}
	routedLabelKeys     = []string{labelDevice, labelOutcome}
	fatalLabelKeys      = []string{labelDevice, labelDomain, labelKind}
)

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		dispatcherStarted:   counter("fabric_errd_dispatcher_started_total", "Number of times the interrupt dispatcher started", dispatcherLabelKeys),
		dispatcherStopped:   counter("fabric_errd_dispatcher_stopped_total", "Number of times the interrupt dispatcher stopped", dispatcherLabelKeys),
		clearDowns:          counter("fabric_errd_clear_downs_total", "Number of error domain clear-downs", domainLabelKeys),
		clearDownIterations: counter("fabric_errd_clear_down_iterations_total", "Number of drain passes across all clear-downs", domainLabelKeys),
		eventsFired:         counter("fabric_errd_events_total", "Number of fault bits fired", eventLabelKeys),
		groupsMasked:        counter("fabric_errd_groups_masked_total", "Number of times runaway bits were masked on a group", groupLabelKeys),
		recordsRouted:       counter("fabric_errd_records_routed_total", "Number of async error records offered to consumers, by outcome", routedLabelKeys),
		fatalErrors:         counter("fabric_errd_fatal_errors_total", "Number of fatal errors escalated", fatalLabelKeys),
	}

	for _, vec := range []**prometheus.CounterVec{
		&p.dispatcherStarted,
		&p.dispatcherStopped,
		&p.clearDowns,
		&p.clearDownIterations,
		&p.eventsFired,
		&p.groupsMasked,
		&p.recordsRouted,
		&p.fatalErrors,
	} {
		registered, err := registerCounterVec(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

func (p *PrometheusMetrics) DispatcherStarted(attrs map[string]string) {
	p.dispatcherStarted.With(labels(attrs, dispatcherLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) DispatcherStopped(attrs map[string]string) {
	p.dispatcherStopped.With(labels(attrs, dispatcherLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ClearDownCompleted(iterations int, attrs map[string]string) {
	labs := labels(attrs, domainLabelKeys...)
	p.clearDowns.With(labs).Inc()
	p.clearDownIterations.With(labs).Add(float64(iterations))
}

func (p *PrometheusMetrics) EventFired(attrs map[string]string) {
	p.eventsFired.With(labels(attrs, eventLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) GroupMasked(attrs map[string]string) {
	p.groupsMasked.With(labels(attrs, groupLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RecordRouted(outcome string, attrs map[string]string) {
	labs := labels(attrs, routedLabelKeys...)
	labs[labelOutcome] = outcome
	p.recordsRouted.With(labs).Inc()
}

func (p *PrometheusMetrics) FatalError(kind string, attrs map[string]string) {
	labs := labels(attrs, fatalLabelKeys...)
	labs[labelKind] = kind
	p.fatalErrors.With(labs).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}

