package device

import (
	"fmt"
	"strings"
)

// Logger provides debug logging hooks for the device.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// LeveledLogger receives fault reports at their severity. *zap.SugaredLogger
// satisfies it.
type LeveledLogger interface {
	Infow(msg string, keyvals ...any)
	Warnw(msg string, keyvals ...any)
	Errorw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to dispatcher spans or events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer creates spans around dispatcher lifecycles.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records dispatcher lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook receives counters from the interrupt path. Implementations must
// not block.
type MetricHook interface {
	DispatcherStarted(attrs map[string]string)
	DispatcherStopped(attrs map[string]string)
	ClearDownCompleted(iterations int, attrs map[string]string)
	EventFired(attrs map[string]string)
	GroupMasked(attrs map[string]string)
	RecordRouted(outcome string, attrs map[string]string)
	FatalError(kind string, attrs map[string]string)
}

const (
	labelDevice  = "device"
	labelDomain  = "domain"
	labelGroup   = "group"
	labelAction  = "action"
	labelOutcome = "outcome"
	labelKind    = "kind"
)

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (d *Device) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+1)
	attrs[labelDevice] = d.cfg.Name
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (d *Device) logDispatcherEvent(event string, fields ...logField) {
	if d == nil {
		return
	}
	if d.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+4)
		kv = append(kv, "event", event, "device", d.cfg.Name)
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		d.structuredLogger.Debugw("error domain dispatcher", kv...)
		return
	}
	if d.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	d.logger.Debugf("%s dispatcher %s", d.cfg.Name, b.String())
}

type level int

const (
	levelInfo level = iota
	levelWarn
	levelError
)

// logFault reports a fault at lvl. Without a leveled logger the report falls
// back to the debug hooks so it is never silently lost when any logger is set.
func (d *Device) logFault(lvl level, msg string, fields ...logField) {
	if d.leveled == nil {
		d.logDispatcherEvent(msg, fields...)
		return
	}
	kv := make([]any, 0, len(fields)*2+2)
	kv = append(kv, "device", d.cfg.Name)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		kv = append(kv, field.key, field.value)
	}
	switch lvl {
	case levelError:
		d.leveled.Errorw(msg, kv...)
	case levelWarn:
		d.leveled.Warnw(msg, kv...)
	default:
		d.leveled.Infow(msg, kv...)
	}
}

func (d *Device) metricDispatcherStarted(fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.DispatcherStarted(d.metricAttrs(fields...))
}

func (d *Device) metricDispatcherStopped(fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.DispatcherStopped(d.metricAttrs(fields...))
}

func (d *Device) metricClearDownCompleted(iterations int, fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.ClearDownCompleted(iterations, d.metricAttrs(fields...))
}

func (d *Device) metricEventFired(fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.EventFired(d.metricAttrs(fields...))
}

func (d *Device) metricGroupMasked(fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.GroupMasked(d.metricAttrs(fields...))
}

func (d *Device) metricRecordRouted(outcome string, fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.RecordRouted(outcome, d.metricAttrs(fields...))
}

func (d *Device) metricFatalError(kind string, fields ...logField) {
	if d == nil || d.metrics == nil {
		return
	}
	d.metrics.FatalError(kind, d.metricAttrs(fields...))
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, attributesFromFields(fields...)...)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func attributesFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.key, Value: field.value})
	}
	return attrs
}
