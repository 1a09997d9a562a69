package otel

import (
	"context"
	"errors"
	"fmt"

	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() recovery.MetricsSnapshot
	AuditDropped() uint64
	AuditTallies() map[string]recovery.AuditTally
}

type observedSeries struct {
	id   recovery.MetricID
	opts []metric.ObserveOption
}

// observedFamily is one counter instrument whose series differ by a single attribute.
type observedFamily struct {
	instrument metric.Int64ObservableCounter
	series     []observedSeries
}

type observedHistogram struct {
	id      recovery.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []observedFamily
	histograms   []observedHistogram
	ratio        metric.Float64ObservableGauge
	auditDropped metric.Int64ObservableCounter
	auditEvents  metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *recovery.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		families:   make([]observedFamily, 0, len(internaldefs.Families)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.Families)+len(internaldefs.HistogramDefs)*9+3)

	for _, f := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(f.Name, metric.WithDescription(f.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", f.Name, err)
		}
		family := observedFamily{instrument: ins}
		for _, series := range f.Series {
			observed := observedSeries{id: series.ID}
			if f.Label != "" {
				observed.opts = []metric.ObserveOption{metric.WithAttributes(attribute.String(f.Label, series.Value))}
			}
			family.series = append(family.series, observed)
		}
		exporter.families = append(exporter.families, family)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	ratio, err := meter.Float64ObservableGauge(
		"recovery_verification_ratio",
		metric.WithDescription("Share of identified users that completed verification."),
	)
	if err != nil {
		return nil, fmt.Errorf("create verification ratio gauge: %w", err)
	}
	exporter.ratio = ratio
	observables = append(observables, ratio)

	auditDropped, err := meter.Int64ObservableCounter(
		"recovery_audit_dropped_total",
		metric.WithDescription("Audit events dropped because the sink buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	auditEvents, err := meter.Int64ObservableCounter(
		"recovery_audit_events_total",
		metric.WithDescription("Audit events by event type and outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit events counter: %w", err)
	}
	exporter.auditEvents = auditEvents
	observables = append(observables, auditEvents)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, f := range exporter.families {
			for _, series := range f.series {
				observer.ObserveInt64(f.instrument, int64(snapshot.Counters[series.id]), series.opts...)
			}
		}
		for _, h := range exporter.histograms {
			nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[h.id])
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			for i := 0; i < len(cumulative); i++ {
				observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		}
		observer.ObserveFloat64(exporter.ratio, internaldefs.Funnel(snapshot).Ratio())
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		for eventType, tally := range exporter.source.AuditTallies() {
			event := attribute.String("event", eventType)
			observer.ObserveInt64(exporter.auditEvents, int64(tally.Emitted), metric.WithAttributes(event, attribute.String("outcome", "emitted")))
			observer.ObserveInt64(exporter.auditEvents, int64(tally.Dropped), metric.WithAttributes(event, attribute.String("outcome", "dropped")))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
