package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() recovery.MetricsSnapshot
	AuditDropped() uint64
	AuditTallies() map[string]recovery.AuditTally
}

// PrometheusExporter renders recovery metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from engine.
func NewPrometheusExporter(engine *recovery.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter over any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format. It returns an
// empty string while metrics are disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, f := range internaldefs.Families {
		writeFamily(&b, f, snapshot.Counters)
	}

	for _, def := range internaldefs.HistogramDefs {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(nonCumulative)
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	funnel := internaldefs.Funnel(snapshot)
	writeHeader(&b, "recovery_verification_ratio", "Share of identified users that completed verification.", "gauge")
	b.WriteString("recovery_verification_ratio ")
	b.WriteString(strconv.FormatFloat(funnel.Ratio(), 'g', -1, 64))
	b.WriteByte('\n')

	writeHeader(&b, "recovery_audit_dropped_total", "Audit events dropped because the sink buffer was full.", "counter")
	b.WriteString("recovery_audit_dropped_total ")
	b.WriteString(strconv.FormatUint(dropped, 10))
	b.WriteByte('\n')

	if tallies := p.source.AuditTallies(); len(tallies) > 0 {
		writeAuditTallies(&b, tallies)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

// writeFamily renders one counter family, one sample per series.
func writeFamily(b *strings.Builder, f internaldefs.Family, counters map[recovery.MetricID]uint64) {
	writeHeader(b, f.Name, f.Help, "counter")
	for _, s := range f.Series {
		b.WriteString(f.Name)
		if f.Label != "" {
			b.WriteByte('{')
			b.WriteString(f.Label)
			b.WriteString("=\"")
			b.WriteString(s.Value)
			b.WriteString("\"}")
		}
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(counters[s.ID], 10))
		b.WriteByte('\n')
	}
}

// writeAuditTallies renders one emitted and one dropped sample per audit event type, sorted
// by event type.
func writeAuditTallies(b *strings.Builder, tallies map[string]recovery.AuditTally) {
	types := make([]string, 0, len(tallies))
	for t := range tallies {
		types = append(types, t)
	}
	sort.Strings(types)

	const name = "recovery_audit_events_total"
	writeHeader(b, name, "Audit events by event type and outcome.", "counter")
	for _, t := range types {
		for _, sample := range []struct {
			outcome string
			value   uint64
		}{
			{"emitted", tallies[t].Emitted},
			{"dropped", tallies[t].Dropped},
		} {
			b.WriteString(name)
			b.WriteString("{event=\"")
			b.WriteString(t)
			b.WriteString("\",outcome=\"")
			b.WriteString(sample.outcome)
			b.WriteString("\"} ")
			b.WriteString(strconv.FormatUint(sample.value, 10))
			b.WriteByte('\n')
		}
	}
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Snapshots carry bucket counts only.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
