package prometheus

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/studydeck/accounts"
	"github.com/studydeck/accounts/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() accounts.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

func NewPrometheusExporter(engine *accounts.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any snapshot source. Used by
// tests and by processes that aggregate several engines.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" while nothing was recorded.
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
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeHeader(&b, def.Name, def.Help, "counter")
		fmt.Fprintf(&b, "%s %d\n", def.Name, snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHeader(&b, def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			fmt.Fprintf(&b, "%s_bucket{le=%q} %d\n", def.Name, le, buckets[i])
		}
		// snapshots keep bucket counts only
		fmt.Fprintf(&b, "%s_sum 0\n%s_count %d\n", def.Name, def.Name, buckets[len(buckets)-1])
	}

	const droppedName = "accounts_audit_dropped_total"
	writeHeader(&b, droppedName, "Dropped audit events due to dispatcher backpressure.", "counter")
	fmt.Fprintf(&b, "%s %d\n", droppedName, dropped)

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
