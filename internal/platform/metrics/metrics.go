package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-level Prometheus metrics for the application.
type Metrics struct {
	BuildInfo *prometheus.GaugeVec
	// Export lag in records between the ledger head and the export cursor
	ExportLag prometheus.Gauge
}

// New creates and registers the process-level metrics.
func New(version string) *Metrics {
	m := &Metrics{
		BuildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afterimage_build_info",
			Help: "Build information, value is always 1",
		}, []string{"version"}),
		ExportLag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "afterimage_export_lag_records",
			Help: "Committed records not yet acknowledged by the export sink",
		}),
	}
	m.BuildInfo.WithLabelValues(version).Set(1)
	return m
}

// SetExportLag records how far the exporter trails the head.
func (m *Metrics) SetExportLag(n uint64) {
	if m != nil {
		m.ExportLag.Set(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
