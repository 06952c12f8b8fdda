// Package metrics provides the operation counter and gauge sink
// consumed by the configuration service, backed by Prometheus, plus a
// background collector that refreshes configuration gauges from store
// aggregates. Sink failures never fail the enclosing operation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauge names accepted by SetGauge.
const (
	GaugeConfigTotal    = "config_total"
	GaugeConfigVersions = "config_versions_total"
	GaugeLatestVersion  = "config_latest_version"
)

// Sink records operation outcomes and gauge values.
type Sink interface {
	// RecordOperation counts one configuration operation by kind
	// (create, update, rollback, delete) and outcome (success, error).
	RecordOperation(kind, outcome string)

	// SetGauge sets a named gauge with the given label set. Unknown
	// names are ignored.
	SetGauge(name string, labels map[string]string, value float64)
}

// Nop is a Sink that discards everything.
type Nop struct{}

// RecordOperation discards the observation.
func (Nop) RecordOperation(string, string) {}

// SetGauge discards the observation.
func (Nop) SetGauge(string, map[string]string, float64) {}

// Prometheus implements Sink using prometheus/client_golang.
type Prometheus struct {
	operations *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheus creates a Prometheus sink registered on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_config_operations_total",
				Help: "Total configuration operations by kind and outcome",
			},
			[]string{"operation", "status"},
		),
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shepherd_webhook_deliveries_total",
				Help: "Total webhook delivery outcomes by subscriber URL",
			},
			[]string{"url", "status"},
		),
		gauges: map[string]*prometheus.GaugeVec{
			GaugeConfigTotal: factory.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "shepherd_config_total",
					Help: "Number of configurations by application and environment",
				},
				[]string{"app_name", "environment"},
			),
			GaugeConfigVersions: factory.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "shepherd_config_versions_total",
					Help: "Number of stored versions per configuration",
				},
				[]string{"config_id"},
			),
			GaugeLatestVersion: factory.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "shepherd_config_latest_version",
					Help: "Latest version number per configuration",
				},
				[]string{"config_id"},
			),
		},
	}
}

// RecordOperation counts one operation outcome.
func (p *Prometheus) RecordOperation(kind, outcome string) {
	p.operations.WithLabelValues(kind, outcome).Inc()
}

// RecordDelivery counts one webhook delivery outcome.
func (p *Prometheus) RecordDelivery(url, outcome string) {
	p.deliveries.WithLabelValues(url, outcome).Inc()
}

// SetGauge sets a named gauge. Unknown names are ignored.
func (p *Prometheus) SetGauge(name string, labels map[string]string, value float64) {
	if g, ok := p.gauges[name]; ok {
		g.With(labels).Set(value)
	}
}

// Verify interface compliance.
var (
	_ Sink = (*Prometheus)(nil)
	_ Sink = Nop{}
)
