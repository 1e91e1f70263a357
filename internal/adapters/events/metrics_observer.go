package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

var _ ports.ValidationObserver = (*MetricsObserver)(nil)

// MetricsObserver records validation runs as Prometheus series.
type MetricsObserver struct {
	runs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsObserver registers its collectors with reg. A nil reg uses the
// default registerer.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsObserver{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvschema_validations_total",
			Help: "Finished validations by schema and outcome",
		}, []string{"schema", "outcome"}),
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvschema_validated_rows_total",
			Help: "Data rows checked by schema",
		}, []string{"schema"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "csvschema_validation_errors_total",
			Help: "Row errors reported by schema",
		}, []string{"schema"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csvschema_validation_duration_seconds",
			Help:    "Validation wall time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"schema"}),
	}
}

func (o *MetricsObserver) ValidationCompleted(_ context.Context, run domain.ValidationRun) error {
	schema := run.Response.SchemaName
	o.runs.WithLabelValues(schema, string(run.Outcome)).Inc()
	o.rows.WithLabelValues(schema).Add(float64(run.RowsChecked))
	o.errors.WithLabelValues(schema).Add(float64(len(run.Response.Errors)))
	o.duration.WithLabelValues(schema).Observe(run.Duration.Seconds())
	return nil
}
