package metrics

import (
	"fmt"
	"time"

	"github.com/ha1tch/otkg/pkg/extract"
	"github.com/ha1tch/otkg/pkg/graph"
	"github.com/prometheus/client_golang/prometheus"
)

// Run collects the metrics of one pipeline run
type Run struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	relationships *prometheus.GaugeVec
	rows          *prometheus.GaugeVec
	stage         *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

// NewRun creates a run with its own registry
func NewRun() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otkg_records_total",
			Help: "Source records by entity kind and outcome",
		}, []string{"kind", "outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otkg_extract_cache_hits_total",
			Help: "Input files served from the extraction cache",
		}, []string{"kind"}),
		relationships: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otkg_relationships",
			Help: "Relationships at each assembly step",
		}, []string{"step"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otkg_table_rows",
			Help: "Rows written per output table",
		}, []string{"table"}),
		stage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otkg_stage_duration_seconds",
			Help: "Wall time per pipeline stage",
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "otkg_last_success_timestamp_seconds",
			Help: "Unix time the run completed",
		}),
	}

	r.registry.MustRegister(r.records, r.cacheHits, r.relationships, r.rows, r.stage, r.lastSuccess)
	return r
}

// Registry exposes the run's registry
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveExtraction records the line outcomes of one entity kind
func (r *Run) ObserveExtraction(kind string, s extract.Stats) {
	r.records.WithLabelValues(kind, "accepted").Add(float64(s.Accepted))
	r.records.WithLabelValues(kind, "missing_required").Add(float64(s.MissingRequired))
	r.records.WithLabelValues(kind, "filtered").Add(float64(s.Filtered))
	r.records.WithLabelValues(kind, "malformed").Add(float64(s.Malformed))
	r.cacheHits.WithLabelValues(kind).Add(float64(s.CacheHits))
}

// ObserveAssembly records how many relationships each step kept
func (r *Run) ObserveAssembly(s graph.Stats) {
	r.relationships.WithLabelValues("input").Set(float64(s.Input))
	r.relationships.WithLabelValues("out_of_universe").Set(float64(s.OutOfUniverse))
	r.relationships.WithLabelValues("duplicates").Set(float64(s.Duplicates))
	r.relationships.WithLabelValues("output").Set(float64(s.Output))
}

// SetRows records the row count of an output table
func (r *Run) SetRows(table string, n int) {
	r.rows.WithLabelValues(table).Set(float64(n))
}

// ObserveStage records how long a stage took
func (r *Run) ObserveStage(stage string, d time.Duration) {
	r.stage.WithLabelValues(stage).Set(d.Seconds())
}

// Succeeded stamps the completion time
func (r *Run) Succeeded(at time.Time) {
	r.lastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes the run's metrics in the node_exporter textfile format
func (r *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
