// Package metrics exposes sync engine instrumentation through Prometheus.
//
// All methods are safe on a nil *Metrics so callers can leave metrics unset.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/scheduler"
)

const namespace = "fieldsync"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	groups       *prometheus.CounterVec
	mutations    *prometheus.CounterVec
	mediaUploads *prometheus.CounterVec
	workRuns     *prometheus.CounterVec
	workDuration *prometheus.HistogramVec
	byStatus     *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	groups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_groups_total",
		Help:      "Upload groups applied to the remote store, by result",
	}, []string{"result"})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_synced_total",
		Help:      "Mutations whose metadata stage ended, by result",
	}, []string{"result"})

	mediaUploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_uploads_total",
		Help:      "Photo uploads, by result",
	}, []string{"result"})

	workRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "work_runs_total",
		Help:      "Scheduled work runs, by work kind and result",
	}, []string{"work", "result"})

	workDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "work_duration_seconds",
		Help:      "Duration of scheduled work runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"work"})

	byStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mutations",
		Help:      "Mutations in the local store, by sync status",
	}, []string{"status"})

	registry.MustRegister(groups, mutations, mediaUploads, workRuns, workDuration, byStatus)

	return &Metrics{
		registry:     registry,
		handler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		groups:       groups,
		mutations:    mutations,
		mediaUploads: mediaUploads,
		workRuns:     workRuns,
		workDuration: workDuration,
		byStatus:     byStatus,
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveGroup records the outcome of applying one upload group.
func (m *Metrics) ObserveGroup(size int, err error) {
	if m == nil {
		return
	}
	result := resultLabel(err)
	m.groups.WithLabelValues(result).Inc()
	m.mutations.WithLabelValues(result).Add(float64(size))
}

// ObserveMediaUpload records the outcome of one photo upload.
func (m *Metrics) ObserveMediaUpload(err error) {
	if m == nil {
		return
	}
	m.mediaUploads.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveWork is a scheduler.Observer. The work label drops any per-survey suffix
// ("survey-sync:s1" is reported as "survey-sync") to keep cardinality bounded.
func (m *Metrics) ObserveWork(name string, attempt int, result scheduler.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	kind := workKind(name)
	m.workRuns.WithLabelValues(kind, result.String()).Inc()
	m.workDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SetStatusCounts replaces the per-status mutation gauges.
func (m *Metrics) SetStatusCounts(counts map[model.SyncStatus]int) {
	if m == nil {
		return
	}
	for _, st := range model.AllStatuses {
		m.byStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func workKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	return kind
}
