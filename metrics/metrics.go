// Package metrics owns the exporter's Prometheus registry and maps sampled
// Misskey data onto its series.
//
// The registry is an explicit instance, not the process-wide default, so the
// orchestrator and the HTTP handler share exactly one and tests get a fresh one.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"misskey-exporter/collector"
	"misskey-exporter/storage"
)

// Scrape sources used as the "source" label.
const (
	SourceDatabase = "database"
	SourceAPI      = "api"
	SourceGeneral  = "general"
)

const unknown = "unknown"

// Registry wraps the exporter's gauges, counter and histogram.
type Registry struct {
	reg *prometheus.Registry

	usersTotal            prometheus.Gauge
	activeUsers           *prometheus.GaugeVec
	notesTotal            prometheus.Gauge
	notesCreated          *prometheus.GaugeVec
	federationInstances   prometheus.Gauge
	federationRemoteUsers prometheus.Gauge
	databaseConnections   prometheus.Gauge
	databaseSize          prometheus.Gauge
	serverStats           *prometheus.GaugeVec
	instanceInfo          *prometheus.GaugeVec
	scrapeDuration        *prometheus.HistogramVec
	scrapeErrors          *prometheus.CounterVec
}

// NewRegistry creates and registers every series on a fresh registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		usersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "misskey_users_total",
			Help: "Total number of local users",
		}),
		activeUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "misskey_active_users",
			Help: "Number of active users by period",
		}, []string{"period"}),

		notesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "misskey_notes_total",
			Help: "Total number of notes",
		}),
		notesCreated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "misskey_notes_created",
			Help: "Number of notes created by period",
		}, []string{"period"}),

		federationInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "misskey_federation_instances_total",
			Help: "Number of federated instances",
		}),
		federationRemoteUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "misskey_federation_remote_users_total",
			Help: "Number of remote users",
		}),

		databaseConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "misskey_database_connections",
			Help: "Number of database connections",
		}),
		databaseSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "misskey_database_size_bytes",
			Help: "Database size in bytes",
		}),

		serverStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "misskey_server_stats",
			Help: "Server statistics from Misskey API",
		}, []string{"type"}),
		instanceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "misskey_instance_info",
			Help: "Instance information",
		}, []string{"name", "version", "node_version"}),

		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "misskey_exporter_scrape_duration_seconds",
			Help:    "Time spent scraping metrics",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		}, []string{"source"}),
		scrapeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "misskey_exporter_scrape_errors_total",
			Help: "Total number of scrape errors",
		}, []string{"source"}),
	}

	r.reg.MustRegister(
		r.usersTotal,
		r.activeUsers,
		r.notesTotal,
		r.notesCreated,
		r.federationInstances,
		r.federationRemoteUsers,
		r.databaseConnections,
		r.databaseSize,
		r.serverStats,
		r.instanceInfo,
		r.scrapeDuration,
		r.scrapeErrors,
	)
	return r
}

// Gatherer exposes the underlying registry, e.g. for promhttp or testutil.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// UpdateDatabaseMetrics copies a snapshot onto the database-backed series.
func (r *Registry) UpdateDatabaseMetrics(s *storage.MetricsSnapshot) {
	if s == nil {
		return
	}
	r.usersTotal.Set(float64(s.TotalUsers))

	r.activeUsers.WithLabelValues("daily").Set(float64(s.ActiveUsers.Daily))
	r.activeUsers.WithLabelValues("weekly").Set(float64(s.ActiveUsers.Weekly))
	r.activeUsers.WithLabelValues("monthly").Set(float64(s.ActiveUsers.Monthly))

	r.notesTotal.Set(float64(s.TotalNotes))
	r.notesCreated.WithLabelValues("daily").Set(float64(s.RecentNotes.Daily))

	r.federationInstances.Set(float64(s.Federation.Instances))
	r.federationRemoteUsers.Set(float64(s.Federation.RemoteUsers))

	r.databaseConnections.Set(float64(s.Database.Connections))
	r.databaseSize.Set(float64(s.Database.SizeBytes))
}

// UpdateAPIMetrics applies whatever the API returned. Either argument may
// be nil and every field inside them is optional.
func (r *Registry) UpdateAPIMetrics(stats *collector.ServerStats, meta *collector.InstanceMeta) {
	if stats != nil {
		setIfPresent(r.serverStats, "notes", stats.NotesCount)
		setIfPresent(r.serverStats, "users", stats.UsersCount)
		setIfPresent(r.serverStats, "instances", stats.InstancesCount)
	}

	if meta != nil {
		// one info series at a time: drop the previous name/version labels
		r.instanceInfo.Reset()
		r.instanceInfo.WithLabelValues(
			orUnknown(meta.Name),
			orUnknown(meta.Version),
			orUnknown(meta.NodeVersion),
		).Set(1)
	}
}

// RecordScrapeDuration observes how long sampling source took, in seconds.
func (r *Registry) RecordScrapeDuration(source string, seconds float64) {
	r.scrapeDuration.WithLabelValues(source).Observe(seconds)
}

// RecordScrapeError counts one failed sampling of source.
func (r *Registry) RecordScrapeError(source string) {
	r.scrapeErrors.WithLabelValues(source).Inc()
}

// Render returns every registered series in the text exposition format.
func (r *Registry) Render() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// ContentType is the media type of Render's output.
func (r *Registry) ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

// setIfPresent only touches the series when v is present. A series whose
// value never arrived is not created.
func setIfPresent(vec *prometheus.GaugeVec, label string, v *int64) {
	if v != nil {
		vec.WithLabelValues(label).Set(float64(*v))
	}
}

func orUnknown(s *string) string {
	if s == nil || *s == "" {
		return unknown
	}
	return *s
}
