package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"misskey-exporter/collector"
	"misskey-exporter/storage"
)

func ptr[T any](v T) *T { return &v }

func TestUpdateDatabaseMetrics_Renders(t *testing.T) {
	r := NewRegistry()

	r.UpdateDatabaseMetrics(&storage.MetricsSnapshot{
		TotalUsers:  100,
		ActiveUsers: storage.ActiveUsers{Daily: 10, Weekly: 25, Monthly: 50},
		TotalNotes:  1000,
		RecentNotes: storage.RecentNotes{Daily: 50},
		Federation:  storage.Federation{Instances: 5, RemoteUsers: 200},
		Database:    storage.DatabaseStats{Connections: 10, SizeBytes: 1024000},
	})

	out, err := r.Render()
	require.NoError(t, err)

	assert.Contains(t, out, "misskey_users_total 100\n")
	assert.Contains(t, out, `misskey_active_users{period="daily"} 10`)
	assert.Contains(t, out, `misskey_active_users{period="weekly"} 25`)
	assert.Contains(t, out, `misskey_active_users{period="monthly"} 50`)
	assert.Contains(t, out, "misskey_notes_total 1000\n")
	assert.Contains(t, out, `misskey_notes_created{period="daily"} 50`)
	assert.Contains(t, out, "misskey_federation_instances_total 5\n")
	assert.Contains(t, out, "misskey_federation_remote_users_total 200\n")
	assert.Contains(t, out, "misskey_database_connections 10\n")
	assert.Contains(t, out, "# TYPE misskey_database_size_bytes gauge")
	assert.Equal(t, 1024000.0, testutil.ToFloat64(r.databaseSize))
}

func TestUpdateDatabaseMetrics_NilIsIgnored(t *testing.T) {
	r := NewRegistry()
	r.UpdateDatabaseMetrics(nil)
	assert.Equal(t, 0, testutil.CollectAndCount(r.activeUsers))
}

func TestUpdateAPIMetrics_NilValues(t *testing.T) {
	r := NewRegistry()
	r.UpdateAPIMetrics(nil, nil)

	out, err := r.Render()
	require.NoError(t, err)
	assert.NotContains(t, out, "misskey_server_stats{")
	assert.NotContains(t, out, "misskey_instance_info{")
}

func TestUpdateAPIMetrics_SetsServerStatsAndInfo(t *testing.T) {
	r := NewRegistry()

	r.UpdateAPIMetrics(
		&collector.ServerStats{NotesCount: ptr[int64](500), UsersCount: ptr[int64](50), InstancesCount: ptr[int64](3)},
		&collector.InstanceMeta{Name: ptr("Test Instance"), Version: ptr("1.0.0"), NodeVersion: ptr("18.0.0")},
	)

	out, err := r.Render()
	require.NoError(t, err)
	assert.Contains(t, out, `misskey_server_stats{type="notes"} 500`)
	assert.Contains(t, out, `misskey_server_stats{type="users"} 50`)
	assert.Contains(t, out, `misskey_server_stats{type="instances"} 3`)
	assert.Contains(t, out, `misskey_instance_info{name="Test Instance",node_version="18.0.0",version="1.0.0"} 1`)
}

func TestUpdateAPIMetrics_PartialFields(t *testing.T) {
	r := NewRegistry()

	r.UpdateAPIMetrics(&collector.ServerStats{NotesCount: ptr[int64](7)}, &collector.InstanceMeta{})

	assert.Equal(t, 1, testutil.CollectAndCount(r.serverStats))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.serverStats.WithLabelValues("notes")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instanceInfo.WithLabelValues("unknown", "unknown", "unknown")))
}

func TestUpdateAPIMetrics_InfoKeepsOnlyLatest(t *testing.T) {
	r := NewRegistry()

	r.UpdateAPIMetrics(nil, &collector.InstanceMeta{Name: ptr("a"), Version: ptr("1")})
	r.UpdateAPIMetrics(nil, &collector.InstanceMeta{Name: ptr("a"), Version: ptr("2")})

	assert.Equal(t, 1, testutil.CollectAndCount(r.instanceInfo))
	out, err := r.Render()
	require.NoError(t, err)
	assert.Contains(t, out, `misskey_instance_info{name="a",node_version="unknown",version="2"} 1`)
	assert.NotContains(t, out, `version="1"`)
}

func TestRecordScrapeDuration(t *testing.T) {
	r := NewRegistry()
	r.RecordScrapeDuration(SourceAPI, 1.5)

	out, err := r.Render()
	require.NoError(t, err)
	assert.Contains(t, out, `misskey_exporter_scrape_duration_seconds_bucket{source="api",le="1"} 0`)
	assert.Contains(t, out, `misskey_exporter_scrape_duration_seconds_bucket{source="api",le="2"} 1`)
	assert.Contains(t, out, `misskey_exporter_scrape_duration_seconds_count{source="api"} 1`)
}

func TestRecordScrapeError(t *testing.T) {
	r := NewRegistry()
	r.RecordScrapeError(SourceDatabase)
	r.RecordScrapeError(SourceDatabase)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.scrapeErrors.WithLabelValues(SourceDatabase)))
	expected := `
# HELP misskey_exporter_scrape_errors_total Total number of scrape errors
# TYPE misskey_exporter_scrape_errors_total counter
misskey_exporter_scrape_errors_total{source="database"} 2
`
	require.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "misskey_exporter_scrape_errors_total"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := NewRegistry(), NewRegistry()
	a.RecordScrapeError(SourceAPI)
	assert.Equal(t, 0, testutil.CollectAndCount(b.scrapeErrors))
}

func TestContentType(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewRegistry().ContentType(), "text/plain"))
}
