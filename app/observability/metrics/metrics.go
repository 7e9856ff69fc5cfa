package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	LoginAttemptsTotal     metric.Int64Counter
	LoginFailuresTotal     metric.Int64Counter
	RoleChangesTotal       metric.Int64Counter
	AuditWritesTotal       metric.Int64Counter
	AuditWriteErrorsTotal  metric.Int64Counter
	SessionCacheHitsTotal  metric.Int64Counter
	DbQueryErrorsTotal     metric.Int64Counter
	DbQueryDurationSeconds metric.Float64Histogram
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments only once. It gets
// the Meter from the globally configured MeterProvider, so the tracer package
// must be initialized first.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("aegis")
		var err error
		m := &AppMetrics{}

		m.LoginAttemptsTotal, err = meter.Int64Counter(
			"login_attempts_total",
			metric.WithDescription("Total number of credential login attempts"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_attempts_total: %v", err)
		}

		m.LoginFailuresTotal, err = meter.Int64Counter(
			"login_failures_total",
			metric.WithDescription("Total number of rejected credential logins"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_failures_total: %v", err)
		}

		m.RoleChangesTotal, err = meter.Int64Counter(
			"role_changes_total",
			metric.WithDescription("Total number of successful role mutations"),
			metric.WithUnit("{mutation}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create role_changes_total: %v", err)
		}

		m.AuditWritesTotal, err = meter.Int64Counter(
			"audit_writes_total",
			metric.WithDescription("Total number of audit entries recorded"),
			metric.WithUnit("{entry}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create audit_writes_total: %v", err)
		}

		m.AuditWriteErrorsTotal, err = meter.Int64Counter(
			"audit_write_errors_total",
			metric.WithDescription("Total number of failed audit writes"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create audit_write_errors_total: %v", err)
		}

		m.SessionCacheHitsTotal, err = meter.Int64Counter(
			"session_cache_hits_total",
			metric.WithDescription("Session enrichment reads served from cache"),
			metric.WithUnit("{read}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create session_cache_hits_total: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance. Panics if
// InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		panic("metrics: InitAppMetrics must be called at startup")
	}
	return appMetrics
}
