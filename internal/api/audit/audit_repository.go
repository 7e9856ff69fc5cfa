package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rfcarvalho/aegis/app/observability/metrics"
	"github.com/rfcarvalho/aegis/internal/types"
)

// DB is the slice of pgxpool.Pool this repository uses. pgxmock's pool
// interface satisfies it too, so the repository is testable without a
// running database.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ AuditRepo = (*PostgresAuditRepo)(nil)

// AuditRepo defines the contract for audit log persistence.
type AuditRepo interface {
	// Insert appends one audit entry. Entries are never updated or deleted.
	Insert(ctx context.Context, actorID, action, targetUserID string, details map[string]any) error
	// List returns entries newest-first, enriched with actor and target
	// name/email where those users still exist. An empty action means no
	// filter.
	List(ctx context.Context, action string, limit, offset int) ([]*types.AuditLog, error)
	// Count returns the number of entries matching the action filter.
	Count(ctx context.Context, action string) (int, error)
}

type PostgresAuditRepo struct {
	logger  *slog.Logger
	db      DB
	metrics *metrics.AppMetrics
}

// NewPostgresAuditRepo creates the audit repository. metrics may be nil in
// tests.
func NewPostgresAuditRepo(db DB, m *metrics.AppMetrics, logger *slog.Logger) *PostgresAuditRepo {
	return &PostgresAuditRepo{
		logger:  logger,
		db:      db,
		metrics: m,
	}
}

// observe records query duration and failure counts.
func (r *PostgresAuditRepo) observe(ctx context.Context, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.metrics.DbQueryErrorsTotal.Add(ctx, 1)
	}
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, actorID, action, targetUserID string, details map[string]any) (err error) {
	start := time.Now()
	defer func() { r.observe(ctx, start, err) }()

	ctx, span := otel.Tracer("AuditRepo").Start(ctx, "Insert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "audit_logs"),
		attribute.String("audit.action", action),
	))
	defer span.End()

	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, target_user_id, action, details)
         VALUES ($1, $2, $3, $4)`,
		actorID, targetUserID, action, details)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// auditListQuery joins users twice so each entry carries the actor's and
// target's current name and email. The join is LEFT: entries outlive the
// users they reference.
const auditListQuery = `
    SELECT a.id, a.created_at, a.actor_id, a.target_user_id, a.action, a.details,
           actor.name, actor.email, target.name, target.email
    FROM audit_logs a
    LEFT JOIN users actor ON actor.id = a.actor_id
    LEFT JOIN users target ON target.id = a.target_user_id
    WHERE ($1 = '' OR a.action = $1)
    ORDER BY a.created_at DESC
    LIMIT $2 OFFSET $3`

func (r *PostgresAuditRepo) List(ctx context.Context, action string, limit, offset int) (logs []*types.AuditLog, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, start, err) }()

	rows, err := r.db.Query(ctx, auditListQuery, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry types.AuditLog
		var actorName, actorEmail, targetName, targetEmail *string
		err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.ActorID, &entry.TargetUserID,
			&entry.Action, &entry.Details,
			&actorName, &actorEmail, &targetName, &targetEmail)
		if err != nil {
			return nil, fmt.Errorf("list audit logs: scan failed: %w", err)
		}
		if actorName != nil || actorEmail != nil {
			entry.Actor = &types.AuditActorRef{Name: deref(actorName), Email: deref(actorEmail)}
		}
		if targetName != nil || targetEmail != nil {
			entry.Target = &types.AuditActorRef{Name: deref(targetName), Email: deref(targetEmail)}
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func (r *PostgresAuditRepo) Count(ctx context.Context, action string) (count int, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, start, err) }()

	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_logs WHERE ($1 = '' OR action = $1)", action).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit logs: query failed: %w", err)
	}
	return count, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
