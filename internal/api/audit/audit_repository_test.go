package audit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfcarvalho/aegis/internal/types"
)

func newMockRepo(t *testing.T) (*PostgresAuditRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewPostgresAuditRepo(mockPool, nil, slog.Default()), mockPool
}

func TestInsert(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	ctx := context.Background()

	details := map[string]any{"previousRole": "user", "newRole": "moderator"}

	mockPool.ExpectExec("INSERT INTO audit_logs").
		WithArgs("actor-1", "target-1", types.AuditActionUpdateRole, details).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Insert(ctx, "actor-1", types.AuditActionUpdateRole, "target-1", details)

	assert.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	ctx := context.Background()

	now := time.Now()
	actorName := "Admin"
	actorEmail := "admin@example.com"

	rows := pgxmock.NewRows([]string{
		"id", "created_at", "actor_id", "target_user_id", "action", "details",
		"actor_name", "actor_email", "target_name", "target_email",
	}).
		AddRow("log-2", now, "actor-1", "target-1", types.AuditActionUpdateRole,
			map[string]any{"previousRole": "user", "newRole": "admin"},
			&actorName, &actorEmail, (*string)(nil), (*string)(nil)).
		AddRow("log-1", now.Add(-time.Hour), "actor-1", "target-2", types.AuditActionDeleteUser,
			map[string]any{"email": "gone@example.com"},
			&actorName, &actorEmail, (*string)(nil), (*string)(nil))

	mockPool.ExpectQuery("FROM audit_logs a").
		WithArgs("", 20, 0).
		WillReturnRows(rows)

	logs, err := repo.List(ctx, "", 20, 0)

	assert.NoError(t, err)
	require.Len(t, logs, 2)
	// Newest first, enriched actor, unresolvable target left nil for the
	// service layer to fill.
	assert.Equal(t, "log-2", logs[0].ID)
	require.NotNil(t, logs[0].Actor)
	assert.Equal(t, "Admin", logs[0].Actor.Name)
	assert.Nil(t, logs[0].Target)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestListWithActionFilter(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	ctx := context.Background()

	rows := pgxmock.NewRows([]string{
		"id", "created_at", "actor_id", "target_user_id", "action", "details",
		"actor_name", "actor_email", "target_name", "target_email",
	})

	mockPool.ExpectQuery("FROM audit_logs a").
		WithArgs(types.AuditActionDeleteUser, 50, 100).
		WillReturnRows(rows)

	logs, err := repo.List(ctx, types.AuditActionDeleteUser, 50, 100)

	assert.NoError(t, err)
	assert.Empty(t, logs)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	repo, mockPool := newMockRepo(t)
	ctx := context.Background()

	mockPool.ExpectQuery("SELECT COUNT").
		WithArgs("").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	count, err := repo.Count(ctx, "")

	assert.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
