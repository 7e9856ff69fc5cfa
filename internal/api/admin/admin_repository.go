package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rfcarvalho/aegis/internal/types"
)

// DB is the slice of pgxpool.Pool this repository uses; pgxmock's pool
// interface satisfies it too.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ AdminRepo = (*PostgresAdminRepo)(nil)

// AdminRepo defines the contract for user administration persistence.
type AdminRepo interface {
	// ListUsers returns all users ordered by creation time, newest first,
	// each carrying its linked-account descriptors.
	ListUsers(ctx context.Context) ([]*types.UserAuth, error)
	// GetUserByID returns types.ErrNotFound when the user does not exist.
	GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error)
	// UpdateUserRole sets the user's role. Returns types.ErrNotFound when
	// the user does not exist.
	UpdateUserRole(ctx context.Context, userID, role string) error
	// CountAdmins returns the number of users holding the admin role.
	CountAdmins(ctx context.Context) (int, error)
	// DeleteUser removes the user row. Linked accounts and refresh tokens
	// go with it via ON DELETE CASCADE. Returns types.ErrNotFound when the
	// user does not exist.
	DeleteUser(ctx context.Context, userID string) error
}

type PostgresAdminRepo struct {
	logger *slog.Logger
	db     DB
}

func NewPostgresAdminRepo(db DB, logger *slog.Logger) *PostgresAdminRepo {
	return &PostgresAdminRepo{
		logger: logger,
		db:     db,
	}
}

const userColumns = "id, email, name, image_url, COALESCE(password_hash, ''), role, oauth_providers, created_at, updated_at"

func (r *PostgresAdminRepo) ListUsers(ctx context.Context) ([]*types.UserAuth, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list users: query failed: %w", err)
	}
	defer rows.Close()

	var users []*types.UserAuth
	byID := make(map[string]*types.UserAuth)
	for rows.Next() {
		var user types.UserAuth
		err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.ImageURL, &user.Password,
			&user.Role, &user.OAuthProviders, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("list users: scan failed: %w", err)
		}
		users = append(users, &user)
		byID[user.ID] = &user
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// One pass over linked_accounts instead of a query per user.
	laRows, err := r.db.Query(ctx,
		`SELECT user_id, provider, provider_account_id, linked_at
         FROM linked_accounts ORDER BY linked_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: linked accounts query failed: %w", err)
	}
	defer laRows.Close()

	for laRows.Next() {
		var userID string
		var acc types.LinkedAccount
		if err := laRows.Scan(&userID, &acc.Provider, &acc.ProviderAccountID, &acc.LinkedAt); err != nil {
			return nil, fmt.Errorf("list users: linked accounts scan failed: %w", err)
		}
		if u, ok := byID[userID]; ok {
			u.LinkedAccounts = append(u.LinkedAccounts, acc)
		}
	}
	return users, laRows.Err()
}

func (r *PostgresAdminRepo) GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error) {
	var user types.UserAuth
	err := r.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", userID).
		Scan(&user.ID, &user.Email, &user.Name, &user.ImageURL, &user.Password,
			&user.Role, &user.OAuthProviders, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &user, nil
}

func (r *PostgresAdminRepo) UpdateUserRole(ctx context.Context, userID, role string) error {
	ctx, span := otel.Tracer("AdminRepo").Start(ctx, "UpdateUserRole", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		userID, role)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update user role: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresAdminRepo) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE role = $1", types.RoleAdmin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admins: query failed: %w", err)
	}
	return count, nil
}

func (r *PostgresAdminRepo) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := otel.Tracer("AdminRepo").Start(ctx, "DeleteUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	tag, err := r.db.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete user: db delete failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}
