package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rfcarvalho/aegis/internal/types"
)

var _ AuthRepo = (*PostgresAuthRepo)(nil)

// AuthRepo defines the contract for identity persistence.
type AuthRepo interface {
	// GetUserByEmail returns types.ErrNotFound when no user has that email.
	GetUserByEmail(ctx context.Context, email string) (*types.UserAuth, error)
	// GetUserByID returns types.ErrNotFound when the user does not exist.
	GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error)

	// CreateUser inserts a credential-based account with role "user".
	// Returns the new id, or types.ErrConflict when the email is taken.
	CreateUser(ctx context.Context, name, email, hashedPassword string) (string, error)

	// CreateUserFromProvider inserts an OAuth-only account with role "user",
	// the provider in the linked set and one linked-account descriptor.
	CreateUserFromProvider(ctx context.Context, name, email string, imageURL *string, provider, providerAccountID string) (string, error)

	// LinkProvider refreshes the user's name/image from the provider profile,
	// appends the provider to the linked set and records the descriptor.
	LinkProvider(ctx context.Context, userID, name string, imageURL *string, provider, providerAccountID string) error

	// GetLinkedAccounts lists the user's linked-account descriptors.
	GetLinkedAccounts(ctx context.Context, userID string) ([]types.LinkedAccount, error)

	StoreRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	// ValidateRefreshTokenAndGetUserID returns types.ErrUnauthenticated for
	// unknown, expired or revoked tokens.
	ValidateRefreshTokenAndGetUserID(ctx context.Context, refreshToken string) (string, error)
	InvalidateRefreshToken(ctx context.Context, refreshToken string) error
	InvalidateAllUserRefreshTokens(ctx context.Context, userID string) error
}

type PostgresAuthRepo struct {
	logger *slog.Logger
	pgpool *pgxpool.Pool
}

func NewPostgresAuthRepo(pgpool *pgxpool.Pool, logger *slog.Logger) *PostgresAuthRepo {
	return &PostgresAuthRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = "id, email, name, image_url, COALESCE(password_hash, ''), role, oauth_providers, created_at, updated_at"

func scanUser(row pgx.Row) (*types.UserAuth, error) {
	var user types.UserAuth
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.ImageURL, &user.Password,
		&user.Role, &user.OAuthProviders, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

func (r *PostgresAuthRepo) GetUserByEmail(ctx context.Context, email string) (*types.UserAuth, error) {
	row := r.pgpool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email)
	return scanUser(row)
}

func (r *PostgresAuthRepo) GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error) {
	row := r.pgpool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", userID)
	return scanUser(row)
}

func (r *PostgresAuthRepo) CreateUser(ctx context.Context, name, email, hashedPassword string) (string, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
	))
	defer span.End()

	var userID string
	err := r.pgpool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, role)
         VALUES ($1, $2, $3, $4) RETURNING id`,
		name, email, hashedPassword, types.RoleUser).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return "", types.ErrConflict
		}
		span.RecordError(err)
		return "", fmt.Errorf("create user: db insert failed: %w", err)
	}
	return userID, nil
}

func (r *PostgresAuthRepo) CreateUserFromProvider(ctx context.Context, name, email string, imageURL *string, provider, providerAccountID string) (string, error) {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "CreateUserFromProvider", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("oauth.provider", provider),
	))
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("create user from provider: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx,
		`INSERT INTO users (name, email, image_url, role, oauth_providers)
         VALUES ($1, $2, $3, $4, ARRAY[$5]) RETURNING id`,
		name, email, imageURL, types.RoleUser, provider).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", types.ErrConflict
		}
		span.RecordError(err)
		return "", fmt.Errorf("create user from provider: db insert failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO linked_accounts (user_id, provider, provider_account_id)
         VALUES ($1, $2, $3)`,
		userID, provider, providerAccountID)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("create user from provider: linked account insert failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("create user from provider: commit failed: %w", err)
	}
	return userID, nil
}

func (r *PostgresAuthRepo) LinkProvider(ctx context.Context, userID, name string, imageURL *string, provider, providerAccountID string) error {
	ctx, span := otel.Tracer("AuthRepo").Start(ctx, "LinkProvider", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("oauth.provider", provider),
	))
	defer span.End()

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("link provider: begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Refresh profile data with the latest values from the provider and
	// append the provider if it is not already in the set.
	tag, err := tx.Exec(ctx,
		`UPDATE users SET
            name = COALESCE(NULLIF($2, ''), name),
            image_url = COALESCE($3, image_url),
            oauth_providers = array_append(oauth_providers, $4),
            updated_at = now()
         WHERE id = $1 AND NOT ($4 = ANY(oauth_providers))`,
		userID, name, imageURL, provider)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("link provider: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Provider already linked; nothing to do.
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO linked_accounts (user_id, provider, provider_account_id)
         VALUES ($1, $2, $3)
         ON CONFLICT (user_id, provider) DO NOTHING`,
		userID, provider, providerAccountID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("link provider: linked account insert failed: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresAuthRepo) GetLinkedAccounts(ctx context.Context, userID string) ([]types.LinkedAccount, error) {
	rows, err := r.pgpool.Query(ctx,
		`SELECT provider, provider_account_id, linked_at
         FROM linked_accounts WHERE user_id = $1 ORDER BY linked_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get linked accounts: query failed: %w", err)
	}
	defer rows.Close()

	var accounts []types.LinkedAccount
	for rows.Next() {
		var acc types.LinkedAccount
		if err := rows.Scan(&acc.Provider, &acc.ProviderAccountID, &acc.LinkedAt); err != nil {
			return nil, fmt.Errorf("get linked accounts: scan failed: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *PostgresAuthRepo) StoreRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.pgpool.Exec(ctx,
		`INSERT INTO refresh_tokens (user_id, token, expires_at)
         VALUES ($1, $2, $3)`,
		userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("store refresh token: db insert failed: %w", err)
	}
	return nil
}

func (r *PostgresAuthRepo) ValidateRefreshTokenAndGetUserID(ctx context.Context, refreshToken string) (string, error) {
	var userID string
	var expiresAt time.Time
	var revokedAt *time.Time

	err := r.pgpool.QueryRow(ctx,
		`SELECT user_id, expires_at, revoked_at
         FROM refresh_tokens WHERE token = $1`,
		refreshToken).Scan(&userID, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.ErrUnauthenticated
		}
		return "", fmt.Errorf("validate refresh token: query failed: %w", err)
	}

	if time.Now().After(expiresAt) || revokedAt != nil {
		return "", types.ErrUnauthenticated
	}
	return userID, nil
}

func (r *PostgresAuthRepo) InvalidateRefreshToken(ctx context.Context, refreshToken string) error {
	tag, err := r.pgpool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1
         WHERE token = $2 AND revoked_at IS NULL`,
		time.Now(), refreshToken)
	if err != nil {
		return fmt.Errorf("invalidate refresh token: db update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already revoked or unknown; not an error for logout.
		r.logger.Debug("No refresh token found or already revoked")
	}
	return nil
}

func (r *PostgresAuthRepo) InvalidateAllUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.pgpool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1
         WHERE user_id = $2 AND revoked_at IS NULL`,
		time.Now(), userID)
	if err != nil {
		return fmt.Errorf("invalidate all tokens: db update failed: %w", err)
	}
	return nil
}

// generateRefreshToken creates a random refresh token.
func generateRefreshToken() string {
	return uuid.NewString()
}
