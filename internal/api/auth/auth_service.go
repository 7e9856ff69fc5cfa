package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/markbates/goth"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/rfcarvalho/aegis/app/observability/metrics"
	"github.com/rfcarvalho/aegis/config"
	"github.com/rfcarvalho/aegis/internal/types"
)

// AuditRecorder is the slice of the audit service the auth flows need.
type AuditRecorder interface {
	Record(ctx context.Context, actorID, action, targetUserID string, details map[string]any) error
}

var _ AuthService = (*AuthServiceImpl)(nil)

// AuthService defines the business logic contract for authentication.
type AuthService interface {
	Login(ctx context.Context, email, password string) (string, string, error)
	Register(ctx context.Context, name, email, password string) error
	Logout(ctx context.Context, refreshToken string) error
	// LogoutAll revokes every refresh token the user holds, ending all of
	// their sessions at once.
	LogoutAll(ctx context.Context, userID string) error
	RefreshSession(ctx context.Context, refreshToken string) (string, string, error)
	GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error)

	// GetOrCreateUserFromProvider implements the OAuth account linking rules:
	// find by email, link the provider if new, create the user otherwise.
	// It never rejects a sign-in.
	GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*types.UserAuth, error)

	// GenerateTokens issues the signed access token (session payload) and a
	// rotating refresh token for the given user.
	GenerateTokens(ctx context.Context, user *types.UserAuth) (string, string, error)

	// GetSession materializes the session from token claims, overwriting
	// name/email/image/role with store-fresh values. When the backing record
	// is gone the claim values are retained unchanged.
	GetSession(ctx context.Context, claims *types.Claims) (*types.Session, error)
}

// AuthServiceImpl provides the implementation for AuthService.
type AuthServiceImpl struct {
	logger       *slog.Logger
	repo         AuthRepo
	audit        AuditRecorder
	cfg          *config.Config
	metrics      *metrics.AppMetrics
	sessionCache *cache.Cache
	sessionGroup singleflight.Group
}

// NewAuthService creates a new auth service instance. The session cache
// bounds store load from the per-request session enrichment. metrics may be
// nil in tests.
func NewAuthService(repo AuthRepo, audit AuditRecorder, cfg *config.Config, m *metrics.AppMetrics, logger *slog.Logger) *AuthServiceImpl {
	ttl := cfg.Session.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &AuthServiceImpl{
		logger:       logger,
		repo:         repo,
		audit:        audit,
		cfg:          cfg,
		metrics:      m,
		sessionCache: cache.New(ttl, 2*ttl),
	}
}

// Login authenticates a credential-based account and returns a token pair.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (string, string, error) {
	l := s.logger.With(slog.String("method", "Login"), slog.String("email", email))

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", "", types.ErrNotFound
		}
		l.ErrorContext(ctx, "Failed to look up user", slog.Any("error", err))
		return "", "", fmt.Errorf("error fetching user: %w", err)
	}

	// OAuth-only accounts carry no password hash and cannot log in with
	// credentials.
	if user.Password == "" {
		return "", "", types.ErrUnauthenticated
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		l.WarnContext(ctx, "Invalid credentials")
		return "", "", types.ErrUnauthenticated
	}

	return s.GenerateTokens(ctx, user)
}

// Register creates a credential-based account with the default role and
// records a CREATE_USER audit entry.
func (s *AuthServiceImpl) Register(ctx context.Context, name, email, password string) error {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "Register", trace.WithAttributes(
		attribute.String("user.email", email),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Register"), slog.String("email", email))

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	userID, err := s.repo.CreateUser(ctx, name, email, string(hashedPassword))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		if errors.Is(err, types.ErrConflict) {
			return types.ErrConflict
		}
		l.ErrorContext(ctx, "Failed to create user", slog.Any("error", err))
		return fmt.Errorf("error creating user: %w", err)
	}

	// An audit write failure must surface; the entry is the only record of
	// the account creation.
	if err = s.audit.Record(ctx, userID, types.AuditActionCreateUser, userID, map[string]any{
		"email": email,
	}); err != nil {
		l.ErrorContext(ctx, "Failed to record audit entry for registration", slog.Any("error", err))
		return fmt.Errorf("error recording audit entry: %w", err)
	}

	l.InfoContext(ctx, "User registered", slog.String("userID", userID))
	return nil
}

// Logout invalidates the presented refresh token.
func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	if err := s.repo.InvalidateRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("error invalidating refresh token: %w", err)
	}
	return nil
}

// LogoutAll revokes every refresh token the user holds.
func (s *AuthServiceImpl) LogoutAll(ctx context.Context, userID string) error {
	if err := s.repo.InvalidateAllUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("error invalidating user refresh tokens: %w", err)
	}
	s.logger.InfoContext(ctx, "All refresh tokens revoked", slog.String("userID", userID))
	return nil
}

// RefreshSession rotates the refresh token and issues a fresh token pair.
// The new access token carries store-fresh claims, which is what makes the
// 24h sliding refresh also a role refresh.
func (s *AuthServiceImpl) RefreshSession(ctx context.Context, refreshToken string) (string, string, error) {
	l := s.logger.With(slog.String("method", "RefreshSession"))

	userID, err := s.repo.ValidateRefreshTokenAndGetUserID(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			return "", "", types.ErrUnauthenticated
		}
		return "", "", fmt.Errorf("error validating refresh token: %w", err)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		l.ErrorContext(ctx, "Refresh token points at missing user", slog.Any("error", err), slog.String("userID", userID))
		return "", "", types.ErrUnauthenticated
	}

	accessToken, newRefreshToken, err := s.GenerateTokens(ctx, user)
	if err != nil {
		return "", "", err
	}

	if err = s.repo.InvalidateRefreshToken(ctx, refreshToken); err != nil {
		l.WarnContext(ctx, "Failed to invalidate rotated refresh token", slog.Any("error", err))
	}

	return accessToken, newRefreshToken, nil
}

func (s *AuthServiceImpl) GetUserByID(ctx context.Context, userID string) (*types.UserAuth, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error fetching user: %w", err)
	}
	return user, nil
}

// GetOrCreateUserFromProvider handles every third-party sign-in.
func (s *AuthServiceImpl) GetOrCreateUserFromProvider(ctx context.Context, provider string, providerUser goth.User) (*types.UserAuth, error) {
	ctx, span := otel.Tracer("AuthService").Start(ctx, "GetOrCreateUserFromProvider", trace.WithAttributes(
		attribute.String("oauth.provider", provider),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "GetOrCreateUserFromProvider"), slog.String("provider", provider))

	var imageURL *string
	if providerUser.AvatarURL != "" {
		imageURL = &providerUser.AvatarURL
	}

	existing, err := s.repo.GetUserByEmail(ctx, providerUser.Email)
	switch {
	case err == nil:
		if containsProvider(existing.OAuthProviders, provider) {
			// Idempotent re-link: adopt the existing id, no mutation.
			return s.withLinkedAccounts(ctx, existing), nil
		}
		if err = s.repo.LinkProvider(ctx, existing.ID, providerUser.Name, imageURL, provider, providerUser.UserID); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error linking provider: %w", err)
		}
		l.InfoContext(ctx, "Linked provider to existing account", slog.String("userID", existing.ID))
		// Re-read so the caller seeds the token with the freshly mutated record.
		user, err := s.repo.GetUserByID(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("error re-reading linked user: %w", err)
		}
		return s.withLinkedAccounts(ctx, user), nil

	case errors.Is(err, types.ErrNotFound):
		userID, err := s.repo.CreateUserFromProvider(ctx, providerUser.Name, providerUser.Email, imageURL, provider, providerUser.UserID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error creating user from provider: %w", err)
		}
		l.InfoContext(ctx, "Created user from provider", slog.String("userID", userID))
		user, err := s.repo.GetUserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("error reading created user: %w", err)
		}
		return s.withLinkedAccounts(ctx, user), nil

	default:
		span.RecordError(err)
		return nil, fmt.Errorf("error looking up user by email: %w", err)
	}
}

// withLinkedAccounts attaches the user's linked-account descriptors. Failing
// to load them never fails a sign-in.
func (s *AuthServiceImpl) withLinkedAccounts(ctx context.Context, user *types.UserAuth) *types.UserAuth {
	accounts, err := s.repo.GetLinkedAccounts(ctx, user.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load linked accounts", slog.Any("error", err), slog.String("userID", user.ID))
		return user
	}
	user.LinkedAccounts = accounts
	return user
}

// GenerateTokens issues a signed access token carrying the session claims and
// a stored rotating refresh token.
func (s *AuthServiceImpl) GenerateTokens(ctx context.Context, user *types.UserAuth) (string, string, error) {
	now := time.Now()
	claims := types.Claims{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.JWT.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.JWT.Audience},
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessTokenTTL)),
		},
	}
	if user.ImageURL != nil {
		claims.Image = *user.ImageURL
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString([]byte(s.cfg.JWT.SecretKey))
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken := generateRefreshToken()
	refreshTTL := s.cfg.JWT.RefreshTokenTTL
	if s.cfg.JWT.MaxSessionAge > 0 && refreshTTL > s.cfg.JWT.MaxSessionAge {
		refreshTTL = s.cfg.JWT.MaxSessionAge
	}
	if err = s.repo.StoreRefreshToken(ctx, user.ID, refreshToken, time.Now().Add(refreshTTL)); err != nil {
		return "", "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

// GetSession rebuilds the session-visible user from token claims plus a
// store-fresh read. Role changes made by an admin become visible here within
// one cache TTL, without re-authentication.
func (s *AuthServiceImpl) GetSession(ctx context.Context, claims *types.Claims) (*types.Session, error) {
	session := &types.Session{
		UserID: claims.UserID,
		Name:   claims.Name,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.Image != "" {
		img := claims.Image
		session.Image = &img
	}

	var user *types.UserAuth
	if cached, found := s.sessionCache.Get(claims.UserID); found {
		if s.metrics != nil {
			s.metrics.SessionCacheHitsTotal.Add(ctx, 1)
		}
		user = cached.(*types.UserAuth)
	} else {
		// Concurrent misses for the same user collapse into one store read.
		v, err, _ := s.sessionGroup.Do(claims.UserID, func() (any, error) {
			return s.repo.GetUserByID(ctx, claims.UserID)
		})
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				// Backing record gone: retain the previously-known values.
				return session, nil
			}
			return nil, fmt.Errorf("error refreshing session: %w", err)
		}
		fresh := v.(*types.UserAuth)
		s.sessionCache.Set(claims.UserID, fresh, cache.DefaultExpiration)
		user = fresh
	}

	session.Name = user.Name
	session.Email = user.Email
	session.Image = user.ImageURL
	session.Role = user.Role
	return session, nil
}

func containsProvider(providers []string, provider string) bool {
	for _, p := range providers {
		if p == provider {
			return true
		}
	}
	return false
}
