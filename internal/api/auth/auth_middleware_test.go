package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/rfcarvalho/aegis/config"
	"github.com/rfcarvalho/aegis/internal/types"
)

type mockSessionReader struct {
	mock.Mock
}

func (m *mockSessionReader) GetSession(ctx context.Context, claims *types.Claims) (*types.Session, error) {
	args := m.Called(ctx, claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Session), args.Error(1)
}

func signTestToken(t *testing.T, cfg config.JWTConfig, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := types.Claims{
		UserID: "user123",
		Name:   "Test User",
		Email:  "test@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			Subject:   "user123",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SecretKey))
	assert.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	logger := slog.Default()
	jwtCfg := config.JWTConfig{
		SecretKey: "test-secret",
		Issuer:    "test-issuer",
		Audience:  "test-audience",
	}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		userID, ok := GetUserIDFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "user123", userID)
		w.WriteHeader(http.StatusOK)
	})
	middleware := Authenticate(logger, jwtCfg)(next)

	t.Run("ValidToken", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, jwtCfg, types.RoleUser, time.Minute))
		rec := httptest.NewRecorder()

		middleware.ServeHTTP(rec, req)

		assert.True(t, nextCalled)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		middleware.ServeHTTP(rec, req)

		assert.False(t, nextCalled)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, jwtCfg, types.RoleUser, -time.Minute))
		rec := httptest.NewRecorder()

		middleware.ServeHTTP(rec, req)

		assert.False(t, nextCalled)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		nextCalled = false
		otherCfg := jwtCfg
		otherCfg.Issuer = "someone-else"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, otherCfg, types.RoleUser, time.Minute))
		rec := httptest.NewRecorder()

		middleware.ServeHTTP(rec, req)

		assert.False(t, nextCalled)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	logger := slog.Default()

	claims := &types.Claims{UserID: "user123", Role: types.RoleAdmin}
	withClaims := func(req *http.Request) *http.Request {
		ctx := context.WithValue(req.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
		return req.WithContext(ctx)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("AllowsSufficientRole", func(t *testing.T) {
		sessions := new(mockSessionReader)
		sessions.On("GetSession", mock.Anything, claims).
			Return(&types.Session{UserID: "user123", Role: types.RoleAdmin}, nil).Once()

		guard := RequireRole(logger, sessions, types.RoleAdmin)(next)
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil)))

		assert.Equal(t, http.StatusOK, rec.Code)
		sessions.AssertExpectations(t)
	})

	t.Run("UsesStoreRoleNotTokenRole", func(t *testing.T) {
		// Token still says admin; the store says the role was revoked.
		sessions := new(mockSessionReader)
		sessions.On("GetSession", mock.Anything, claims).
			Return(&types.Session{UserID: "user123", Role: types.RoleUser}, nil).Once()

		guard := RequireRole(logger, sessions, types.RoleAdmin)(next)
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil)))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		sessions.AssertExpectations(t)
	})

	t.Run("AllowsHigherRoleThanRequired", func(t *testing.T) {
		sessions := new(mockSessionReader)
		sessions.On("GetSession", mock.Anything, claims).
			Return(&types.Session{UserID: "user123", Role: types.RoleAdmin}, nil).Once()

		guard := RequireRole(logger, sessions, types.RoleModerator)(next)
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodGet, "/", nil)))

		assert.Equal(t, http.StatusOK, rec.Code)
		sessions.AssertExpectations(t)
	})

	t.Run("RejectsMissingClaims", func(t *testing.T) {
		sessions := new(mockSessionReader)
		guard := RequireRole(logger, sessions, types.RoleAdmin)(next)
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		sessions.AssertNotCalled(t, "GetSession", mock.Anything, mock.Anything)
	})
}
