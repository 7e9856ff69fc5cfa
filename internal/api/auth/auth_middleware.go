package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rfcarvalho/aegis/config"
	"github.com/rfcarvalho/aegis/internal/api"
	"github.com/rfcarvalho/aegis/internal/types"
)

// Define typed context keys
type contextKey string

const UserIDKey contextKey = "userID"
const ClaimsKey contextKey = "claims"
const SessionKey contextKey = "session"

// Authenticate is middleware to validate JWT access tokens and attach the
// claims to the request context.
func Authenticate(logger *slog.Logger, jwtCfg config.JWTConfig) func(next http.Handler) http.Handler {
	secretKey := []byte(jwtCfg.SecretKey)
	if len(secretKey) == 0 {
		logger.Error("FATAL: JWT Secret Key is not configured!")
		panic("JWT Secret Key cannot be empty")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			l := logger.With(slog.String("middleware", "Authenticate"))

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				l.WarnContext(ctx, "Missing Authorization header")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header required")
				return
			}

			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				l.WarnContext(ctx, "Invalid Authorization header format")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
				return
			}
			tokenString := headerParts[1]

			claims := &types.Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secretKey, nil
			})

			if err != nil {
				l.WarnContext(ctx, "Token parsing/validation failed", slog.Any("error", err))
				errMsg := "Invalid or expired token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					errMsg = "Token has expired"
				} else if errors.Is(err, jwt.ErrTokenMalformed) {
					errMsg = "Malformed token"
				} else if errors.Is(err, jwt.ErrSignatureInvalid) {
					errMsg = "Invalid token signature"
				}
				api.ErrorResponse(w, r, http.StatusUnauthorized, errMsg)
				return
			}

			if !token.Valid {
				l.WarnContext(ctx, "Token marked as invalid or claims are nil")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid token")
				return
			}

			if claims.Issuer != jwtCfg.Issuer {
				l.WarnContext(ctx, "Token issuer mismatch", slog.String("expected", jwtCfg.Issuer), slog.String("actual", claims.Issuer))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid token issuer")
				return
			}

			if jwtCfg.Audience != "" && !api.VerifyAudience(claims.Audience, jwtCfg.Audience) {
				l.WarnContext(ctx, "Token audience mismatch", slog.String("expected", jwtCfg.Audience))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid token audience")
				return
			}

			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionReader is the slice of the auth service the guard needs.
type SessionReader interface {
	GetSession(ctx context.Context, claims *types.Claims) (*types.Session, error)
}

// RequireRole is the single authorization guard used at every privileged
// boundary. It materializes the session (store-fresh role, so revocations
// take effect without re-login) and rejects callers below minRole.
// Runs AFTER the Authenticate middleware.
func RequireRole(logger *slog.Logger, sessions SessionReader, minRole string) func(next http.Handler) http.Handler {
	minRank := types.RoleRank(minRole)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			claims, ok := GetClaimsFromContext(ctx)
			if !ok {
				logger.ErrorContext(ctx, "Claims missing from context; RequireRole must run after Authenticate")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}

			session, err := sessions.GetSession(ctx, claims)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to materialize session", slog.Any("error", err))
				api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to verify permissions")
				return
			}

			if types.RoleRank(session.Role) < minRank {
				logger.WarnContext(ctx, "Insufficient role",
					slog.String("required", minRole),
					slog.String("actual", session.Role),
					slog.String("userID", session.UserID),
				)
				api.ErrorResponse(w, r, http.StatusForbidden, "Unauthorized")
				return
			}

			ctx = context.WithValue(ctx, SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helper functions to get claims from context

func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

func GetClaimsFromContext(ctx context.Context) (*types.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*types.Claims)
	return claims, ok
}

func GetSessionFromContext(ctx context.Context) (*types.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*types.Session)
	return session, ok
}
