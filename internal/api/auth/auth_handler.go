package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markbates/goth/gothic"

	"github.com/rfcarvalho/aegis/app/observability/metrics"
	"github.com/rfcarvalho/aegis/internal/api"
	"github.com/rfcarvalho/aegis/internal/types"
)

// AuthHandler handles HTTP requests for authentication operations.
type AuthHandler struct {
	authService AuthService
	logger      *slog.Logger
	metrics     *metrics.AppMetrics
}

// NewAuthHandler creates a new AuthHandler. metrics may be nil in tests.
func NewAuthHandler(authService AuthService, m *metrics.AppMetrics, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
		metrics:     m,
	}
}

// Register creates a new credential-based account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}

	err := h.authService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			api.ErrorResponse(w, r, http.StatusConflict, "An account with this email already exists")
			return
		}
		h.logger.ErrorContext(r.Context(), "Registration failed", slog.Any("error", err), slog.String("email", req.Email))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to register user")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, Response{
		Success: true,
		Message: "User registered successfully",
	})
}

// Login authenticates a user and returns access and refresh tokens.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}

	if h.metrics != nil {
		h.metrics.LoginAttemptsTotal.Add(r.Context(), 1)
	}

	accessToken, refreshToken, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if h.metrics != nil {
			h.metrics.LoginFailuresTotal.Add(r.Context(), 1)
		}
		// Missing account and wrong password both collapse to the same
		// client-facing message.
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrUnauthenticated) {
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication failed")
			return
		}
		h.logger.ErrorContext(r.Context(), "Login failed", slog.Any("error", err), slog.String("email", req.Email))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to log in")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Logout invalidates the presented refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.ErrorContext(r.Context(), "Logout failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to log out")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "Logged out successfully",
	})
}

// LogoutAll revokes every refresh token of the authenticated caller,
// ending all of their sessions at once.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authService.LogoutAll(r.Context(), userID); err != nil {
		h.logger.ErrorContext(r.Context(), "Session revocation failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to revoke sessions")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "All sessions revoked",
	})
}

// RefreshToken rotates the refresh token and returns a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Refresh token is required")
		return
	}

	accessToken, refreshToken, err := h.authService.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, types.ErrUnauthenticated) {
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		h.logger.ErrorContext(r.Context(), "Token refresh failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to refresh token")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// GetSession materializes the session for the authenticated caller. Every
// call re-reads the backing record, so a role change made by an admin shows
// up here without re-login.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetClaimsFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	session, err := h.authService.GetSession(r.Context(), claims)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Session materialization failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load session")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, session)
}

// BeginOAuth redirects the caller to the third-party provider.
func (h *AuthHandler) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	r = gothic.GetContextWithProvider(r, provider)
	gothic.BeginAuthHandler(w, r)
}

// OAuthCallback completes the provider dance, runs the account linker and
// issues the same token pair as a credential login.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	r = gothic.GetContextWithProvider(r, provider)

	providerUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "OAuth callback failed", slog.Any("error", err), slog.String("provider", provider))
		api.ErrorResponse(w, r, http.StatusUnauthorized, "OAuth sign-in failed")
		return
	}

	user, err := h.authService.GetOrCreateUserFromProvider(r.Context(), provider, providerUser)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Account linking failed", slog.Any("error", err), slog.String("provider", provider))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	accessToken, refreshToken, err := h.authService.GenerateTokens(r.Context(), user)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Token generation failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}
