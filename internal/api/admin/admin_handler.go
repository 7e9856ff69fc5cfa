package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rfcarvalho/aegis/app/observability/metrics"
	"github.com/rfcarvalho/aegis/internal/api"
	"github.com/rfcarvalho/aegis/internal/api/auth"
	"github.com/rfcarvalho/aegis/internal/types"
)

// UpdateRoleRequest is the PATCH body for a role change.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// UserListResponse wraps the management user list.
type UserListResponse struct {
	Success bool              `json:"success"`
	Users   []*types.UserAuth `json:"users"`
}

// AdminHandler handles HTTP requests for privileged user administration.
type AdminHandler struct {
	adminService AdminService
	logger       *slog.Logger
	metrics      *metrics.AppMetrics
}

// NewAdminHandler creates a new AdminHandler. metrics may be nil in tests.
func NewAdminHandler(adminService AdminService, m *metrics.AppMetrics, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		logger:       logger,
		metrics:      m,
	}
}

// ListUsers returns all user accounts.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	users, err := h.adminService.ListUsers(r.Context(), actorID)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list users")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, UserListResponse{
		Success: true,
		Users:   users,
	})
}

// UpdateUserRole changes the role of the user named in the URL.
func (h *AdminHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	targetUserID := chi.URLParam(r, "userID")
	if targetUserID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "User ID is required")
		return
	}

	var req UpdateRoleRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := h.adminService.ChangeRole(r.Context(), actorID, targetUserID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidInput):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid role")
		case errors.Is(err, types.ErrSelfDemotion):
			api.ErrorResponse(w, r, http.StatusBadRequest, "You cannot demote yourself")
		case errors.Is(err, types.ErrLastAdmin):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Cannot demote the last admin")
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
		case errors.Is(err, types.ErrForbidden):
			api.ErrorResponse(w, r, http.StatusForbidden, "Unauthorized")
		default:
			h.logger.ErrorContext(r.Context(), "Role change failed", slog.Any("error", err), slog.String("targetUserID", targetUserID))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to update role")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.RoleChangesTotal.Add(r.Context(), 1)
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{
		"success": true,
		"message": "Role updated successfully",
	})
}

// DeleteUser removes the user named in the URL.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	targetUserID := chi.URLParam(r, "userID")
	if targetUserID == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "User ID is required")
		return
	}

	err := h.adminService.DeleteUser(r.Context(), actorID, targetUserID)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrSelfDelete):
			api.ErrorResponse(w, r, http.StatusBadRequest, "You cannot delete your own account")
		case errors.Is(err, types.ErrLastAdmin):
			api.ErrorResponse(w, r, http.StatusBadRequest, "Cannot delete the last admin")
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, "User not found")
		case errors.Is(err, types.ErrForbidden):
			api.ErrorResponse(w, r, http.StatusForbidden, "Unauthorized")
		default:
			h.logger.ErrorContext(r.Context(), "User deletion failed", slog.Any("error", err), slog.String("targetUserID", targetUserID))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to delete user")
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, map[string]any{
		"success": true,
		"message": "User deleted successfully",
	})
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if errors.Is(err, types.ErrForbidden) {
		api.ErrorResponse(w, r, http.StatusForbidden, "Unauthorized")
		return
	}
	h.logger.ErrorContext(r.Context(), fallback, slog.Any("error", err))
	api.ErrorResponse(w, r, http.StatusInternalServerError, fallback)
}
