package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/rfcarvalho/aegis/internal/api/auth"
	"github.com/rfcarvalho/aegis/internal/types"
)

// MockAdminService is a mock implementation of the AdminService interface
type MockAdminService struct {
	mock.Mock
}

func (m *MockAdminService) ListUsers(ctx context.Context, actorID string) ([]*types.UserAuth, error) {
	args := m.Called(ctx, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.UserAuth), args.Error(1)
}

func (m *MockAdminService) ChangeRole(ctx context.Context, actorID, targetUserID, newRole string) error {
	args := m.Called(ctx, actorID, targetUserID, newRole)
	return args.Error(0)
}

func (m *MockAdminService) DeleteUser(ctx context.Context, actorID, targetUserID string) error {
	args := m.Called(ctx, actorID, targetUserID)
	return args.Error(0)
}

// newPatchRoleRequest builds a PATCH request carrying the authenticated
// actor and the chi URL param the handler reads.
func newPatchRoleRequest(t *testing.T, actorID, targetID, role string) *http.Request {
	t.Helper()

	body, err := json.Marshal(UpdateRoleRequest{Role: role})
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/admin/users/"+targetID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	ctx := context.WithValue(req.Context(), auth.UserIDKey, actorID)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userID", targetID)
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func newDeleteUserRequest(actorID, targetID string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/admin/users/"+targetID, nil)

	ctx := context.WithValue(req.Context(), auth.UserIDKey, actorID)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userID", targetID)
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func TestUpdateUserRoleHandler(t *testing.T) {
	logger := slog.Default()

	cases := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"Success", nil, http.StatusOK},
		{"InvalidRole", types.ErrInvalidInput, http.StatusBadRequest},
		{"SelfDemotion", types.ErrSelfDemotion, http.StatusBadRequest},
		{"LastAdmin", types.ErrLastAdmin, http.StatusBadRequest},
		{"TargetNotFound", types.ErrNotFound, http.StatusNotFound},
		{"NonAdminActor", types.ErrForbidden, http.StatusForbidden},
		{"StorageFailure", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockService := new(MockAdminService)
			handler := NewAdminHandler(mockService, nil, logger)

			mockService.On("ChangeRole", mock.Anything, "admin-1", "user-1", types.RoleModerator).
				Return(tc.serviceErr).Once()

			req := newPatchRoleRequest(t, "admin-1", "user-1", types.RoleModerator)
			rec := httptest.NewRecorder()

			handler.UpdateUserRole(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			mockService.AssertExpectations(t)
		})
	}

	t.Run("MissingActor", func(t *testing.T) {
		mockService := new(MockAdminService)
		handler := NewAdminHandler(mockService, nil, logger)

		body, _ := json.Marshal(UpdateRoleRequest{Role: types.RoleModerator})
		req := httptest.NewRequest(http.MethodPatch, "/admin/users/user-1", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		handler.UpdateUserRole(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		mockService.AssertNotCalled(t, "ChangeRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeleteUserHandler(t *testing.T) {
	logger := slog.Default()

	cases := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"Success", nil, http.StatusOK},
		{"SelfDelete", types.ErrSelfDelete, http.StatusBadRequest},
		{"LastAdmin", types.ErrLastAdmin, http.StatusBadRequest},
		{"TargetNotFound", types.ErrNotFound, http.StatusNotFound},
		{"NonAdminActor", types.ErrForbidden, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockService := new(MockAdminService)
			handler := NewAdminHandler(mockService, nil, logger)

			mockService.On("DeleteUser", mock.Anything, "admin-1", "user-1").
				Return(tc.serviceErr).Once()

			req := newDeleteUserRequest("admin-1", "user-1")
			rec := httptest.NewRecorder()

			handler.DeleteUser(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestListUsersHandler(t *testing.T) {
	logger := slog.Default()

	t.Run("ReturnsUserList", func(t *testing.T) {
		mockService := new(MockAdminService)
		handler := NewAdminHandler(mockService, nil, logger)

		users := []*types.UserAuth{
			{ID: "admin-1", Email: "admin@example.com", Role: types.RoleAdmin},
			{ID: "user-1", Email: "user@example.com", Role: types.RoleUser},
		}
		mockService.On("ListUsers", mock.Anything, "admin-1").Return(users, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "admin-1"))
		rec := httptest.NewRecorder()

		handler.ListUsers(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp UserListResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Len(t, resp.Users, 2)
		mockService.AssertExpectations(t)
	})

	t.Run("ForbiddenForNonAdmin", func(t *testing.T) {
		mockService := new(MockAdminService)
		handler := NewAdminHandler(mockService, nil, logger)

		mockService.On("ListUsers", mock.Anything, "user-1").Return(nil, types.ErrForbidden).Once()

		req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, "user-1"))
		rec := httptest.NewRecorder()

		handler.ListUsers(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		mockService.AssertExpectations(t)
	})
}
