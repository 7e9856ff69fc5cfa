package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/rfcarvalho/aegis/internal/types"
)

// MockAuditService is a mock implementation of the AuditService interface
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) Record(ctx context.Context, actorID, action, targetUserID string, details map[string]any) error {
	args := m.Called(ctx, actorID, action, targetUserID, details)
	return args.Error(0)
}

func (m *MockAuditService) Query(ctx context.Context, action string, page, limit int) (*types.AuditLogPage, error) {
	args := m.Called(ctx, action, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AuditLogPage), args.Error(1)
}

func TestListAuditLogsHandler(t *testing.T) {
	logger := slog.Default()

	t.Run("ParsesQueryParams", func(t *testing.T) {
		mockService := new(MockAuditService)
		handler := NewAuditHandler(mockService, logger)

		result := &types.AuditLogPage{
			Logs: []*types.AuditLog{},
			Pagination: types.Pagination{
				Page: 3, Limit: 10, TotalPages: 5, TotalCount: 42,
			},
		}
		mockService.On("Query", mock.Anything, types.AuditActionUpdateRole, 3, 10).Return(result, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/admin/audit?page=3&limit=10&action=UPDATE_ROLE", nil)
		rec := httptest.NewRecorder()

		handler.ListAuditLogs(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var got types.AuditLogPage
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 42, got.Pagination.TotalCount)
		assert.Equal(t, 5, got.Pagination.TotalPages)
		mockService.AssertExpectations(t)
	})

	t.Run("DefaultsWhenParamsAbsent", func(t *testing.T) {
		mockService := new(MockAuditService)
		handler := NewAuditHandler(mockService, logger)

		result := &types.AuditLogPage{Logs: []*types.AuditLog{}}
		mockService.On("Query", mock.Anything, "", 0, 0).Return(result, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
		rec := httptest.NewRecorder()

		handler.ListAuditLogs(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("StorageFailure", func(t *testing.T) {
		mockService := new(MockAuditService)
		handler := NewAuditHandler(mockService, logger)

		mockService.On("Query", mock.Anything, "", 0, 0).Return(nil, assert.AnError).Once()

		req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
		rec := httptest.NewRecorder()

		handler.ListAuditLogs(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		mockService.AssertExpectations(t)
	})
}
