package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rfcarvalho/aegis/app/observability/metrics"
	"github.com/rfcarvalho/aegis/internal/types"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var _ AuditService = (*AuditServiceImpl)(nil)

// AuditService records privileged actions and serves the paginated trail.
type AuditService interface {
	// Record appends one entry. Callers treat a failure here as a failure
	// of the whole operation, so the trail never silently misses an entry.
	Record(ctx context.Context, actorID, action, targetUserID string, details map[string]any) error
	// Query returns one page of entries, newest first. page is 1-indexed;
	// out-of-range values fall back to defaults. An empty action means no
	// filter.
	Query(ctx context.Context, action string, page, limit int) (*types.AuditLogPage, error)
}

type AuditServiceImpl struct {
	logger  *slog.Logger
	repo    AuditRepo
	metrics *metrics.AppMetrics
}

// NewAuditService creates the audit service. metrics may be nil in tests.
func NewAuditService(repo AuditRepo, m *metrics.AppMetrics, logger *slog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{
		logger:  logger,
		repo:    repo,
		metrics: m,
	}
}

func (s *AuditServiceImpl) Record(ctx context.Context, actorID, action, targetUserID string, details map[string]any) error {
	l := s.logger.With(
		slog.String("method", "Record"),
		slog.String("action", action),
		slog.String("targetUserID", targetUserID),
	)

	err := s.repo.Insert(ctx, actorID, action, targetUserID, details)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AuditWriteErrorsTotal.Add(ctx, 1)
		}
		l.ErrorContext(ctx, "Audit write failed", slog.Any("error", err))
		return fmt.Errorf("record audit entry: %w", err)
	}

	if s.metrics != nil {
		s.metrics.AuditWritesTotal.Add(ctx, 1)
	}
	l.DebugContext(ctx, "Audit entry recorded", slog.String("actorID", actorID))
	return nil
}

func (s *AuditServiceImpl) Query(ctx context.Context, action string, page, limit int) (*types.AuditLogPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := (page - 1) * limit

	totalCount, err := s.repo.Count(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}

	logs, err := s.repo.List(ctx, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}

	// Entries referencing deleted users keep a readable placeholder.
	for _, entry := range logs {
		if entry.Actor == nil {
			entry.Actor = &types.AuditActorRef{Name: "Unknown"}
		}
		if entry.Target == nil {
			entry.Target = &types.AuditActorRef{Name: "Unknown"}
		}
	}

	totalPages := 0
	if totalCount > 0 {
		totalPages = (totalCount + limit - 1) / limit
	}

	if logs == nil {
		logs = []*types.AuditLog{}
	}

	return &types.AuditLogPage{
		Logs: logs,
		Pagination: types.Pagination{
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
			TotalCount: totalCount,
		},
	}, nil
}
