package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rfcarvalho/aegis/internal/types"
)

// AuditRecorder is the slice of the audit service this package needs.
type AuditRecorder interface {
	Record(ctx context.Context, actorID, action, targetUserID string, details map[string]any) error
}

// TokenRevoker is the slice of the auth layer used to cut a user's existing
// sessions short after a role mutation.
type TokenRevoker interface {
	InvalidateAllUserRefreshTokens(ctx context.Context, userID string) error
}

var _ AdminService = (*AdminServiceImpl)(nil)

// AdminService defines privileged user-administration operations. The actor
// is always re-checked against the store, never trusted from the token.
type AdminService interface {
	// ListUsers returns every user account for the management view.
	ListUsers(ctx context.Context, actorID string) ([]*types.UserAuth, error)

	// ChangeRole assigns newRole to the target user after the full
	// precondition chain passes, then writes an audit entry recording
	// the previous and new role. The audit write is part of the
	// operation; if it fails the caller sees the error.
	ChangeRole(ctx context.Context, actorID, targetUserID, newRole string) error

	// DeleteUser removes the target account and writes an audit entry
	// capturing the deleted user's email and role.
	DeleteUser(ctx context.Context, actorID, targetUserID string) error
}

type AdminServiceImpl struct {
	logger *slog.Logger
	repo   AdminRepo
	audit  AuditRecorder
	tokens TokenRevoker
}

func NewAdminService(repo AdminRepo, audit AuditRecorder, tokens TokenRevoker, logger *slog.Logger) *AdminServiceImpl {
	return &AdminServiceImpl{
		logger: logger,
		repo:   repo,
		audit:  audit,
		tokens: tokens,
	}
}

// requireAdminActor re-reads the actor and rejects non-admins. The HTTP
// guard already checks this, but the service enforces it again so the
// invariant holds for any future caller.
func (s *AdminServiceImpl) requireAdminActor(ctx context.Context, actorID string) error {
	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrForbidden
		}
		return fmt.Errorf("load actor: %w", err)
	}
	if actor.Role != types.RoleAdmin {
		return types.ErrForbidden
	}
	return nil
}

func (s *AdminServiceImpl) ListUsers(ctx context.Context, actorID string) ([]*types.UserAuth, error) {
	l := s.logger.With(slog.String("method", "ListUsers"))

	if err := s.requireAdminActor(ctx, actorID); err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Failed to list users", slog.Any("error", err))
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *AdminServiceImpl) ChangeRole(ctx context.Context, actorID, targetUserID, newRole string) error {
	l := s.logger.With(
		slog.String("method", "ChangeRole"),
		slog.String("targetUserID", targetUserID),
		slog.String("newRole", newRole),
	)

	if err := s.requireAdminActor(ctx, actorID); err != nil {
		return err
	}

	if !types.ValidRole(newRole) {
		return types.ErrInvalidInput
	}

	target, err := s.repo.GetUserByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrNotFound
		}
		return fmt.Errorf("load target user: %w", err)
	}

	// An admin may not strip their own admin role. This also rules out
	// the last admin locking everyone out by demoting themselves.
	if actorID == targetUserID && newRole != types.RoleAdmin {
		return types.ErrSelfDemotion
	}

	// Demoting any admin is refused while they are the only one left.
	if target.Role == types.RoleAdmin && newRole != types.RoleAdmin {
		admins, err := s.repo.CountAdmins(ctx)
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins <= 1 {
			return types.ErrLastAdmin
		}
	}

	if err := s.repo.UpdateUserRole(ctx, targetUserID, newRole); err != nil {
		l.ErrorContext(ctx, "Failed to update role", slog.Any("error", err))
		return fmt.Errorf("update role: %w", err)
	}

	err = s.audit.Record(ctx, actorID, types.AuditActionUpdateRole, targetUserID, map[string]any{
		"previousRole": target.Role,
		"newRole":      newRole,
	})
	if err != nil {
		l.ErrorContext(ctx, "Role updated but audit write failed", slog.Any("error", err))
		return fmt.Errorf("record audit entry: %w", err)
	}

	// Existing refresh tokens must not carry the old role forward; the
	// target signs in again with the new one.
	if err := s.tokens.InvalidateAllUserRefreshTokens(ctx, targetUserID); err != nil {
		l.WarnContext(ctx, "Failed to revoke target refresh tokens", slog.Any("error", err))
	}

	l.InfoContext(ctx, "Role updated", slog.String("previousRole", target.Role))
	return nil
}

func (s *AdminServiceImpl) DeleteUser(ctx context.Context, actorID, targetUserID string) error {
	l := s.logger.With(
		slog.String("method", "DeleteUser"),
		slog.String("targetUserID", targetUserID),
	)

	if err := s.requireAdminActor(ctx, actorID); err != nil {
		return err
	}

	if actorID == targetUserID {
		return types.ErrSelfDelete
	}

	target, err := s.repo.GetUserByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.ErrNotFound
		}
		return fmt.Errorf("load target user: %w", err)
	}

	// Deleting the only admin is the same lockout as demoting them.
	if target.Role == types.RoleAdmin {
		admins, err := s.repo.CountAdmins(ctx)
		if err != nil {
			return fmt.Errorf("count admins: %w", err)
		}
		if admins <= 1 {
			return types.ErrLastAdmin
		}
	}

	if err := s.repo.DeleteUser(ctx, targetUserID); err != nil {
		l.ErrorContext(ctx, "Failed to delete user", slog.Any("error", err))
		return fmt.Errorf("delete user: %w", err)
	}

	err = s.audit.Record(ctx, actorID, types.AuditActionDeleteUser, targetUserID, map[string]any{
		"email": target.Email,
		"role":  target.Role,
	})
	if err != nil {
		l.ErrorContext(ctx, "User deleted but audit write failed", slog.Any("error", err))
		return fmt.Errorf("record audit entry: %w", err)
	}

	l.InfoContext(ctx, "User deleted", slog.String("email", target.Email))
	return nil
}
