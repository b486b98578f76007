package projects

import (
	"context"
	"fmt"

	"github.com/buildgate/buildgate/internal/models"
)

// Resolve classifies an account's standing on a project. The owner always
// wins; otherwise membership of the admins group outranks the users group.
// A grant without membership, or membership of a group that lost its grant,
// counts for nothing.
func (s *Service) Resolve(ctx context.Context, accountID string, project *models.Project) (models.Role, error) {
	if project.OwnerID == accountID {
		return models.RoleOwner, nil
	}

	ok, err := s.groupGrantsAndHolds(ctx, project.AdminGroup, models.PermReadProject, accountID)
	if err != nil {
		return models.RoleNone, err
	}
	if ok {
		return models.RoleAdmin, nil
	}

	ok, err = s.groupGrantsAndHolds(ctx, project.UserGroup, models.PermReadProject, accountID)
	if err != nil {
		return models.RoleNone, err
	}
	if ok {
		return models.RoleMember, nil
	}
	return models.RoleNone, nil
}

// CanRead reports read access: the owner, then the users group, then the
// admins group. Missing grants and memberships are plain negatives.
func (s *Service) CanRead(ctx context.Context, accountID string, project *models.Project) (bool, error) {
	if project.OwnerID == accountID {
		return true, nil
	}
	ok, err := s.groupGrantsAndHolds(ctx, project.UserGroup, models.PermReadProject, accountID)
	if err != nil || ok {
		return ok, err
	}
	return s.groupGrantsAndHolds(ctx, project.AdminGroup, models.PermReadProject, accountID)
}

// CanUpdate reports update access: the owner, or an admins-group member
// while that group holds the change grant.
func (s *Service) CanUpdate(ctx context.Context, accountID string, project *models.Project) (bool, error) {
	if project.OwnerID == accountID {
		return true, nil
	}
	return s.groupGrantsAndHolds(ctx, project.AdminGroup, models.PermChangeProject, accountID)
}

// CanDelete reports delete access. Only the owner may delete, regardless of
// group state.
func (s *Service) CanDelete(ctx context.Context, accountID string, project *models.Project) (bool, error) {
	return project.OwnerID == accountID, nil
}

// groupGrantsAndHolds reports whether the group both carries the grant and
// contains the account.
func (s *Service) groupGrantsAndHolds(ctx context.Context, groupID int64, perm models.Permission, accountID string) (bool, error) {
	granted, err := s.store.Groups().HasPermission(ctx, groupID, perm)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	if !granted {
		return false, nil
	}
	member, err := s.store.Groups().IsMember(ctx, groupID, accountID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}
