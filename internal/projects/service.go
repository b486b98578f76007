// Package projects implements project lifecycle and permission resolution.
// Every project is backed by two groups: "<name> | admins" with the full
// grant set and "<name> | users" with read only.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/models"
	"github.com/buildgate/buildgate/internal/storage"
)

// MailSender delivers project lifecycle email. Delivery failures do not
// abort the operation that triggered them.
type MailSender interface {
	SendProjectPending(ctx context.Context, staffEmails []string, project *models.Project, owner *models.Account) error
	SendProjectApproved(ctx context.Context, owner *models.Account, project *models.Project) error
	SendProjectRejected(ctx context.Context, owner *models.Account, project *models.Project) error
}

// Service drives project state transitions and membership.
type Service struct {
	store storage.Storage
	mail  MailSender
}

// NewService creates a project service.
func NewService(store storage.Storage, mail MailSender) *Service {
	return &Service{store: store, mail: mail}
}

// Create makes a project with its two backing groups and puts the owner
// into the admins group, all in one transaction. Self-service projects are
// created active; inactive ones wait in the staff review queue.
func (s *Service) Create(ctx context.Context, ownerID, name, description string, active bool) (*models.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if len(description) > models.MaxDescriptionLength {
		return nil, ErrDescriptionTooLong
	}

	// A group can exist without a same-named project, so the two
	// collisions are reported separately.
	for _, groupName := range []string{models.AdminGroupName(name), models.UserGroupName(name)} {
		group, err := s.store.Groups().GetByName(ctx, groupName)
		if err != nil {
			return nil, fmt.Errorf("check group name: %w", err)
		}
		if group != nil {
			return nil, ErrGroupExists
		}
	}
	existing, err := s.store.Projects().GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check project name: %w", err)
	}
	if existing != nil {
		return nil, ErrNameTaken
	}

	project := &models.Project{
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Active:      active,
		CreatedAt:   time.Now(),
	}
	adminGroup := &models.Group{
		Name:        models.AdminGroupName(name),
		Permissions: []models.Permission{models.PermReadProject, models.PermChangeProject, models.PermDeleteProject},
	}
	userGroup := &models.Group{
		Name:        models.UserGroupName(name),
		Permissions: []models.Permission{models.PermReadProject},
	}

	if err := s.store.Projects().CreateWithGroups(ctx, project, adminGroup, userGroup); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race after the pre-checks passed.
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("create project: %w", err)
	}

	if !active {
		s.notifyPending(ctx, project)
	}

	metrics.ProjectsCreated.Inc()
	return project, nil
}

// Approve activates a project awaiting review and tells the owner.
func (s *Service) Approve(ctx context.Context, projectID int64) (*models.Project, error) {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return nil, ErrNotFound
	}
	if project.Active {
		return project, nil
	}

	project.Active = true
	if err := s.store.Projects().Update(ctx, project); err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	if owner := s.loadOwner(ctx, project); owner != nil {
		s.sendMail("project approved", s.mail.SendProjectApproved(ctx, owner, project))
	}
	return project, nil
}

// Reject tells the owner, then removes the project and its groups.
func (s *Service) Reject(ctx context.Context, projectID int64) error {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return ErrNotFound
	}

	if owner := s.loadOwner(ctx, project); owner != nil {
		s.sendMail("project rejected", s.mail.SendProjectRejected(ctx, owner, project))
	}

	if err := s.store.Projects().DeleteWithGroups(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	metrics.ProjectsDeleted.Inc()
	return nil
}

// Delete removes the project and both backing groups.
func (s *Service) Delete(ctx context.Context, projectID int64) error {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return ErrNotFound
	}
	if err := s.store.Projects().DeleteWithGroups(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	metrics.ProjectsDeleted.Inc()
	return nil
}

// SetAdminMembers replaces the full admins-group membership.
func (s *Service) SetAdminMembers(ctx context.Context, projectID int64, accountIDs []string) error {
	return s.setMembers(ctx, projectID, accountIDs, true)
}

// SetUserMembers replaces the full users-group membership.
func (s *Service) SetUserMembers(ctx context.Context, projectID int64, accountIDs []string) error {
	return s.setMembers(ctx, projectID, accountIDs, false)
}

func (s *Service) setMembers(ctx context.Context, projectID int64, accountIDs []string, admins bool) error {
	project, err := s.store.Projects().GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return ErrNotFound
	}
	groupID := project.UserGroup
	if admins {
		groupID = project.AdminGroup
	}
	if err := s.store.Groups().SetMembers(ctx, groupID, accountIDs); err != nil {
		return fmt.Errorf("set members: %w", err)
	}
	return nil
}

// RolesFor returns the sorted names of active projects where the account is
// in the admins group and in the users group. Ownership alone does not
// appear in either list.
func (s *Service) RolesFor(ctx context.Context, accountID string) (admin, user []string, err error) {
	admin, err = s.store.Projects().AdminProjectNames(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("admin project names: %w", err)
	}
	user, err = s.store.Projects().UserProjectNames(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("user project names: %w", err)
	}
	return admin, user, nil
}

func (s *Service) loadOwner(ctx context.Context, project *models.Project) *models.Account {
	owner, err := s.store.Accounts().GetByID(ctx, project.OwnerID)
	if err != nil {
		log.Printf("WARN: load owner of project %d: %v", project.ID, err)
		return nil
	}
	return owner
}

func (s *Service) notifyPending(ctx context.Context, project *models.Project) {
	staff, err := s.store.Accounts().StaffEmails(ctx)
	if err != nil {
		log.Printf("WARN: list staff emails: %v", err)
		return
	}
	owner := s.loadOwner(ctx, project)
	if owner == nil {
		return
	}
	s.sendMail("project pending", s.mail.SendProjectPending(ctx, staff, project, owner))
}

func (s *Service) sendMail(what string, err error) {
	if err != nil {
		log.Printf("WARN: send %s mail: %v", what, err)
		metrics.MailErrors.Inc()
		return
	}
	metrics.MailSentTotal.Inc()
}
