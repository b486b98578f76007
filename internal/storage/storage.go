// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/buildgate/buildgate/internal/models"
)

// Sentinel errors returned by repositories. Services translate these into
// their own domain errors.
var (
	// ErrNotFound is returned for lookups that repositories cannot
	// express as a nil result.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("already exists")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// EnsureServiceAccounts creates the privileged API account and the
	// administrative account on first run.
	EnsureServiceAccounts(apiUser, adminUser string) error

	// Repository accessors
	Accounts() AccountRepository
	Groups() GroupRepository
	Projects() ProjectRepository
	Registrations() RegistrationRepository
	Identities() IdentityRepository
	Tokens() TokenRepository
}

// AccountFilter selects accounts for the staff listing endpoints.
type AccountFilter struct {
	State models.AccountState
	// StaffOnly narrows a state filter to staff accounts.
	StaffOnly bool
	// LastLoginBefore, when set, narrows to accounts whose last login is
	// at or before the cutoff (the stale listing).
	LastLoginBefore *time.Time
	// ExcludeUsernames removes the service accounts from listings.
	ExcludeUsernames []string
}

// AccountRepository defines operations for account management.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	// CreateIfAbsent atomically creates the account unless the username
	// is taken. Returns true if the row was inserted. Two concurrent
	// calls with the same username race safely: exactly one wins.
	CreateIfAbsent(ctx context.Context, account *models.Account) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter AccountFilter) ([]*models.Account, error)
	// StaffEmails returns the distinct email addresses of active staff.
	StaffEmails(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// GroupRepository defines operations for groups, their permission grants
// and their memberships.
type GroupRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Group, error)
	GetByName(ctx context.Context, name string) (*models.Group, error)
	// HasPermission reports whether the group carries the grant. A
	// missing group yields false, not an error.
	HasPermission(ctx context.Context, groupID int64, perm models.Permission) (bool, error)
	// IsMember reports whether the account is in the group.
	IsMember(ctx context.Context, groupID int64, accountID string) (bool, error)
	AddMember(ctx context.Context, groupID int64, accountID string) error
	// SetMembers replaces the full membership of the group in one
	// transaction. Members not in accountIDs are dropped.
	SetMembers(ctx context.Context, groupID int64, accountIDs []string) error
	Members(ctx context.Context, groupID int64) ([]*models.Account, error)
	// ClearMemberships removes the account from every group.
	ClearMemberships(ctx context.Context, accountID string) error
	Count(ctx context.Context) (int64, error)
}

// ProjectRepository defines operations for project management.
type ProjectRepository interface {
	// CreateWithGroups inserts both groups, the project and the owner's
	// admin-group membership as a single transaction. On a name
	// collision it returns ErrConflict wrapped with the colliding name.
	// Nothing is persisted on failure.
	CreateWithGroups(ctx context.Context, project *models.Project, adminGroup, userGroup *models.Group) error
	GetByID(ctx context.Context, id int64) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	// DeleteWithGroups removes the project and both backing groups in
	// one transaction. Deleting an already-removed project is not an
	// error.
	DeleteWithGroups(ctx context.Context, id int64) error
	List(ctx context.Context, activeOnly bool) ([]*models.Project, error)
	ListPending(ctx context.Context) ([]*models.Project, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Project, error)
	// AdminProjectNames returns the sorted names of active projects
	// whose admin group contains the account.
	AdminProjectNames(ctx context.Context, accountID string) ([]string, error)
	// UserProjectNames returns the sorted names of active projects
	// whose user group contains the account.
	UserProjectNames(ctx context.Context, accountID string) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// RegistrationRepository defines operations for pending registrations.
type RegistrationRepository interface {
	Create(ctx context.Context, reg *models.Registration) error
	GetByAccount(ctx context.Context, accountID string) (*models.Registration, error)
	GetByKey(ctx context.Context, activationKey string) (*models.Registration, error)
	// MarkActivated flips the activated flag.
	MarkActivated(ctx context.Context, accountID string) error
	DeleteByAccount(ctx context.Context, accountID string) error
	// ListUnactivated returns registrations whose key was never used.
	ListUnactivated(ctx context.Context) ([]*models.Registration, error)
}

// IdentityRepository defines operations for federated identity links.
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.FederatedIdentity) error
	GetByExternalID(ctx context.Context, externalID string) (*models.FederatedIdentity, error)
	GetByAccount(ctx context.Context, accountID string) (*models.FederatedIdentity, error)
	DeleteByAccount(ctx context.Context, accountID string) error
}

// TokenRepository defines operations for refresh token management.
type TokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, accountID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
