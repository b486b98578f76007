package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/buildgate/buildgate/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	s := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newTestAccount(username string) *models.Account {
	now := time.Now()
	return &models.Account{
		ID:         uuid.New().String(),
		Username:   username,
		Email:      username + "@example.com",
		FirstName:  "Test",
		LastName:   "User",
		State:      models.StateActive,
		DateJoined: now,
		UpdatedAt:  now,
	}
}

func TestAccountCRUD(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	account := newTestAccount("alice")
	account.State = models.StatePendingConfirm
	if err := s.Accounts().Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	got, err := s.Accounts().GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got == nil {
		t.Fatal("expected account, got nil")
	}
	if got.State != models.StatePendingConfirm {
		t.Errorf("state = %q, want %q", got.State, models.StatePendingConfirm)
	}
	if got.LastLogin != nil {
		t.Errorf("expected nil last login, got %v", got.LastLogin)
	}

	got.State = models.StateActive
	now := time.Now()
	got.LastLogin = &now
	if err := s.Accounts().Update(ctx, got); err != nil {
		t.Fatalf("update account: %v", err)
	}

	got, err = s.Accounts().GetByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !got.IsActive() {
		t.Error("expected active account after update")
	}
	if got.LastLogin == nil {
		t.Error("expected last login after update")
	}

	missing, err := s.Accounts().GetByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing account, got %+v", missing)
	}
}

func TestAccountCreateConflict(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Accounts().Create(ctx, newTestAccount("bob")); err != nil {
		t.Fatalf("create account: %v", err)
	}

	err := s.Accounts().Create(ctx, newTestAccount("bob"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate username, got %v", err)
	}
}

func TestAccountCreateIfAbsent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := newTestAccount("carol")
	created, err := s.Accounts().CreateIfAbsent(ctx, first)
	if err != nil {
		t.Fatalf("create if absent: %v", err)
	}
	if !created {
		t.Error("expected first insert to report created")
	}

	second := newTestAccount("carol")
	second.Email = "carol-other@example.com"
	created, err = s.Accounts().CreateIfAbsent(ctx, second)
	if err != nil {
		t.Fatalf("create if absent again: %v", err)
	}
	if created {
		t.Error("expected second insert to report not created")
	}

	got, err := s.Accounts().GetByUsername(ctx, "carol")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected the first account to win, got id %s", got.ID)
	}
}

func TestAccountList(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	active := newTestAccount("dave")
	pending := newTestAccount("erin")
	pending.State = models.StatePendingApproval
	staff := newTestAccount("frank")
	staff.Staff = true
	for _, a := range []*models.Account{active, pending, staff} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}

	got, err := s.Accounts().List(ctx, AccountFilter{State: models.StatePendingApproval})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(got) != 1 || got[0].Username != "erin" {
		t.Errorf("pending listing = %d accounts, want just erin", len(got))
	}

	got, err = s.Accounts().List(ctx, AccountFilter{
		State:     models.StateActive,
		StaffOnly: true,
	})
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	if len(got) != 1 || got[0].Username != "frank" {
		t.Errorf("staff listing = %d accounts, want just frank", len(got))
	}

	got, err = s.Accounts().List(ctx, AccountFilter{
		State:            models.StateActive,
		ExcludeUsernames: []string{"frank"},
	})
	if err != nil {
		t.Fatalf("list excluding: %v", err)
	}
	if len(got) != 1 || got[0].Username != "dave" {
		t.Errorf("filtered listing = %d accounts, want just dave", len(got))
	}
}

func TestAccountListStale(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := newTestAccount("grace")
	oldLogin := time.Now().Add(-400 * 24 * time.Hour)
	old.LastLogin = &oldLogin
	fresh := newTestAccount("heidi")
	freshLogin := time.Now()
	fresh.LastLogin = &freshLogin
	never := newTestAccount("ivan")
	for _, a := range []*models.Account{old, fresh, never} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}

	cutoff := time.Now().Add(-365 * 24 * time.Hour)
	got, err := s.Accounts().List(ctx, AccountFilter{LastLoginBefore: &cutoff})
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(got) != 1 || got[0].Username != "grace" {
		t.Errorf("stale listing = %d accounts, want just grace", len(got))
	}
}

func TestStaffEmails(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	staff := newTestAccount("judy")
	staff.Staff = true
	inactiveStaff := newTestAccount("kate")
	inactiveStaff.Staff = true
	inactiveStaff.State = models.StateDeleted
	regular := newTestAccount("luke")
	for _, a := range []*models.Account{staff, inactiveStaff, regular} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}

	emails, err := s.Accounts().StaffEmails(ctx)
	if err != nil {
		t.Fatalf("staff emails: %v", err)
	}
	if len(emails) != 1 || emails[0] != "judy@example.com" {
		t.Errorf("staff emails = %v, want just judy's", emails)
	}
}

func TestRegistrationLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	account := newTestAccount("mallory")
	if err := s.Accounts().Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	reg, err := models.NewRegistration(account.ID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("new registration: %v", err)
	}
	if err := s.Registrations().Create(ctx, reg); err != nil {
		t.Fatalf("create registration: %v", err)
	}

	got, err := s.Registrations().GetByKey(ctx, reg.ActivationKey)
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got == nil || got.AccountID != account.ID {
		t.Fatalf("get by key = %+v, want registration for %s", got, account.ID)
	}
	if got.Activated {
		t.Error("new registration should not be activated")
	}

	if err := s.Registrations().MarkActivated(ctx, account.ID); err != nil {
		t.Fatalf("mark activated: %v", err)
	}
	got, err = s.Registrations().GetByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get by account: %v", err)
	}
	if !got.Activated {
		t.Error("expected activated registration")
	}

	pending, err := s.Registrations().ListUnactivated(ctx)
	if err != nil {
		t.Fatalf("list unactivated: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no unactivated registrations, got %d", len(pending))
	}

	// Account deletion cascades to the registration.
	if err := s.Accounts().Delete(ctx, account.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	got, err = s.Registrations().GetByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected registration to be removed with the account")
	}
}

func TestIdentityUniqueness(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := newTestAccount("nina@idp.example.org")
	second := newTestAccount("other")
	for _, a := range []*models.Account{first, second} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}

	identity := &models.FederatedIdentity{
		AccountID:  first.ID,
		ExternalID: "nina@idp.example.org",
		CreatedAt:  time.Now(),
	}
	if err := s.Identities().Create(ctx, identity); err != nil {
		t.Fatalf("create identity: %v", err)
	}

	dup := &models.FederatedIdentity{
		AccountID:  second.ID,
		ExternalID: "nina@idp.example.org",
		CreatedAt:  time.Now(),
	}
	if err := s.Identities().Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate external id, got %v", err)
	}

	got, err := s.Identities().GetByExternalID(ctx, "nina@idp.example.org")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if got == nil || got.AccountID != first.ID {
		t.Errorf("identity = %+v, want link to %s", got, first.ID)
	}
}

func createTestProject(t *testing.T, s *SQLiteStorage, name, ownerID string) *models.Project {
	t.Helper()
	ctx := context.Background()

	project := &models.Project{
		Name:      name,
		OwnerID:   ownerID,
		Active:    true,
		CreatedAt: time.Now(),
	}
	adminGroup := &models.Group{
		Name:        models.AdminGroupName(name),
		Permissions: []models.Permission{models.PermReadProject, models.PermChangeProject, models.PermDeleteProject},
	}
	userGroup := &models.Group{
		Name:        models.UserGroupName(name),
		Permissions: []models.Permission{models.PermReadProject},
	}
	if err := s.Projects().CreateWithGroups(ctx, project, adminGroup, userGroup); err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return project
}

func TestProjectCreateWithGroups(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	owner := newTestAccount("owner")
	if err := s.Accounts().Create(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}

	project := createTestProject(t, s, "deploy", owner.ID)
	if project.ID == 0 {
		t.Fatal("expected project id to be assigned")
	}
	if project.AdminGroup == 0 || project.UserGroup == 0 {
		t.Fatal("expected group ids to be assigned")
	}

	adminGroup, err := s.Groups().GetByName(ctx, "deploy | admins")
	if err != nil {
		t.Fatalf("get admin group: %v", err)
	}
	if adminGroup == nil {
		t.Fatal("expected admin group to exist")
	}
	if !adminGroup.HasPermission(models.PermDeleteProject) {
		t.Error("admin group should carry the delete grant")
	}

	userGroup, err := s.Groups().GetByName(ctx, "deploy | users")
	if err != nil {
		t.Fatalf("get user group: %v", err)
	}
	if userGroup.HasPermission(models.PermChangeProject) {
		t.Error("user group should not carry the change grant")
	}

	// Owner lands in the admins group on creation.
	isMember, err := s.Groups().IsMember(ctx, project.AdminGroup, owner.ID)
	if err != nil {
		t.Fatalf("check owner membership: %v", err)
	}
	if !isMember {
		t.Error("owner should be a member of the admins group")
	}
}

func TestProjectCreateConflictRollsBack(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	owner := newTestAccount("owner")
	if err := s.Accounts().Create(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	createTestProject(t, s, "deploy", owner.ID)

	groupsBefore, err := s.Groups().Count(ctx)
	if err != nil {
		t.Fatalf("count groups: %v", err)
	}

	dup := &models.Project{Name: "deploy", OwnerID: owner.ID, Active: true, CreatedAt: time.Now()}
	adminGroup := &models.Group{Name: models.AdminGroupName("deploy")}
	userGroup := &models.Group{Name: models.UserGroupName("deploy")}
	err = s.Projects().CreateWithGroups(ctx, dup, adminGroup, userGroup)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	groupsAfter, err := s.Groups().Count(ctx)
	if err != nil {
		t.Fatalf("count groups again: %v", err)
	}
	if groupsAfter != groupsBefore {
		t.Errorf("groups leaked on failed create: %d -> %d", groupsBefore, groupsAfter)
	}
}

func TestProjectDeleteWithGroups(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	owner := newTestAccount("owner")
	if err := s.Accounts().Create(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	project := createTestProject(t, s, "deploy", owner.ID)

	if err := s.Projects().DeleteWithGroups(ctx, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}

	got, err := s.Projects().GetByID(ctx, project.ID)
	if err != nil {
		t.Fatalf("get deleted project: %v", err)
	}
	if got != nil {
		t.Error("expected project to be gone")
	}
	group, err := s.Groups().GetByID(ctx, project.AdminGroup)
	if err != nil {
		t.Fatalf("get admin group: %v", err)
	}
	if group != nil {
		t.Error("expected admin group to be gone")
	}

	// Deleting again is not an error.
	if err := s.Projects().DeleteWithGroups(ctx, project.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestProjectNamesByMembership(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	owner := newTestAccount("owner")
	member := newTestAccount("member")
	for _, a := range []*models.Account{owner, member} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}

	zulu := createTestProject(t, s, "zulu", owner.ID)
	alpha := createTestProject(t, s, "alpha", owner.ID)
	inactive := createTestProject(t, s, "inactive", owner.ID)
	inactive.Active = false
	if err := s.Projects().Update(ctx, inactive); err != nil {
		t.Fatalf("deactivate project: %v", err)
	}

	for _, p := range []*models.Project{zulu, alpha, inactive} {
		if err := s.Groups().AddMember(ctx, p.AdminGroup, member.ID); err != nil {
			t.Fatalf("add admin member: %v", err)
		}
	}
	if err := s.Groups().AddMember(ctx, zulu.UserGroup, member.ID); err != nil {
		t.Fatalf("add user member: %v", err)
	}

	admin, err := s.Projects().AdminProjectNames(ctx, member.ID)
	if err != nil {
		t.Fatalf("admin project names: %v", err)
	}
	// Sorted, inactive excluded.
	if len(admin) != 2 || admin[0] != "alpha" || admin[1] != "zulu" {
		t.Errorf("admin names = %v, want [alpha zulu]", admin)
	}

	user, err := s.Projects().UserProjectNames(ctx, member.ID)
	if err != nil {
		t.Fatalf("user project names: %v", err)
	}
	if len(user) != 1 || user[0] != "zulu" {
		t.Errorf("user names = %v, want [zulu]", user)
	}

	none, err := s.Projects().AdminProjectNames(ctx, "no-such-account")
	if err != nil {
		t.Fatalf("names for unknown account: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty names for unknown account, got %v", none)
	}
}

func TestGroupSetMembers(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	owner := newTestAccount("owner")
	alice := newTestAccount("alice")
	bob := newTestAccount("bob")
	for _, a := range []*models.Account{owner, alice, bob} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}
	project := createTestProject(t, s, "deploy", owner.ID)

	if err := s.Groups().SetMembers(ctx, project.UserGroup, []string{alice.ID, bob.ID}); err != nil {
		t.Fatalf("set members: %v", err)
	}
	members, err := s.Groups().Members(ctx, project.UserGroup)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}

	// Replacement drops everyone not named.
	if err := s.Groups().SetMembers(ctx, project.UserGroup, []string{bob.ID}); err != nil {
		t.Fatalf("replace members: %v", err)
	}
	members, err = s.Groups().Members(ctx, project.UserGroup)
	if err != nil {
		t.Fatalf("list members again: %v", err)
	}
	if len(members) != 1 || members[0].Username != "bob" {
		t.Errorf("members after replace = %d, want just bob", len(members))
	}

	if err := s.Groups().ClearMemberships(ctx, bob.ID); err != nil {
		t.Fatalf("clear memberships: %v", err)
	}
	isMember, err := s.Groups().IsMember(ctx, project.UserGroup, bob.ID)
	if err != nil {
		t.Fatalf("check membership: %v", err)
	}
	if isMember {
		t.Error("expected bob to be removed from all groups")
	}
}

func TestCountByOwner(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	owner := newTestAccount("owner")
	other := newTestAccount("other")
	for _, a := range []*models.Account{owner, other} {
		if err := s.Accounts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Username, err)
		}
	}
	createTestProject(t, s, "one", owner.ID)
	createTestProject(t, s, "two", owner.ID)

	count, err := s.Projects().CountByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("count by owner: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	count, err = s.Projects().CountByOwner(ctx, other.ID)
	if err != nil {
		t.Fatalf("count for other: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	account := newTestAccount("alice")
	if err := s.Accounts().Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	token, plain, err := models.NewRefreshToken(account.ID, time.Hour)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if err := s.Tokens().Create(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	got, err := s.Tokens().GetByTokenHash(ctx, models.HashToken(plain))
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got == nil || !got.IsValid() {
		t.Fatalf("expected valid token, got %+v", got)
	}

	if err := s.Tokens().RevokeAllForUser(ctx, account.ID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	got, err = s.Tokens().GetByTokenHash(ctx, models.HashToken(plain))
	if err != nil {
		t.Fatalf("get token after revoke: %v", err)
	}
	if got.IsValid() {
		t.Error("expected token to be revoked")
	}
}
