package projects

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/buildgate/buildgate/internal/models"
	"github.com/buildgate/buildgate/internal/storage"
)

type recordingMailer struct {
	mu       sync.Mutex
	pending  []string
	approved []string
	rejected []string
}

func (m *recordingMailer) SendProjectPending(ctx context.Context, staff []string, project *models.Project, owner *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, project.Name)
	return nil
}

func (m *recordingMailer) SendProjectApproved(ctx context.Context, owner *models.Account, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved = append(m.approved, project.Name)
	return nil
}

func (m *recordingMailer) SendProjectRejected(ctx context.Context, owner *models.Account, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, project.Name)
	return nil
}

func newTestService(t *testing.T) (*Service, *storage.SQLiteStorage, *recordingMailer) {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mailer := &recordingMailer{}
	return NewService(store, mailer), store, mailer
}

func createAccount(t *testing.T, store storage.Storage, username string) *models.Account {
	t.Helper()
	account := models.NewAccount(username, username+"@example.com", "", "")
	account.ID = uuid.New().String()
	account.State = models.StateActive
	if err := store.Accounts().Create(context.Background(), account); err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return account
}

func TestCreate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")

	project, err := svc.Create(ctx, owner.ID, "deploy", "deployment pipeline", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !project.Active {
		t.Error("self-service project should be active on creation")
	}

	adminGroup, err := store.Groups().GetByID(ctx, project.AdminGroup)
	if err != nil {
		t.Fatalf("get admin group: %v", err)
	}
	if adminGroup.Name != "deploy | admins" {
		t.Errorf("admin group name = %q", adminGroup.Name)
	}
	for _, perm := range []models.Permission{models.PermReadProject, models.PermChangeProject, models.PermDeleteProject} {
		if !adminGroup.HasPermission(perm) {
			t.Errorf("admin group missing %s", perm)
		}
	}

	userGroup, err := store.Groups().GetByID(ctx, project.UserGroup)
	if err != nil {
		t.Fatalf("get user group: %v", err)
	}
	if userGroup.Name != "deploy | users" {
		t.Errorf("user group name = %q", userGroup.Name)
	}
	if !userGroup.HasPermission(models.PermReadProject) || userGroup.HasPermission(models.PermChangeProject) {
		t.Error("user group should carry read only")
	}

	isMember, err := store.Groups().IsMember(ctx, project.AdminGroup, owner.ID)
	if err != nil {
		t.Fatalf("check membership: %v", err)
	}
	if !isMember {
		t.Error("owner should be in the admins group")
	}
}

func TestCreateConflicts(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	if _, err := svc.Create(ctx, owner.ID, "deploy", "", true); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same project name collides on its groups first.
	_, err := svc.Create(ctx, owner.ID, "deploy", "", true)
	if !errors.Is(err, ErrGroupExists) {
		t.Errorf("duplicate name: got %v, want ErrGroupExists", err)
	}

	// A stray group without a project blocks creation distinctly.
	db := store.DB()
	if _, err := db.Exec("INSERT INTO groups (name) VALUES ('stray | admins')"); err != nil {
		t.Fatalf("insert stray group: %v", err)
	}
	_, err = svc.Create(ctx, owner.ID, "stray", "", true)
	if !errors.Is(err, ErrGroupExists) {
		t.Errorf("stray group: got %v, want ErrGroupExists", err)
	}
}

func TestCreateDescriptionLimit(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := createAccount(t, store, "owner")

	long := make([]byte, models.MaxDescriptionLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := svc.Create(context.Background(), owner.ID, "deploy", string(long), true)
	if !errors.Is(err, ErrDescriptionTooLong) {
		t.Errorf("got %v, want ErrDescriptionTooLong", err)
	}
}

func TestCreatePendingNotifiesStaff(t *testing.T) {
	svc, store, mailer := newTestService(t)
	ctx := context.Background()

	staff := createAccount(t, store, "admin")
	staff.Staff = true
	if err := store.Accounts().Update(ctx, staff); err != nil {
		t.Fatalf("update staff: %v", err)
	}
	owner := createAccount(t, store, "owner")

	project, err := svc.Create(ctx, owner.ID, "deploy", "", false)
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if project.Active {
		t.Error("pending project should not be active")
	}
	if len(mailer.pending) != 1 {
		t.Error("staff should be told about the pending project")
	}

	pending, err := store.Projects().ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != project.ID {
		t.Errorf("pending list = %d entries", len(pending))
	}
}

func TestApproveAndReject(t *testing.T) {
	svc, store, mailer := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	project, err := svc.Create(ctx, owner.ID, "deploy", "", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	approved, err := svc.Approve(ctx, project.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.Active {
		t.Error("approved project should be active")
	}
	if len(mailer.approved) != 1 {
		t.Error("owner should be told about the approval")
	}

	// Approving an active project is a no-op.
	if _, err := svc.Approve(ctx, project.ID); err != nil {
		t.Errorf("re-approve: %v", err)
	}
	if len(mailer.approved) != 1 {
		t.Error("re-approval should not mail again")
	}

	other, err := svc.Create(ctx, owner.ID, "staging", "", false)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if err := svc.Reject(ctx, other.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if len(mailer.rejected) != 1 {
		t.Error("owner should be told about the rejection")
	}
	got, err := store.Projects().GetByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("get rejected: %v", err)
	}
	if got != nil {
		t.Error("rejected project should be gone")
	}

	if _, err := svc.Approve(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("approve unknown: got %v, want ErrNotFound", err)
	}
	if err := svc.Reject(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("reject unknown: got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	project, err := svc.Create(ctx, owner.ID, "deploy", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(ctx, project.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	group, err := store.Groups().GetByID(ctx, project.AdminGroup)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group != nil {
		t.Error("backing groups should be removed with the project")
	}

	// The name is reusable afterwards.
	if _, err := svc.Create(ctx, owner.ID, "deploy", "", true); err != nil {
		t.Errorf("recreate after delete: %v", err)
	}

	if err := svc.Delete(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete unknown: got %v, want ErrNotFound", err)
	}
}

func TestSetMembers(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	alice := createAccount(t, store, "alice")
	bob := createAccount(t, store, "bob")
	project, err := svc.Create(ctx, owner.ID, "deploy", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.SetUserMembers(ctx, project.ID, []string{alice.ID, bob.ID}); err != nil {
		t.Fatalf("set user members: %v", err)
	}
	if err := svc.SetAdminMembers(ctx, project.ID, []string{owner.ID, alice.ID}); err != nil {
		t.Fatalf("set admin members: %v", err)
	}

	members, err := store.Groups().Members(ctx, project.AdminGroup)
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("admins = %d, want 2", len(members))
	}

	// A full replace can drop the owner from the admins group; ownership
	// still wins in the resolver.
	if err := svc.SetAdminMembers(ctx, project.ID, []string{alice.ID}); err != nil {
		t.Fatalf("replace admins: %v", err)
	}
	role, err := svc.Resolve(ctx, owner.ID, project)
	if err != nil {
		t.Fatalf("resolve owner: %v", err)
	}
	if role != models.RoleOwner {
		t.Errorf("owner role = %v, want RoleOwner", role)
	}

	if err := svc.SetUserMembers(ctx, 9999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("set members on unknown project: got %v, want ErrNotFound", err)
	}
}

func TestResolvePrecedence(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	admin := createAccount(t, store, "admin")
	member := createAccount(t, store, "member")
	outsider := createAccount(t, store, "outsider")

	project, err := svc.Create(ctx, owner.ID, "deploy", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Groups().AddMember(ctx, project.AdminGroup, admin.ID); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := store.Groups().AddMember(ctx, project.UserGroup, member.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	tests := []struct {
		name       string
		accountID  string
		wantRole   models.Role
		wantRead   bool
		wantUpdate bool
		wantDelete bool
	}{
		{"owner", owner.ID, models.RoleOwner, true, true, true},
		{"admin group member", admin.ID, models.RoleAdmin, true, true, false},
		{"user group member", member.ID, models.RoleMember, true, false, false},
		{"outsider", outsider.ID, models.RoleNone, false, false, false},
		{"unknown account", "no-such-id", models.RoleNone, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := svc.Resolve(ctx, tt.accountID, project)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if role != tt.wantRole {
				t.Errorf("role = %v, want %v", role, tt.wantRole)
			}

			read, err := svc.CanRead(ctx, tt.accountID, project)
			if err != nil {
				t.Fatalf("can read: %v", err)
			}
			if read != tt.wantRead {
				t.Errorf("read = %v, want %v", read, tt.wantRead)
			}

			update, err := svc.CanUpdate(ctx, tt.accountID, project)
			if err != nil {
				t.Fatalf("can update: %v", err)
			}
			if update != tt.wantUpdate {
				t.Errorf("update = %v, want %v", update, tt.wantUpdate)
			}

			del, err := svc.CanDelete(ctx, tt.accountID, project)
			if err != nil {
				t.Fatalf("can delete: %v", err)
			}
			if del != tt.wantDelete {
				t.Errorf("delete = %v, want %v", del, tt.wantDelete)
			}
		})
	}
}

func TestResolveRevokedGrant(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	admin := createAccount(t, store, "admin")
	project, err := svc.Create(ctx, owner.ID, "deploy", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Groups().AddMember(ctx, project.AdminGroup, admin.ID); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	// Strip the change grant from the admins group. Membership alone no
	// longer confers update access.
	if _, err := store.DB().Exec(
		"DELETE FROM group_permissions WHERE group_id = ? AND permission = ?",
		project.AdminGroup, string(models.PermChangeProject),
	); err != nil {
		t.Fatalf("revoke grant: %v", err)
	}

	update, err := svc.CanUpdate(ctx, admin.ID, project)
	if err != nil {
		t.Fatalf("can update: %v", err)
	}
	if update {
		t.Error("membership without the grant must not allow updates")
	}

	// Read still works through the admin group's read grant.
	read, err := svc.CanRead(ctx, admin.ID, project)
	if err != nil {
		t.Fatalf("can read: %v", err)
	}
	if !read {
		t.Error("read grant should still apply")
	}

	// The owner is unaffected by group state.
	update, err = svc.CanUpdate(ctx, owner.ID, project)
	if err != nil {
		t.Fatalf("owner can update: %v", err)
	}
	if !update {
		t.Error("owner update access is independent of groups")
	}
}

func TestRolesFor(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	owner := createAccount(t, store, "owner")
	member := createAccount(t, store, "member")

	zulu, err := svc.Create(ctx, owner.ID, "zulu", "", true)
	if err != nil {
		t.Fatalf("create zulu: %v", err)
	}
	alpha, err := svc.Create(ctx, owner.ID, "alpha", "", true)
	if err != nil {
		t.Fatalf("create alpha: %v", err)
	}
	if err := store.Groups().AddMember(ctx, zulu.AdminGroup, member.ID); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := store.Groups().AddMember(ctx, alpha.AdminGroup, member.ID); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := store.Groups().AddMember(ctx, alpha.UserGroup, member.ID); err != nil {
		t.Fatalf("add user: %v", err)
	}

	admin, user, err := svc.RolesFor(ctx, member.ID)
	if err != nil {
		t.Fatalf("roles for member: %v", err)
	}
	if len(admin) != 2 || admin[0] != "alpha" || admin[1] != "zulu" {
		t.Errorf("admin roles = %v, want sorted [alpha zulu]", admin)
	}
	if len(user) != 1 || user[0] != "alpha" {
		t.Errorf("user roles = %v, want [alpha]", user)
	}

	// The owner appears only through the admin memberships created with
	// the projects, not through ownership itself.
	admin, user, err = svc.RolesFor(ctx, owner.ID)
	if err != nil {
		t.Fatalf("roles for owner: %v", err)
	}
	if len(admin) != 2 {
		t.Errorf("owner admin roles = %v", admin)
	}
	if len(user) != 0 {
		t.Errorf("owner user roles = %v, want none", user)
	}

	admin, user, err = svc.RolesFor(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("roles for unknown: %v", err)
	}
	if len(admin) != 0 || len(user) != 0 {
		t.Errorf("unknown account roles = %v / %v, want empty", admin, user)
	}
}
