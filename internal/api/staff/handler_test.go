package staff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	accountsvc "github.com/buildgate/buildgate/internal/accounts"
	"github.com/buildgate/buildgate/internal/models"
	projectsvc "github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
)

// nopMailer satisfies both lifecycle mail interfaces.
type nopMailer struct{}

func (nopMailer) SendActivation(ctx context.Context, account *models.Account, key string) error {
	return nil
}
func (nopMailer) SendApprovalRequest(ctx context.Context, staff []string, account *models.Account) error {
	return nil
}
func (nopMailer) SendAccountApproved(ctx context.Context, account *models.Account) error { return nil }
func (nopMailer) SendAccountRejected(ctx context.Context, account *models.Account) error { return nil }
func (nopMailer) SendProjectPending(ctx context.Context, staff []string, project *models.Project, owner *models.Account) error {
	return nil
}
func (nopMailer) SendProjectApproved(ctx context.Context, owner *models.Account, project *models.Project) error {
	return nil
}
func (nopMailer) SendProjectRejected(ctx context.Context, owner *models.Account, project *models.Project) error {
	return nil
}

type fixture struct {
	router   *chi.Mux
	store    *storage.SQLiteStorage
	accounts *accountsvc.Service
	projects *projectsvc.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accountSvc := accountsvc.NewService(store, nopMailer{}, 7*24*time.Hour)
	projectSvc := projectsvc.NewService(store, nopMailer{})
	h := NewHandler(store, accountSvc, projectSvc, 365*24*time.Hour, []string{"buildsvc", "admin"})

	router := chi.NewRouter()
	router.Get("/staff/accounts", h.ListAccounts)
	router.Post("/staff/accounts/{id}/approve", h.ApproveAccount)
	router.Post("/staff/accounts/{id}/reject", h.RejectAccount)
	router.Delete("/staff/accounts/{id}", h.DeleteAccount)
	router.Get("/staff/projects", h.ListProjects)
	router.Post("/staff/projects/{id}/approve", h.ApproveProject)
	router.Post("/staff/projects/{id}/reject", h.RejectProject)
	router.Post("/staff/cleanup", h.CleanupExpired)

	return &fixture{router: router, store: store, accounts: accountSvc, projects: projectSvc}
}

func (f *fixture) createAccount(t *testing.T, username string, state models.AccountState, staff bool) *models.Account {
	t.Helper()

	account := models.NewAccount(username, username+"@example.com", "Test", "User")
	account.State = state
	account.Staff = staff
	if err := f.store.Accounts().Create(context.Background(), account); err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return account
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decodeAccounts(t *testing.T, w *httptest.ResponseRecorder) []*AccountEntry {
	t.Helper()

	var resp struct {
		Data []*AccountEntry `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func usernames(entries []*AccountEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Username
	}
	return names
}

func TestListAccounts_Views(t *testing.T) {
	f := newFixture(t)

	f.createAccount(t, "unconfirmed-user", models.StatePendingConfirm, false)
	f.createAccount(t, "pending-user", models.StatePendingApproval, false)
	f.createAccount(t, "active-user", models.StateActive, false)
	f.createAccount(t, "staff-user", models.StateActive, true)
	f.createAccount(t, "deleted-user", models.StateDeleted, false)
	// Service accounts never show up
	f.createAccount(t, "buildsvc", models.StateActive, false)

	tests := []struct {
		view string
		want map[string]bool
	}{
		{"", map[string]bool{"unconfirmed-user": true, "pending-user": true, "active-user": true, "staff-user": true, "deleted-user": true}},
		{"registration", map[string]bool{"unconfirmed-user": true}},
		{"pending", map[string]bool{"pending-user": true}},
		{"active", map[string]bool{"active-user": true, "staff-user": true}},
		{"staff", map[string]bool{"staff-user": true}},
		{"deleted", map[string]bool{"deleted-user": true}},
	}

	for _, tc := range tests {
		name := tc.view
		if name == "" {
			name = "all"
		}
		t.Run(name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/staff/accounts?view="+tc.view)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			entries := decodeAccounts(t, w)
			if len(entries) != len(tc.want) {
				t.Fatalf("got %v, want %d entries", usernames(entries), len(tc.want))
			}
			for _, e := range entries {
				if !tc.want[e.Username] {
					t.Errorf("unexpected entry %s", e.Username)
				}
			}
		})
	}
}

func TestListAccounts_StaleView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.createAccount(t, "dormant", models.StateActive, false)
	lastYear := time.Now().Add(-400 * 24 * time.Hour)
	stale.LastLogin = &lastYear
	if err := f.store.Accounts().Update(ctx, stale); err != nil {
		t.Fatalf("update account: %v", err)
	}

	fresh := f.createAccount(t, "recent", models.StateActive, false)
	now := time.Now()
	fresh.LastLogin = &now
	if err := f.store.Accounts().Update(ctx, fresh); err != nil {
		t.Fatalf("update account: %v", err)
	}

	w := f.do(http.MethodGet, "/staff/accounts?view=stale")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	entries := decodeAccounts(t, w)
	if len(entries) != 1 || entries[0].Username != "dormant" {
		t.Errorf("stale view = %v, want [dormant]", usernames(entries))
	}
}

func TestListAccounts_UnknownView(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/staff/accounts?view=everything")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestApproveAccount(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "alice", models.StatePendingApproval, false)

	w := f.do(http.MethodPost, "/staff/accounts/"+account.ID+"/approve")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	reloaded, err := f.store.Accounts().GetByID(context.Background(), account.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload account: %v", err)
	}
	if reloaded.State != models.StateActive {
		t.Errorf("State = %q, want %s", reloaded.State, models.StateActive)
	}

	// A second approval is a conflict
	w = f.do(http.MethodPost, "/staff/accounts/"+account.ID+"/approve")
	if w.Code != http.StatusConflict {
		t.Errorf("second approve: status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestApproveAccount_Unknown(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/staff/accounts/no-such-id/approve")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRejectAccount(t *testing.T) {
	f := newFixture(t)
	account := f.createAccount(t, "alice", models.StatePendingApproval, false)

	w := f.do(http.MethodPost, "/staff/accounts/"+account.ID+"/reject")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	// Rejection removes the row entirely
	reloaded, err := f.store.Accounts().GetByID(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if reloaded != nil {
		t.Error("rejected account still exists")
	}
}

func TestDeleteAccount_OwnsProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.createAccount(t, "alice", models.StateActive, false)

	if _, err := f.projects.Create(ctx, account.ID, "widget", "", true); err != nil {
		t.Fatalf("create project: %v", err)
	}

	w := f.do(http.MethodDelete, "/staff/accounts/"+account.ID)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d: %s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestListProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createAccount(t, "alice", models.StateActive, false)

	if _, err := f.projects.Create(ctx, owner.ID, "live-build", "", true); err != nil {
		t.Fatalf("create project: %v", err)
	}
	pending, err := f.projects.Create(ctx, owner.ID, "new-build", "", false)
	if err != nil {
		t.Fatalf("create pending project: %v", err)
	}

	w := f.do(http.MethodGet, "/staff/projects")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var all struct {
		Data []*ProjectEntry `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(all.Data) != 2 {
		t.Errorf("all projects = %d, want 2", len(all.Data))
	}

	w = f.do(http.MethodGet, "/staff/projects?pending=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		Data []*ProjectEntry `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Data) != 1 || got.Data[0].ID != pending.ID {
		t.Errorf("pending projects = %+v, want just %d", got.Data, pending.ID)
	}
}

func TestApproveProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createAccount(t, "alice", models.StateActive, false)

	project, err := f.projects.Create(ctx, owner.ID, "new-build", "", false)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	w := f.do(http.MethodPost, "/staff/projects/"+strconvID(project.ID)+"/approve")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	reloaded, err := f.store.Projects().GetByID(ctx, project.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload project: %v", err)
	}
	if !reloaded.Active {
		t.Error("project not active after approval")
	}
}

func TestApproveProject_BadID(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodPost, "/staff/projects/not-a-number/approve"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := f.do(http.MethodPost, "/staff/projects/99999/approve"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRejectProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createAccount(t, "alice", models.StateActive, false)

	project, err := f.projects.Create(ctx, owner.ID, "new-build", "", false)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	w := f.do(http.MethodPost, "/staff/projects/"+strconvID(project.ID)+"/reject")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	reloaded, err := f.store.Projects().GetByID(ctx, project.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if reloaded != nil {
		t.Error("rejected project still exists")
	}
}

func TestCleanupExpired(t *testing.T) {
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// A window of one millisecond expires registrations immediately
	accountSvc := accountsvc.NewService(store, nopMailer{}, time.Millisecond)
	projectSvc := projectsvc.NewService(store, nopMailer{})
	h := NewHandler(store, accountSvc, projectSvc, 365*24*time.Hour, nil)

	if _, err := accountSvc.Register(context.Background(), "shortlived", "s@example.com", "S", "L", "Sup3r-Secret-Pass!"); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	router := chi.NewRouter()
	router.Post("/staff/cleanup", h.CleanupExpired)

	r := httptest.NewRequest(http.MethodPost, "/staff/cleanup", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Data map[string]int `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data["removed"] != 1 {
		t.Errorf("removed = %d, want 1", resp.Data["removed"])
	}

	account, err := store.Accounts().GetByUsername(context.Background(), "shortlived")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if account != nil {
		t.Error("expired registration's account still exists")
	}
}

func strconvID(id int64) string {
	return strconv.FormatInt(id, 10)
}
