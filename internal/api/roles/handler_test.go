package roles

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/buildgate/buildgate/internal/models"
	"github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
)

const (
	apiUser     = "buildsvc"
	apiPassword = "Service-Secret-99!"
)

type nopMailer struct{}

func (nopMailer) SendProjectPending(ctx context.Context, staff []string, project *models.Project, owner *models.Account) error {
	return nil
}
func (nopMailer) SendProjectApproved(ctx context.Context, owner *models.Account, project *models.Project) error {
	return nil
}
func (nopMailer) SendProjectRejected(ctx context.Context, owner *models.Account, project *models.Project) error {
	return nil
}

func newFixture(t *testing.T) (*chi.Mux, *projects.Service, *storage.SQLiteStorage) {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := projects.NewService(store, nopMailer{})
	h := NewHandler(store, svc, apiUser, 100, 100)

	router := chi.NewRouter()
	router.Get("/api/roles/{username}", h.Query)

	createAccount(t, store, apiUser, apiPassword, models.StateActive)

	return router, svc, store
}

func createAccount(t *testing.T, store storage.Storage, username, password string, state models.AccountState) *models.Account {
	t.Helper()

	account := models.NewAccount(username, username+"@example.com", "Test", "User")
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		account.PasswordHash = string(hash)
	}
	account.State = state
	if err := store.Accounts().Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func query(router *chi.Mux, username, authUser, authPass string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/roles/"+username, nil)
	if authUser != "" {
		r.SetBasicAuth(authUser, authPass)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestQuery(t *testing.T) {
	router, svc, store := newFixture(t)
	ctx := context.Background()

	alice := createAccount(t, store, "alice", "User-Password-1!", models.StateActive)
	bob := createAccount(t, store, "bob", "User-Password-1!", models.StateActive)

	// alice owns two projects, which puts her in both admin groups
	for _, name := range []string{"widget", "anvil"} {
		if _, err := svc.Create(ctx, alice.ID, name, "", true); err != nil {
			t.Fatalf("create project %s: %v", name, err)
		}
	}

	// bob reads widget via the users group
	widget, err := store.Projects().GetByName(ctx, "widget")
	if err != nil || widget == nil {
		t.Fatalf("load project: %v", err)
	}
	if err := svc.SetUserMembers(ctx, widget.ID, []string{bob.ID}); err != nil {
		t.Fatalf("set user members: %v", err)
	}

	w := query(router, "alice", apiUser, apiPassword)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	// Raw wire format, no envelope, names sorted
	want := `{"roles":{"admin":["anvil","widget"],"user":[]},"username":"alice"}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}

	w = query(router, "bob", apiUser, apiPassword)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	want = `{"roles":{"admin":[],"user":["widget"]},"username":"bob"}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestQuery_InactiveProjectHidden(t *testing.T) {
	router, svc, store := newFixture(t)
	ctx := context.Background()

	alice := createAccount(t, store, "alice", "User-Password-1!", models.StateActive)
	if _, err := svc.Create(ctx, alice.ID, "pending-build", "", false); err != nil {
		t.Fatalf("create project: %v", err)
	}

	w := query(router, "alice", apiUser, apiPassword)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	want := `{"roles":{"admin":[],"user":[]},"username":"alice"}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestQuery_UnknownAndInactiveAccounts(t *testing.T) {
	router, _, store := newFixture(t)

	createAccount(t, store, "gone", "User-Password-1!", models.StateDeleted)
	createAccount(t, store, "pending", "User-Password-1!", models.StatePendingApproval)

	// Deleted and never-existed accounts are indistinguishable
	for _, username := range []string{"gone", "pending", "nobody"} {
		w := query(router, username, apiUser, apiPassword)
		if w.Code != http.StatusNotFound {
			t.Errorf("query %s: status = %d, want %d", username, w.Code, http.StatusNotFound)
		}
	}
}

func TestQuery_Unauthorized(t *testing.T) {
	router, _, store := newFixture(t)

	alice := createAccount(t, store, "alice", "User-Password-1!", models.StateActive)
	_ = alice

	tests := []struct {
		name string
		user string
		pass string
	}{
		{"no credentials", "", ""},
		{"wrong password", apiUser, "not-the-password"},
		{"wrong user right password", "alice", apiPassword},
		{"ordinary account", "alice", "User-Password-1!"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := query(router, "alice", tc.user, tc.pass)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
				t.Errorf("WWW-Authenticate = %q", got)
			}
		})
	}
}

func TestQuery_DeactivatedAPIUser(t *testing.T) {
	router, _, store := newFixture(t)

	api, err := store.Accounts().GetByUsername(context.Background(), apiUser)
	if err != nil || api == nil {
		t.Fatalf("load api account: %v", err)
	}
	api.State = models.StateDeleted
	if err := store.Accounts().Update(context.Background(), api); err != nil {
		t.Fatalf("update api account: %v", err)
	}

	w := query(router, "alice", apiUser, apiPassword)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestQuery_RateLimited(t *testing.T) {
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	createAccount(t, store, apiUser, apiPassword, models.StateActive)
	createAccount(t, store, "alice", "User-Password-1!", models.StateActive)

	svc := projects.NewService(store, nopMailer{})
	h := NewHandler(store, svc, apiUser, 1, 2)
	router := chi.NewRouter()
	router.Get("/api/roles/{username}", h.Query)

	var limited bool
	for i := 0; i < 5; i++ {
		w := query(router, "alice", apiUser, apiPassword)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected a rate limited response after burst exhaustion")
	}
}
