package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/buildgate/buildgate/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	accounts      *sqliteAccountRepo
	groups        *sqliteGroupRepo
	projects      *sqliteProjectRepo
	registrations *sqliteRegistrationRepo
	identities    *sqliteIdentityRepo
	tokens        *sqliteTokenRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// Enable foreign keys and WAL mode
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.accounts = &sqliteAccountRepo{db: db}
	s.groups = &sqliteGroupRepo{db: db}
	s.projects = &sqliteProjectRepo{db: db}
	s.registrations = &sqliteRegistrationRepo{db: db}
	s.identities = &sqliteIdentityRepo{db: db}
	s.tokens = &sqliteTokenRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// EnsureServiceAccounts creates the privileged API account and the
// administrative account if they do not exist yet. Both are created active
// with random passwords printed once; the API account's password is the
// credential the build server presents on role queries.
func (s *SQLiteStorage) EnsureServiceAccounts(apiUser, adminUser string) error {
	ctx := context.Background()

	created := make(map[string]string, 2)
	for _, spec := range []struct {
		username  string
		staff     bool
		superuser bool
	}{
		{username: apiUser},
		{username: adminUser, staff: true, superuser: true},
	} {
		if spec.username == "" {
			continue
		}
		existing, err := s.Accounts().GetByUsername(ctx, spec.username)
		if err != nil {
			return fmt.Errorf("look up %s: %w", spec.username, err)
		}
		if existing != nil {
			continue
		}

		password := generateRandomPassword(20)
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		now := time.Now()
		account := &models.Account{
			ID:           uuid.New().String(),
			Username:     spec.username,
			Email:        spec.username + "@localhost",
			PasswordHash: string(hash),
			State:        models.StateActive,
			Staff:        spec.staff,
			Superuser:    spec.superuser,
			DateJoined:   now,
			UpdatedAt:    now,
		}
		if err := s.Accounts().Create(ctx, account); err != nil {
			return fmt.Errorf("create account %s: %w", spec.username, err)
		}
		created[spec.username] = password
	}

	if len(created) > 0 {
		fmt.Printf("\n===========================================\n")
		fmt.Printf("  SERVICE ACCOUNTS CREATED\n")
		for username, password := range created {
			fmt.Printf("  %s / %s\n", username, password)
		}
		fmt.Printf("  STORE THESE CREDENTIALS SECURELY!\n")
		fmt.Printf("===========================================\n\n")
	}

	return nil
}

// Accounts returns the account repository.
func (s *SQLiteStorage) Accounts() AccountRepository {
	return s.accounts
}

// Groups returns the group repository.
func (s *SQLiteStorage) Groups() GroupRepository {
	return s.groups
}

// Projects returns the project repository.
func (s *SQLiteStorage) Projects() ProjectRepository {
	return s.projects
}

// Registrations returns the pending registration repository.
func (s *SQLiteStorage) Registrations() RegistrationRepository {
	return s.registrations
}

// Identities returns the federated identity repository.
func (s *SQLiteStorage) Identities() IdentityRepository {
	return s.identities
}

// Tokens returns the refresh token repository.
func (s *SQLiteStorage) Tokens() TokenRepository {
	return s.tokens
}

// isUniqueViolation reports whether err is a SQLite uniqueness error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// generateRandomPassword generates a random password of the specified length.
func generateRandomPassword(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)[:length]
}
