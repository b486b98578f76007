package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Accounts table
			CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				username TEXT UNIQUE NOT NULL,
				email TEXT UNIQUE NOT NULL,
				password_hash TEXT NOT NULL DEFAULT '',
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL DEFAULT 'pending_confirm',
				staff INTEGER NOT NULL DEFAULT 0,
				superuser INTEGER NOT NULL DEFAULT 0,
				date_joined DATETIME NOT NULL,
				last_login DATETIME,
				updated_at DATETIME NOT NULL
			);

			-- Pending registrations (one per unconverted account)
			CREATE TABLE IF NOT EXISTS registrations (
				account_id TEXT PRIMARY KEY,
				activation_key TEXT UNIQUE NOT NULL,
				activated INTEGER NOT NULL DEFAULT 0,
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
			);

			-- Federated identity links
			CREATE TABLE IF NOT EXISTS identities (
				account_id TEXT PRIMARY KEY,
				external_id TEXT UNIQUE NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
			);

			-- Groups
			CREATE TABLE IF NOT EXISTS groups (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT UNIQUE NOT NULL
			);

			CREATE TABLE IF NOT EXISTS group_permissions (
				group_id INTEGER NOT NULL,
				permission TEXT NOT NULL,
				PRIMARY KEY (group_id, permission),
				FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS group_members (
				group_id INTEGER NOT NULL,
				account_id TEXT NOT NULL,
				PRIMARY KEY (group_id, account_id),
				FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE,
				FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
			);

			-- Projects. Owner deletion is refused at the service layer,
			-- so no cascade on owner_id.
			CREATE TABLE IF NOT EXISTS projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT UNIQUE NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner_id TEXT NOT NULL,
				admin_group_id INTEGER NOT NULL,
				user_group_id INTEGER NOT NULL,
				active INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (owner_id) REFERENCES accounts(id),
				FOREIGN KEY (admin_group_id) REFERENCES groups(id),
				FOREIGN KEY (user_group_id) REFERENCES groups(id)
			);

			-- Refresh tokens for the JSON API
			CREATE TABLE IF NOT EXISTS refresh_tokens (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				token_hash TEXT UNIQUE NOT NULL,
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				revoked INTEGER NOT NULL DEFAULT 0,
				revoked_at DATETIME,
				FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(username);
			CREATE INDEX IF NOT EXISTS idx_accounts_state ON accounts(state);
			CREATE INDEX IF NOT EXISTS idx_registrations_key ON registrations(activation_key);
			CREATE INDEX IF NOT EXISTS idx_group_members_account ON group_members(account_id);
			CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);
			CREATE INDEX IF NOT EXISTS idx_refresh_tokens_account ON refresh_tokens(account_id);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
