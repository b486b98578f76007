package health

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// MailChecker checks that at least one mail channel is registered, so
// activation and approval notices can actually leave the process.
type MailChecker struct {
	hasMailer func() bool
}

// NewMailChecker creates a new mail health checker.
func NewMailChecker(hasMailer func() bool) *MailChecker {
	return &MailChecker{hasMailer: hasMailer}
}

// Name returns the checker name.
func (c *MailChecker) Name() string {
	return "mail"
}

// Check verifies a mail channel is available.
func (c *MailChecker) Check(ctx context.Context) error {
	if c.hasMailer == nil || !c.hasMailer() {
		return fmt.Errorf("no mail channel registered")
	}
	return nil
}
