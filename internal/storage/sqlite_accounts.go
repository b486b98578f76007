package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/buildgate/buildgate/internal/models"
)

type sqliteAccountRepo struct {
	db *sql.DB
}

const accountColumns = `id, username, email, password_hash, first_name, last_name, state, staff, superuser, date_joined, last_login, updated_at`

func (r *sqliteAccountRepo) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.FirstName, account.LastName, string(account.State),
		account.Staff, account.Superuser,
		account.DateJoined, account.LastLogin, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", account.Username, ErrConflict)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *sqliteAccountRepo) CreateIfAbsent(ctx context.Context, account *models.Account) (bool, error) {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.FirstName, account.LastName, string(account.State),
		account.Staff, account.Superuser,
		account.DateJoined, account.LastLogin, account.UpdatedAt,
	)
	if err != nil {
		// A different unique column (email) can still collide.
		if isUniqueViolation(err) {
			return false, fmt.Errorf("account %s: %w", account.Username, ErrConflict)
		}
		return false, fmt.Errorf("insert account: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (r *sqliteAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getBy(ctx, "id", id)
}

func (r *sqliteAccountRepo) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.getBy(ctx, "username", username)
}

func (r *sqliteAccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getBy(ctx, "email", email)
}

func (r *sqliteAccountRepo) getBy(ctx context.Context, column, value string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = ?`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by %s: %w", column, err)
	}
	return account, nil
}

func (r *sqliteAccountRepo) Update(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET username = ?, email = ?, password_hash = ?, first_name = ?,
		    last_name = ?, state = ?, staff = ?, superuser = ?,
		    last_login = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		account.Username, account.Email, account.PasswordHash,
		account.FirstName, account.LastName, string(account.State),
		account.Staff, account.Superuser,
		account.LastLogin, account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("account %s: %w", account.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteAccountRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteAccountRepo) List(ctx context.Context, filter AccountFilter) ([]*models.Account, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.StaffOnly {
		where = append(where, "staff = 1")
	}
	if filter.LastLoginBefore != nil {
		where = append(where, "last_login IS NOT NULL AND last_login <= ?")
		args = append(args, *filter.LastLoginBefore)
	}
	for _, username := range filter.ExcludeUsernames {
		where = append(where, "username != ?")
		args = append(args, username)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// The stale listing is ordered by last login; everything else by
	// last name as the staff console shows them.
	if filter.LastLoginBefore != nil {
		query += " ORDER BY last_login"
	} else {
		query += " ORDER BY last_name, username"
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *sqliteAccountRepo) StaffEmails(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT email FROM accounts WHERE staff = 1 AND state = ?`
	rows, err := r.db.QueryContext(ctx, query, string(models.StateActive))
	if err != nil {
		return nil, fmt.Errorf("staff emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan staff email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (r *sqliteAccountRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*models.Account, error) {
	account := &models.Account{}
	var (
		state     string
		lastLogin sql.NullTime
	)
	err := s.Scan(
		&account.ID, &account.Username, &account.Email, &account.PasswordHash,
		&account.FirstName, &account.LastName, &state,
		&account.Staff, &account.Superuser,
		&account.DateJoined, &lastLogin, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.State = models.ParseAccountState(state)
	if lastLogin.Valid {
		t := lastLogin.Time
		account.LastLogin = &t
	}
	return account, nil
}
