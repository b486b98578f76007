package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/buildgate/buildgate/internal/models"
)

type sqliteRegistrationRepo struct {
	db *sql.DB
}

const registrationColumns = `account_id, activation_key, activated, expires_at, created_at`

func (r *sqliteRegistrationRepo) Create(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (` + registrationColumns + `)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		reg.AccountID, reg.ActivationKey, reg.Activated, reg.ExpiresAt, reg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("registration for %s: %w", reg.AccountID, ErrConflict)
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (r *sqliteRegistrationRepo) GetByAccount(ctx context.Context, accountID string) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE account_id = ?`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, accountID))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registration by account: %w", err)
	}
	return reg, nil
}

func (r *sqliteRegistrationRepo) GetByKey(ctx context.Context, activationKey string) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE activation_key = ?`
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, activationKey))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registration by key: %w", err)
	}
	return reg, nil
}

func (r *sqliteRegistrationRepo) MarkActivated(ctx context.Context, accountID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE registrations SET activated = 1 WHERE account_id = ?", accountID,
	)
	if err != nil {
		return fmt.Errorf("mark registration activated: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("registration for %s: %w", accountID, ErrNotFound)
	}
	return nil
}

func (r *sqliteRegistrationRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM registrations WHERE account_id = ?", accountID,
	)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (r *sqliteRegistrationRepo) ListUnactivated(ctx context.Context) ([]*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE activated = 0 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unactivated registrations: %w", err)
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func scanRegistration(s scanner) (*models.Registration, error) {
	reg := &models.Registration{}
	err := s.Scan(
		&reg.AccountID, &reg.ActivationKey, &reg.Activated, &reg.ExpiresAt, &reg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}
