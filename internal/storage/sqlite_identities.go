package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/buildgate/buildgate/internal/models"
)

type sqliteIdentityRepo struct {
	db *sql.DB
}

func (r *sqliteIdentityRepo) Create(ctx context.Context, identity *models.FederatedIdentity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (account_id, external_id, created_at)
		VALUES (?, ?, ?)
	`,
		identity.AccountID, identity.ExternalID, identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("identity %s: %w", identity.ExternalID, ErrConflict)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *sqliteIdentityRepo) GetByExternalID(ctx context.Context, externalID string) (*models.FederatedIdentity, error) {
	return r.getBy(ctx, "external_id", externalID)
}

func (r *sqliteIdentityRepo) GetByAccount(ctx context.Context, accountID string) (*models.FederatedIdentity, error) {
	return r.getBy(ctx, "account_id", accountID)
}

func (r *sqliteIdentityRepo) getBy(ctx context.Context, column, value string) (*models.FederatedIdentity, error) {
	identity := &models.FederatedIdentity{}
	query := `SELECT account_id, external_id, created_at FROM identities WHERE ` + column + ` = ?`
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&identity.AccountID, &identity.ExternalID, &identity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by %s: %w", column, err)
	}
	return identity, nil
}

func (r *sqliteIdentityRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM identities WHERE account_id = ?", accountID,
	)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}
