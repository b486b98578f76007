package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/buildgate/buildgate/internal/models"
)

type sqliteGroupRepo struct {
	db *sql.DB
}

func (r *sqliteGroupRepo) GetByID(ctx context.Context, id int64) (*models.Group, error) {
	group := &models.Group{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name FROM groups WHERE id = ?", id,
	).Scan(&group.ID, &group.Name)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group by id: %w", err)
	}
	if err := r.loadPermissions(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (r *sqliteGroupRepo) GetByName(ctx context.Context, name string) (*models.Group, error) {
	group := &models.Group{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name FROM groups WHERE name = ?", name,
	).Scan(&group.ID, &group.Name)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group by name: %w", err)
	}
	if err := r.loadPermissions(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (r *sqliteGroupRepo) loadPermissions(ctx context.Context, group *models.Group) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT permission FROM group_permissions WHERE group_id = ? ORDER BY permission",
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("load group permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return fmt.Errorf("scan group permission: %w", err)
		}
		group.Permissions = append(group.Permissions, models.Permission(perm))
	}
	return rows.Err()
}

func (r *sqliteGroupRepo) HasPermission(ctx context.Context, groupID int64, perm models.Permission) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM group_permissions WHERE group_id = ? AND permission = ?",
		groupID, string(perm),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check group permission: %w", err)
	}
	return true, nil
}

func (r *sqliteGroupRepo) IsMember(ctx context.Context, groupID int64, accountID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM group_members WHERE group_id = ? AND account_id = ?",
		groupID, accountID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}
	return true, nil
}

func (r *sqliteGroupRepo) AddMember(ctx context.Context, groupID int64, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_id, account_id) VALUES (?, ?)",
		groupID, accountID,
	)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (r *sqliteGroupRepo) SetMembers(ctx context.Context, groupID int64, accountIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set members: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ?", groupID,
	); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}

	for _, accountID := range accountIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO group_members (group_id, account_id) VALUES (?, ?)",
			groupID, accountID,
		); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}

	return tx.Commit()
}

func (r *sqliteGroupRepo) Members(ctx context.Context, groupID int64) ([]*models.Account, error) {
	query := `
		SELECT ` + aliasedAccountColumns("a") + `
		FROM accounts a
		INNER JOIN group_members gm ON a.id = gm.account_id
		WHERE gm.group_id = ?
		ORDER BY a.username
	`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var members []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, account)
	}
	return members, rows.Err()
}

func (r *sqliteGroupRepo) ClearMemberships(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE account_id = ?", accountID,
	)
	if err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	return nil
}

func (r *sqliteGroupRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM groups").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return count, nil
}

// aliasedAccountColumns qualifies the account column list with a table alias.
func aliasedAccountColumns(alias string) string {
	return alias + ".id, " + alias + ".username, " + alias + ".email, " +
		alias + ".password_hash, " + alias + ".first_name, " + alias + ".last_name, " +
		alias + ".state, " + alias + ".staff, " + alias + ".superuser, " +
		alias + ".date_joined, " + alias + ".last_login, " + alias + ".updated_at"
}
