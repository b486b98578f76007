package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/buildgate/buildgate/internal/models"
)

type sqliteProjectRepo struct {
	db *sql.DB
}

const projectColumns = `id, name, description, owner_id, admin_group_id, user_group_id, active, created_at`

func (r *sqliteProjectRepo) CreateWithGroups(ctx context.Context, project *models.Project, adminGroup, userGroup *models.Group) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback()

	adminID, err := insertGroup(ctx, tx, adminGroup)
	if err != nil {
		return err
	}
	userID, err := insertGroup(ctx, tx, userGroup)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO projects (name, description, owner_id, admin_group_id, user_group_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		project.Name, project.Description, project.OwnerID,
		adminID, userID, project.Active, project.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("project %s: %w", project.Name, ErrConflict)
		}
		return fmt.Errorf("insert project: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO group_members (group_id, account_id) VALUES (?, ?)",
		adminID, project.OwnerID,
	); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	projectID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("project id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}

	project.ID = projectID
	project.AdminGroup = adminID
	project.UserGroup = userID
	adminGroup.ID = adminID
	userGroup.ID = userID
	return nil
}

func insertGroup(ctx context.Context, tx *sql.Tx, group *models.Group) (int64, error) {
	result, err := tx.ExecContext(ctx, "INSERT INTO groups (name) VALUES (?)", group.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("group %s: %w", group.Name, ErrConflict)
		}
		return 0, fmt.Errorf("insert group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("group id: %w", err)
	}
	for _, perm := range group.Permissions {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_permissions (group_id, permission) VALUES (?, ?)",
			id, string(perm),
		); err != nil {
			return 0, fmt.Errorf("insert group permission: %w", err)
		}
	}
	return id, nil
}

func (r *sqliteProjectRepo) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	project, err := scanProject(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by id: %w", err)
	}
	return project, nil
}

func (r *sqliteProjectRepo) GetByName(ctx context.Context, name string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = ?`
	project, err := scanProject(r.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return project, nil
}

func (r *sqliteProjectRepo) Update(ctx context.Context, project *models.Project) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET name = ?, description = ?, owner_id = ?, active = ?
		WHERE id = ?
	`,
		project.Name, project.Description, project.OwnerID, project.Active,
		project.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("project %s: %w", project.Name, ErrConflict)
		}
		return fmt.Errorf("update project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("project %d: %w", project.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteProjectRepo) DeleteWithGroups(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project: %w", err)
	}
	defer tx.Rollback()

	var adminID, userID int64
	err = tx.QueryRowContext(ctx,
		"SELECT admin_group_id, user_group_id FROM projects WHERE id = ?", id,
	).Scan(&adminID, &userID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load project groups: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM groups WHERE id IN (?, ?)", adminID, userID,
	); err != nil {
		return fmt.Errorf("delete project groups: %w", err)
	}

	return tx.Commit()
}

func (r *sqliteProjectRepo) List(ctx context.Context, activeOnly bool) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name"
	return r.list(ctx, query)
}

func (r *sqliteProjectRepo) ListPending(ctx context.Context) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE active = 0 ORDER BY created_at`
	return r.list(ctx, query)
}

func (r *sqliteProjectRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = ? ORDER BY name`
	return r.list(ctx, query, ownerID)
}

func (r *sqliteProjectRepo) list(ctx context.Context, query string, args ...any) ([]*models.Project, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (r *sqliteProjectRepo) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM projects WHERE owner_id = ?", ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count projects by owner: %w", err)
	}
	return count, nil
}

func (r *sqliteProjectRepo) AdminProjectNames(ctx context.Context, accountID string) ([]string, error) {
	return r.projectNames(ctx, "admin_group_id", accountID)
}

func (r *sqliteProjectRepo) UserProjectNames(ctx context.Context, accountID string) ([]string, error) {
	return r.projectNames(ctx, "user_group_id", accountID)
}

func (r *sqliteProjectRepo) projectNames(ctx context.Context, groupColumn, accountID string) ([]string, error) {
	query := `
		SELECT p.name
		FROM projects p
		INNER JOIN group_members gm ON gm.group_id = p.` + groupColumn + `
		WHERE gm.account_id = ? AND p.active = 1
		ORDER BY p.name
	`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list project names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan project name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *sqliteProjectRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

func scanProject(s scanner) (*models.Project, error) {
	project := &models.Project{}
	err := s.Scan(
		&project.ID, &project.Name, &project.Description, &project.OwnerID,
		&project.AdminGroup, &project.UserGroup, &project.Active, &project.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return project, nil
}
