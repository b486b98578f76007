package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buildgate/buildgate/internal/models"
	projectsvc "github.com/buildgate/buildgate/internal/projects"
)

var (
	projectDBPath  string
	projectID      int64
	projectName    string
	projectDesc    string
	projectOwner   string
	projectPending bool
)

// projectCmd represents the project command group
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Project management commands",
	Long: `Commands for managing BuildGate projects.

Every project carries an owner plus an admins group and a users group
that control who may see and change it on the build service.
These commands operate directly on the database file.

Examples:
  # List all projects
  gatectl project list

  # List projects waiting for approval
  gatectl project list --pending

  # Create a project for an owner
  gatectl project create --name my-build --owner alice

  # Approve a pending project
  gatectl project approve --id 3`,
}

// projectListCmd lists projects
var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Long: `List projects in the database.

Displays project ID, name, owner, state, and creation date. With
--pending only projects awaiting staff approval are shown.

Example:
  gatectl project list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(projectDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		var projectList []*models.Project
		if projectPending {
			projectList, err = store.Projects().ListPending(ctx)
		} else {
			projectList, err = store.Projects().List(ctx, false)
		}
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}

		if len(projectList) == 0 {
			fmt.Println("No projects found.")
			return nil
		}

		// Print header
		fmt.Printf("\n%-6s  %-30s  %-20s  %-8s  %s\n",
			"ID", "NAME", "OWNER", "STATE", "CREATED")
		fmt.Println(strings.Repeat("-", 90))

		for _, p := range projectList {
			owner := p.OwnerID
			if account, err := store.Accounts().GetByID(ctx, p.OwnerID); err == nil && account != nil {
				owner = account.Username
			}
			state := "active"
			if !p.Active {
				state = "pending"
			}
			fmt.Printf("%-6d  %-30s  %-20s  %-8s  %s\n",
				p.ID,
				p.Name,
				owner,
				state,
				p.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		fmt.Printf("\nTotal: %d project(s)\n", len(projectList))

		return nil
	},
}

// projectCreateCmd creates a project
var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	Long: `Create a project owned by the given account.

The admins group and users group are created with the project and the
owner is placed in the admins group. With --pending the project starts
inactive and must be approved by staff before the build service sees
its grants.

Example:
  gatectl project create --name my-build --owner alice --description "Nightly build"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectName == "" {
			return fmt.Errorf("--name is required")
		}
		if projectOwner == "" {
			return fmt.Errorf("--owner is required")
		}

		store, err := openDatabase(projectDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		svc, closeMail, err := newProjectService(store)
		if err != nil {
			return err
		}
		defer closeMail()

		ctx := context.Background()

		owner, err := store.Accounts().GetByUsername(ctx, projectOwner)
		if err != nil {
			return fmt.Errorf("find owner: %w", err)
		}
		if owner == nil {
			return fmt.Errorf("account '%s' not found", projectOwner)
		}
		if !owner.IsActive() {
			return fmt.Errorf("account '%s' is not active (state: %s)", owner.Username, owner.State)
		}

		project, err := svc.Create(ctx, owner.ID, projectName, projectDesc, !projectPending)
		if err != nil {
			switch {
			case errors.Is(err, projectsvc.ErrNameTaken):
				return fmt.Errorf("project name '%s' is already taken", projectName)
			case errors.Is(err, projectsvc.ErrGroupExists):
				return fmt.Errorf("a group for project '%s' already exists", projectName)
			default:
				return fmt.Errorf("create project: %w", err)
			}
		}

		fmt.Printf("\nProject created successfully:\n")
		fmt.Printf("  ID:     %d\n", project.ID)
		fmt.Printf("  Name:   %s\n", project.Name)
		fmt.Printf("  Owner:  %s\n", owner.Username)
		fmt.Printf("  Active: %t\n", project.Active)

		return nil
	},
}

// projectApproveCmd activates a pending project
var projectApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a pending project",
	Long: `Approve a project that is awaiting staff approval. The project
becomes active and the owner is notified.

Example:
  gatectl project approve --id 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjectService(func(ctx context.Context, svc *projectsvc.Service) error {
			project, err := svc.Approve(ctx, projectID)
			if err != nil {
				if errors.Is(err, projectsvc.ErrNotFound) {
					return fmt.Errorf("project %d not found", projectID)
				}
				return fmt.Errorf("approve project: %w", err)
			}
			fmt.Printf("Project '%s' approved.\n", project.Name)
			return nil
		})
	},
}

// projectRejectCmd rejects a pending project
var projectRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a pending project",
	Long: `Reject a project that is awaiting staff approval. The project and
its groups are removed and the owner is notified.

Example:
  gatectl project reject --id 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjectService(func(ctx context.Context, svc *projectsvc.Service) error {
			if err := svc.Reject(ctx, projectID); err != nil {
				if errors.Is(err, projectsvc.ErrNotFound) {
					return fmt.Errorf("project %d not found", projectID)
				}
				return fmt.Errorf("reject project: %w", err)
			}
			fmt.Printf("Project %d rejected.\n", projectID)
			return nil
		})
	},
}

// projectDeleteCmd deletes a project
var projectDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a project",
	Long: `Delete a project and both of its groups.

Example:
  gatectl project delete --id 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjectService(func(ctx context.Context, svc *projectsvc.Service) error {
			if err := svc.Delete(ctx, projectID); err != nil {
				if errors.Is(err, projectsvc.ErrNotFound) {
					return fmt.Errorf("project %d not found", projectID)
				}
				return fmt.Errorf("delete project: %w", err)
			}
			fmt.Printf("Project %d deleted.\n", projectID)
			return nil
		})
	},
}

// withProjectService opens the database and runs fn with a wired project
// service.
func withProjectService(fn func(ctx context.Context, svc *projectsvc.Service) error) error {
	if projectID == 0 {
		return fmt.Errorf("--id is required")
	}

	store, err := openDatabase(projectDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, closeMail, err := newProjectService(store)
	if err != nil {
		return err
	}
	defer closeMail()

	return fn(context.Background(), svc)
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectApproveCmd)
	projectCmd.AddCommand(projectRejectCmd)
	projectCmd.AddCommand(projectDeleteCmd)

	// Common flags (db has default value)
	for _, cmd := range []*cobra.Command{
		projectListCmd, projectCreateCmd, projectApproveCmd,
		projectRejectCmd, projectDeleteCmd,
	} {
		cmd.Flags().StringVar(&projectDBPath, "db", defaultDBPath, "path to SQLite database file")
	}

	// List-specific flags
	projectListCmd.Flags().BoolVar(&projectPending, "pending", false, "only projects awaiting approval")

	// Create-specific flags
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectOwner, "owner", "", "username of the owning account (required)")
	projectCreateCmd.Flags().StringVar(&projectDesc, "description", "", "project description")
	projectCreateCmd.Flags().BoolVar(&projectPending, "pending", false, "create the project inactive, awaiting approval")
	projectCreateCmd.MarkFlagRequired("name")
	projectCreateCmd.MarkFlagRequired("owner")

	// Lifecycle flags
	for _, cmd := range []*cobra.Command{projectApproveCmd, projectRejectCmd, projectDeleteCmd} {
		cmd.Flags().Int64Var(&projectID, "id", 0, "project id (required)")
		cmd.MarkFlagRequired("id")
	}
}
