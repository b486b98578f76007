package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	accountsvc "github.com/buildgate/buildgate/internal/accounts"
	apiaccounts "github.com/buildgate/buildgate/internal/api/accounts"
	"github.com/buildgate/buildgate/internal/api/auth"
	"github.com/buildgate/buildgate/internal/models"
	"github.com/buildgate/buildgate/internal/storage"
)

var (
	accountDBPath     string
	accountView       string
	accountStaleDays  int
	accountWindowDays int
	accountUsername   string
	accountEmail      string
	accountFirstName  string
	accountLastName   string
	accountStaff      bool
	accountSuperuser  bool
)

// accountCmd represents the account command group
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account management commands",
	Long: `Commands for managing BuildGate accounts.

These commands operate directly on the database file and are intended
for operators to manage accounts outside of the web interface.

Examples:
  # List accounts waiting for staff approval
  gatectl account list --view pending

  # Create a staff account (password prompted)
  gatectl account create --username admin --email admin@example.org --staff

  # Approve a pending account
  gatectl account approve --username alice

  # Change an account's password
  gatectl account passwd --username admin`,
}

// accountListCmd lists accounts, optionally narrowed to a view
var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Long: `List accounts in the database.

The --view flag narrows the listing:
  registration  accounts that have not confirmed their email yet
  pending       accounts awaiting staff approval
  active        approved accounts
  staff         active staff accounts
  deleted       logically deleted accounts
  stale         active accounts with no recent login (see --stale-days)

Passwords are never displayed.

Example:
  gatectl account list --view pending`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := accountFilterForView(accountView)
		if err != nil {
			return err
		}

		store, err := openDatabase(accountDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		accountList, err := store.Accounts().List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}

		if len(accountList) == 0 {
			fmt.Println("No accounts found.")
			return nil
		}

		// Print header
		fmt.Printf("\n%-36s  %-20s  %-30s  %-16s  %-5s  %s\n",
			"ID", "USERNAME", "EMAIL", "STATE", "STAFF", "CREATED")
		fmt.Println(strings.Repeat("-", 125))

		for _, a := range accountList {
			staff := "no"
			if a.Staff || a.Superuser {
				staff = "yes"
			}
			fmt.Printf("%-36s  %-20s  %-30s  %-16s  %-5s  %s\n",
				a.ID,
				a.Username,
				a.Email,
				a.State,
				staff,
				a.DateJoined.Format("2006-01-02 15:04:05"),
			)
		}
		fmt.Printf("\nTotal: %d account(s)\n", len(accountList))

		return nil
	},
}

// accountCreateCmd creates an account directly, bypassing the
// registration flow. Meant for bootstrapping the first staff account.
var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an active account",
	Long: `Create an account in the active state, skipping email confirmation
and staff approval. Intended for bootstrapping staff accounts.

The password will be prompted interactively for security reasons
(to avoid exposing it in shell history).

Password requirements:
  - Minimum 12 characters
  - At least 1 uppercase letter (A-Z)
  - At least 1 lowercase letter (a-z)
  - At least 1 digit (0-9)
  - At least 1 special character (!@#$%^&*...)

Example:
  gatectl account create --username admin --email admin@example.org --staff`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if accountUsername == "" {
			return fmt.Errorf("--username is required")
		}
		if accountEmail == "" {
			return fmt.Errorf("--email is required")
		}

		// Validate username
		if err := apiaccounts.ValidateUsername(accountUsername); err != nil {
			return fmt.Errorf("invalid username: %w", err)
		}

		// Validate email
		if err := apiaccounts.ValidateEmail(accountEmail); err != nil {
			return fmt.Errorf("invalid email: %w", err)
		}

		// Prompt for password securely
		password, err := promptPassword("Enter password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		// Validate password
		if err := auth.ValidatePassword(password); err != nil {
			return fmt.Errorf("invalid password: %w", err)
		}

		// Confirm password
		confirmPassword, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password confirmation: %w", err)
		}

		if password != confirmPassword {
			return fmt.Errorf("passwords do not match")
		}

		// Open database
		store, err := openDatabase(accountDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		// Check if username already exists
		existing, err := store.Accounts().GetByUsername(ctx, accountUsername)
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("username '%s' already exists", accountUsername)
		}

		// Check if email already exists
		existing, err = store.Accounts().GetByEmail(ctx, accountEmail)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("email '%s' already exists", accountEmail)
		}

		// Hash password
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		account := models.NewAccount(
			strings.TrimSpace(accountUsername),
			strings.TrimSpace(accountEmail),
			strings.TrimSpace(accountFirstName),
			strings.TrimSpace(accountLastName),
		)
		account.State = models.StateActive
		account.Staff = accountStaff || accountSuperuser
		account.Superuser = accountSuperuser
		account.PasswordHash = string(hash)

		if err := store.Accounts().Create(ctx, account); err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		fmt.Printf("\nAccount created successfully:\n")
		fmt.Printf("  ID:       %s\n", account.ID)
		fmt.Printf("  Username: %s\n", account.Username)
		fmt.Printf("  Email:    %s\n", account.Email)
		fmt.Printf("  Staff:    %t\n", account.Staff)

		return nil
	},
}

// accountApproveCmd approves a pending account
var accountApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a pending account",
	Long: `Approve an account that has confirmed its email and is awaiting
staff approval. The account becomes active and the owner is notified.

Example:
  gatectl account approve --username alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, svc *accountsvc.Service, account *models.Account) error {
			if _, err := svc.Approve(ctx, account.ID); err != nil {
				if errors.Is(err, accountsvc.ErrNotPending) {
					return fmt.Errorf("account '%s' is not awaiting approval (state: %s)", account.Username, account.State)
				}
				return fmt.Errorf("approve account: %w", err)
			}
			fmt.Printf("Account '%s' approved.\n", account.Username)
			return nil
		})
	},
}

// accountRejectCmd rejects a pending account
var accountRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a pending account",
	Long: `Reject an account that is awaiting staff approval. The account is
removed and the owner is notified.

Example:
  gatectl account reject --username alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, svc *accountsvc.Service, account *models.Account) error {
			if err := svc.Reject(ctx, account.ID); err != nil {
				var owns *accountsvc.OwnsProjectsError
				if errors.As(err, &owns) {
					return fmt.Errorf("cannot reject '%s': %s", account.Username, owns.Error())
				}
				return fmt.Errorf("reject account: %w", err)
			}
			fmt.Printf("Account '%s' rejected.\n", account.Username)
			return nil
		})
	},
}

// accountDeleteCmd logically deletes an account
var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Logically delete an account",
	Long: `Logically delete an account. The row is kept so project history
stays intact, but the account can no longer sign in. Accounts that
still own projects cannot be deleted.

Example:
  gatectl account delete --username alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(func(ctx context.Context, svc *accountsvc.Service, account *models.Account) error {
			if err := svc.LogicalDelete(ctx, account.ID); err != nil {
				var owns *accountsvc.OwnsProjectsError
				if errors.As(err, &owns) {
					return fmt.Errorf("cannot delete '%s': %s", account.Username, owns.Error())
				}
				return fmt.Errorf("delete account: %w", err)
			}
			fmt.Printf("Account '%s' deleted.\n", account.Username)
			return nil
		})
	},
}

// accountPasswdCmd changes an account's password
var accountPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change an account's password",
	Long: `Change the password for an existing account.

The new password will be prompted interactively for security reasons
(to avoid exposing it in shell history).

Example:
  gatectl account passwd --username admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if accountUsername == "" {
			return fmt.Errorf("--username is required")
		}

		// Open database
		store, err := openDatabase(accountDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		// Find account
		account, err := store.Accounts().GetByUsername(ctx, accountUsername)
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		if account == nil {
			return fmt.Errorf("account '%s' not found", accountUsername)
		}

		// Prompt for new password
		password, err := promptPassword("Enter new password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		// Validate password
		if err := auth.ValidatePassword(password); err != nil {
			return fmt.Errorf("invalid password: %w", err)
		}

		// Confirm password
		confirmPassword, err := promptPassword("Confirm new password: ")
		if err != nil {
			return fmt.Errorf("read password confirmation: %w", err)
		}

		if password != confirmPassword {
			return fmt.Errorf("passwords do not match")
		}

		// Hash new password
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}

		account.PasswordHash = string(hash)
		account.UpdatedAt = time.Now()

		if err := store.Accounts().Update(ctx, account); err != nil {
			return fmt.Errorf("update account: %w", err)
		}

		// Revoke all refresh tokens for this account (force re-login)
		if err := store.Tokens().RevokeAllForUser(ctx, account.ID); err != nil {
			// Log warning but don't fail - password was already changed
			PrintVerbose("Warning: could not revoke existing sessions: %v", err)
		}

		fmt.Printf("\nPassword changed successfully for account '%s'.\n", account.Username)
		fmt.Println("All existing sessions have been revoked.")

		return nil
	},
}

// withAccount opens the database, resolves --username and runs fn with a
// wired account service.
func withAccount(fn func(ctx context.Context, svc *accountsvc.Service, account *models.Account) error) error {
	if accountUsername == "" {
		return fmt.Errorf("--username is required")
	}

	store, err := openDatabase(accountDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, closeMail, err := newAccountService(store, accountWindowDays)
	if err != nil {
		return err
	}
	defer closeMail()

	ctx := context.Background()
	account, err := store.Accounts().GetByUsername(ctx, accountUsername)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("account '%s' not found", accountUsername)
	}

	return fn(ctx, svc, account)
}

// accountFilterForView maps a --view value to an account filter.
func accountFilterForView(view string) (storage.AccountFilter, error) {
	var filter storage.AccountFilter
	switch view {
	case "", "all":
	case "registration":
		filter.State = models.StatePendingConfirm
	case "pending":
		filter.State = models.StatePendingApproval
	case "active":
		filter.State = models.StateActive
	case "staff":
		filter.State = models.StateActive
		filter.StaffOnly = true
	case "deleted":
		filter.State = models.StateDeleted
	case "stale":
		cutoff := time.Now().Add(-time.Duration(accountStaleDays) * 24 * time.Hour)
		filter.State = models.StateActive
		filter.LastLoginBefore = &cutoff
	default:
		return filter, fmt.Errorf("unknown view: %s", view)
	}
	return filter, nil
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountApproveCmd)
	accountCmd.AddCommand(accountRejectCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	accountCmd.AddCommand(accountPasswdCmd)

	// Common flags (db has default value)
	for _, cmd := range []*cobra.Command{
		accountListCmd, accountCreateCmd, accountApproveCmd,
		accountRejectCmd, accountDeleteCmd, accountPasswdCmd,
	} {
		cmd.Flags().StringVar(&accountDBPath, "db", defaultDBPath, "path to SQLite database file")
	}

	// List-specific flags
	accountListCmd.Flags().StringVar(&accountView, "view", "", "listing view: registration, pending, active, staff, deleted, stale")
	accountListCmd.Flags().IntVar(&accountStaleDays, "stale-days", 365, "days without login before an account counts as stale")

	// Create-specific flags
	accountCreateCmd.Flags().StringVar(&accountUsername, "username", "", "username for the new account (required)")
	accountCreateCmd.Flags().StringVar(&accountEmail, "email", "", "email for the new account (required)")
	accountCreateCmd.Flags().StringVar(&accountFirstName, "first-name", "", "first name")
	accountCreateCmd.Flags().StringVar(&accountLastName, "last-name", "", "last name")
	accountCreateCmd.Flags().BoolVar(&accountStaff, "staff", false, "grant staff rights")
	accountCreateCmd.Flags().BoolVar(&accountSuperuser, "superuser", false, "grant superuser rights (implies --staff)")
	accountCreateCmd.MarkFlagRequired("username")
	accountCreateCmd.MarkFlagRequired("email")

	// Lifecycle flags
	for _, cmd := range []*cobra.Command{accountApproveCmd, accountRejectCmd, accountDeleteCmd} {
		cmd.Flags().StringVar(&accountUsername, "username", "", "username of the account (required)")
		cmd.Flags().IntVar(&accountWindowDays, "window-days", 7, "activation window used in notification mail")
		cmd.MarkFlagRequired("username")
	}

	// Passwd-specific flags
	accountPasswdCmd.Flags().StringVar(&accountUsername, "username", "", "username of the account to update (required)")
	accountPasswdCmd.MarkFlagRequired("username")
}
