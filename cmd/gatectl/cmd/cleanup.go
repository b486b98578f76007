package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cleanupDBPath     string
	cleanupWindowDays int
)

// cleanupCmd removes registrations whose activation window has passed
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired unconfirmed registrations",
	Long: `Remove accounts that registered but never confirmed their email
within the activation window, together with their activation keys.

Suitable for a cron job on installations where the server's built-in
sweep is not enough.

Example:
  gatectl cleanup --window-days 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(cleanupDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		svc, closeMail, err := newAccountService(store, cleanupWindowDays)
		if err != nil {
			return err
		}
		defer closeMail()

		removed, err := svc.CleanupExpired(context.Background())
		if err != nil {
			return fmt.Errorf("cleanup expired registrations: %w", err)
		}

		if removed == 0 {
			fmt.Println("No expired registrations found.")
			return nil
		}
		fmt.Printf("Removed %d expired registration(s).\n", removed)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().StringVar(&cleanupDBPath, "db", defaultDBPath, "path to SQLite database file")
	cleanupCmd.Flags().IntVar(&cleanupWindowDays, "window-days", 7, "activation window in days")
}
