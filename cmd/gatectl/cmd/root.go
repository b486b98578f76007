// Package cmd contains the CLI commands for gatectl.
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	accountsvc "github.com/buildgate/buildgate/internal/accounts"
	"github.com/buildgate/buildgate/internal/notifier"
	projectsvc "github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// defaultDBPath is the default database path, can be overridden via
// BUILDGATE_DB_PATH env var
var defaultDBPath = "data/buildgate.db"

func init() {
	if envPath := os.Getenv("BUILDGATE_DB_PATH"); envPath != "" {
		defaultDBPath = envPath
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "BuildGate - access control for the build service",
	Long: `gatectl manages BuildGate accounts and projects from the command line.

The commands operate directly on the database file and are intended for
operators working outside the web interface: bootstrapping the first
staff account, approving pending registrations, and cleaning up
registrations whose activation window has passed.

Examples:
  # List accounts waiting for staff approval
  gatectl account list --view pending

  # Approve an account
  gatectl account approve --username alice

  # List all projects
  gatectl project list

  # Remove expired unconfirmed registrations
  gatectl cleanup`,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// openDatabase opens the SQLite database.
func openDatabase(path string) (*storage.SQLiteStorage, error) {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", path)
	}

	store := storage.NewSQLiteStorage(path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return store, nil
}

// newMailService builds a mail service whose deliveries go to the log.
// The returned func closes the dispatcher.
func newMailService(windowDays int) (*notifier.Service, func(), error) {
	dispatcher := notifier.NewDispatcher()
	dispatcher.Register(notifier.NewLogMailer())

	baseURL := os.Getenv("BUILDGATE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	svc, err := notifier.NewService(dispatcher, baseURL, windowDays)
	if err != nil {
		dispatcher.Close()
		return nil, nil, fmt.Errorf("mail service: %w", err)
	}
	return svc, func() { dispatcher.Close() }, nil
}

// newAccountService wires an account service for direct database work.
func newAccountService(store storage.Storage, windowDays int) (*accountsvc.Service, func(), error) {
	mail, closeMail, err := newMailService(windowDays)
	if err != nil {
		return nil, nil, err
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	return accountsvc.NewService(store, mail, window), closeMail, nil
}

// newProjectService wires a project service for direct database work.
func newProjectService(store storage.Storage) (*projectsvc.Service, func(), error) {
	mail, closeMail, err := newMailService(7)
	if err != nil {
		return nil, nil, err
	}
	return projectsvc.NewService(store, mail), closeMail, nil
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	// Check if stdin is a terminal
	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		// Read password without echo
		passwordBytes, err := term.ReadPassword(fd)
		fmt.Println() // Add newline after password input
		if err != nil {
			return "", err
		}
		return string(passwordBytes), nil
	}

	// Fallback for non-terminal input (e.g., piped input)
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(password), nil
}
