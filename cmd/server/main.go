package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/buildgate/buildgate/internal/accounts"
	"github.com/buildgate/buildgate/internal/api"
	"github.com/buildgate/buildgate/internal/api/health"
	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/notifier"
	"github.com/buildgate/buildgate/internal/projects"
	"github.com/buildgate/buildgate/internal/storage"
	"github.com/buildgate/buildgate/internal/web"
	"github.com/buildgate/buildgate/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "buildgate-server",
	Short: "BuildGate Server - Access control front end for the build service",
	Long: `BuildGate Server manages accounts, projects and permissions for a
build automation service, and answers the service's role queries.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("buildgate-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	// Secrets come from the environment
	jwtSecret := os.Getenv("BUILDGATE_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("BUILDGATE_JWT_SECRET environment variable is required")
	}
	csrfKey := os.Getenv("BUILDGATE_CSRF_KEY")
	if csrfKey == "" {
		return fmt.Errorf("BUILDGATE_CSRF_KEY environment variable is required")
	}

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize storage
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Create the service accounts on first run
	if err := store.EnsureServiceAccounts(cfg.Accounts.APIUser, cfg.Accounts.AdminUser); err != nil {
		return fmt.Errorf("ensure service accounts: %w", err)
	}

	log.Printf("database initialized at %s", cfg.Database.Path)

	// Mail delivery: SMTP when configured, otherwise log-only
	dispatcher := notifier.NewDispatcher()
	defer dispatcher.Close()

	if cfg.SMTP.Host != "" {
		mailer, err := notifier.NewSMTPMailer(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return fmt.Errorf("smtp mailer: %w", err)
		}
		dispatcher.Register(mailer)
	} else {
		log.Printf("no SMTP host configured, mail goes to the log")
		dispatcher.Register(notifier.NewLogMailer())
	}

	mailService, err := notifier.NewService(dispatcher, cfg.Registration.BaseURL, cfg.Registration.WindowDays)
	if err != nil {
		return fmt.Errorf("mail service: %w", err)
	}

	// Domain services
	activationWindow := time.Duration(cfg.Registration.WindowDays) * 24 * time.Hour
	accountService := accounts.NewService(store, mailService, activationWindow)
	projectService := projects.NewService(store, mailService)

	// HTTP API server
	apiCfg := &api.Config{
		Address:          cfg.Server.Address,
		JWTSecret:        []byte(jwtSecret),
		HTTPTLSEnabled:   cfg.Server.TLS.Enabled,
		HTTPTLSCertFile:  cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:   cfg.Server.TLS.KeyFile,
		AccessTokenTTL:   time.Duration(cfg.Auth.AccessTokenTTLMinutes) * time.Minute,
		RefreshTokenTTL:  time.Duration(cfg.Auth.RefreshTokenTTLHours) * time.Hour,
		RateLimitPerIP:   cfg.Auth.RateLimitPerIP,
		RateLimitPerUser: cfg.Auth.RateLimitPerAccount,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  time.Duration(cfg.Auth.LockoutDurationMinutes) * time.Minute,
		APIUser:          cfg.Accounts.APIUser,
		RoleQueryRPS:     cfg.Roles.RPS,
		RoleQueryBurst:   cfg.Roles.Burst,
		FederatedHeader:  cfg.Federated.Header,
		Staleness:        time.Duration(cfg.Accounts.StalenessDays) * 24 * time.Hour,
		ServiceAccounts:  []string{cfg.Accounts.APIUser, cfg.Accounts.AdminUser},
		Verbose:          cfg.Verbose,
	}

	apiServer, err := api.New(apiCfg, store, accountService, projectService)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	apiServer.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	apiServer.RegisterHealthChecker(health.NewMailChecker(dispatcher.HasMailers))

	// Browser session surface shares the API session store
	webServer := web.NewServerWithSessions(store, csrfKey, nil, apiServer.Sessions(), cfg.Server.TLS.Enabled)
	apiServer.MountWeb("/web", webServer.Routes())

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	log.Printf("starting buildgate-server %s", config.Version)

	g.Go(func() error {
		return apiServer.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error {
			return metricsServer.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	// Expired refresh tokens are swept hourly.
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n, err := store.Tokens().DeleteExpired(ctx); err != nil {
					log.Printf("token sweep error: %v", err)
				} else if n > 0 {
					log.Printf("token sweep removed %d expired tokens", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}
