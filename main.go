package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/config"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/jobs"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/library"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/seed"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// Embeds the migration files into the binary.
//
//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	root := &cobra.Command{
		Use:          "kyra",
		Short:        "Library inventory service",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, then serve HTTP and the job runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, nil)
		},
	}

	var seedFile string
	var initialBalanceCents int64
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the book catalog and opening balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runSeed(cmd.Context(), cfg, seedFile, initialBalanceCents)
		},
	}
	seedCmd.Flags().StringVar(&seedFile, "file", "seed/books.json", "path to the catalog JSON file")
	seedCmd.Flags().Int64Var(&initialBalanceCents, "initial-balance-cents", 0, "opening wallet balance in cents (0 skips)")

	root.AddCommand(serveCmd, seedCmd)
	if err := root.Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// setup loads config and installs the JSON logger. Shared by both commands.
func setup() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	// Include source location in log entries at debug level only.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))
	return cfg, nil
}

// run holds all server logic and returns errors instead of exiting, so
// deferred resource cleanup always executes. Shuts down when ctx is
// cancelled. If ready is non-nil, the server's base URL is sent on it once
// the listener is bound (used by tests; nil in production).
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis only backs the rate limiter; the service runs fine without it.
	var limiter library.RateLimiter
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		limiter = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Info("REDIS_URL not set, request rate limiter disabled")
	}

	svc := library.NewService(ps, cfg.HandlerTxTimeout, cfg.JobMaxAttempts)
	h := library.NewHandler(svc, limiter, store.RateLimit{
		Max:     cfg.RateMax,
		Window:  cfg.RateWindow,
		Lockout: cfg.RateLockout,
	})

	runner := jobs.NewRunner(ps, jobs.Config{
		PollInterval: cfg.JobPollInterval,
		Lease:        cfg.JobLease,
		BackoffBase:  cfg.JobBackoffBase,
		BackoffCap:   cfg.JobBackoffCap,
		BatchSize:    cfg.JobBatchSize,
	})
	runner.Register(store.JobRestock, jobs.NewRestockHandler(ps, cfg.HandlerTxTimeout))
	runner.Register(store.JobReminder, jobs.NewReminderHandler(ps, cfg.HandlerTxTimeout))

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go runner.Run(workerCtx)

	// Expired idempotency cells are dead weight; sweep them daily.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := svc.CleanupIdempotencyKeys(workerCtx)
				if err != nil {
					slog.Warn("idempotency cleanup failed", "error", err)
				} else {
					slog.Info("idempotency cleanup complete", "deleted", n)
				}
			case <-workerCtx.Done():
				return
			}
		}
	}()

	// ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("library service listening", "addr", ln.Addr().String(), "env", cfg.AppEnv)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// runSeed connects, migrates, and loads the catalog.
func runSeed(ctx context.Context, cfg *config.Config, path string, initialBalanceCents int64) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return seed.Run(ctx, ps, path, initialBalanceCents)
}

// buildRouter wires all routes and middleware.
// Separate func so smoke tests can exercise the full stack in-process.
func buildRouter(h *library.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/books", h.ListBooks)

		// Identified, rate-limited mutating surface.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireUser)
			r.Use(h.RateLimit)
			r.Post("/books/{isbn}/borrow", h.BorrowBook)
			r.Post("/books/{isbn}/return", h.ReturnBook)
			r.Post("/books/{isbn}/buy", h.Idempotent("/api/books/buy", h.BuyBook))
			r.Post("/purchases/{id}/cancel", h.CancelPurchase)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireUser)
			r.Use(h.RequireAdmin)
			r.Get("/wallet", h.AdminWallet)
			r.Get("/wallet/movements", h.AdminMovements)
			r.Get("/jobs", h.AdminJobs)
			r.Get("/events", h.AdminEvents)
			r.Get("/emails", h.AdminEmails)
		})
	})

	return r
}
