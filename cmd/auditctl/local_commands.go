package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/api/dto"
	"github.com/cuongbtq/site-audit/internal/audit"
	"github.com/cuongbtq/site-audit/internal/bootstrap"
	"github.com/cuongbtq/site-audit/internal/config"
	"github.com/cuongbtq/site-audit/internal/storage"
	"github.com/cuongbtq/site-audit/shared/logger"
	"github.com/spf13/cobra"
)

// loadLocal reads the config and builds a logger writing to stderr so
// command output stays clean.
func loadLocal(opts *options) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, appLogger, nil
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <url>",
		Short: "Audit a URL in this process without the API or database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := loadLocal(opts)
			if err != nil {
				return err
			}
			defer appLogger.Close()

			ctx := cmd.Context()

			blobs, err := bootstrap.InitBlobStore(ctx, &cfg.Blob, appLogger.Logger)
			if err != nil {
				return fmt.Errorf("failed to initialize blob store: %w", err)
			}

			orch := bootstrap.InitOrchestrator(cfg, storage.NewMemoryStore(), blobs, appLogger.Logger)
			inline := audit.NewInlineScheduler(orch, cfg.Worker.JobTimeout, appLogger.Logger)
			orch.UseScheduler(inline)

			result, err := orch.Submit(ctx, args[0])
			if err != nil {
				return err
			}

			waitCtx, cancel := context.WithTimeout(ctx, cfg.Worker.JobTimeout+30*time.Second)
			defer cancel()
			if err := inline.Wait(waitCtx); err != nil {
				return fmt.Errorf("audit did not finish: %w", err)
			}

			job, err := orch.Get(ctx, result.ID)
			if err != nil {
				return err
			}

			appLogger.Debug("Local audit finished", slog.String("job_id", job.ID))
			return printAudit(cmd, opts, dto.NewAuditDTO(job))
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audits database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), opts, storage.Migrate)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), opts, storage.MigrationStatus)
		},
	})

	return cmd
}

func withDatabase(ctx context.Context, opts *options, fn func(ctx context.Context, db *sql.DB, logger *slog.Logger) error) error {
	cfg, appLogger, err := loadLocal(opts)
	if err != nil {
		return err
	}
	defer appLogger.Close()

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	return fn(ctx, dbClient.SQLDB(), appLogger.Logger)
}
