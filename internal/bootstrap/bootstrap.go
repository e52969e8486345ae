// Package bootstrap builds the shared runtime pieces of the api, worker and
// CLI binaries from a loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/audit"
	"github.com/cuongbtq/site-audit/internal/blob"
	"github.com/cuongbtq/site-audit/internal/capture"
	"github.com/cuongbtq/site-audit/internal/config"
	"github.com/cuongbtq/site-audit/internal/findings"
	"github.com/cuongbtq/site-audit/internal/llm"
	"github.com/cuongbtq/site-audit/shared/logger"
	"github.com/cuongbtq/site-audit/shared/postgresql"
	"github.com/cuongbtq/site-audit/shared/rabbitmq"
)

const (
	defaultArtifactsPath = "/artifacts"
	bucketSetupTimeout   = 15 * time.Second
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// RabbitMQConfig maps the config section onto the client settings
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// BlobStore is an audit.BlobStore that may also own a local directory
type BlobStore struct {
	audit.BlobStore
	// LocalDir is set for the local driver
	LocalDir string
}

// InitBlobStore builds the configured artifact store
func InitBlobStore(ctx context.Context, cfg *config.BlobConfig, logger *slog.Logger) (*BlobStore, error) {
	switch cfg.Driver {
	case config.BlobDriverLocal:
		base := cfg.Local.PublicBaseURL
		if base == "" {
			base = defaultArtifactsPath
		}
		store, err := blob.NewLocalStore(cfg.Local.Dir, base, logger)
		if err != nil {
			return nil, err
		}
		return &BlobStore{BlobStore: store, LocalDir: store.Dir()}, nil

	case config.BlobDriverS3:
		store, err := blob.NewS3Store(blob.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseSSL:          cfg.S3.UseSSL,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
		}, logger)
		if err != nil {
			return nil, err
		}

		if cfg.S3.CreateBucket {
			setupCtx, cancel := context.WithTimeout(ctx, bucketSetupTimeout)
			defer cancel()
			if err := store.EnsureBucket(setupCtx, cfg.S3.Region); err != nil {
				return nil, err
			}
		}
		return &BlobStore{BlobStore: store}, nil

	default:
		return nil, fmt.Errorf("unknown blob driver: %q", cfg.Driver)
	}
}

// InitCapturer builds the browser capture engine
func InitCapturer(cfg *config.CaptureConfig, logger *slog.Logger) *capture.Engine {
	launcher := capture.NewChromeLauncher(capture.ChromeConfig{
		ExecPath:  cfg.ExecPath,
		RemoteURL: cfg.RemoteURL,
		NoSandbox: cfg.NoSandbox,
	}, logger)

	return capture.NewEngine(launcher, capture.Config{
		UserAgent:          cfg.UserAgent,
		NavigationTimeout:  cfg.NavigationTimeout,
		NetworkIdleTimeout: cfg.NetworkIdleTimeout,
		StepTimeout:        cfg.StepTimeout,
		ReloadTimeout:      cfg.ReloadTimeout,
		ScrollStep:         cfg.ScrollStep,
		ScrollInterval:     cfg.ScrollInterval,
		MaxScrollSteps:     cfg.MaxScrollSteps,
		SettleDelay:        cfg.SettleDelay,
		RelayoutDelay:      cfg.RelayoutDelay,
		MaxElements:        cfg.MaxElements,
	}, logger)
}

// InitAnalyzer builds the findings generator. Without an API key every
// audit gets the default findings.
func InitAnalyzer(llmCfg *config.LLMConfig, findingsCfg *config.FindingsConfig, logger *slog.Logger) *findings.Generator {
	genCfg := findings.Config{
		MaxOutputTokens: findingsCfg.MaxOutputTokens,
		Temperature:     findingsCfg.Temperature,
		Timeout:         findingsCfg.Timeout,
	}

	if llmCfg.APIKey == "" {
		logger.Warn("LLM api key not set, findings will use defaults")
		return findings.NewGenerator(nil, genCfg, logger)
	}

	opts := []llm.Option{llm.WithLogger(logger)}
	if llmCfg.RetryAttempts > 0 {
		opts = append(opts, llm.WithRetry(llmCfg.RetryAttempts, 500*time.Millisecond, 5*time.Second))
	}

	client := llm.NewClient(llm.Config{
		APIKey:       llmCfg.APIKey,
		BaseURL:      llmCfg.BaseURL,
		Model:        llmCfg.Model,
		SystemPrompt: llmCfg.SystemPrompt,
		Timeout:      llmCfg.Timeout,
	}, opts...)

	return findings.NewGenerator(client, genCfg, logger)
}

// InitOrchestrator wires the audit pipeline over store. The scheduler is
// left for the caller since it depends on the dispatch mode.
func InitOrchestrator(cfg *config.Config, store audit.Store, blobs audit.BlobStore, logger *slog.Logger) *audit.Orchestrator {
	return audit.New(&audit.Config{
		Store:           store,
		Blobs:           blobs,
		Capturer:        InitCapturer(&cfg.Capture, logger),
		Analyzer:        InitAnalyzer(&cfg.LLM, &cfg.Findings, logger),
		Logger:          logger,
		FreshnessWindow: cfg.Audit.FreshnessWindow,
		ReuseFailed:     cfg.Audit.ReuseFailedJobs(),
		UploadTimeout:   cfg.Audit.UploadTimeout,
	})
}
