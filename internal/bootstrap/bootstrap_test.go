package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/site-audit/internal/config"
	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/cuongbtq/site-audit/internal/findings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitBlobStore_Local(t *testing.T) {
	dir := t.TempDir()
	store, err := InitBlobStore(context.Background(), &config.BlobConfig{
		Driver: config.BlobDriverLocal,
		Local:  config.LocalBlobConfig{Dir: dir},
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, dir, store.LocalDir)

	ref, err := store.Upload(context.Background(), "desktop/example.com/1-abcd.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/desktop/example.com/1-abcd.png", ref)

	data, err := os.ReadFile(filepath.Join(dir, "desktop", "example.com", "1-abcd.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestInitBlobStore_S3WithoutBucketSetup(t *testing.T) {
	store, err := InitBlobStore(context.Background(), &config.BlobConfig{
		Driver: config.BlobDriverS3,
		S3: config.S3BlobConfig{
			Endpoint: "localhost:9000",
			Bucket:   "audits",
		},
	}, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, store.LocalDir)
}

func TestInitBlobStore_UnknownDriver(t *testing.T) {
	_, err := InitBlobStore(context.Background(), &config.BlobConfig{Driver: "ftp"}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown blob driver")
}

func TestInitAnalyzer_NoAPIKeyFallsBack(t *testing.T) {
	gen := InitAnalyzer(&config.LLMConfig{}, &config.FindingsConfig{}, discardLogger())

	got := gen.Analyze(context.Background(), "https://example.com", domain.Snapshot{Title: "Example"})
	assert.Equal(t, findings.DefaultFindings(), got)
}

func TestRabbitMQConfig(t *testing.T) {
	cfg := &config.RabbitMQConfig{
		Host:       "mq",
		Port:       5672,
		Exchange:   config.ExchangeConfig{Name: "audits_exchange", Type: "direct", Durable: true},
		Queue:      config.QueueConfig{Name: "audits_queue", Durable: true},
		RoutingKey: "audit.run",
		Publish:    config.PublishConfig{RetryAttempts: 3, RetryInterval: time.Second, BackoffMultiplier: 2},
	}

	got := RabbitMQConfig(cfg)
	assert.Equal(t, "mq", got.Host)
	assert.Equal(t, "audits_exchange", got.ExchangeName)
	assert.Equal(t, "audits_queue", got.QueueName)
	assert.True(t, got.QueueDurable)
	assert.Equal(t, 3, got.PublishRetries)
	assert.Equal(t, 2.0, got.PublishBackoffMult)
}
