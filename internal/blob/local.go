package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// LocalStore writes artifacts below a directory and serves them from a
// public base URL, typically the API's /artifacts route.
type LocalStore struct {
	dir           string
	publicBaseURL string
	logger        *slog.Logger
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(dir, publicBaseURL string, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	return &LocalStore{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.UploadError{Key: key, Err: err}
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", &domain.UploadError{Key: key, Err: fmt.Errorf("key escapes artifact dir")}
	}

	path := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &domain.UploadError{Key: key, Err: err}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &domain.UploadError{Key: key, Err: err}
	}

	s.logger.Debug("Artifact stored",
		slog.String("key", key),
		slog.String("content_type", contentType),
		slog.Int("size", len(data)),
	)

	return s.publicBaseURL + "/" + key, nil
}

// Dir returns the root directory, used to mount the static route
func (s *LocalStore) Dir() string {
	return s.dir
}
