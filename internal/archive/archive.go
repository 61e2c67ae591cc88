package archive

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/kubev2v/texbatch/internal/config"
	"go.uber.org/zap"
)

const (
	ArtifactObject = "batch_requests.jsonl"
	ResultsObject  = "results.json"
)

// Archiver keeps an audit copy of the files exchanged with the batch service.
type Archiver interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Type() string
}

// RunKey returns the object key of name for the run runID.
func RunKey(runID, name string) string {
	return path.Join("runs", runID, name)
}

// New returns a minio archiver when an endpoint is configured and a no-op
// archiver otherwise.
func New(cfg *config.Config) (Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return Noop{}, nil
	}

	a, err := NewMinioArchiver(
		WithEndpoint(cfg.Archive.Endpoint),
		WithBucket(cfg.Archive.Bucket),
		WithRegion(cfg.Archive.Region),
		WithAccessKey(cfg.Archive.AccessKey),
		WithSecretKey(cfg.Archive.SecretKey),
		WithSSL(cfg.Archive.UseSSL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating archiver: %w", err)
	}
	zap.S().Named("archive").Infof("archiving to %s/%s", cfg.Archive.Endpoint, cfg.Archive.Bucket)
	return a, nil
}

type Noop struct{}

func (Noop) Put(_ context.Context, _ string, _ io.Reader, _ int64) error {
	return nil
}

func (Noop) Type() string {
	return "noop"
}
