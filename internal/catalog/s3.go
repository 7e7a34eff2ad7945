package catalog

import (
	"context"
	"fmt"

	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
	"github.com/dc-tec/snaprepo-operator/internal/storage"
)

// S3Source downloads a catalog object on every Load. The object key's
// extension selects the syntax.
type S3Source struct {
	Location storage.Location
	// Config supplies endpoint, credentials and TLS settings. Its Bucket is
	// taken from Location.
	Config storage.S3ClientConfig
}

// NewS3Source parses rawURL (s3://bucket/key) and returns a source using cfg.
func NewS3Source(rawURL string, cfg storage.S3ClientConfig) (*S3Source, error) {
	loc, err := storage.ParseLocation(rawURL)
	if err != nil {
		return nil, err
	}
	return &S3Source{Location: loc, Config: cfg}, nil
}

// Load implements Source.
func (s *S3Source) Load(ctx context.Context) ([]snapshotrepo.Declaration, error) {
	cfg := s.Config
	cfg.Bucket = s.Location.Bucket

	client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	data, err := client.Download(ctx, s.Location.Key)
	if err != nil {
		return nil, err
	}
	return Parse(fmt.Sprintf("s3://%s/%s", s.Location.Bucket, s.Location.Key), data)
}
