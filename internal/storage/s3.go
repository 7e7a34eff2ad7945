// Package storage reads catalog documents from S3-compatible object storage.
package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
)

const (
	// DefaultDownloadTimeout bounds a single catalog download.
	DefaultDownloadTimeout = 2 * time.Minute
	// DefaultRegion is used when no region is configured. S3-compatible
	// stores generally ignore it but the SDK requires one.
	DefaultRegion = "us-east-1"
	// MaxObjectSize caps how much of a catalog object is read.
	MaxObjectSize = 8 << 20
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// S3ClientConfig holds configuration for creating a new S3-compatible storage client.
type S3ClientConfig struct {
	// Endpoint is the S3-compatible endpoint URL (e.g., "https://minio.example.com").
	// Empty uses the AWS endpoint resolution.
	Endpoint string
	// Bucket is the bucket holding the catalog.
	Bucket string
	// Region is the AWS region. Defaults to DefaultRegion.
	Region string
	// AccessKeyID is the access key for authentication. If empty, the default credential chain is used.
	AccessKeyID string
	// SecretAccessKey is the secret key for authentication.
	SecretAccessKey string
	// SessionToken is an optional session token for temporary credentials.
	SessionToken string
	// CACert is an optional PEM-encoded CA certificate for custom TLS verification.
	CACert []byte
	// UsePathStyle forces path-style addressing (required for MinIO and some S3-compatible stores).
	UsePathStyle bool
	// InsecureSkipVerify allows skipping TLS verification.
	InsecureSkipVerify bool
}

// S3Client downloads objects from one bucket.
type S3Client struct {
	client *s3.Client
	bucket string
}

// Location is a parsed s3://bucket/key reference.
type Location struct {
	Bucket string
	Key    string
}

// ParseLocation parses an s3://bucket/key URL.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, operatorerrors.NewValidationError("catalog", raw, err.Error())
	}
	if u.Scheme != "s3" {
		return Location{}, operatorerrors.NewValidationError("catalog", raw, "scheme must be s3")
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, operatorerrors.NewValidationError("catalog", raw, "expected s3://bucket/key")
	}
	return Location{Bucket: u.Host, Key: key}, nil
}

// IsS3URL reports whether raw looks like an s3:// reference.
func IsS3URL(raw string) bool {
	return strings.HasPrefix(raw, "s3://")
}

// NewS3Client creates a client for cfg.Bucket.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Client{client: client, bucket: cfg.Bucket}, nil
}

// Download returns the contents of key. Objects larger than MaxObjectSize
// are rejected.
func (c *S3Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, c.bucket, key)
		}
		if operatorerrors.IsTransientConnection(err) {
			return nil, operatorerrors.WrapRemoteUnreachable(fmt.Errorf("failed to get s3://%s/%s: %w", c.bucket, key, err))
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", c.bucket, key, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", c.bucket, key, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("s3://%s/%s exceeds %d bytes", c.bucket, key, MaxObjectSize)
	}
	return data, nil
}

// buildAWSConfig constructs AWS SDK config with credentials and custom TLS settings.
func buildAWSConfig(ctx context.Context, cfg S3ClientConfig) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	httpClient, err := buildHTTPClient(cfg.CACert, cfg.InsecureSkipVerify)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	opts = append(opts, config.WithHTTPClient(httpClient))

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// buildHTTPClient creates an HTTP client with optional custom CA certificate.
func buildHTTPClient(caCert []byte, insecureSkipVerify bool) (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	// Custom CAs are additive to the system roots.
	certPool, err := x509.SystemCertPool()
	if err != nil || certPool == nil {
		certPool = x509.NewCertPool()
	}
	if len(caCert) > 0 && !certPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	transport.TLSClientConfig = &tls.Config{
		RootCAs:            certPool,
		InsecureSkipVerify: insecureSkipVerify, // #nosec G402 -- opt-in for self-signed object stores
		MinVersion:         tls.VersionTLS12,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   DefaultDownloadTimeout,
	}, nil
}
