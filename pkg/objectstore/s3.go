// Package objectstore reads datasets from and uploads sampler output to
// S3-compatible object storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/sgl-project/sampling-agent/pkg/afero"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

const (
	maxRetries  = 3
	httpTimeout = 10 * time.Minute
	partSize    = 8 * 1024 * 1024
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Config holds connection settings. Empty credentials fall back to the AWS
// default chain (env vars, shared config, instance role).
type Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// Validate requires credentials to be given as a pair.
func (c *Config) Validate() error {
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// pathStyle is needed by most S3-compatible services (MinIO, Ceph).
func (c *Config) pathStyle() bool {
	return c.Endpoint != "" && !strings.Contains(c.Endpoint, "amazonaws.com")
}

type getObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Store is an S3 client scoped to the sampler's needs.
type Store struct {
	api      getObjectAPI
	uploader uploadAPI
	logger   logging.Interface
}

// New builds a Store from cfg.
func New(ctx context.Context, cfg Config, logger logging.Interface) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
		awsconfig.WithRetryMaxAttempts(maxRetries),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.pathStyle()
	})

	logger.WithField("region", cfg.Region).
		WithField("endpoint", cfg.Endpoint).
		Debug("Object storage client initialized")

	return newStore(client, manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	}), logger), nil
}

func newStore(api getObjectAPI, uploader uploadAPI, logger logging.Interface) *Store {
	return &Store{api: api, uploader: uploader, logger: logger}
}

// Get opens the object at uri. The caller closes the reader.
func (s *Store) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, wrapError(err, loc)
	}
	return out.Body, nil
}

// Upload streams r to uri.
func (s *Store) Upload(ctx context.Context, r io.Reader, uri string) error {
	loc, err := ParseURI(uri)
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Bucket),
		Key:         aws.String(loc.Key),
		Body:        r,
		ContentType: aws.String("application/jsonl"),
	})
	if err != nil {
		return wrapError(err, loc)
	}
	s.logger.WithField("uri", uri).Info("Uploaded object")
	return nil
}

// UploadFile uploads the local file at path to uri.
func (s *Store) UploadFile(ctx context.Context, fs afero.Fs, path, uri string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for upload: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return s.Upload(ctx, f, uri)
}

func wrapError(err error, loc Location) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
	}
	return fmt.Errorf("object storage request for %s failed: %w", loc, err)
}
