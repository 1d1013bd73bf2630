package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/platinummonkey/crewform/pkg/observability"
)

// Archiver ships a rotated trail file to long term storage. trail is the
// trail directory name, such as org-42.
type Archiver interface {
	Archive(ctx context.Context, trail, file string) error
}

// S3ArchiveConfig configures the S3 trail archive
type S3ArchiveConfig struct {
	Bucket       string
	Region       string
	Prefix       string
	Endpoint     string // S3 compatible endpoint, e.g. MinIO
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads rotated audit trails to an S3 bucket
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver from static credentials when given, and
// the default AWS credential chain otherwise
func NewS3Archiver(ctx context.Context, cfg S3ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("audit archive bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
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
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Archiver(client objectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// ObjectKey returns the key a rotated file of trail is stored under
func (a *S3Archiver) ObjectKey(trail, file string) string {
	return path.Join(a.prefix, trail, filepath.Base(file))
}

// Archive uploads file with its SHA-256 checksum as object metadata
func (a *S3Archiver) Archive(ctx context.Context, trail, file string) (err error) {
	key := a.ObjectKey(trail, file)
	ctx, span := observability.StartSpan(ctx, "audit.Archive", observability.AttrOperation.String("s3.PutObject"))
	defer func() { observability.EndSpan(span, err, "") }()

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read rotated trail: %w", err)
	}
	sum := sha256.Sum256(data)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}
	return nil
}
