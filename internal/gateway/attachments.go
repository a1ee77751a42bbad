package gateway

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/acteon-dev/acteon/internal/action"
)

// S3AttachmentResolver resolves Action.Attachments against a single S3 (or
// S3-compatible: MinIO, Hetzner, LakeFS) bucket, keyed by AttachmentRef.ID.
type S3AttachmentResolver struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

// S3AttachmentResolverConfig mirrors the endpoint/region/credential shape
// used throughout the storage pack's Hetzner and MinIO helpers, so the
// same resolver serves AWS S3 and any S3-compatible endpoint.
type S3AttachmentResolverConfig struct {
	Endpoint     string // empty selects AWS's default resolver
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	KeyPrefix    string
	UsePathStyle bool
}

// NewS3AttachmentResolver builds a resolver backed by a configured S3
// client and a manager.Downloader for concurrent, memory-efficient range
// fetches.
func NewS3AttachmentResolver(ctx context.Context, cfg S3AttachmentResolverConfig) (*S3AttachmentResolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3AttachmentResolver{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		prefix:     cfg.KeyPrefix,
	}, nil
}

// Resolve fetches the attachment's bytes, using ref.ID (prefixed by
// KeyPrefix if configured) as the object key.
func (r *S3AttachmentResolver) Resolve(ctx context.Context, ref action.AttachmentRef) ([]byte, error) {
	key := ref.ID
	if r.prefix != "" {
		key = r.prefix + "/" + key
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, int(ref.SizeBytes)))
	_, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: download attachment %q: %w", ref.ID, err)
	}
	return buf.Bytes(), nil
}
