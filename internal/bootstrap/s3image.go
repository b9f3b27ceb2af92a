package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oriys/ignis/internal/config"
)

// s3GetObjectAPI is the narrow slice of *s3.Client this package depends
// on, so tests can supply a fake instead of talking to a real bucket.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ImageSource fetches the embedded base VM image from an S3-compatible
// bucket before Bootstrap runs it to the init checkpoint, so the image
// itself need not be baked into the host's filesystem ahead of time.
type S3ImageSource struct {
	client s3GetObjectAPI
	bucket string
	key    string
}

// NewS3ImageSource builds an S3ImageSource from the given configuration,
// resolving AWS credentials the standard way (env vars, shared config,
// instance role).
func NewS3ImageSource(ctx context.Context, cfg config.S3ImageConfig) (*S3ImageSource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	// Most deployments rely on the ambient chain (env vars, shared config,
	// instance role); static keys are only wired in when explicitly set,
	// e.g. for S3-compatible buckets outside that chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3image: load aws config: %w", err)
	}
	return &S3ImageSource{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}, nil
}

// FetchTo downloads the configured object and writes it to destPath,
// overwriting any existing file there.
func (s *S3ImageSource) FetchTo(ctx context.Context, destPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
	})
	if err != nil {
		return fmt.Errorf("s3image: get %s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("s3image: create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("s3image: write %s: %w", destPath, err)
	}
	return nil
}

// FetchBaseImage is a no-op when S3Image is disabled, so callers can
// unconditionally invoke it at startup regardless of configuration.
func FetchBaseImage(ctx context.Context, cfg *config.Config) error {
	if !cfg.S3Image.Enabled {
		return nil
	}
	src, err := NewS3ImageSource(ctx, cfg.S3Image)
	if err != nil {
		return err
	}
	return src.FetchTo(ctx, cfg.BaseImagePath)
}
