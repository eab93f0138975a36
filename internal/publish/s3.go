package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
)

// S3API is the subset of the S3 client used by S3Remote.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	manager.UploadAPIClient
}

// S3Remote publishes into an S3 (or S3-compatible) bucket.
type S3Remote struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Remote loads the AWS configuration and creates an S3Remote. Static
// credentials and a custom endpoint (e.g. MinIO) are used when configured.
func NewS3Remote(ctx context.Context, cfg config.PublisherConfig) (*S3Remote, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3RemoteWithClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3RemoteWithClient creates an S3Remote over an existing client.
func NewS3RemoteWithClient(client S3API, bucket, prefix string) *S3Remote {
	return &S3Remote{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (r *S3Remote) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "/" + name
}

// Stat returns the size of an object.
func (r *S3Remote) Stat(ctx context.Context, name string) (int64, bool, error) {
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("head %s: %w", name, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Put uploads an object, replacing any existing one.
func (r *S3Remote) Put(ctx context.Context, name string, src io.Reader, size int64) error {
	_, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.key(name)),
		Body:          src,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(ContentType(name)),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no session.
func (r *S3Remote) Close() error {
	return nil
}

// ContentType returns the media type an archive file is served with.
// Pages are encoded as ISO-8859-1.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html":
		return "text/html; charset=iso-8859-1"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

var _ bowtie.Remote = (*S3Remote)(nil)
