// Package objectstore adapts the publish stage's blob upload contract
// onto AWS S3, and renders the static HTML artifacts the publish stage
// uploads.
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the publish stage's object-store contract. blobName is a key
// such as "editions/<id>.html" or "index.html".
type Uploader interface {
	Upload(ctx context.Context, blobName string, data []byte, contentType string) error
}

// S3Uploader backs Uploader with AWS S3 via the v2 SDK's upload manager,
// which handles multipart uploads transparently for larger artifacts.
type S3Uploader struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Uploader loads the default AWS config chain (env vars, shared
// config, instance role) and binds an uploader to bucket.
func NewS3Uploader(ctx context.Context, bucket string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}, nil
}

// Upload puts data at blobName in the configured bucket with contentType.
func (u *S3Uploader) Upload(ctx context.Context, blobName string, data []byte, contentType string) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(blobName),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("objectstore: upload %s: %w", blobName, err)
	}
	return nil
}
