// Package archive implements the Cleanup Worker's optional best-effort S3
// archive of terminal job artifacts before deletion (SPEC_FULL.md §11),
// adapted from the reference repo's internal/storage.S3Client down to a
// plain upload — this service has no decrypt-on-read path, so the
// AES/PBKDF2 envelope in the original storage package has no caller here.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client uploads job artifacts to a single S3 bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New loads the default AWS config (environment/instance credentials,
// matching the reference repo's NewS3Client) and returns a Client rooted
// at bucket.
func New(ctx context.Context, bucket string) (*Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Client{s3: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// PutObject uploads content under key with contentType, tagging it with the
// originating job_id so the archived copy stays traceable after the job
// directory is deleted.
func (c *Client) PutObject(ctx context.Context, key, jobID, contentType string, content []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"job-id": jobID},
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3: %w", key, err)
	}
	return nil
}
