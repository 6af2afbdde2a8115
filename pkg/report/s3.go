package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/fileutil"
	"github.com/eunmann/mkbench/pkg/logging"
)

// ObjectPutter is the part of the S3 API an Uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies report files to S3.
type Uploader struct {
	client ObjectPutter
}

// NewUploader creates an uploader using default AWS configuration.
func NewUploader(ctx context.Context) (*Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	return NewUploaderWithClient(s3.NewFromConfig(cfg)), nil
}

// NewUploaderWithClient creates an uploader over an existing client.
func NewUploaderWithClient(client ObjectPutter) *Uploader {
	return &Uploader{client: client}
}

// Upload puts the file at path to uri. A uri ending in "/" (or naming only
// a bucket) is treated as a prefix and the file's base name is appended.
func (u *Uploader) Upload(ctx context.Context, path, uri string) (string, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		key += filepath.Base(path)
	}
	if !fileutil.IsNonEmpty(path) {
		return "", errors.Newf("report %s is missing or empty", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open report")
	}
	defer f.Close()

	start := time.Now()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/vnd.apache.parquet"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put object s3://%s/%s", bucket, key)
	}

	dest := "s3://" + bucket + "/" + key
	log := logging.WithPhase("report_upload")
	logging.PhaseComplete(log, "report_upload", time.Since(start)).
		Str("file", path).
		Str("dest", dest).
		Log("report uploaded")
	return dest, nil
}

// ParseS3URI parses an S3 URI into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
