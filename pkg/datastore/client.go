// Package datastore addresses the remote object store holding code packages
// and parses the sysroot URI that locates it.
package datastore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/phalaflow/orchestrator/pkg/errors"
)

// Client provides package blob operations against one sysroot.
type Client struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
}

// NewClient creates an S3-backed client rooted at the given sysroot URI.
func NewClient(ctx context.Context, sysroot, region string) (*Client, error) {
	bucket, prefix, err := ParseSysroot(sysroot)
	if err != nil {
		return nil, err
	}

	slog.Info("datastore_client_init", "bucket", bucket, "prefix", prefix, "region", region)

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

// UploadResult contains upload metadata for a published blob.
type UploadResult struct {
	URL    string
	SHA256 string
	Size   int64
}

// PackageKey returns the content-addressed key of a package blob, relative
// to the sysroot prefix.
func PackageKey(checksum string) string {
	return path.Join("data", checksum[:2], checksum)
}

// UploadPackage publishes a code package blob under a content-addressed key
// and returns its datastore URL and checksum. A blob that is already there
// is not written a second time.
func (c *Client) UploadPackage(ctx context.Context, blob []byte) (*UploadResult, error) {
	sum := sha256.Sum256(blob)
	checksum := hex.EncodeToString(sum[:])
	key := PackageKey(checksum)
	fullKey := path.Join(c.prefix, key)

	result := &UploadResult{
		URL:    fmt.Sprintf("s3://%s/%s", c.bucket, fullKey),
		SHA256: checksum,
		Size:   int64(len(blob)),
	}

	// An inconclusive existence check falls through to the upload; writing
	// the same content-addressed key again is harmless.
	if exists, err := c.Exists(ctx, key); err == nil && exists {
		slog.Info("package_already_published", "url", result.URL)
		return result, nil
	}

	slog.Info("package_upload_start", "bucket", c.bucket, "key", fullKey, "size", len(blob))

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		slog.Error("package_upload_failed", "key", fullKey, "error", err)
		return nil, errors.Wrap(err, "failed to upload package")
	}

	slog.Info("package_upload_complete", "url", result.URL, "sha256", checksum[:16]+"...")
	return result, nil
}

// Download fetches an object by key relative to the sysroot prefix.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	fullKey := path.Join(c.prefix, key)
	slog.Info("datastore_download_start", "bucket", c.bucket, "key", fullKey)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		slog.Error("datastore_get_object_failed", "key", fullKey, "error", err)
		return nil, errors.Wrap(err, "failed to get object")
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		slog.Error("datastore_download_failed", "key", fullKey, "error", err)
		return nil, errors.Wrap(err, "failed to read object body")
	}

	slog.Info("datastore_download_complete", "key", fullKey, "size", len(data))
	return data, nil
}

// Exists checks whether an object exists under the sysroot prefix.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := path.Join(c.prefix, key)

	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			slog.Info("datastore_object_not_found", "key", fullKey)
			return false, nil
		}
		slog.Error("datastore_head_object_failed", "key", fullKey, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	slog.Info("datastore_object_exists", "key", fullKey)
	return true, nil
}
