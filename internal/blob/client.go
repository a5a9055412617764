// Package blob stores project timeline images in an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var (
	// ErrDisabled is returned when storage is not configured
	ErrDisabled = errors.New("object storage is not configured")
	// ErrObjectExists is returned by Upload without overwrite when the path is taken
	ErrObjectExists = errors.New("object already exists")
)

// Config holds S3/MinIO connection settings parsed from environment variables
type Config struct {
	Endpoint        string `env:"BLOB_ENDPOINT"`
	AccessKeyID     string `env:"BLOB_ACCESS_KEY"`
	SecretAccessKey string `env:"BLOB_SECRET_KEY"`
	UseSSL          bool   `env:"BLOB_USE_SSL" envDefault:"false"`
	Bucket          string `env:"BLOB_BUCKET" envDefault:"project-timeline"`
	// PublicBaseURL is the externally reachable origin of the bucket host; defaults to the endpoint
	PublicBaseURL string `env:"BLOB_PUBLIC_URL"`
}

// Client wraps MinIO and issues public urls for stored objects
type Client struct {
	logger     *zap.SugaredLogger
	mc         *minio.Client
	bucket     string
	publicBase string
}

// New creates a storage client. An empty Endpoint yields a disabled client whose operations return ErrDisabled.
func New(logger *zap.SugaredLogger, cfg Config) (*Client, error) {
	c := &Client{logger: logger, bucket: cfg.Bucket}
	if cfg.Endpoint == "" {
		return c, nil
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	c.mc = mc

	c.publicBase = strings.TrimRight(cfg.PublicBaseURL, "/")
	if c.publicBase == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		c.publicBase = scheme + "://" + cfg.Endpoint
	}

	return c, nil
}

// Enabled reports whether the storage client is configured
func (c *Client) Enabled() bool {
	return c.mc != nil
}

// EnsureBucket creates the bucket if it does not exist
func (c *Client) EnsureBucket(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	c.logger.Infof("Creating bucket %q", c.bucket)
	return c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
}

// Upload stores data under path. Without overwrite an existing object makes it fail with ErrObjectExists.
func (c *Client) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	if !overwrite {
		_, err := c.mc.StatObject(ctx, c.bucket, path, minio.StatObjectOptions{})
		if err == nil {
			return ErrObjectExists
		}
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return fmt.Errorf("stat object: %w", err)
		}
	}

	_, err := c.mc.PutObject(ctx, c.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	c.logger.Debugf("Uploaded %s (%d bytes)", path, len(data))

	return nil
}

// Remove deletes every path, attempting all of them and joining the failures
func (c *Client) Remove(ctx context.Context, paths ...string) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	var errs []error
	for _, p := range paths {
		if err := c.mc.RemoveObject(ctx, c.bucket, p, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// PublicURL returns the public url of path
func (c *Client) PublicURL(path string) string {
	u := url.URL{Path: "/" + c.bucket + "/" + strings.TrimLeft(path, "/")}
	return c.publicBase + u.EscapedPath()
}

// PathFromURL extracts the object path from a url issued by PublicURL, or "" when raw does not point into the bucket
func (c *Client) PathFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	marker := "/" + c.bucket + "/"
	idx := strings.Index(u.Path, marker)
	if idx == -1 {
		return ""
	}
	return u.Path[idx+len(marker):]
}
