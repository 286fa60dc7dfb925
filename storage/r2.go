// Package storage provides the R2 object store client and the model
// call trace store.
//
// Information Hiding:
// - S3 API details hidden behind byte-oriented methods
// - Download concurrency limiting hidden
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// R2Config holds connection parameters for a Cloudflare R2 bucket.
type R2Config struct {
	PublicBaseURL string
	Endpoint      string // S3 API host, no scheme
	Bucket        string
	AccessKey     string
	SecretKey     string

	// MaxConcurrentDownloads bounds parallel downloads. Defaults to 5.
	MaxConcurrentDownloads int
}

// R2Client downloads and uploads objects in an R2 bucket. Key-based
// reads go through the public base URL; writes and management use the
// S3 API. Safe for concurrent use.
type R2Client struct {
	config     R2Config
	s3         *minio.Client
	httpClient *http.Client
	sem        chan struct{}
	logger     *zap.Logger
}

// NewR2Client creates a client for the configured bucket.
func NewR2Client(config R2Config, logger *zap.Logger) (*R2Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrentDownloads <= 0 {
		config.MaxConcurrentDownloads = 5
	}

	s3, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: true,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &R2Client{
		config: config,
		s3:     s3,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		sem:    make(chan struct{}, config.MaxConcurrentDownloads),
		logger: logger,
	}, nil
}

// PublicURL builds the public URL for an object key.
func (c *R2Client) PublicURL(key string) string {
	return strings.TrimRight(c.config.PublicBaseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

// DownloadBytes fetches an object by key via its public URL.
func (c *R2Client) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	return c.DownloadFromURL(ctx, c.PublicURL(key))
}

// DownloadFromURL fetches bytes from a pre-built URL.
func (c *R2Client) DownloadFromURL(ctx context.Context, url string) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return data, nil
}

// UploadBytes writes an object and returns its public URL.
func (c *R2Client) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.s3.PutObject(ctx, c.config.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	c.logger.Info("object uploaded", zap.String("key", key), zap.Int("size", len(data)))
	return c.PublicURL(key), nil
}

// SaveArtifact stores a conversation artifact under a timestamped key
// and returns that key.
func (c *R2Client) SaveArtifact(ctx context.Context, conversationID, artifactType, fileName string, data []byte, contentType string) (string, error) {
	timestamp := time.Now().UTC().Format("20060102_150405")
	key := fmt.Sprintf("chats/%s/artifacts/%s_%s_%s", conversationID, artifactType, timestamp, fileName)
	if _, err := c.UploadBytes(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// ObjectExists reports whether a key exists in the bucket.
func (c *R2Client) ObjectExists(ctx context.Context, key string) bool {
	_, err := c.s3.StatObject(ctx, c.config.Bucket, key, minio.StatObjectOptions{})
	return err == nil
}

// DeleteObject removes an object from the bucket.
func (c *R2Client) DeleteObject(ctx context.Context, key string) error {
	if err := c.s3.RemoveObject(ctx, c.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
