// Package store mirrors uploaded attachments into S3-compatible object storage.
package store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
)

// ObjectMirror writes attachment bytes to a bucket so uploads survive beyond
// the Poe attachment URL lifetime.
type ObjectMirror struct {
	client *minio.Client
	cfg    config.MirrorConfig

	mu          sync.Mutex
	bucketReady bool
}

// NewObjectMirror returns nil, nil when no endpoint is configured.
func NewObjectMirror(cfg config.MirrorConfig) (*ObjectMirror, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object mirror: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object mirror: access key and secret key are required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object mirror: create client: %w", err)
	}
	return &ObjectMirror{client: client, cfg: cfg}, nil
}

// Put stores data under key, creating the bucket on first use.
func (m *ObjectMirror) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	fullKey := m.prefixedKey(key)
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, fullKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("object mirror: put object %s: %w", fullKey, err)
	}
	return nil
}

// Delete removes key. Missing objects are not an error.
func (m *ObjectMirror) Delete(ctx context.Context, key string) error {
	fullKey := m.prefixedKey(key)
	if err := m.client.RemoveObject(ctx, m.cfg.Bucket, fullKey, minio.RemoveObjectOptions{}); err != nil {
		if isObjectNotFound(err) {
			return nil
		}
		return fmt.Errorf("object mirror: delete object %s: %w", fullKey, err)
	}
	return nil
}

func (m *ObjectMirror) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object mirror: check bucket: %w", err)
	}
	if !exists {
		if err = m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
			return fmt.Errorf("object mirror: create bucket: %w", err)
		}
	}
	m.bucketReady = true
	return nil
}

func (m *ObjectMirror) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if m.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(m.cfg.Prefix+"/"+key, "/")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
