package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/invoicepipe/invoicepipe/internal/common"
)

// MinIO is a DocumentStore over any S3-compatible endpoint. Object stores
// have no rename, so Move is copy-then-remove; the copy completes before the
// source is deleted, which preserves the never-lose-a-document guarantee.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string // optional namespace inside the bucket
	log    *slog.Logger
}

func NewMinIO(cfg common.StoreConfig, logger *slog.Logger) (*MinIO, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &MinIO{client: client, bucket: cfg.Bucket, prefix: prefix, log: logger}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (s *MinIO) object(key string) string {
	return s.prefix + key
}

func (s *MinIO) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opts := minio.ListObjectsOptions{Prefix: s.object(prefix), Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, obj.Err)
		}
		key := strings.TrimPrefix(obj.Key, s.prefix)
		if isMarker(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MinIO) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	defer func() {
		if cerr := obj.Close(); cerr != nil {
			s.log.Warn("store.minio.close_error", "key", key, "error", cerr)
		}
	}()
	b, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("read %q: %w", key, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return b, nil
}

func (s *MinIO) Write(ctx context.Context, key string, payload []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.object(key),
		bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (s *MinIO) Move(ctx context.Context, key, newPrefix string) (string, error) {
	newKey := JoinPrefix(newPrefix, BaseName(key))
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: s.object(key)}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: s.object(newKey)}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return "", fmt.Errorf("move %q: %w", key, common.ErrNotFound)
		}
		return "", fmt.Errorf("move %q: copy: %w", key, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.object(key), minio.RemoveObjectOptions{}); err != nil {
		// Destination exists; the leftover source is harmless and the next
		// routing sweep will report it rather than lose data.
		s.log.Warn("store.minio.remove_source_failed", "key", key, "error", err)
	}
	s.log.Debug("store.minio.move", "from", key, "to", newKey)
	return newKey, nil
}
