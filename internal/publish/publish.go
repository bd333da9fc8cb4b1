// Package publish uploads rendered output to S3-compatible object storage.
package publish

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ObjectStore is the subset of the MinIO client the publisher uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher mirrors a local output tree into a bucket.
type Publisher struct {
	store  ObjectStore
	bucket string
	prefix string
	logger *zap.Logger
}

// New connects to the object store described by cfg.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return NewWithStore(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithStore builds a publisher over an existing store.
func NewWithStore(store ObjectStore, bucket, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Result counts uploaded objects.
type Result struct {
	Uploaded int
	Bytes    int64
}

// ObjectKey maps a path relative to the output root to its object key.
func (p *Publisher) ObjectKey(rel string) string {
	key := filepath.ToSlash(rel)
	if p.prefix != "" {
		key = path.Join(p.prefix, key)
	}
	return key
}

// Publish uploads every .html and .jpeg file under root, skipping the
// quarantine directory. The bucket is created when missing.
func (p *Publisher) Publish(ctx context.Context, root string) (Result, error) {
	var res Result

	exists, err := p.store.BucketExists(ctx, p.bucket)
	if err != nil {
		return res, fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
			return res, fmt.Errorf("create bucket %s: %w", p.bucket, err)
		}
		p.logger.Info("created bucket", zap.String("bucket", p.bucket))
	}

	err = filepath.WalkDir(root, func(local string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, local)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == "junk" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(local))
		if ext != ".html" && ext != ".jpeg" && ext != ".jpg" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := p.store.FPutObject(ctx, p.bucket, p.ObjectKey(rel), local, minio.PutObjectOptions{
			ContentType: contentType(ext),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		res.Uploaded++
		res.Bytes += info.Size
		p.logger.Debug("uploaded", zap.String("key", p.ObjectKey(rel)), zap.Int64("bytes", info.Size))
		return nil
	})
	if err != nil {
		return res, err
	}

	p.logger.Info("publish complete", zap.String("bucket", p.bucket), zap.Int("objects", res.Uploaded))
	return res, nil
}

func contentType(ext string) string {
	if ext == ".html" {
		return "text/html; charset=utf-8"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
