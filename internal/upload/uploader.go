// Package upload pushes finalized recordings to S3-compatible object
// storage. Uploads are best-effort: the local file and catalog row are
// the source of truth, the bucket is an offsite copy.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/nestcam/camerad/internal/config"
)

// Uploader copies recordings into a bucket. A nil *Uploader is valid
// and drops every request, which keeps call sites free of enabled
// checks.
type Uploader struct {
	client *minio.Client
	bucket string
	log    *zap.SugaredLogger
}

// New builds an uploader, creating the bucket when it does not exist.
// Returns (nil, nil) when uploading is disabled.
func New(ctx context.Context, cfg config.UploadConfig, log *zap.SugaredLogger) (*Uploader, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage %q: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	log.Infow("uploader ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &Uploader{client: client, bucket: cfg.Bucket, log: log}, nil
}

// UploadAsync schedules a background upload of path. Failures are
// logged, never propagated.
func (u *Uploader) UploadAsync(path string) {
	if u == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		object := filepath.Base(path)
		info, err := u.client.FPutObject(ctx, u.bucket, object, path,
			minio.PutObjectOptions{ContentType: "video/mp4"})
		if err != nil {
			u.log.Warnw("upload failed", "path", path, "error", err)
			return
		}
		u.log.Infow("recording uploaded", "object", object, "size", info.Size)
	}()
}
