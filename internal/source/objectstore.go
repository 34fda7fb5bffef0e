package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/heimdex/heimdex-matting/internal/config"
	"github.com/heimdex/heimdex-matting/internal/logging"
)

// ObjectStore downloads objects from S3-compatible storage.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, dst string) error
}

// MinioStore is an ObjectStore backed by minio-go.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects to the configured endpoint. It does not perform any
// network I/O.
func NewMinioStore(settings config.ObjectStorageSettings) (*MinioStore, error) {
	endpoint := strings.TrimSpace(settings.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, ""),
		Secure: settings.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Download(ctx context.Context, bucket, key, dst string) error {
	err := s.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{})
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "AccessDenied":
		return fmt.Errorf("%w: %s", errObjectMissing, resp.Code)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s", errObjectMissing, err)
	}
	return err
}

// parseObjectURL splits s3://bucket/key.
func parseObjectURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		// url.Error repeats the raw URL, which may carry credentials.
		return "", "", fmt.Errorf("%w: unparsable object URL", errBadSource)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: expected s3://bucket/key", errBadSource)
	}
	return bucket, key, nil
}

func (r *Resolver) fetchObject(ctx context.Context, raw, scratchDir string) (Resolved, error) {
	safe := logging.SanitizeSource(raw)
	bucket, key, err := parseObjectURL(raw)
	if err != nil {
		return Resolved{}, &FetchError{Source: safe, Err: err}
	}

	dst := inputPath(scratchDir)
	err = r.retry(ctx, raw, func(ctx context.Context) error {
		if err := r.objects.Download(ctx, bucket, key, dst); err != nil {
			return &FetchError{Source: safe, Err: err}
		}
		if r.maxBytes > 0 {
			if info, err := os.Stat(dst); err == nil && info.Size() > r.maxBytes {
				return &FetchError{Source: safe, Err: errTooLarge}
			}
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(dst)
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Source: safe, Err: err}
		}
		return Resolved{}, err
	}

	r.logger.Info("input downloaded from object storage", "bucket", bucket, "key", key)
	return Resolved{Path: dst, Owned: true}, nil
}
