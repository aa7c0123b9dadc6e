package storage

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/samber/oops"
)

// MinioConfig holds the connection settings for a MinIO (or S3) bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Minio stores images as objects in a bucket, keyed like the Disk store.
type Minio struct {
	Client *minio.Client
	Bucket string
}

// NewMinio connects to the endpoint and creates the bucket if it is missing.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, oops.Code("IMAGE_STORE_INIT_FAILED").With("endpoint", cfg.Endpoint).Wrap(err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, oops.Code("IMAGE_STORE_INIT_FAILED").With("operation", "bucket check").With("bucket", cfg.Bucket).Wrap(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, oops.Code("IMAGE_STORE_INIT_FAILED").With("operation", "make bucket").With("bucket", cfg.Bucket).Wrap(err)
		}
	}

	return &Minio{Client: client, Bucket: cfg.Bucket}, nil
}

func (m *Minio) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	key, err := NewKey(name, contentType)
	if err != nil {
		return "", err
	}
	_, err = m.Client.PutObject(ctx, m.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", oops.Code("IMAGE_PUT_FAILED").With("key", key).Wrap(err)
	}
	return PathPrefix + key, nil
}

func (m *Minio) Open(ctx context.Context, imagePath string) (io.ReadCloser, string, error) {
	key, err := KeyFromPath(imagePath)
	if err != nil {
		return nil, "", err
	}
	obj, err := m.Client.GetObject(ctx, m.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", oops.Code("IMAGE_OPEN_FAILED").With("key", key).Wrap(err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", oops.With("key", key).Wrap(ErrNotFound)
		}
		return nil, "", oops.Code("IMAGE_OPEN_FAILED").With("key", key).Wrap(err)
	}
	return obj, info.ContentType, nil
}

func (m *Minio) Remove(ctx context.Context, imagePath string) error {
	key, err := KeyFromPath(imagePath)
	if err != nil {
		return err
	}
	if err := m.Client.RemoveObject(ctx, m.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return oops.Code("IMAGE_REMOVE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}
