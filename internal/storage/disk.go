package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// Disk stores images as files in a single directory.
type Disk struct {
	dir string
}

// NewDisk creates the directory if needed and returns a Disk store rooted there.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, oops.Code("IMAGE_STORE_INIT_FAILED").With("dir", dir).Wrap(err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) Put(_ context.Context, name string, r io.Reader, _ int64, contentType string) (string, error) {
	key, err := NewKey(name, contentType)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(filepath.Join(d.dir, key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", oops.Code("IMAGE_PUT_FAILED").With("key", key).Wrap(err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", oops.Code("IMAGE_PUT_FAILED").With("key", key).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return "", oops.Code("IMAGE_PUT_FAILED").With("key", key).Wrap(err)
	}
	return PathPrefix + key, nil
}

func (d *Disk) Open(_ context.Context, imagePath string) (io.ReadCloser, string, error) {
	key, err := KeyFromPath(imagePath)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(d.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", oops.With("key", key).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, "", oops.Code("IMAGE_OPEN_FAILED").With("key", key).Wrap(err)
	}
	// Only image types are ever served, whatever a file on disk is named.
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if _, ok := AllowedContentTypes[contentType]; !ok {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

func (d *Disk) Remove(_ context.Context, imagePath string) error {
	key, err := KeyFromPath(imagePath)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(d.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return oops.With("key", key).Wrap(ErrNotFound)
	}
	if err != nil {
		return oops.Code("IMAGE_REMOVE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}
