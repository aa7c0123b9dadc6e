// Package storage keeps uploaded post images. Images are addressed by a path
// of the form "images/<key>", which is what clients store as a post's imageUrl.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PathPrefix is the URL and path prefix under which images are served.
const PathPrefix = "images/"

// ErrNotFound is returned when an image does not exist.
var ErrNotFound = errors.New("image not found")

// CodeInvalidPath marks an image path outside the image namespace.
const CodeInvalidPath = "IMAGE_PATH_INVALID"

// Images stores, serves and removes post images.
type Images interface {
	// Put stores the image under a fresh key derived from name and returns its path.
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	// Open returns the image content and its content type.
	Open(ctx context.Context, imagePath string) (io.ReadCloser, string, error)
	Remove(ctx context.Context, imagePath string) error
}

// AllowedContentTypes maps each image type accepted for upload to the
// file extension its stored key carries.
var AllowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpg":  ".jpg",
	"image/jpeg": ".jpg",
}

// CodeUnsupportedType marks an upload whose content type is not an accepted image type.
const CodeUnsupportedType = "IMAGE_TYPE_UNSUPPORTED"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewKey builds a storage key that sorts by upload time and keeps a
// sanitized form of the original file name. The extension always follows
// contentType, never the client's file name.
func NewKey(name, contentType string) (string, error) {
	ext, ok := AllowedContentTypes[contentType]
	if !ok {
		return "", oops.Code(CodeUnsupportedType).With("content_type", contentType).Errorf("unsupported image type")
	}
	base := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, `\`, "/")), "_")
	base = strings.TrimLeft(base, ".")
	base = strings.TrimRight(strings.TrimSuffix(base, path.Ext(base)), ".")
	if base == "" {
		base = "image"
	}
	return ulid.Make().String() + "-" + base + ext, nil
}

// KeyFromPath extracts the storage key from an image path, rejecting
// anything that would escape the image namespace.
func KeyFromPath(imagePath string) (string, error) {
	key, ok := strings.CutPrefix(strings.TrimPrefix(imagePath, "/"), PathPrefix)
	if !ok || key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", oops.Code(CodeInvalidPath).With("path", imagePath).Errorf("invalid image path")
	}
	return key, nil
}

// IsInvalidPath reports whether err came from rejecting an image path.
func IsInvalidPath(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == CodeInvalidPath
}
