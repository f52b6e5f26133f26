// Package upload stores product images on local disk.
//
// Only png, jpg, jpeg and gif are accepted, checked on the file extension
// and on the sniffed content type. The client's filename is never used on
// disk: every image gets a fresh xid name with the normalised extension, so
// there is no path traversal and no two uploads collide.
package upload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/model"
)

// DefaultMaxBytes caps a single image.
const DefaultMaxBytes = 5 << 20

var allowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// ImageStore saves and removes product images by filename.
type ImageStore interface {
	Save(originalName string, r io.Reader) (string, error)
	Remove(name string) error
}

// DiskStore is an ImageStore rooted at a directory.
type DiskStore struct {
	dir      string
	maxBytes int64
}

var _ ImageStore = (*DiskStore)(nil)

// NewDiskStore creates dir if needed and returns a store writing into it.
func NewDiskStore(dir string, maxBytes int64) (*DiskStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: creating %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, maxBytes: maxBytes}, nil
}

// Dir is the directory served under /uploads/.
func (s *DiskStore) Dir() string {
	return s.dir
}

// AllowedFile reports whether filename has an allowed image extension.
func AllowedFile(filename string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Save writes the image read from r and returns its stored filename.
// Disallowed types, oversize files and empty files are validation errors.
func (s *DiskStore) Save(originalName string, r io.Reader) (string, error) {
	if !AllowedFile(originalName) {
		return "", apperror.ValidationFailed("image", "Image must be a png, jpg, jpeg or gif file")
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	wantType := allowedExtensions[ext]

	// Read one byte past the limit so an oversize file is detectable.
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("upload: reading %s: %w", originalName, err)
	}
	if len(data) == 0 {
		return "", apperror.ValidationFailed("image", "Image file is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return "", apperror.ValidationFailed("image",
			fmt.Sprintf("Image must be at most %d MB", s.maxBytes>>20))
	}
	if got := http.DetectContentType(data); got != wantType {
		return "", apperror.ValidationFailed("image", "Image content does not match its extension")
	}

	name := xid.New().String() + ext
	if ext == ".jpeg" {
		name = strings.TrimSuffix(name, ext) + ".jpg"
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("upload: writing %s: %w", name, err)
	}
	return name, nil
}

// Remove deletes a stored image. The placeholder, empty names and files
// that are already gone are ignored.
func (s *DiskStore) Remove(name string) error {
	if name == "" || name == model.PlaceholderImage {
		return nil
	}
	// Stored names never contain a separator. Anything else did not come
	// from Save.
	if filepath.Base(name) != name {
		return fmt.Errorf("upload: refusing to remove %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("upload: removing %s: %w", name, err)
	}
	return nil
}
