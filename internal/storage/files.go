package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrCoverNotFound is returned when a book has no stored cover
var ErrCoverNotFound = errors.New("cover not found")

// CoverStore keeps cover images keyed by book id
type CoverStore interface {
	// SaveCover replaces the cover atomically. A failing reader leaves the
	// previous cover untouched.
	SaveCover(ctx context.Context, bookID string, r io.Reader) error
	OpenCover(ctx context.Context, bookID string) (io.ReadCloser, error)
	DeleteCover(ctx context.Context, bookID string) error
}

// FileStorage stores covers on the local file system
type FileStorage struct {
	basePath  string
	coversDir string
}

// NewFileStorage creates a new file storage handler
func NewFileStorage(basePath string) (*FileStorage, error) {
	fs := &FileStorage{
		basePath:  basePath,
		coversDir: filepath.Join(basePath, "covers"),
	}

	// Create directories if they don't exist
	if err := os.MkdirAll(fs.coversDir, 0755); err != nil {
		return nil, err
	}

	return fs, nil
}

// GetCoverPath returns the path of a book's cover file
func (fs *FileStorage) GetCoverPath(bookID string) (string, error) {
	if bookID == "" || strings.ContainsAny(bookID, `/\`) || bookID == "." || bookID == ".." {
		return "", fmt.Errorf("invalid book id %q", bookID)
	}
	return filepath.Join(fs.coversDir, bookID), nil
}

// SaveCover writes to a temp file in the covers directory then renames it
// over the final path, so readers see either the old or the new cover.
func (fs *FileStorage) SaveCover(_ context.Context, bookID string, r io.Reader) error {
	coverPath, err := fs.GetCoverPath(bookID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.coversDir, ".cover-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, coverPath)
}

// OpenCover opens a cover for reading
func (fs *FileStorage) OpenCover(_ context.Context, bookID string) (io.ReadCloser, error) {
	coverPath, err := fs.GetCoverPath(bookID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(coverPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCoverNotFound
	}
	return f, err
}

// DeleteCover removes a cover if present
func (fs *FileStorage) DeleteCover(_ context.Context, bookID string) error {
	coverPath, err := fs.GetCoverPath(bookID)
	if err != nil {
		return err
	}
	if err := os.Remove(coverPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
