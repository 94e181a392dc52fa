package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore persists original image bytes on disk under generated unique
// names. The returned ref is the bare filename; callers treat it as opaque.
type FileStore struct {
	dir string
}

// NewFileStore creates the upload directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save durably writes data under a fresh uuid-based name with the given
// extension and returns the ref.
func (s *FileStore) Save(data []byte, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ref := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return ref, nil
}

// Read returns the stored bytes for ref.
func (s *FileStore) Read(ref string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, ref))
}

// Path returns the absolute path for ref (for serving downloads).
func (s *FileStore) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}

// Delete removes the stored file for ref. Deleting a missing file is not an error.
func (s *FileStore) Delete(ref string) error {
	err := os.Remove(filepath.Join(s.dir, ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped; errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
