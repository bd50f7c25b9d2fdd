package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps raw uploaded documents on local disk, one blob per
// document, named <document_id><ext>.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the upload directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Save writes the raw document bytes for docID, replacing any previous blob
// with the same ID and extension.
func (d *DiskStore) Save(docID, ext string, content []byte) (string, error) {
	path := d.blobPath(docID, ext)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// Open returns the stored blob for docID, trying the given extension.
func (d *DiskStore) Open(docID, ext string) ([]byte, error) {
	content, err := os.ReadFile(d.blobPath(docID, ext))
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return content, nil
}

// Remove deletes the blob for docID if present.
func (d *DiskStore) Remove(docID, ext string) error {
	err := os.Remove(d.blobPath(docID, ext))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

// Dir returns the upload directory.
func (d *DiskStore) Dir() string {
	return d.dir
}

func (d *DiskStore) blobPath(docID, ext string) string {
	// IDs are UUIDs or hex hashes; filepath.Base guards against traversal anyway.
	name := filepath.Base(docID) + strings.ToLower(ext)
	return filepath.Join(d.dir, name)
}

// DiskUsageBytes returns the total size in bytes of the given paths. Each
// path may be a file or a directory (recursively summed). Missing paths
// contribute 0.
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
