package fileio

import (
	"os"
	"path/filepath"
)

// Reader reads files from the local filesystem
type Reader struct {
	// rootDir is prepended to relative paths, useful for testing
	rootDir string
}

// NewReader creates a new reader
func NewReader() *Reader {
	return &Reader{}
}

// SetRootdir sets the root directory for the reader, useful for testing
func (r *Reader) SetRootdir(path string) {
	r.rootDir = path
}

// PathFor returns the full path for the provided file
func (r *Reader) PathFor(filePath string) string {
	return pathFor(r.rootDir, filePath)
}

// ReadFile reads the file at the provided path
func (r *Reader) ReadFile(filePath string) ([]byte, error) {
	return os.ReadFile(r.PathFor(filePath))
}

// IsRegularFile reports whether the path exists and is a regular file.
func (r *Reader) IsRegularFile(filePath string) bool {
	info, err := os.Stat(r.PathFor(filePath))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func pathFor(rootDir, filePath string) string {
	if rootDir == "" || filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(rootDir, filePath)
}
