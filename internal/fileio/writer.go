package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrExists is returned by CreateExclusive when the destination already exists.
var ErrExists = errors.New("file already exists")

// Writer writes files to the local filesystem. Every write goes through a
// temporary file in the destination directory so readers never observe a
// partially written file.
type Writer struct {
	// rootDir is prepended to relative paths, useful for testing
	rootDir string
}

// NewWriter creates a new writer
func NewWriter() *Writer {
	return &Writer{}
}

// SetRootdir sets the root directory for the writer, useful for testing
func (w *Writer) SetRootdir(path string) {
	w.rootDir = path
}

// PathFor returns the full path for the provided file, useful for using functions
// and libraries that don't work with the fileio.Writer
func (w *Writer) PathFor(filePath string) string {
	return pathFor(w.rootDir, filePath)
}

// WriteFile atomically replaces the file at the provided path, keeping the
// permissions of the file it replaces. A symlink is followed and its target is
// replaced, so the link itself survives.
func (w *Writer) WriteFile(filePath string, data []byte) error {
	dst, err := resolve(w.PathFor(filePath))
	if err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(dst); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := w.writeTemp(dst, mode, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", dst, err)
	}
	return nil
}

// CreateExclusive writes the content of src to dst only if dst does not exist
// yet. The file appears at dst fully written or not at all; ErrExists is
// returned when dst is already present, and dst is left untouched.
func (w *Writer) CreateExclusive(dst string, mode os.FileMode, src io.Reader) error {
	full := w.PathFor(dst)

	tmp, err := w.writeTemp(full, mode, func(f *os.File) error {
		_, err := io.Copy(f, src)
		return err
	})
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	if err := os.Link(tmp, full); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("linking %s: %w", full, err)
	}
	return nil
}

// CopyExclusive preserves src under dst unless dst already exists.
func (w *Writer) CopyExclusive(src, dst string) error {
	in, err := os.Open(w.PathFor(src))
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	return w.CreateExclusive(dst, info.Mode().Perm(), in)
}

// resolve follows symlinks on an existing path. A missing path is returned as is.
func resolve(path string) (string, error) {
	target, err := filepath.EvalSymlinks(path)
	if err == nil {
		return target, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return path, nil
	}
	return "", fmt.Errorf("resolving %s: %w", path, err)
}

func (w *Writer) writeTemp(dst string, mode os.FileMode, fill func(*os.File) error) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file for %s: %w", dst, err)
	}
	name := f.Name()

	if err := fill(f); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("writing temporary file for %s: %w", dst, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, mode); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}
