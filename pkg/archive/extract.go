package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract writes the entries of the bundle at archivePath below dest. When
// only is non-empty just those entries (or directories) are extracted; every
// requested name is checked against the bundle index before anything is
// written. It returns the paths written.
func Extract(archivePath, dest string, only []string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("zip.OpenReader: %w", err)
	}
	defer r.Close()

	files, err := selectEntries(r.File, only)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, err
	}

	var written []string
	for _, f := range files {
		path, err := destPath(dest, f.Name)
		if err != nil {
			return written, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return written, err
			}
			continue
		}
		if err := extractFile(f, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// destPath joins name below dest and rejects entries escaping it.
func destPath(dest, name string) (string, error) {
	path := filepath.Join(dest, filepath.FromSlash(name))
	if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return path, nil
}

func extractFile(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("extractFile: f.Open: %w", err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("extractFile: os.OpenFile: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extractFile: io.Copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("extractFile: f.Close: %w", err)
	}
	return nil
}
