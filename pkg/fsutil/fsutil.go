// Package fsutil holds the file helpers shared by artifact producers.
package fsutil

import (
	"io"
	"os"
	"strings"
)

// PartialExt marks a file that is still being written. Files carrying it are
// never valid artifacts and are removed by the orphan sweep.
const PartialExt = ".partial"

// IsPartial reports whether name is an in-progress file.
func IsPartial(name string) bool {
	return strings.HasSuffix(name, PartialExt)
}

// WriteAtomic runs fill against path+PartialExt and renames the result to path
// once fill succeeded and the data reached the disk. On any failure the
// partial file is removed and path is left untouched.
func WriteAtomic(path string, fill func(w io.Writer) error) (err error) {
	tmp := path + PartialExt
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = fill(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CopyFile copies src to dst atomically.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return WriteAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
