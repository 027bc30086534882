package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/bizflycloud/bizfly-archiver/pkg/fsutil"
)

// Local mirrors artifacts into another directory, typically a mounted volume.
type Local struct {
	dir string
}

var _ Backend = (*Local)(nil)

// NewLocal returns a Local backend writing below dir.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("empty local storage directory")
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Kind() string { return KindLocal }

func (l *Local) Upload(ctx context.Context, localPath, remoteKey string) (*Destination, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+remoteKey)), "/")
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return nil, transportError(KindLocal, err)
	}
	if err := fsutil.CopyFile(localPath, dst); err != nil {
		return nil, transportError(KindLocal, err)
	}
	return &Destination{Backend: KindLocal, Key: dst}, nil
}
