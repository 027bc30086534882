// Package archive packages file trees into a single zip container and
// extracts them again, fully or selectively.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bizflycloud/bizfly-archiver/pkg/fsutil"
	"github.com/bizflycloud/bizfly-archiver/pkg/progress"
)

// Ext is the extension of file bundles.
const Ext = ".zip"

// ErrEntryNotFound is returned when a requested entry is not in the bundle.
var ErrEntryNotFound = errors.New("archive: entry not found")

// BundleResult describes a produced bundle.
type BundleResult struct {
	Stat    progress.Stat
	Skipped []string
}

// Bundle packages sources into a zip file at outPath. Each source keeps its
// base name as the top-level entry, so /srv/uploads/a.txt is stored as
// uploads/a.txt. Sources that do not exist are skipped and listed in the
// result. p may be nil. The bundle itself and the exclude paths, with
// everything below them, are never packed.
func Bundle(sources []string, outPath string, p *progress.Progress, exclude ...string) (*BundleResult, error) {
	b := &bundler{p: p, exclude: make(map[string]struct{})}
	for _, e := range append([]string{outPath, outPath + fsutil.PartialExt}, exclude...) {
		b.exclude[absPath(e)] = struct{}{}
	}
	p.Start()
	defer p.Done()

	var skipped []string
	err := fsutil.WriteAtomic(outPath, func(w io.Writer) error {
		b.zw = zip.NewWriter(w)
		for _, src := range sources {
			fi, err := os.Lstat(src)
			if os.IsNotExist(err) {
				skipped = append(skipped, src)
				continue
			}
			if err != nil {
				return err
			}
			if b.excluded(src) {
				b.report(progress.Stat{Excluded: 1})
				continue
			}
			if err := b.addTree(src, fi); err != nil {
				return fmt.Errorf("add %s: %w", src, err)
			}
		}
		return b.zw.Close()
	})
	if err != nil {
		return nil, err
	}
	return &BundleResult{Stat: b.stat, Skipped: skipped}, nil
}

type bundler struct {
	zw      *zip.Writer
	p       *progress.Progress
	stat    progress.Stat
	exclude map[string]struct{}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func (b *bundler) excluded(path string) bool {
	_, ok := b.exclude[absPath(path)]
	return ok
}

func (b *bundler) report(s progress.Stat) {
	b.stat.Add(s)
	b.p.Report(s)
}

func (b *bundler) addTree(root string, rootInfo os.FileInfo) error {
	base := filepath.Base(filepath.Clean(root))
	if !rootInfo.IsDir() {
		if !rootInfo.Mode().IsRegular() {
			return nil
		}
		return b.addFile(root, base, rootInfo)
	}

	walker := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if b.excluded(path) {
			b.report(progress.Stat{Excluded: 1})
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		if info.IsDir() {
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			if _, err := b.zw.CreateHeader(hdr); err != nil {
				return err
			}
			b.report(progress.Stat{Dirs: 1})
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return b.addFile(path, name, info)
	}

	return filepath.Walk(root, walker)
}

func (b *bundler) addFile(path, name string, info os.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	fw, err := b.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	fi, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fi.Close()

	n, err := io.Copy(fw, fi)
	if err != nil {
		return err
	}
	b.report(progress.Stat{Files: 1, Bytes: uint64(n)})
	return nil
}

// Entries lists the file entries of the bundle at path in archive order.
func Entries(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("zip.OpenReader: %w", err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}

func normalizeEntry(name string) string {
	name = filepath.ToSlash(name)
	name = strings.TrimPrefix(name, "./")
	return strings.TrimPrefix(name, "/")
}

// selectEntries resolves the requested names against the bundle index. A name
// matches the entry of the same name or, for directories, every entry below it.
func selectEntries(files []*zip.File, only []string) ([]*zip.File, error) {
	if len(only) == 0 {
		return files, nil
	}

	picked := make(map[*zip.File]struct{})
	for _, want := range only {
		want = normalizeEntry(want)
		prefix := strings.TrimSuffix(want, "/") + "/"
		found := false
		for _, f := range files {
			if f.Name == want || strings.HasPrefix(f.Name, prefix) {
				picked[f] = struct{}{}
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, want)
		}
	}

	out := make([]*zip.File, 0, len(picked))
	for _, f := range files {
		if _, ok := picked[f]; ok {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
