package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/bizfly-archiver/pkg/progress"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBundleAndExtractAll(t *testing.T) {
	src := t.TempDir()
	uploads := filepath.Join(src, "uploads")
	writeFile(t, filepath.Join(uploads, "a.txt"), "alpha")
	writeFile(t, filepath.Join(uploads, "nested", "b.txt"), "bravo")
	require.NoError(t, os.MkdirAll(filepath.Join(uploads, "empty"), 0755))
	single := filepath.Join(src, "config.yaml")
	writeFile(t, single, "key: value")

	out := filepath.Join(t.TempDir(), "files.zip")
	res, err := Bundle([]string{uploads, single, filepath.Join(src, "missing")}, out, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(src, "missing")}, res.Skipped)
	assert.Equal(t, uint64(3), res.Stat.Files)
	assert.Equal(t, uint64(len("alpha")+len("bravo")+len("key: value")), res.Stat.Bytes)

	entries, err := Entries(out)
	require.NoError(t, err)
	sort.Strings(entries)
	assert.Equal(t, []string{"config.yaml", "uploads/a.txt", "uploads/nested/b.txt"}, entries)

	dest := t.TempDir()
	written, err := Extract(out, dest, nil)
	require.NoError(t, err)
	assert.Len(t, written, 3)

	data, err := os.ReadFile(filepath.Join(dest, "uploads", "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(data))
	assert.DirExists(t, filepath.Join(dest, "uploads", "empty"))
}

func TestBundleReportsProgress(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "data", "x"), "0123456789")

	p := progress.NewProgress(time.Hour)
	var final progress.Stat
	p.OnDone = func(s progress.Stat, _ time.Duration, _ bool) { final = s }

	_, err := Bundle([]string{filepath.Join(src, "data")}, filepath.Join(t.TempDir(), "b.zip"), p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), final.Files)
	assert.Equal(t, uint64(10), final.Bytes)
}

func TestExtractSelective(t *testing.T) {
	src := t.TempDir()
	var sources []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		p := filepath.Join(src, name)
		writeFile(t, p, name)
		sources = append(sources, p)
	}
	out := filepath.Join(t.TempDir(), "abc.zip")
	_, err := Bundle(sources, out, nil)
	require.NoError(t, err)

	dest := t.TempDir()
	written, err := Extract(out, dest, []string{"b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "b.txt")}, written)
	assert.FileExists(t, filepath.Join(dest, "b.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "a.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "c.txt"))
}

func TestExtractSelectiveDirectory(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "site", "img", "1.png"), "1")
	writeFile(t, filepath.Join(src, "site", "img", "2.png"), "2")
	writeFile(t, filepath.Join(src, "site", "index.html"), "<html>")
	out := filepath.Join(t.TempDir(), "site.zip")
	_, err := Bundle([]string{filepath.Join(src, "site")}, out, nil)
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = Extract(out, dest, []string{"site/img"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "site", "img", "1.png"))
	assert.FileExists(t, filepath.Join(dest, "site", "img", "2.png"))
	assert.NoFileExists(t, filepath.Join(dest, "site", "index.html"))
}

func TestExtractUnknownEntryWritesNothing(t *testing.T) {
	src := t.TempDir()
	p := filepath.Join(src, "a.txt")
	writeFile(t, p, "a")
	out := filepath.Join(t.TempDir(), "a.zip")
	_, err := Bundle([]string{p}, out, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "dest")
	_, err = Extract(out, dest, []string{"a.txt", "zzz.txt"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.NoDirExists(t, dest)
}

func TestExtractRejectsTraversal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(out)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := t.TempDir()
	_, err = Extract(out, dest, nil)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(filepath.Dir(dest)), "escape.txt"))
}

func TestBundleLeavesNoPartialOnError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing-dir", "x.zip")
	_, err := Bundle(nil, out, nil)
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestBundleSkipsOutputAndExcludedDirs(t *testing.T) {
	src := t.TempDir()
	site := filepath.Join(src, "site")
	writeFile(t, filepath.Join(site, "index.html"), "home")
	artifacts := filepath.Join(site, "backups")
	writeFile(t, filepath.Join(artifacts, "old.zip"), "stale")
	out := filepath.Join(site, "site.zip")
	writeFile(t, out+".partial", "leftover")

	res, err := Bundle([]string{site}, out, nil, artifacts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Stat.Files)
	assert.Equal(t, uint64(2), res.Stat.Excluded)

	entries, err := Entries(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"site/index.html"}, entries)
}

func TestBundleSkipsExcludedSource(t *testing.T) {
	src := t.TempDir()
	keep := filepath.Join(src, "keep.txt")
	drop := filepath.Join(src, "drop")
	writeFile(t, keep, "k")
	writeFile(t, filepath.Join(drop, "x.txt"), "x")

	out := filepath.Join(t.TempDir(), "out.zip")
	_, err := Bundle([]string{keep, drop}, out, nil, drop)
	require.NoError(t, err)

	entries, err := Entries(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, entries)
}
