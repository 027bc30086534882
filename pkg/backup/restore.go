package backup

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/archive"
	"github.com/bizflycloud/bizfly-archiver/pkg/checksum"
	"github.com/bizflycloud/bizfly-archiver/pkg/envelope"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/metrics"
	"github.com/bizflycloud/bizfly-archiver/pkg/notify"
)

// RestoreOptions are the per-job restore options.
type RestoreOptions struct {
	// Files limits extraction to these entries or directories of the bundle.
	Files []string `json:"files,omitempty"`
}

// ErrChecksumMismatch is returned when a decrypted artifact does not match
// the checksum recorded at backup time.
var ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", envelope.ErrIntegrity)

// resolveArtifact maps a path relative to the artifact directory to an
// existing local file.
func (s *Service) resolveArtifact(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty artifact path", ErrNotFound)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.artifactDir, p)
	}
	p = filepath.Clean(p)
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return "", err
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotFound, p)
	}
	return canonicalPath(p), nil
}

// canonicalPath returns the absolute, symlink free spelling of p so that
// history lookups by path match however the artifact was named.
func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

// plaintext returns a readable plaintext path for the artifact. For an
// encrypted artifact it is a decrypted copy in a private temporary directory
// that cleanup removes; cleanup must always be called.
func (s *Service) plaintext(path string) (string, func(), error) {
	if !envelope.IsEncrypted(path) {
		return path, func() {}, nil
	}
	if s.cipher == nil {
		return "", func() {}, fmt.Errorf("%w: %w", ErrConfiguration, envelope.ErrNoKey)
	}

	dir, err := ioutil.TempDir(s.tempDir, "archiver-restore-")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Error("Remove decrypted plaintext", zap.String("dir", dir), zap.Error(err))
		}
	}

	out := filepath.Join(dir, envelope.PlainName(filepath.Base(path)))
	if err := s.cipher.DecryptFile(path, out); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return out, cleanup, nil
}

// verify checks plain against the checksum recorded for artifactPath. An
// artifact without a recorded checksum is accepted with a warning.
func (s *Service) verify(ctx context.Context, artifactPath, plain string) error {
	rec, err := s.store.FindByPath(ctx, artifactPath)
	if errors.Is(err, history.ErrNotFound) || (err == nil && rec.Checksum == nil) {
		s.logger.Warn("No recorded checksum, restoring unverified", zap.String("path", artifactPath))
		return nil
	}
	if err != nil {
		return err
	}
	ok, err := checksum.Verify(plain, *rec.Checksum)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChecksumMismatch
	}
	return nil
}

// prepare resolves, decrypts and verifies the artifact of a restore.
func (s *Service) prepare(ctx context.Context, kind Kind, artifactPath string) (string, string, func(), error) {
	if s.backupRunning(kind) {
		return "", "", func() {}, ErrBusy
	}
	path, err := s.resolveArtifact(artifactPath)
	if err != nil {
		return "", "", func() {}, err
	}
	plain, cleanup, err := s.plaintext(path)
	if err != nil {
		return path, "", cleanup, err
	}
	if err := s.verify(ctx, path, plain); err != nil {
		cleanup()
		return path, "", func() {}, err
	}
	return path, plain, cleanup, nil
}

// Entries lists the entries of the files bundle at archivePath, decrypting it
// first when needed. Relative paths are resolved against the artifact
// directory.
func (s *Service) Entries(ctx context.Context, archivePath string) ([]string, error) {
	path, err := s.resolveArtifact(archivePath)
	if err != nil {
		return nil, err
	}
	plain, cleanup, err := s.plaintext(path)
	defer cleanup()
	if err != nil {
		return nil, err
	}
	if err := s.verify(ctx, path, plain); err != nil {
		return nil, err
	}
	entries, err := archive.Entries(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a files bundle: %v", ErrConfiguration, path, err)
	}
	return entries, nil
}

// RestoreDatabase feeds the dump artifact at artifactPath to the restore
// utility. Relative paths are resolved against the artifact directory.
func (s *Service) RestoreDatabase(ctx context.Context, artifactPath string) (err error) {
	start := s.now()
	path := artifactPath
	defer func() {
		metrics.RecordJob(string(history.TypeDatabaseRestore), s.now().Sub(start), err)
		if err != nil {
			s.reportFailure(ctx, history.TypeDatabaseRestore, path, "restore", err)
		}
	}()

	if s.dumper == nil {
		return fmt.Errorf("%w: no database dumper configured", ErrConfiguration)
	}
	if err = s.conn.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	resolved, plain, cleanup, err := s.prepare(ctx, KindDatabase, artifactPath)
	defer cleanup()
	if resolved != "" {
		path = resolved
	}
	if err != nil {
		return err
	}

	s.logger.Info("Restoring database", zap.String("path", path))
	if err = s.dumper.Restore(ctx, s.conn, plain); err != nil {
		return err
	}

	rec := &history.Record{
		Type:     history.TypeDatabaseRestore,
		FilePath: history.StringPtr(path),
		Meta: map[string]interface{}{
			history.MetaStatus: history.StatusSuccess,
			"database":         s.conn.String(),
		},
	}
	if err = s.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	notify.Send(ctx, s.notifier, s.logger, notify.Message{
		Subject: "Database restore succeeded",
		Body:    notify.Format("file", path, "database", s.conn.String()),
	})
	return nil
}

// RestoreFiles extracts the bundle at archivePath below destFolder, either
// completely or only the entries named in opts.Files. It returns the paths
// written.
func (s *Service) RestoreFiles(ctx context.Context, archivePath, destFolder string, opts RestoreOptions) (written []string, err error) {
	start := s.now()
	path := archivePath
	defer func() {
		metrics.RecordJob(string(history.TypeFilesRestore), s.now().Sub(start), err)
		if err != nil {
			s.reportFailure(ctx, history.TypeFilesRestore, path, "restore", err)
		}
	}()

	if strings.TrimSpace(destFolder) == "" {
		return nil, fmt.Errorf("%w: empty destination folder", ErrConfiguration)
	}
	dest := s.resolveWork(destFolder)

	resolved, plain, cleanup, err := s.prepare(ctx, KindFiles, archivePath)
	defer cleanup()
	if resolved != "" {
		path = resolved
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Restoring files", zap.String("path", path), zap.String("dest", dest), zap.Strings("files", opts.Files))
	written, err = archive.Extract(plain, dest, opts.Files)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return written, err
	}

	meta := map[string]interface{}{
		history.MetaStatus: history.StatusSuccess,
		"dest":             dest,
		"restored":         len(written),
	}
	if len(opts.Files) > 0 {
		meta["files"] = opts.Files
	}
	rec := &history.Record{Type: history.TypeFilesRestore, FilePath: history.StringPtr(path), Meta: meta}
	if err = s.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		return written, fmt.Errorf("append history: %w", err)
	}
	notify.Send(ctx, s.notifier, s.logger, notify.Message{
		Subject: "Files restore succeeded",
		Body:    notify.Format("file", path, "destination", dest, "restored", fmt.Sprint(len(written))),
	})
	return written, nil
}
