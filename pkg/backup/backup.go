package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/bizfly-archiver/pkg/archive"
	"github.com/bizflycloud/bizfly-archiver/pkg/checksum"
	"github.com/bizflycloud/bizfly-archiver/pkg/database"
	"github.com/bizflycloud/bizfly-archiver/pkg/envelope"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/metrics"
	"github.com/bizflycloud/bizfly-archiver/pkg/notify"
	"github.com/bizflycloud/bizfly-archiver/pkg/progress"
	"github.com/bizflycloud/bizfly-archiver/pkg/storage"
)

const progressInterval = 5 * time.Second

// Options are the per-job backup options.
type Options struct {
	// Filename overrides the generated artifact name. Only its base name is used.
	Filename string   `json:"filename,omitempty"`
	Encrypt  bool     `json:"encrypt"`
	Backends []string `json:"backends,omitempty"`
}

// Artifact is the result of a successful backup.
type Artifact struct {
	Kind         Kind                  `json:"kind"`
	LocalPath    string                `json:"local_path"`
	Checksum     string                `json:"checksum"`
	Encrypted    bool                  `json:"encrypted"`
	Size         int64                 `json:"size"`
	UploadedTo   []storage.Destination `json:"uploaded_to"`
	UploadErrors []string              `json:"upload_errors,omitempty"`
	Skipped      []string              `json:"skipped,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// producer writes the plaintext artifact to outPath and returns extra meta.
type producer func(ctx context.Context, outPath string) (map[string]interface{}, []string, error)

// RunDatabaseBackup dumps the configured datastore.
func (s *Service) RunDatabaseBackup(ctx context.Context, opts Options) (*Artifact, error) {
	return s.run(ctx, KindDatabase, opts, func(ctx context.Context, out string) (map[string]interface{}, []string, error) {
		if err := s.dumper.Dump(ctx, s.conn, out); err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"database": s.conn.String()}, nil, nil
	})
}

// RunFilesBackup bundles folders into one container. Relative folders are
// resolved against the work directory and missing ones are skipped.
func (s *Service) RunFilesBackup(ctx context.Context, folders []string, opts Options) (*Artifact, error) {
	return s.run(ctx, KindFiles, opts, func(ctx context.Context, out string) (map[string]interface{}, []string, error) {
		if len(folders) == 0 {
			return nil, nil, fmt.Errorf("%w: no folders to back up", ErrConfiguration)
		}
		sources := make([]string, 0, len(folders))
		for _, f := range folders {
			sources = append(sources, s.resolveWork(f))
		}

		p := progress.Logged(s.logger, "Bundling files", progressInterval)
		res, err := archive.Bundle(sources, out, p, s.artifactDir)
		if err != nil {
			return nil, nil, err
		}
		for _, sk := range res.Skipped {
			s.logger.Warn("Skipped missing source", zap.String("path", sk))
		}
		meta := map[string]interface{}{
			"folders": folders,
			"stat":    res.Stat,
		}
		return meta, res.Skipped, nil
	})
}

func (s *Service) resolveWork(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.workDir, p)
}

func defaultExt(kind Kind) string {
	if kind == KindDatabase {
		return database.Ext
	}
	return archive.Ext
}

// artifactName returns the plaintext file name for a job.
func (s *Service) artifactName(kind Kind, filename string) (string, error) {
	ext := defaultExt(kind)
	if filename == "" {
		return fmt.Sprintf("%s-%s%s", kind, s.now().UTC().Format("20060102-150405"), ext), nil
	}
	name := filepath.Base(filepath.Clean("/" + filename))
	name = envelope.PlainName(name)
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("%w: invalid filename %q", ErrConfiguration, filename)
	}
	if filepath.Ext(name) != ext {
		name += ext
	}
	return name, nil
}

// validate rejects a job before any side effect.
func (s *Service) validate(kind Kind, opts Options) ([]storage.Backend, error) {
	if opts.Encrypt && s.cipher == nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, envelope.ErrNoKey)
	}
	backends, err := s.backends.Resolve(opts.Backends)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if kind == KindDatabase {
		if s.dumper == nil {
			return nil, fmt.Errorf("%w: no database dumper configured", ErrConfiguration)
		}
		if err := s.conn.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	return backends, nil
}

func (s *Service) run(ctx context.Context, kind Kind, opts Options, produce producer) (art *Artifact, err error) {
	done := s.beginBackup(kind)
	defer done()

	start := s.now()
	var localPath string
	defer func() {
		metrics.RecordJob(string(kind), s.now().Sub(start), err)
		if err != nil {
			s.reportFailure(ctx, backupType(kind), localPath, "backup", err)
		}
	}()

	backends, err := s.validate(kind, opts)
	if err != nil {
		return nil, err
	}
	name, err := s.artifactName(kind, opts.Filename)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(s.artifactDir, 0700); err != nil {
		return nil, err
	}

	plain := filepath.Join(s.artifactDir, name)
	localPath = plain
	s.logger.Info("Starting backup", zap.String("kind", string(kind)), zap.String("path", plain))
	meta, skipped, err := produce(ctx, plain)
	if err != nil {
		return nil, err
	}

	sum, err := checksum.Digest(plain)
	if err != nil {
		return nil, err
	}

	final := plain
	if opts.Encrypt {
		final = plain + envelope.Ext
		localPath = final
		if err = s.cipher.EncryptFile(plain, final); err != nil {
			_ = os.Remove(plain)
			return nil, fmt.Errorf("encrypt artifact: %w", err)
		}
		if err = os.Remove(plain); err != nil {
			return nil, fmt.Errorf("remove plaintext: %w", err)
		}
	}

	final = canonicalPath(final)
	localPath = final
	fi, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	metrics.RecordArtifact(string(kind), fi.Size())

	art = &Artifact{
		Kind:      kind,
		LocalPath: final,
		Checksum:  sum,
		Encrypted: opts.Encrypt,
		Size:      fi.Size(),
		Skipped:   skipped,
		CreatedAt: s.now().UTC(),
	}
	art.UploadedTo, art.UploadErrors = s.upload(ctx, backends, final)

	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta[history.MetaStatus] = history.StatusSuccess
	meta["encrypted"] = opts.Encrypt
	meta["size"] = fi.Size()
	if len(opts.Backends) > 0 {
		meta["backends"] = opts.Backends
	}
	if len(skipped) > 0 {
		meta["skipped"] = skipped
	}
	if len(art.UploadErrors) > 0 {
		meta["upload_errors"] = art.UploadErrors
	}
	rec := &history.Record{
		Type:       backupType(kind),
		FilePath:   history.StringPtr(final),
		Checksum:   history.StringPtr(sum),
		UploadedTo: art.UploadedTo,
		Meta:       meta,
		CreatedAt:  art.CreatedAt,
	}
	// The artifact is complete; record it even if the caller went away.
	if err = s.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	s.logger.Info("Backup done", zap.String("kind", string(kind)), zap.String("path", final),
		zap.String("checksum", sum), zap.Int64("size", fi.Size()))
	notify.Send(ctx, s.notifier, s.logger, successMessage(art))
	return art, nil
}

// upload copies path to every backend concurrently. Failed uploads are
// reported, they never fail the job.
func (s *Service) upload(ctx context.Context, backends []storage.Backend, path string) ([]storage.Destination, []string) {
	if len(backends) == 0 {
		return nil, nil
	}
	key := filepath.Base(path)
	dests := make([]*storage.Destination, len(backends))
	errs := make([]error, len(backends))

	var g errgroup.Group
	for i, b := range backends {
		i, b := i, b
		g.Go(func() error {
			d, err := b.Upload(ctx, path, key)
			metrics.RecordUpload(b.Kind(), err)
			if err != nil {
				s.logger.Error("Upload failed", zap.String("backend", b.Kind()), zap.String("path", path), zap.Error(err))
				errs[i] = err
				return nil
			}
			s.logger.Info("Uploaded artifact", zap.String("backend", b.Kind()), zap.String("key", d.Key))
			dests[i] = d
			return nil
		})
	}
	_ = g.Wait()

	var out []storage.Destination
	var failures []string
	for i := range backends {
		if dests[i] != nil {
			out = append(out, *dests[i])
		}
		if errs[i] != nil {
			failures = append(failures, errs[i].Error())
		}
	}
	return out, failures
}

func backupType(kind Kind) history.Type {
	if kind == KindDatabase {
		return history.TypeDatabase
	}
	return history.TypeFiles
}

func restoreType(kind Kind) history.Type {
	if kind == KindDatabase {
		return history.TypeDatabaseRestore
	}
	return history.TypeFilesRestore
}

func title(t history.Type) string {
	switch t {
	case history.TypeDatabase:
		return "Database backup"
	case history.TypeFiles:
		return "Files backup"
	case history.TypeDatabaseRestore:
		return "Database restore"
	case history.TypeFilesRestore:
		return "Files restore"
	}
	return "Retention cleanup"
}

func successMessage(a *Artifact) notify.Message {
	uploaded := make([]string, 0, len(a.UploadedTo))
	for _, d := range a.UploadedTo {
		uploaded = append(uploaded, d.String())
	}
	lines := []string{
		"file", a.LocalPath,
		"checksum", a.Checksum,
		"size", humanize.Bytes(uint64(a.Size)),
		"encrypted", fmt.Sprint(a.Encrypted),
	}
	if len(uploaded) > 0 {
		lines = append(lines, "uploaded to", strings.Join(uploaded, ", "))
	}
	if len(a.UploadErrors) > 0 {
		lines = append(lines, "upload errors", strings.Join(a.UploadErrors, "; "))
	}
	return notify.Message{
		Subject: title(backupType(a.Kind)) + " succeeded",
		Body:    notify.Format(lines...),
	}
}

// reportFailure records a failed job and sends the failure notification.
func (s *Service) reportFailure(ctx context.Context, t history.Type, path, op string, err error) {
	s.logger.Error(title(t)+" failed", zap.String("path", path), zap.Error(err))

	meta := map[string]interface{}{
		history.MetaStatus: history.StatusFailed,
		history.MetaError:  err.Error(),
	}
	msg := notify.Message{
		Subject: title(t) + " failed",
		Body:    notify.Format("file", path, "error", err.Error()),
	}
	var execErr *database.ExecError
	if errors.As(err, &execErr) {
		meta[history.MetaOutput] = execErr.Output
		msg.Body = notify.Format("file", path, "error", err.Error(), "output", execErr.Output)
		msg.Attachments = []notify.Attachment{{Name: execErr.Op + ".log", Data: []byte(execErr.Output)}}
	}

	rec := &history.Record{Type: t, FilePath: history.StringPtr(path), Meta: meta}
	if aerr := s.store.Append(context.Background(), rec); aerr != nil {
		s.logger.Error("Append history", zap.String("op", op), zap.Error(aerr))
	}
	notify.Send(ctx, s.notifier, s.logger, msg)
}
