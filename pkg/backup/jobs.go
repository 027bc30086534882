package backup

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/archive"
	"github.com/bizflycloud/bizfly-archiver/pkg/database"
	"github.com/bizflycloud/bizfly-archiver/pkg/envelope"
	"github.com/bizflycloud/bizfly-archiver/pkg/fsutil"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/notify"
)

// Plan is what one scheduled firing runs.
type Plan struct {
	Database      bool     `json:"database" yaml:"database"`
	Folders       []string `json:"folders" yaml:"folders"`
	Encrypt       bool     `json:"encrypt" yaml:"encrypt"`
	Backends      []string `json:"backends" yaml:"backends"`
	RetentionDays int      `json:"retention_days" yaml:"retention_days"`
}

// PlanResult collects the outcome of RunScheduledBackup.
type PlanResult struct {
	Artifacts []*Artifact `json:"artifacts"`
	Removed   []string    `json:"removed"`
	Errors    []string    `json:"errors,omitempty"`
}

// RunScheduledBackup runs the database backup, the files backup and the
// retention sweep of plan one after another. A failing step does not stop the
// following ones; the returned error summarizes every failure.
func (s *Service) RunScheduledBackup(ctx context.Context, plan Plan) (*PlanResult, error) {
	res := &PlanResult{}
	opts := Options{Encrypt: plan.Encrypt, Backends: plan.Backends}

	if plan.Database {
		art, err := s.RunDatabaseBackup(ctx, opts)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("database: %v", err))
		} else {
			res.Artifacts = append(res.Artifacts, art)
		}
	}
	if len(plan.Folders) > 0 {
		art, err := s.RunFilesBackup(ctx, plan.Folders, opts)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("files: %v", err))
		} else {
			res.Artifacts = append(res.Artifacts, art)
		}
	}
	if plan.RetentionDays > 0 {
		removed, err := s.CleanOldArtifacts(ctx, plan.RetentionDays)
		res.Removed = removed
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("retention: %v", err))
		}
	}

	if len(res.Errors) > 0 {
		return res, fmt.Errorf("scheduled backup: %s", strings.Join(res.Errors, "; "))
	}
	return res, nil
}

// CleanOldArtifacts removes local artifacts older than maxAgeDays.
func (s *Service) CleanOldArtifacts(ctx context.Context, maxAgeDays int) ([]string, error) {
	removed, err := s.sweeper.Clean(ctx, maxAgeDays)
	if err != nil {
		notify.Send(ctx, s.notifier, s.logger, notify.Message{
			Subject: "Retention cleanup failed",
			Body:    notify.Format("error", err.Error()),
		})
		return removed, err
	}
	if len(removed) > 0 {
		s.logger.Info("Retention cleanup done", zap.Int("removed", len(removed)))
	}
	return removed, nil
}

// SweepOrphans removes in-progress files left behind by an interrupted
// process, once they are older than grace.
func (s *Service) SweepOrphans(ctx context.Context, grace time.Duration) ([]string, error) {
	return s.sweeper.SweepPartial(ctx, grace)
}

// History returns recorded operations, newest first.
func (s *Service) History(ctx context.Context, limit, offset int) ([]*history.Record, error) {
	return s.store.List(ctx, limit, offset)
}

// ArtifactInfo describes a local artifact.
type ArtifactInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	Size      int64     `json:"size"`
	Encrypted bool      `json:"encrypted"`
	ModTime   time.Time `json:"mod_time"`
}

// Artifacts lists the local artifacts, newest first. In-progress files and
// unrelated entries are left out.
func (s *Service) Artifacts() ([]ArtifactInfo, error) {
	entries, err := ioutil.ReadDir(s.artifactDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []ArtifactInfo
	for _, fi := range entries {
		if fi.IsDir() || fsutil.IsPartial(fi.Name()) {
			continue
		}
		var kind Kind
		switch filepath.Ext(envelope.PlainName(fi.Name())) {
		case database.Ext:
			kind = KindDatabase
		case archive.Ext:
			kind = KindFiles
		default:
			continue
		}
		out = append(out, ArtifactInfo{
			Name:      fi.Name(),
			Path:      filepath.Join(s.artifactDir, fi.Name()),
			Kind:      kind,
			Size:      fi.Size(),
			Encrypted: envelope.IsEncrypted(fi.Name()),
			ModTime:   fi.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}
