// Package retention removes aged artifacts from the local artifact directory.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/fsutil"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/metrics"
)

// ErrInvalidAge is returned for a non-positive retention window.
var ErrInvalidAge = errors.New("retention: max age must be at least one day")

// Sweeper deletes artifacts by age and records what it removed.
type Sweeper struct {
	dir    string
	store  history.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Sweeper.
type Option func(s *Sweeper) error

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) error {
		s.logger = l
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) error {
		s.now = now
		return nil
	}
}

// New returns a Sweeper for the artifact directory dir.
func New(dir string, store history.Store, opts ...Option) (*Sweeper, error) {
	if dir == "" {
		return nil, errors.New("retention: empty artifact directory")
	}
	s := &Sweeper{dir: dir, store: store, now: time.Now}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	return s, nil
}

// sweep removes the regular files directly in dir that match and are older
// than cutoff.
func (s *Sweeper) sweep(cutoff time.Time, match func(name string) bool) ([]string, []string) {
	entries, err := ioutil.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []string{err.Error()}
	}

	var removed, failures []string
	for _, fi := range entries {
		if fi.IsDir() || !match(fi.Name()) {
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, fi.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Error("Remove artifact", zap.String("path", path), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		s.logger.Info("Removed artifact", zap.String("path", path), zap.Time("modified", fi.ModTime()))
		removed = append(removed, path)
	}
	return removed, failures
}

// Clean deletes artifacts whose modification time is older than maxAgeDays
// and appends one retention_cleanup record listing them.
func (s *Sweeper) Clean(ctx context.Context, maxAgeDays int) ([]string, error) {
	if maxAgeDays <= 0 {
		return nil, ErrInvalidAge
	}
	start := s.now()
	cutoff := start.AddDate(0, 0, -maxAgeDays)
	removed, failures := s.sweep(cutoff, func(string) bool { return true })
	metrics.RecordRetention(len(removed))

	meta := map[string]interface{}{
		"removed":      nonNil(removed),
		"max_age_days": maxAgeDays,
		"cutoff":       cutoff.UTC().Format(time.RFC3339),
	}
	var err error
	if len(failures) > 0 {
		meta[history.MetaStatus] = history.StatusFailed
		meta[history.MetaError] = failures
		err = fmt.Errorf("retention: %d artifacts could not be removed", len(failures))
	}
	if aerr := s.store.Append(ctx, &history.Record{Type: history.TypeRetentionCleanup, Meta: meta}); aerr != nil {
		s.logger.Error("Append history", zap.Error(aerr))
		if err == nil {
			err = aerr
		}
	}
	metrics.RecordJob(string(history.TypeRetentionCleanup), s.now().Sub(start), err)
	return removed, err
}

// SweepPartial deletes leftover in-progress files older than grace. A record
// is appended only when something was removed.
func (s *Sweeper) SweepPartial(ctx context.Context, grace time.Duration) ([]string, error) {
	removed, failures := s.sweep(s.now().Add(-grace), fsutil.IsPartial)
	if len(removed) > 0 {
		meta := map[string]interface{}{
			"removed": removed,
			"reason":  "orphaned partial files",
		}
		if err := s.store.Append(ctx, &history.Record{Type: history.TypeRetentionCleanup, Meta: meta}); err != nil {
			return removed, err
		}
	}
	if len(failures) > 0 {
		return removed, fmt.Errorf("retention: %d partial files could not be removed", len(failures))
	}
	return removed, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
