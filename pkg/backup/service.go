// Package backup composes artifact producers, the envelope cipher and the
// storage backends into backup and restore jobs.
package backup

import (
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/database"
	"github.com/bizflycloud/bizfly-archiver/pkg/envelope"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/notify"
	"github.com/bizflycloud/bizfly-archiver/pkg/retention"
	"github.com/bizflycloud/bizfly-archiver/pkg/storage"
)

var (
	// ErrConfiguration is returned when a job cannot run with the current settings.
	ErrConfiguration = errors.New("backup: configuration error")
	// ErrNotFound is returned when a restore names a missing artifact or entry.
	ErrNotFound = errors.New("backup: not found")
	// ErrBusy is returned when a restore is requested while a backup of the
	// same class is in flight.
	ErrBusy = errors.New("backup: a backup of the same class is running")
)

// Kind is the artifact class.
type Kind string

const (
	KindDatabase Kind = "database"
	KindFiles    Kind = "files"
)

// Service runs backup and restore jobs against one artifact directory.
type Service struct {
	artifactDir string
	workDir     string
	tempDir     string

	conn     database.ConnParams
	dumper   database.Dumper
	cipher   *envelope.Cipher
	backends *storage.Registry
	store    history.Store
	notifier notify.Notifier
	sweeper  *retention.Sweeper
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[Kind]int
}

// Option configures a Service.
type Option func(s *Service) error

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		s.logger = l
		return nil
	}
}

// WithDatabase sets the datastore to dump and the utility used to do it.
func WithDatabase(conn database.ConnParams, d database.Dumper) Option {
	return func(s *Service) error {
		s.conn = conn
		s.dumper = d
		return nil
	}
}

// WithCipher enables encryption of artifacts.
func WithCipher(c *envelope.Cipher) Option {
	return func(s *Service) error {
		s.cipher = c
		return nil
	}
}

// WithBackends sets the available upload targets.
func WithBackends(r *storage.Registry) Option {
	return func(s *Service) error {
		s.backends = r
		return nil
	}
}

// WithNotifier sets where job reports are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithWorkDir sets the directory relative folder and destination paths are
// resolved against.
func WithWorkDir(dir string) Option {
	return func(s *Service) error {
		s.workDir = dir
		return nil
	}
}

// WithTempDir sets where decrypted plaintext is staged during a restore.
func WithTempDir(dir string) Option {
	return func(s *Service) error {
		s.tempDir = dir
		return nil
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		s.now = now
		return nil
	}
}

// New returns a Service keeping its artifacts in artifactDir and recording
// every job in store.
func New(artifactDir string, store history.Store, opts ...Option) (*Service, error) {
	if artifactDir == "" {
		return nil, errors.New("backup: empty artifact directory")
	}
	if store == nil {
		return nil, errors.New("backup: history store is required")
	}
	s := &Service{
		artifactDir: canonicalPath(artifactDir),
		store:       store,
		now:         time.Now,
		inFlight:    make(map[Kind]int),
	}
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
	if s.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		s.workDir = wd
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLog(s.logger)
	}

	sweeper, err := retention.New(s.artifactDir, store, retention.WithLogger(s.logger), retention.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	s.sweeper = sweeper
	return s, nil
}

// ArtifactDir returns the local artifact directory.
func (s *Service) ArtifactDir() string {
	return s.artifactDir
}

// beginBackup marks a backup of kind as in flight until the returned func runs.
func (s *Service) beginBackup(kind Kind) func() {
	s.mu.Lock()
	s.inFlight[kind]++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.inFlight[kind]--
		s.mu.Unlock()
	}
}

func (s *Service) backupRunning(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[kind] > 0
}
