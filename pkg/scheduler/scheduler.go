// Package scheduler fires the scheduled backup on a cron expression and
// keeps firings from overlapping.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/metrics"
)

var (
	// ErrJobRunning is returned when a run is requested while one is in progress.
	ErrJobRunning = errors.New("scheduler: a scheduled backup is already running")
	// ErrDisabled is returned when no schedule expression could be parsed.
	ErrDisabled = errors.New("scheduler: no valid schedule expression")
)

// State of the scheduler.
type State int32

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner performs a scheduled backup.
type Runner interface {
	RunScheduledBackup(ctx context.Context, plan backup.Plan) (*backup.PlanResult, error)
}

// Scheduler triggers Runner on a cron schedule. A firing that arrives while
// the previous one still runs is skipped and logged.
type Scheduler struct {
	cfg    Config
	runner Runner
	logger *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	expr    string

	mu      sync.Mutex
	armed   bool
	state   int32
	running int32
}

// Option configures a Scheduler.
type Option func(s *Scheduler) error

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// New returns a Scheduler for cfg. It does nothing until Start.
func New(cfg Config, runner Runner, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	s := &Scheduler{cfg: cfg, runner: runner}
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

// resolve parses the configured expression, falling back to the default.
func (s *Scheduler) resolve(candidates ...string) (cron.Schedule, string, error) {
	for _, expr := range candidates {
		if expr == "" {
			continue
		}
		sched, err := parser.Parse(expr)
		if err == nil {
			return sched, expr, nil
		}
		s.logger.Warn("Invalid schedule expression", zap.String("schedule", expr), zap.Error(err))
	}
	return nil, "", ErrDisabled
}

// Start arms the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return nil
	}
	return s.start(s.cfg.Schedule, DefaultSchedule)
}

func (s *Scheduler) start(candidates ...string) error {
	sched, expr, err := s.resolve(candidates...)
	if err != nil {
		atomic.StoreInt32(&s.state, int32(StateDisabled))
		return err
	}

	s.cron = cron.New(cron.WithParser(parser), cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(s.logger))))
	s.entryID = s.cron.Schedule(sched, cron.FuncJob(s.fire))
	s.expr = expr
	s.cron.Start()
	s.armed = true
	atomic.CompareAndSwapInt32(&s.state, int32(StateIdle), int32(StateArmed))
	atomic.CompareAndSwapInt32(&s.state, int32(StateDisabled), int32(StateArmed))
	s.logger.Info("Scheduler armed", zap.String("schedule", expr), zap.Time("next", s.cron.Entry(s.entryID).Next))
	return nil
}

// Stop disarms the scheduler and waits for a running firing to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return nil
	}
	stopped := s.cron.Stop()
	s.armed = false
	atomic.CompareAndSwapInt32(&s.state, int32(StateArmed), int32(StateIdle))
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload replaces the configuration. The new expression takes effect
// immediately when the scheduler is armed.
func (s *Scheduler) Reload(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if !s.armed {
		return nil
	}
	s.cron.Stop()
	s.armed = false
	return s.start(cfg.Schedule, DefaultSchedule)
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Expression returns the schedule expression in use, empty when not armed.
func (s *Scheduler) Expression() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Next returns the time of the next firing, zero when not armed.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Scheduler) fire() {
	res, err := s.RunNow(context.Background())
	if errors.Is(err, ErrJobRunning) {
		metrics.RecordSchedulerSkip()
		s.logger.Warn("Skipping scheduled backup, previous run still in progress")
		return
	}
	if err != nil {
		s.logger.Error("Scheduled backup failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled backup done", zap.Int("artifacts", len(res.Artifacts)), zap.Int("removed", len(res.Removed)))
}

// RunNow runs the scheduled backup immediately under the same overlap guard
// as timer firings.
func (s *Scheduler) RunNow(ctx context.Context) (*backup.PlanResult, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, ErrJobRunning
	}
	prev := State(atomic.SwapInt32(&s.state, int32(StateRunning)))
	defer func() {
		s.settle(prev)
		atomic.StoreInt32(&s.running, 0)
	}()

	plan := s.Config().Plan()
	return s.runner.RunScheduledBackup(ctx, plan)
}

// settle leaves the Running state once a run finished.
func (s *Scheduler) settle(prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := StateIdle
	switch {
	case s.armed:
		next = StateArmed
	case prev == StateDisabled:
		next = StateDisabled
	}
	atomic.StoreInt32(&s.state, int32(next))
}
