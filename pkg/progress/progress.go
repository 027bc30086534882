package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// minReportGap throttles reports triggered by Report between ticks.
const minReportGap = time.Second / 60

// Stat counts what a bundling or extraction job has processed so far.
type Stat struct {
	Files    uint64 `json:"files"`
	Dirs     uint64 `json:"dirs"`
	Bytes    uint64 `json:"bytes"`
	Excluded uint64 `json:"excluded,omitempty"`
}

// Add accumulates other into s.
func (s *Stat) Add(other Stat) {
	s.Files += other.Files
	s.Dirs += other.Dirs
	s.Bytes += other.Bytes
	s.Excluded += other.Excluded
}

func (s Stat) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files, %d dirs, %s", s.Files, s.Dirs, humanize.IBytes(s.Bytes))
	if s.Excluded > 0 {
		fmt.Fprintf(&b, ", %d excluded", s.Excluded)
	}
	return b.String()
}

// Rate is the average throughput over elapsed, e.g. "1.5 MiB/s".
func (s Stat) Rate(elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(float64(s.Bytes)/elapsed.Seconds())) + "/s"
}

// Func receives the accumulated statistics. final is set on the call made
// by Done.
type Func func(s Stat, elapsed time.Duration, final bool)

// Progress periodically reports accumulated statistics of a long running job.
// A nil *Progress is valid and reports nothing.
type Progress struct {
	OnUpdate Func
	OnDone   Func

	interval time.Duration
	fnMu     sync.Mutex

	mu         sync.Mutex
	stat       Stat
	started    time.Time
	lastReport time.Time
	stop       chan struct{}
	running    bool
}

// NewProgress returns a Progress that calls OnUpdate every interval while
// running.
func NewProgress(interval time.Duration) *Progress {
	return &Progress{interval: interval}
}

// Logged returns a Progress that logs the job named job through logger at
// debug level while running and at info level when done.
func Logged(logger *zap.Logger, job string, interval time.Duration) *Progress {
	p := NewProgress(interval)
	p.OnUpdate = func(s Stat, elapsed time.Duration, _ bool) {
		logger.Debug(job, zap.Stringer("stat", s), zap.String("rate", s.Rate(elapsed)), zap.Duration("elapsed", elapsed))
	}
	p.OnDone = func(s Stat, elapsed time.Duration, _ bool) {
		logger.Info(job+" done", zap.Stringer("stat", s), zap.String("rate", s.Rate(elapsed)), zap.Duration("elapsed", elapsed))
	}
	return p
}

// Start zeroes the counters and begins periodic reporting.
func (p *Progress) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.stat = Stat{}
	p.started = time.Now()
	p.stop = make(chan struct{})
	p.running = true
	go p.tick(p.stop)
}

func (p *Progress) tick(stop <-chan struct{}) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.mu.Lock()
			cur, elapsed := p.stat, time.Since(p.started)
			p.mu.Unlock()
			p.call(p.OnUpdate, cur, elapsed, false)
		case <-stop:
			return
		}
	}
}

func (p *Progress) call(fn Func, s Stat, elapsed time.Duration, final bool) {
	if fn == nil {
		return
	}
	p.fnMu.Lock()
	fn(s, elapsed, final)
	p.fnMu.Unlock()
}

// Report adds s to the running totals. OnUpdate sees the totals at most once
// per minReportGap outside of the periodic ticks.
func (p *Progress) Report(s Stat) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.stat.Add(s)
	cur, elapsed := p.stat, time.Since(p.started)
	due := time.Since(p.lastReport) > minReportGap
	if due {
		p.lastReport = time.Now()
	}
	p.mu.Unlock()

	if due {
		p.call(p.OnUpdate, cur, elapsed, false)
	}
}

// Done stops reporting, hands the totals to OnDone and returns them. Calling
// Done on a stopped Progress returns a zero Stat.
func (p *Progress) Done() Stat {
	if p == nil {
		return Stat{}
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return Stat{}
	}
	p.running = false
	close(p.stop)
	cur, elapsed := p.stat, time.Since(p.started)
	p.mu.Unlock()

	p.call(p.OnDone, cur, elapsed, true)
	return cur
}
