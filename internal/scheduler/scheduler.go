package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// =============================================================================
// ⏰ 周期任务调度器
// =============================================================================

// Job 周期任务
type Job struct {
	Name string
	// Schedule 为 cron 表达式（"*/5 * * * *"、"@every 1m"）或时长（"500ms"）
	Schedule string
	// Timeout 限制单次执行，默认 5 分钟
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
	Runs     int64     `json:"runs"`
	Failures int64     `json:"failures"`
}

type jobEntry struct {
	job      Job
	id       cron.EntryID
	runs     atomic.Int64
	failures atomic.Int64
}

// Scheduler 基于 robfig/cron 运行周期任务。同一任务的上一次执行
// 未结束时跳过本次触发，任务 panic 会被恢复。
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New 创建调度器
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// Add registers a job. Names are unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q has no run function", job.Name)
	}
	schedule, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}
	if job.Timeout <= 0 {
		job.Timeout = 5 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.Name)
	}

	entry := &jobEntry{job: job}
	entry.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.runJob(entry) }))
	s.jobs[job.Name] = entry

	s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(entry.id)
	delete(s.jobs, name)
	return true
}

// RunNow executes a job once on the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job %q not found", name)
	}
	return s.runJob(entry)
}

func (s *Scheduler) runJob(entry *jobEntry) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	jobCtx, cancel := context.WithTimeout(ctx, entry.job.Timeout)
	defer cancel()

	start := time.Now()
	err := entry.job.Run(jobCtx)
	entry.runs.Add(1)
	if err != nil {
		entry.failures.Add(1)
		s.logger.Warn("scheduled job failed",
			zap.String("job", entry.job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	s.logger.Debug("scheduled job completed",
		zap.String("job", entry.job.Name),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Start 启动调度；ctx 取消时正在运行的任务收到取消信号
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop 停止调度并等待正在运行的任务结束
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entry := range s.jobs {
		ce := s.cron.Entry(entry.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: entry.job.Schedule,
			Next:     ce.Next,
			Prev:     ce.Prev,
			Runs:     entry.runs.Load(),
			Failures: entry.failures.Load(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// =============================================================================
// 🔧 调度表达式
// =============================================================================

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a cron expression first and falls back to a positive
// duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return Every(d), nil
}

// Every returns a fixed-interval schedule. Unlike cron.Every it keeps
// sub-second intervals.
func Every(d time.Duration) cron.Schedule {
	return constantDelay{delay: d}
}

type constantDelay struct {
	delay time.Duration
}

func (c constantDelay) Next(t time.Time) time.Time {
	return t.Add(c.delay)
}

// cronLogger 把 cron 的日志转发到 zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
