// Package scheduler runs recurring engine tasks on cron. Each Scheduler holds
// a single run lock: a tick that fires while another task of the same
// scheduler is still running is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"election_engine/pkg/config"
	"election_engine/pkg/utils"
)

// TaskStatus represents the current state of a scheduled task
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
	TaskStatusSkipped  TaskStatus = "skipped"
)

// ErrBusy is returned by RunNow when another task of the scheduler is running
var ErrBusy = errors.New("scheduler busy")

// Task represents a scheduled task
type Task struct {
	ID          string
	Name        string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	Status      TaskStatus
	Error       error
	RetryCount  int
	MaxRetries  int
	Runs        int64
	Skips       int64
	CronID      cron.EntryID
	ExecutionFn func(context.Context) error
}

// Every returns the cron spec of a fixed interval
func Every(interval time.Duration) string {
	return "@every " + interval.String()
}

// Scheduler manages task scheduling and execution
type Scheduler struct {
	name    string
	cron    *cron.Cron
	tasks   map[string]*Task
	order   []string
	config  *config.SchedConfig
	logger  *zap.Logger
	metrics *SchedulerMetrics
	runLock sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
}

// SchedulerMetrics tracks scheduler performance
type SchedulerMetrics struct {
	TasksScheduled int64
	TasksCompleted int64
	TasksFailed    int64
	TasksSkipped   int64
	AverageLatency time.Duration
	LastUpdate     time.Time
	mu             sync.RWMutex
}

// NewScheduler creates a named scheduler instance
func NewScheduler(name string, cfg *config.SchedConfig, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.Named("scheduler").With(zap.String("scheduler", name))
	cl := cronLogger{logger.Sugar()}

	return &Scheduler{
		name: name,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		tasks:   make(map[string]*Task),
		config:  cfg,
		logger:  logger,
		metrics: &SchedulerMetrics{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Name returns the scheduler name
func (s *Scheduler) Name() string {
	return s.name
}

// Start begins the scheduler. With run_on_start set, every task runs once
// right away, in the order it was scheduled.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler",
		zap.Int("tasks", len(s.ListTasks())),
		zap.Bool("runOnStart", s.config.RunOnStart))

	s.cron.Start()

	if s.config.RunOnStart {
		s.wg.Add(1)
		utils.SafeGo(s.logger, func() {
			defer s.wg.Done()
			for _, task := range s.ListTasks() {
				if s.ctx.Err() != nil {
					return
				}
				s.executeTask(s.ctx, task)
			}
		})
	}

	return nil
}

// Stop cancels running tasks and waits for them to return
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")

	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()

	return nil
}

// ScheduleTask adds a new task to the scheduler
func (s *Scheduler) ScheduleTask(task *Task) error {
	if err := s.validateTask(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	cronID, err := s.cron.AddFunc(task.Schedule, func() {
		s.executeTask(s.ctx, task)
	})
	if err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}

	task.CronID = cronID
	task.Status = TaskStatusPending
	task.NextRun = s.cron.Entry(cronID).Next
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)

	s.metrics.mu.Lock()
	s.metrics.TasksScheduled++
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	s.logger.Info("Task scheduled",
		zap.String("taskID", task.ID),
		zap.String("schedule", task.Schedule),
		zap.Time("nextRun", task.NextRun))

	return nil
}

// GetTask returns a snapshot of a task
func (s *Scheduler) GetTask(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("task %s not found", taskID)
	}
	return *task, nil
}

// ListTasks returns all scheduled tasks in scheduling order
func (s *Scheduler) ListTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id])
	}
	return tasks
}

// RunNow runs a task synchronously. It fails with ErrBusy instead of waiting
// when the scheduler is already running something.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, exists := s.tasks[taskID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	if !s.runLock.TryLock() {
		return ErrBusy
	}
	defer s.runLock.Unlock()

	return s.run(ctx, task)
}

// Private methods

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	if !s.runLock.TryLock() {
		s.mu.Lock()
		task.Skips++
		task.Status = TaskStatusSkipped
		s.mu.Unlock()

		s.metrics.mu.Lock()
		s.metrics.TasksSkipped++
		s.metrics.mu.Unlock()

		s.logger.Warn("Previous run still in progress, skipping tick",
			zap.String("taskID", task.ID))
		return
	}
	defer s.runLock.Unlock()

	if err := s.run(ctx, task); err != nil && ctx.Err() == nil {
		s.logger.Error("Task failed", zap.String("taskID", task.ID), zap.Error(err))
	}
}

func (s *Scheduler) run(ctx context.Context, task *Task) error {
	start := time.Now()

	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRun = start
	task.RetryCount = 0
	s.mu.Unlock()

	err := s.runTaskWithRetries(ctx, task)

	s.mu.Lock()
	task.Runs++
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err
	} else {
		task.Status = TaskStatusComplete
		task.Error = nil
	}
	task.NextRun = s.cron.Entry(task.CronID).Next
	s.mu.Unlock()

	s.metrics.mu.Lock()
	if err != nil {
		s.metrics.TasksFailed++
	} else {
		s.metrics.TasksCompleted++
	}
	s.metrics.AverageLatency = (s.metrics.AverageLatency*9 + time.Since(start)) / 10
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	s.logger.Debug("Task execution completed",
		zap.String("taskID", task.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

func (s *Scheduler) runTaskWithRetries(ctx context.Context, task *Task) error {
	var lastErr error

	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := invoke(ctx, task); err != nil {
			lastErr = err
			s.mu.Lock()
			task.RetryCount = attempt
			s.mu.Unlock()
			s.logger.Warn("Task execution failed",
				zap.String("taskID", task.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		task.RetryCount = attempt
		s.mu.Unlock()
		return nil
	}

	return fmt.Errorf("task failed after %d retries: %w", task.MaxRetries, lastErr)
}

// invoke turns a panicking task into a failed attempt
func invoke(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.ExecutionFn(ctx)
}

func (s *Scheduler) validateTask(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if task.Schedule == "" {
		return fmt.Errorf("task schedule cannot be empty")
	}
	if task.ExecutionFn == nil {
		return fmt.Errorf("task execution function cannot be nil")
	}
	if task.MaxRetries < 0 {
		return fmt.Errorf("task max retries cannot be negative")
	}

	if _, err := cron.ParseStandard(task.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	return nil
}

// GetSchedulerStats returns current scheduler statistics
func (s *Scheduler) GetSchedulerStats() SchedulerStats {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return SchedulerStats{
		TasksScheduled: s.metrics.TasksScheduled,
		TasksCompleted: s.metrics.TasksCompleted,
		TasksFailed:    s.metrics.TasksFailed,
		TasksSkipped:   s.metrics.TasksSkipped,
		AverageLatency: s.metrics.AverageLatency,
		LastUpdate:     s.metrics.LastUpdate,
	}
}

// SchedulerStats represents scheduler statistics
type SchedulerStats struct {
	TasksScheduled int64         `json:"tasksScheduled"`
	TasksCompleted int64         `json:"tasksCompleted"`
	TasksFailed    int64         `json:"tasksFailed"`
	TasksSkipped   int64         `json:"tasksSkipped"`
	AverageLatency time.Duration `json:"averageLatency"`
	LastUpdate     time.Time     `json:"lastUpdate"`
}

// cronLogger routes cron's own logging into zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
