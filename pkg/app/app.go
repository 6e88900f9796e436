// Package app wires the store, the ledger client, the event publisher and the
// engines into a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"election_engine/pkg/audit"
	"election_engine/pkg/config"
	"election_engine/pkg/data"
	"election_engine/pkg/database"
	"election_engine/pkg/events"
	"election_engine/pkg/finalization"
	"election_engine/pkg/ledger"
	"election_engine/pkg/scheduler"
	"election_engine/pkg/status"
	"election_engine/pkg/voting"
)

// Task IDs
const (
	TaskStatusFast     = "status-fast"
	TaskStatusBackstop = "status-backstop"
	TaskFinalization   = "finalization"
	TaskAudit          = "audit"
)

// Engines groups the components that share one store, ledger and publisher
type Engines struct {
	Status    *status.Engine
	Finalizer *finalization.Scheduler
	Auditor   *audit.Engine
	Votes     *voting.Recorder
}

// NewEngines builds every engine on top of the given dependencies
func NewEngines(cfg *config.Config, repo data.Repository, client ledger.Client, publisher events.Publisher, logger *zap.Logger) *Engines {
	return &Engines{
		Status:    status.NewEngine(repo, publisher, logger),
		Finalizer: finalization.NewScheduler(repo, client, publisher, logger),
		Auditor:   audit.NewEngine(repo, client, publisher, logger, audit.WithRetryAttempts(cfg.Audit.RetryAttempts)),
		Votes:     voting.NewRecorder(repo, logger),
	}
}

// NewSchedulers registers the recurring tasks. The phase scheduler owns the
// time-driven status updates; the chain scheduler owns everything that talks
// to the ledger.
func NewSchedulers(cfg *config.Config, engines *Engines, logger *zap.Logger) (phase, chain *scheduler.Scheduler, err error) {
	phase = scheduler.NewScheduler("phase", &cfg.Scheduler, logger)
	chain = scheduler.NewScheduler("chain", &cfg.Scheduler, logger)

	reconcile := func(ctx context.Context) error {
		_, err := engines.Status.Reconcile(ctx)
		return err
	}

	type entry struct {
		sched *scheduler.Scheduler
		task  *scheduler.Task
	}
	tasks := []entry{
		{phase, &scheduler.Task{
			ID:          TaskStatusFast,
			Name:        "Phase reconcile",
			Schedule:    scheduler.Every(cfg.Scheduler.PhaseInterval),
			MaxRetries:  cfg.Scheduler.RetryAttempts,
			ExecutionFn: reconcile,
		}},
		{phase, &scheduler.Task{
			ID:          TaskStatusBackstop,
			Name:        "Phase reconcile backstop",
			Schedule:    scheduler.Every(cfg.Scheduler.BackstopInterval),
			MaxRetries:  cfg.Scheduler.RetryAttempts,
			ExecutionFn: reconcile,
		}},
		{chain, &scheduler.Task{
			ID:         TaskFinalization,
			Name:       "Registration finalization",
			Schedule:   scheduler.Every(cfg.Scheduler.PhaseInterval),
			MaxRetries: cfg.Scheduler.RetryAttempts,
			ExecutionFn: func(ctx context.Context) error {
				_, err := engines.Finalizer.Tick(ctx)
				return err
			},
		}},
	}
	if cfg.Audit.Enabled {
		tasks = append(tasks, entry{chain, &scheduler.Task{
			ID:         TaskAudit,
			Name:       "Security audit",
			Schedule:   scheduler.Every(cfg.Scheduler.AuditInterval),
			MaxRetries: cfg.Scheduler.RetryAttempts,
			ExecutionFn: func(ctx context.Context) error {
				_, err := engines.Auditor.RunAll(ctx)
				return err
			},
		}})
	}

	for _, t := range tasks {
		if err := t.sched.ScheduleTask(t.task); err != nil {
			return nil, nil, fmt.Errorf("scheduling %s: %w", t.task.ID, err)
		}
	}
	return phase, chain, nil
}

// App represents the running engine process
type App struct {
	config *config.Config
	logger *zap.Logger

	db      *database.Service
	eth     *ledger.EthClient
	nats    *events.NATSPublisher
	engines *Engines
	phase   *scheduler.Scheduler
	chain   *scheduler.Scheduler
	mu      sync.RWMutex
	open    bool
	running bool
	cleanup []func() error
}

// ServerStatus represents the status of the application's core services
type ServerStatus struct {
	Running           bool                                `json:"running"`
	DatabaseConnected bool                                `json:"databaseConnected"`
	EventsConnected   bool                                `json:"eventsConnected"`
	SchedulersRunning bool                                `json:"schedulersRunning"`
	Schedulers        map[string]scheduler.SchedulerStats `json:"schedulers,omitempty"`
}

// New creates an application instance
func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		config: cfg,
		logger: logger,
		db:     database.NewService(&cfg.Database, logger),
	}
}

// Open connects the store, the ledger and the event sink and builds the
// engines. It does not start any scheduler.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openLocked(ctx)
}

// Start opens the application and starts both schedulers
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if err := a.openLocked(ctx); err != nil {
		return err
	}

	phase, chain, err := NewSchedulers(a.config, a.engines, a.logger)
	if err != nil {
		return err
	}
	for _, s := range []*scheduler.Scheduler{phase, chain} {
		if err := s.Start(); err != nil {
			return fmt.Errorf("starting %s scheduler: %w", s.Name(), err)
		}
		a.cleanup = append(a.cleanup, s.Stop)
	}
	a.phase, a.chain = phase, chain

	a.running = true
	a.logger.Info("Application started successfully")
	return nil
}

// Stop releases everything in reverse order of acquisition
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			a.logger.Error("Shutdown error", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.db.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping database: %w", err))
	}

	a.cleanup = nil
	a.open, a.running = false, false
	a.logger.Info("All services stopped")
	return errors.Join(errs...)
}

// Engines returns the engines built by Open
func (a *App) Engines() *Engines {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engines
}

// Database returns the database service
func (a *App) Database() *database.Service {
	return a.db
}

// Status reports the health of the core services
func (a *App) Status(ctx context.Context) ServerStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := ServerStatus{
		Running:           a.running,
		DatabaseConnected: a.db.IsHealthy(ctx),
		EventsConnected:   a.nats != nil,
		SchedulersRunning: a.phase != nil && a.chain != nil,
	}
	for _, s := range []*scheduler.Scheduler{a.phase, a.chain} {
		if s == nil {
			continue
		}
		if st.Schedulers == nil {
			st.Schedulers = make(map[string]scheduler.SchedulerStats, 2)
		}
		st.Schedulers[s.Name()] = s.GetSchedulerStats()
	}
	return st
}

func (a *App) openLocked(ctx context.Context) error {
	if a.open {
		return nil
	}

	if err := a.db.Start(ctx); err != nil {
		return fmt.Errorf("starting database: %w", err)
	}

	eth, err := ledger.DialEth(ctx, &a.config.Ledger, a.logger)
	if err != nil {
		a.db.Stop(ctx)
		return fmt.Errorf("connecting to ledger: %w", err)
	}
	a.eth = eth
	a.cleanup = append(a.cleanup, func() error {
		eth.Close()
		return nil
	})

	var publisher events.Publisher = events.NewLogPublisher(a.logger)
	if a.config.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(a.config.Events.NATSURL, a.config.Events.SubjectPrefix, a.logger)
		if err != nil {
			a.closeLocked(ctx)
			return fmt.Errorf("connecting to nats: %w", err)
		}
		a.nats = nc
		a.cleanup = append(a.cleanup, nc.Close)
		publisher = nc
	}

	client := ledger.NewTimeoutClient(eth, a.config.Ledger.CallTimeout, a.config.Ledger.ConfirmTimeout)
	a.engines = NewEngines(a.config, a.db.Repository(), client, publisher, a.logger)
	a.open = true
	return nil
}

func (a *App) closeLocked(ctx context.Context) {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		_ = a.cleanup[i]()
	}
	a.cleanup = nil
	_ = a.db.Stop(ctx)
}
