// Package dispatcher owns the scheduling loop: it polls pending tasks
// and fans them out to worker goroutines while holding two invariants
// at all times: at most one running run per project, and at most
// MaxConcurrentRuns running runs in total.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"conductor/internal/config"
	"conductor/internal/store"
)

// TaskExecutor is the downstream that drives one task to a terminal
// status.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task store.Task) error
}

// Dispatcher schedules pending tasks onto the executor.
type Dispatcher struct {
	store    *store.Store
	executor TaskExecutor
	cfg      config.Config
	logger   *zap.Logger

	mu      sync.Mutex
	running map[string]int64 // project id -> task id currently running
	wg      sync.WaitGroup
}

// New creates a dispatcher.
func New(st *store.Store, exec TaskExecutor, cfg config.Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		executor: exec,
		cfg:      cfg,
		logger:   logger,
		running:  make(map[string]int64),
	}
}

// Run polls until the context is canceled. In-flight runs are allowed
// to finish before Run returns; cancellation stops new dispatches only.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Int("max_concurrent_runs", d.cfg.Dispatcher.MaxConcurrentRuns),
		zap.Duration("poll_interval", d.cfg.PendingPoll()))

	ticker := time.NewTicker(d.cfg.PendingPoll())
	defer ticker.Stop()

	d.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping, waiting for in-flight runs")
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll performs one scheduling pass over the pending queue.
func (d *Dispatcher) poll(ctx context.Context) {
	d.logRunningSet()

	tasks, err := d.store.PendingTasks()
	if err != nil {
		d.logger.Error("failed to list pending tasks", zap.Error(err))
		return
	}
	if len(tasks) == 0 {
		return
	}
	d.logger.Info("pending tasks found", zap.Int("count", len(tasks)))

	dispatched := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if !d.tryAcquire(task) {
			continue
		}
		if dispatched > 0 {
			// Stagger consecutive spawns so simultaneous assistant
			// startups don't contend on the store.
			select {
			case <-ctx.Done():
				d.release(task.ProjectID)
				return
			case <-time.After(d.cfg.PerTaskStagger()):
			}
		}
		d.spawn(ctx, task)
		dispatched++
	}
}

// tryAcquire claims a scheduling slot for the task's project. Returns
// false when the project already has a running task or the global cap
// is reached.
func (d *Dispatcher) tryAcquire(task store.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.running[task.ProjectID]; busy {
		return false
	}
	if len(d.running) >= d.cfg.Dispatcher.MaxConcurrentRuns {
		return false
	}
	d.running[task.ProjectID] = task.ID
	return true
}

func (d *Dispatcher) release(projectID string) {
	d.mu.Lock()
	delete(d.running, projectID)
	d.mu.Unlock()
}

// spawn hands the task to a worker goroutine. The slot taken in
// tryAcquire is released when the worker finishes, never earlier.
func (d *Dispatcher) spawn(ctx context.Context, task store.Task) {
	workerID := uuid.NewString()[:8]
	log := d.logger.With(
		zap.String("worker_id", workerID),
		zap.Int64("task_id", task.ID),
		zap.String("project_id", task.ProjectID))
	log.Info("dispatching task", zap.String("title", task.Title))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(task.ProjectID)
		if err := d.executor.ExecuteTask(ctx, task); err != nil {
			log.Error("task execution finished with error", zap.Error(err))
			return
		}
		log.Info("task execution finished")
	}()
}

// logRunningSet reports the current worker occupancy at the top of each
// poll.
func (d *Dispatcher) logRunningSet() {
	d.mu.Lock()
	projects := make([]string, 0, len(d.running))
	for projectID := range d.running {
		projects = append(projects, projectID)
	}
	d.mu.Unlock()
	d.logger.Info("scheduling pass",
		zap.Int("running", len(projects)),
		zap.Strings("projects", projects))
}

// Wait blocks until all in-flight workers have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
