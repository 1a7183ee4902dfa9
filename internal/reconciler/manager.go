package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"autoconf/internal/config"
	"autoconf/internal/store"
	"autoconf/internal/trigger"
	"autoconf/pkg/logging"
)

// Manager runs one Reconciler per policy file.
//
// Policy files that appear, change or disappear are turned into requests
// on a deduplicating work queue. A worker loads the file and applies it to
// the policy's reconciler; a failed activation is retried with exponential
// backoff. Removing a file deactivates its reconciler, deleting its records.
type Manager struct {
	mu sync.RWMutex

	config ManagerConfig

	dispatcher trigger.Dispatcher
	store      store.Store

	// reconcilerOpts are passed to every reconciler the manager creates
	reconcilerOpts []Option

	// changeDetector detects policy file changes
	changeDetector ChangeDetector

	// reconcilers maps policy names to their running reconcilers
	reconcilers map[string]*runningReconciler

	// queue is the work queue for policy requests
	queue *delayedQueue

	// statusTracker tracks the status of each policy
	statusTracker map[string]*PolicyStatus

	// changeChan receives change events from the detector
	changeChan chan PolicyChange

	// ctx is the manager's context
	ctx context.Context

	// cancelFunc cancels the manager's context
	cancelFunc context.CancelFunc

	// wg tracks running goroutines
	wg sync.WaitGroup

	// running indicates if the manager is active
	running bool
}

// runningReconciler is a reconciler together with its event loop.
type runningReconciler struct {
	reconciler *Reconciler
	cancel     context.CancelFunc
	done       chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithReconcilerOptions sets options applied to every reconciler.
func WithReconcilerOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.reconcilerOpts = append(m.reconcilerOpts, opts...)
	}
}

// WithChangeDetector replaces the filesystem detector.
func WithChangeDetector(d ChangeDetector) ManagerOption {
	return func(m *Manager) {
		m.changeDetector = d
	}
}

// NewManager creates a new policy manager.
func NewManager(cfg ManagerConfig, dispatcher trigger.Dispatcher, st store.Store, opts ...ManagerOption) *Manager {
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 500 * time.Millisecond
	}

	m := &Manager{
		config:        cfg,
		dispatcher:    dispatcher,
		store:         st,
		reconcilers:   make(map[string]*runningReconciler),
		queue:         newDelayedQueue(),
		statusTracker: make(map[string]*PolicyStatus),
		changeChan:    make(chan PolicyChange, 100),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start queues every existing policy file and begins watching for changes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}

	if m.changeDetector == nil {
		if m.config.PoliciesDir == "" {
			m.mu.Unlock()
			return fmt.Errorf("policies directory required")
		}
		m.changeDetector = NewFilesystemDetector(m.config.PoliciesDir, m.config.DebounceInterval)
	}

	m.ctx, m.cancelFunc = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	if err := m.changeDetector.Start(m.ctx, m.changeChan); err != nil {
		m.mu.Lock()
		m.running = false
		m.cancelFunc()
		m.mu.Unlock()
		return fmt.Errorf("failed to start change detector: %w", err)
	}

	if err := m.queueExisting(); err != nil {
		logging.Warn("PolicyManager", "Failed to list policies in %s: %v", m.config.PoliciesDir, err)
	}

	m.wg.Add(1)
	go m.processChangeEvents()

	for i := 0; i < m.config.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	logging.Info("PolicyManager", "Started with %d workers", m.config.WorkerCount)
	return nil
}

// queueExisting queues a request for every policy file already present.
func (m *Manager) queueExisting() error {
	if m.config.PoliciesDir == "" {
		return nil
	}

	entries, err := os.ReadDir(m.config.PoliciesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !config.IsYAMLFile(e.Name()) {
			continue
		}
		path := filepath.Join(m.config.PoliciesDir, e.Name())
		m.handleChangeEvent(PolicyChange{
			Name:      config.PolicyNameFromPath(path),
			Operation: OperationCreate,
			Timestamp: time.Now(),
			FilePath:  path,
		})
	}
	return nil
}

// processChangeEvents converts change events to policy requests.
func (m *Manager) processChangeEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case change, ok := <-m.changeChan:
			if !ok {
				return
			}
			m.handleChangeEvent(change)
		}
	}
}

// handleChangeEvent queues a fresh request for the changed policy.
func (m *Manager) handleChangeEvent(change PolicyChange) {
	m.queueRequest(change, false)
}

func (m *Manager) queueRequest(change PolicyChange, force bool) {
	logging.Debug("PolicyManager", "Handling change event: %s %s", change.Operation, change.Name)

	m.queue.Forget(change.Name)
	m.updateStatus(change.Name, change.FilePath, StatePending, "")
	m.queue.Add(PolicyRequest{
		Name:     change.Name,
		FilePath: change.FilePath,
		Attempt:  1,
		Force:    force,
	})
}

// worker processes policy requests from the queue.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	logging.Debug("PolicyManager", "Worker %d started", id)

	for {
		req, ok := m.queue.Get(m.ctx)
		if !ok {
			logging.Debug("PolicyManager", "Worker %d shutting down", id)
			return
		}

		m.processRequest(req)
		m.queue.Done(req)
		logging.Debug("PolicyManager", "Worker %d finished %s, %d requests queued", id, req.Name, m.queue.Len())
	}
}

// processRequest loads the policy file and applies it, or removes the
// policy when no file defines it any more. When both name.yaml and name.yml
// exist, the request is served from the preferred one.
func (m *Manager) processRequest(req PolicyRequest) {
	files, err := config.PolicyFilesFor(filepath.Dir(req.FilePath), req.Name)
	if err != nil {
		m.handleApplyError(req, err)
		return
	}
	if len(files) == 0 {
		m.removePolicy(req.Name)
		return
	}
	if files[0] != req.FilePath && slices.Contains(files, req.FilePath) {
		logging.Warn("PolicyManager", "Ignoring %s: policy %s is defined by %s", req.FilePath, req.Name, files[0])
	}
	req.FilePath = files[0]

	m.updateStatus(req.Name, req.FilePath, StateApplying, "")

	logging.Debug("PolicyManager", "Applying policy %s (attempt %d)", req.Name, req.Attempt)

	policy, err := config.LoadPolicy(req.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		m.removePolicy(req.Name)
		return
	}
	if err != nil {
		m.handleApplyError(req, err)
		return
	}

	r := m.reconcilerFor(policy.Name)
	if current, ok := r.Policy(); ok && !req.Force && current.Equal(policy) {
		logging.Debug("PolicyManager", "Policy %s is unchanged", policy.Name)
		m.updateStatus(req.Name, req.FilePath, StateActive, "")
		return
	}
	if err := r.ApplyPolicy(m.ctx, policy); err != nil {
		m.handleApplyError(req, err)
		return
	}

	logging.Info("PolicyManager", "Policy %s is active with %d records", policy.Name, len(r.Records()))
	logMetrics(policy.Name, r.Metrics())
	m.updateStatus(req.Name, req.FilePath, StateActive, "")
}

// handleApplyError records a failed activation and schedules a retry.
func (m *Manager) handleApplyError(req PolicyRequest, err error) {
	logging.Warn("PolicyManager", "Applying policy %s failed: %v", req.Name, err)

	if req.Attempt >= m.config.MaxRetries {
		logging.Error("PolicyManager", err, "Max retries exceeded for policy %s", req.Name)
		m.updateStatus(req.Name, req.FilePath, StateFailed, err.Error())
		return
	}

	m.updateStatus(req.Name, req.FilePath, StateError, err.Error())

	backoff := m.calculateBackoff(req.Attempt)

	req.Attempt++
	req.LastError = err
	m.queue.AddAfter(req, backoff)

	logging.Debug("PolicyManager", "Requeuing policy %s after %v (attempt %d)", req.Name, backoff, req.Attempt)
}

// calculateBackoff computes exponential backoff.
func (m *Manager) calculateBackoff(attempt int) time.Duration {
	backoff := m.config.InitialBackoff * time.Duration(1<<uint(attempt-1))

	if backoff > m.config.MaxBackoff || backoff <= 0 {
		backoff = m.config.MaxBackoff
	}

	return backoff
}

// reconcilerFor returns the reconciler for name, starting one if needed.
func (m *Manager) reconcilerFor(name string) *Reconciler {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rr, ok := m.reconcilers[name]; ok {
		return rr.reconciler
	}

	opts := append([]Option{WithLogger(logging.ForSubsystem("Reconciler"))}, m.reconcilerOpts...)
	r := New(name, m.dispatcher, m.store, opts...)

	ctx, cancel := context.WithCancel(m.ctx)
	rr := &runningReconciler{reconciler: r, cancel: cancel, done: make(chan struct{})}
	m.reconcilers[name] = rr

	go func() {
		defer close(rr.done)
		_ = r.Run(ctx)
	}()

	return r
}

// removePolicy deactivates the policy's reconciler and forgets its status.
func (m *Manager) removePolicy(name string) {
	m.queue.Forget(name)

	m.mu.Lock()
	rr, ok := m.reconcilers[name]
	delete(m.reconcilers, name)
	delete(m.statusTracker, name)
	m.mu.Unlock()

	if !ok {
		return
	}

	rr.cancel()
	<-rr.done
	rr.reconciler.Deactivate(context.WithoutCancel(m.ctx))
	logging.Info("PolicyManager", "Removed policy %s", name)
	logMetrics(name, rr.reconciler.Metrics())
}

func logMetrics(name string, s ReconcilerMetricsSummary) {
	logging.Debug("PolicyManager", "Policy %s: %d creates, %d updates, %d deletes, %d skipped writes, %d failures",
		name, s.Creates, s.Updates, s.Deletes, s.SkippedWrites, s.Failures())
}

// updateStatus updates the status of a policy.
func (m *Manager) updateStatus(name, filePath string, state PolicyState, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statusTracker[name]
	if !ok {
		status = &PolicyStatus{Name: name}
		m.statusTracker[name] = status
	}

	status.FilePath = filePath
	status.State = state
	status.LastError = errMsg

	switch state {
	case StateActive:
		now := time.Now()
		status.LastAppliedTime = &now
		status.RetryCount = 0
	case StateError:
		status.RetryCount++
	}
}

// Stop stops watching, waits for in-flight work and deactivates every
// reconciler.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	logging.Info("PolicyManager", "Stopping policy manager...")

	if err := m.changeDetector.Stop(); err != nil {
		logging.Error("PolicyManager", err, "Error stopping change detector")
	}

	deactivateCtx := context.WithoutCancel(m.ctx)
	m.cancelFunc()
	m.queue.Shutdown()
	m.wg.Wait()

	m.mu.Lock()
	running := m.reconcilers
	m.reconcilers = make(map[string]*runningReconciler)
	m.mu.Unlock()

	names := make([]string, 0, len(running))
	for name := range running {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rr := running[name]
		<-rr.done
		rr.reconciler.Deactivate(deactivateCtx)
	}

	logging.Info("PolicyManager", "Policy manager stopped")
	return nil
}

// Reconciler returns the reconciler of the named policy.
func (m *Manager) Reconciler(name string) (*Reconciler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rr, ok := m.reconcilers[name]
	if !ok {
		return nil, false
	}
	return rr.reconciler, true
}

// GetStatus returns the status of the named policy.
func (m *Manager) GetStatus(name string) (PolicyStatus, bool) {
	m.mu.RLock()
	status, ok := m.statusTracker[name]
	var out PolicyStatus
	if ok {
		out = *status
	}
	rr, running := m.reconcilers[name]
	m.mu.RUnlock()

	if ok && running {
		out.Records = len(rr.reconciler.Records())
	}
	return out, ok
}

// GetAllStatuses returns the status of every known policy, ordered by name.
func (m *Manager) GetAllStatuses() []PolicyStatus {
	m.mu.RLock()
	names := make([]string, 0, len(m.statusTracker))
	for name := range m.statusTracker {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	statuses := make([]PolicyStatus, 0, len(names))
	for _, name := range names {
		if status, ok := m.GetStatus(name); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// Reapply queues the named policy for another application, even if its file
// is unchanged. It returns false for policies the manager has never seen.
func (m *Manager) Reapply(name string) bool {
	m.mu.RLock()
	status, ok := m.statusTracker[name]
	var path string
	if ok {
		path = status.FilePath
	}
	m.mu.RUnlock()

	if !ok {
		return false
	}
	m.queueRequest(PolicyChange{
		Name:      name,
		Operation: OperationUpdate,
		Timestamp: time.Now(),
		FilePath:  path,
	}, true)
	return true
}
