package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/warden/internal/store"
	"github.com/ShayCichocki/warden/pkg/models"
)

// Config contains configuration options for the Orchestrator.
type Config struct {
	// DefaultQuota applies to requesters without an explicit quota.
	DefaultQuota models.ResourceQuota
	// RateLimit configures the per-requester token buckets.
	RateLimit RateLimiterConfig
	// Breaker configures the task-creation circuit breaker.
	Breaker CircuitBreakerConfig
	// ReclaimInterval is how often the orphan reclaimer scans.
	ReclaimInterval time.Duration
	// EventBuffer is the capacity of the events channel.
	EventBuffer int
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		DefaultQuota:    models.DefaultQuota(),
		RateLimit:       DefaultRateLimiterConfig(),
		Breaker:         DefaultCircuitBreakerConfig(),
		ReclaimInterval: 30 * time.Second,
		EventBuffer:     100,
	}
}

// SpawnOptions describes one spawn request.
type SpawnOptions struct {
	// ParentID is the spawning task, empty for a root spawn.
	ParentID string
	// Title is a human-readable task description.
	Title string
	// WaitFor lists task IDs the new task will block on.
	WaitFor []string
	// Priority orders queued admission; higher runs first.
	Priority int
	// Queue makes a concurrency-limited spawn wait for capacity instead
	// of being rejected.
	Queue bool
	// Config carries opaque per-task settings.
	Config map[string]string
}

// Orchestrator is the spawn admission facade. Every spawn passes, in
// order, through the rate limiter, the resource manager, the deadlock
// detector, and the circuit-breaker-guarded durable store. A rejection
// at any stage unwinds the earlier stages, so a failed spawn leaves no
// partial state behind.
type Orchestrator struct {
	cfg Config

	store     store.TaskStore
	limiter   *RateLimiter
	resources *ResourceManager
	deadlock  *DeadlockDetector
	breaker   *CircuitBreaker
	scheduler *PriorityScheduler
	tree      *ExecutionTree
	emitter   *eventEmitter
	reclaimer *OrphanReclaimer

	// mu protects lifecycle state
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stop    sync.Once
}

// New creates an Orchestrator backed by the given store.
func New(cfg Config, s store.TaskStore) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		store:     s,
		limiter:   NewRateLimiter(cfg.RateLimit),
		resources: NewResourceManager(cfg.DefaultQuota),
		deadlock:  NewDeadlockDetector(),
		breaker:   NewCircuitBreaker(cfg.Breaker),
		scheduler: NewPriorityScheduler(),
		tree:      NewExecutionTree(),
		emitter:   newEventEmitter(cfg.EventBuffer),
	}
	o.reclaimer = NewOrphanReclaimer(s, o.cancelInternal, cfg.ReclaimInterval)
	return o
}

// Start launches the orphan reclaimer. It is an error to start twice.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return errors.New("orchestrator already started")
	}
	o.started = true

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.reclaimer.Run(runCtx)
	}()

	log.Printf("[orchestrator] started (reclaim interval %s)", o.cfg.ReclaimInterval)
	return nil
}

// Stop shuts down background work and closes the events channel. It is
// safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stop.Do(func() {
		o.mu.Lock()
		if o.cancel != nil {
			o.cancel()
		}
		o.mu.Unlock()

		o.wg.Wait()
		o.emitter.Close()
		log.Printf("[orchestrator] stopped")
	})
}

// Events returns the orchestrator's lifecycle event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Spawn admits a new task for the given requester. On success the task
// is persisted in the pending state and its record returned. On
// rejection a *models.SpawnError describes the stage that refused it.
func (o *Orchestrator) Spawn(ctx context.Context, requesterKey string, opts SpawnOptions) (*models.TaskRecord, error) {
	if err := o.limiter.Acquire(ctx, requesterKey, 1); err != nil {
		return nil, err
	}

	depth := 0
	if opts.ParentID != "" {
		parent, err := o.store.Get(opts.ParentID)
		if err != nil {
			return nil, fmt.Errorf("resolve parent %s: %w", opts.ParentID, err)
		}
		if parent.Terminal() {
			return nil, fmt.Errorf("parent %s is already terminal", opts.ParentID)
		}
		depth = parent.SpawnDepth + 1
	}

	taskID := uuid.New().String()

	for {
		err := o.resources.Acquire(taskID, requesterKey, opts.ParentID, depth)
		if err == nil {
			break
		}
		if !opts.Queue || !isConcurrencyLimit(err) {
			return nil, err
		}

		// Out of capacity but the caller opted in to queueing: park the
		// request until a running task releases its slot.
		ticket := o.scheduler.Enqueue(taskID, opts.Priority)
		select {
		case <-ticket.Admitted():
		case <-ctx.Done():
			o.scheduler.Remove(taskID)
			return nil, ctx.Err()
		}
	}

	if err := o.deadlock.AddWaitEdges(taskID, opts.WaitFor); err != nil {
		o.resources.Release(taskID)
		o.admitNext()
		return nil, err
	}

	rec := &models.TaskRecord{
		ID:           taskID,
		RequesterKey: requesterKey,
		ParentID:     opts.ParentID,
		Title:        opts.Title,
		Status:       models.TaskStatusPending,
		SpawnDepth:   depth,
		WaitFor:      append([]string(nil), opts.WaitFor...),
		Config:       opts.Config,
		CreatedAt:    time.Now().UTC(),
	}

	if err := o.breaker.Execute(func() error { return o.store.Insert(rec) }); err != nil {
		o.deadlock.RemoveAgent(taskID)
		o.resources.Release(taskID)
		o.admitNext()
		return nil, err
	}

	o.tree.Add(taskID, opts.ParentID)
	o.emitter.Emit(Event{
		Type:         EventTaskCreated,
		TaskID:       taskID,
		RequesterKey: requesterKey,
		ParentID:     opts.ParentID,
		Timestamp:    time.Now(),
	})
	return rec.Clone(), nil
}

// MarkScheduled moves a pending task to the scheduled state.
func (o *Orchestrator) MarkScheduled(taskID string) error {
	if err := o.store.UpdateStatus(taskID, models.TaskStatusScheduled, store.StatusPatch{}); err != nil {
		return err
	}
	o.emitLifecycle(EventTaskScheduled, taskID, "")
	return nil
}

// MarkRunning moves a scheduled task to the running state.
func (o *Orchestrator) MarkRunning(taskID string) error {
	now := time.Now().UTC()
	if err := o.store.UpdateStatus(taskID, models.TaskStatusRunning, store.StatusPatch{StartedAt: &now}); err != nil {
		return err
	}
	o.emitLifecycle(EventTaskStarted, taskID, "")
	return nil
}

// Complete marks a task completed with its result and releases its
// resources.
func (o *Orchestrator) Complete(taskID, result string) error {
	now := time.Now().UTC()
	err := o.store.UpdateStatus(taskID, models.TaskStatusCompleted, store.StatusPatch{
		CompletedAt: &now,
		Result:      result,
	})
	if err != nil {
		return err
	}
	o.releaseTask(taskID)
	o.emitLifecycle(EventTaskCompleted, taskID, "")
	return nil
}

// Fail marks a task failed with an error message and releases its
// resources. Its live descendants are reclaimed as orphans on the next
// reclaimer pass.
func (o *Orchestrator) Fail(taskID, message string) error {
	return o.finishWithError(taskID, models.TaskStatusFailed, "", message)
}

// Timeout marks a task as timed out and releases its resources.
func (o *Orchestrator) Timeout(taskID, message string) error {
	return o.finishWithError(taskID, models.TaskStatusTimeout, models.KindTimeout, message)
}

// Cancel cancels a task and cascades cancellation to its live
// descendants.
func (o *Orchestrator) Cancel(taskID, message string) error {
	return o.cancelInternal(taskID, "", message)
}

// SetQuota installs a per-requester quota override.
func (o *Orchestrator) SetQuota(requesterKey string, quota models.ResourceQuota) error {
	return o.resources.SetQuota(requesterKey, quota)
}

// ApplyQuotas replaces the default quota and installs the given
// per-requester overrides, e.g. after a config reload. Running tasks are
// unaffected; the new limits apply to subsequent spawns.
func (o *Orchestrator) ApplyQuotas(defaults models.ResourceQuota, overrides map[string]models.ResourceQuota) error {
	if err := o.resources.SetDefaultQuota(defaults); err != nil {
		return err
	}
	for key, quota := range overrides {
		if err := o.resources.SetQuota(key, quota); err != nil {
			return fmt.Errorf("quota for %s: %w", key, err)
		}
	}
	return nil
}

// QuotaFor returns the effective quota for a requester.
func (o *Orchestrator) QuotaFor(requesterKey string) models.ResourceQuota {
	return o.resources.QuotaFor(requesterKey)
}

// ActiveCount returns the number of live tasks for a requester.
func (o *Orchestrator) ActiveCount(requesterKey string) int {
	return o.resources.ActiveCount(requesterKey)
}

// QueueLength returns the number of spawn requests waiting for capacity.
func (o *Orchestrator) QueueLength() int {
	return o.scheduler.Len()
}

// BumpPriority changes a queued spawn request's priority.
func (o *Orchestrator) BumpPriority(taskID string, priority int) bool {
	return o.scheduler.BumpPriority(taskID, priority)
}

// BreakerState returns a snapshot of the circuit breaker.
func (o *Orchestrator) BreakerState() BreakerSnapshot {
	return o.breaker.State()
}

// WaitGraph returns a snapshot of the wait-for graph.
func (o *Orchestrator) WaitGraph() map[string][]string {
	return o.deadlock.Snapshot()
}

// ListActive returns all non-terminal task records.
func (o *Orchestrator) ListActive() ([]*models.TaskRecord, error) {
	return o.store.ListActive()
}

// Get returns a task record by ID.
func (o *Orchestrator) Get(taskID string) (*models.TaskRecord, error) {
	return o.store.Get(taskID)
}

// TreeNode is one node of an execution tree snapshot.
type TreeNode struct {
	// Record is the task at this node.
	Record *models.TaskRecord
	// Children are the node's child subtrees, in creation order.
	Children []*TreeNode
}

// GetExecutionTree returns the subtree rooted at the given task as a
// nested snapshot, or nil if the task does not exist.
func (o *Orchestrator) GetExecutionTree(rootID string) (*TreeNode, error) {
	records, err := o.store.GetSubtree(rootID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	nodes := make(map[string]*TreeNode, len(records))
	for _, rec := range records {
		nodes[rec.ID] = &TreeNode{Record: rec}
	}
	root := nodes[records[0].ID]
	for _, rec := range records[1:] {
		if parent, ok := nodes[rec.ParentID]; ok {
			parent.Children = append(parent.Children, nodes[rec.ID])
		}
	}
	return root, nil
}

// Reclaim runs one orphan reclamation pass immediately.
func (o *Orchestrator) Reclaim() (int, error) {
	return o.reclaimer.Scan()
}

// finishWithError moves a task to an unsuccessful terminal state.
func (o *Orchestrator) finishWithError(taskID string, status models.TaskStatus, kind models.ErrorKind, message string) error {
	now := time.Now().UTC()
	err := o.store.UpdateStatus(taskID, status, store.StatusPatch{
		CompletedAt: &now,
		Error:       message,
		ErrorKind:   kind,
	})
	if err != nil {
		return err
	}
	o.releaseTask(taskID)
	o.emitLifecycle(EventTaskFailed, taskID, kind)
	return nil
}

// cancelInternal cancels a task with the given classification, then
// cancels its live descendants with the PARENT_CANCELLED
// classification. Already-terminal records are skipped, which makes
// cascades idempotent and order-independent.
func (o *Orchestrator) cancelInternal(taskID string, kind models.ErrorKind, message string) error {
	records, err := o.store.GetSubtree(taskID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return store.ErrNotFound
	}

	for _, rec := range records {
		if rec.Terminal() {
			continue
		}
		recKind := kind
		recMessage := message
		if rec.ID != taskID {
			recKind = models.KindParentCancelled
			recMessage = fmt.Sprintf("parent %s cancelled", rec.ParentID)
		}

		now := time.Now().UTC()
		err := o.store.UpdateStatus(rec.ID, models.TaskStatusCancelled, store.StatusPatch{
			CompletedAt: &now,
			Error:       recMessage,
			ErrorKind:   recKind,
		})
		if err != nil {
			if errors.Is(err, store.ErrTerminal) {
				continue
			}
			return fmt.Errorf("cancel %s: %w", rec.ID, err)
		}
		o.releaseTask(rec.ID)
		o.emitLifecycle(EventTaskCancelled, rec.ID, recKind)
	}
	return nil
}

// releaseTask frees every in-memory reservation a task holds and admits
// the next queued spawn if capacity freed up.
func (o *Orchestrator) releaseTask(taskID string) {
	o.resources.Release(taskID)
	o.deadlock.RemoveAgent(taskID)
	o.tree.Remove(taskID)
	o.admitNext()
}

// admitNext releases the highest-priority queued spawn request.
func (o *Orchestrator) admitNext() {
	o.scheduler.AdmitNext()
}

// emitLifecycle emits a lifecycle event for a task, looking up its
// requester and parent from the store on a best-effort basis.
func (o *Orchestrator) emitLifecycle(eventType EventType, taskID string, kind models.ErrorKind) {
	event := Event{
		Type:      eventType,
		TaskID:    taskID,
		ErrorKind: kind,
		Timestamp: time.Now(),
	}
	if rec, err := o.store.Get(taskID); err == nil {
		event.RequesterKey = rec.RequesterKey
		event.ParentID = rec.ParentID
	}
	o.emitter.Emit(event)
}

// isConcurrencyLimit reports whether an error is a RESOURCE_EXHAUSTED
// rejection on the concurrent-agent limit, the only quota that frees up
// over time and is therefore worth queueing on.
func isConcurrencyLimit(err error) bool {
	var spawnErr *models.SpawnError
	if !errors.As(err, &spawnErr) {
		return false
	}
	return spawnErr.Code == models.CodeResourceExhausted && spawnErr.Reason == models.ReasonConcurrentLimit
}
