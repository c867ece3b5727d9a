package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/metrics"
)

// TaskHandler is a function that processes a task payload.
type TaskHandler func(ctx context.Context, payload any) error

// TaskOptions configures how a task should be dispatched and executed.
type TaskOptions struct {
	// GroupKey ensures serialized execution for tasks that share the same group.
	// Renders use "channel:role" so two renders of one list never overlap.
	GroupKey string

	// IdempotencyKey deduplicates tasks enqueued within the IdempotencyTTL window.
	IdempotencyKey string

	// MaxAttempts controls how many times the task may be retried on handler error.
	// If 0, router uses RouterConfig.DefaultMaxAttempts.
	MaxAttempts int

	// InitialBackoff sets the initial backoff used for retries. If 0, router uses RouterConfig.InitialBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. If 0, router uses RouterConfig.MaxBackoff.
	MaxBackoff time.Duration

	// IdempotencyTTL controls how long the idempotency key is kept for deduplication.
	// If 0, router uses RouterConfig.IdempotencyTTL.
	IdempotencyTTL time.Duration
}

// Task encapsulates the work to be executed by the router.
type Task struct {
	Type    string
	Payload any
	Options TaskOptions
}

// RouterConfig configures the TaskRouter behavior.
type RouterConfig struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration

	// GroupBuffer controls the buffered channel size for each group worker.
	GroupBuffer int

	// GroupIdleTTL after which an idle group worker is stopped.
	GroupIdleTTL time.Duration

	// CleanupInterval controls how often expired idempotency keys are swept.
	CleanupInterval time.Duration

	// CronTick is the resolution of ScheduleEvery.
	CronTick time.Duration

	// GlobalMaxWorkers limits concurrent handler executions across all groups. 0 means unlimited.
	GlobalMaxWorkers int
}

// Defaults returns a RouterConfig with sensible defaults.
func Defaults() RouterConfig {
	return RouterConfig{
		DefaultMaxAttempts: 3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     60 * time.Second,
		GroupBuffer:        128,
		GroupIdleTTL:       2 * time.Minute,
		CleanupInterval:    2 * time.Minute,
		CronTick:           1 * time.Second,
		GlobalMaxWorkers:   0, // unlimited by default
	}
}

// Errors returned by the router.
var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task (idempotency key present)")
	ErrQueueFull       = errors.New("task group queue is full")
)

const globalGroup = "_global"

// TaskRouter is an in-memory dispatcher with per-group serialization,
// idempotency (dedupe), retry with exponential backoff and a coarse interval scheduler.
type TaskRouter struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
	groups   map[string]*groupWorker
	inflight map[string]time.Time // idempotencyKey -> expiry
	closed   bool
	cfg      RouterConfig
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// baseCtx is handed to handlers and cancelled by Close.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	randMutex sync.Mutex
	execSem   chan struct{}

	cronMu   sync.Mutex
	cronJobs []*cronJob
}

type groupWorker struct {
	key      string
	ch       chan *enqueuedTask
	quit     chan struct{}
	stopping bool
	// senders counts enqueue calls between reserve and their send; guarded by TaskRouter.mu.
	senders int
}

type enqueuedTask struct {
	task    Task
	attempt int
	// done receives the final outcome when the caller waits via Do.
	done chan error
}

func (et *enqueuedTask) finish(err error) {
	if et.done != nil {
		et.done <- err
	}
}

type cronJob struct {
	Interval time.Duration
	Task     Task
	lastRun  time.Time
	stopped  bool
}

// NewRouter creates a new TaskRouter with the provided configuration.
func NewRouter(cfg RouterConfig) *TaskRouter {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.CronTick <= 0 {
		cfg.CronTick = def.CronTick
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &TaskRouter{
		handlers:   make(map[string]TaskHandler),
		groups:     make(map[string]*groupWorker),
		inflight:   make(map[string]time.Time),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	if cfg.GlobalMaxWorkers > 0 {
		tr.execSem = make(chan struct{}, cfg.GlobalMaxWorkers)
	}

	tr.wg.Add(1)
	go tr.backgroundLoop()
	return tr
}

// RegisterHandler registers a handler for the given task type.
func (tr *TaskRouter) RegisterHandler(taskType string, handler TaskHandler) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handlers[taskType] = handler
}

// Dispatch enqueues a task for execution, respecting grouping and idempotency.
// Returns ErrUnknownTaskType if no handler is registered.
// Returns ErrDuplicateTask when a non-expired IdempotencyKey already exists.
func (tr *TaskRouter) Dispatch(ctx context.Context, t Task) error {
	return tr.enqueue(ctx, &enqueuedTask{task: t, attempt: 1})
}

// Do enqueues t and waits for its final outcome, after retries.
// The wait is abandoned when ctx ends; the task itself still runs.
func (tr *TaskRouter) Do(ctx context.Context, t Task) error {
	enq := &enqueuedTask{task: t, attempt: 1, done: make(chan error, 1)}
	if err := tr.enqueue(ctx, enq); err != nil {
		return err
	}
	select {
	case err := <-enq.done:
		return err
	case <-tr.stopCh:
		select {
		case err := <-enq.done:
			return err
		default:
			return ErrRouterClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue registers the task under the router lock and hands it to its group
// after unlocking, so a full group only blocks its own callers.
func (tr *TaskRouter) enqueue(ctx context.Context, enq *enqueuedTask) error {
	gw, idemKey, err := tr.reserve(enq.task)
	if err != nil {
		return err
	}

	var sendErr error
	select {
	case gw.ch <- enq:
	case <-gw.quit:
		sendErr = ErrRouterClosed
	case <-ctx.Done():
		sendErr = ctx.Err()
	}

	tr.mu.Lock()
	gw.senders--
	if sendErr != nil && idemKey != "" {
		delete(tr.inflight, idemKey)
	}
	tr.mu.Unlock()
	return sendErr
}

// reserve resolves the task's group and marks a pending send on it.
// A group with pending senders is never retired.
func (tr *TaskRouter) reserve(t Task) (*groupWorker, string, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.closed {
		return nil, "", ErrRouterClosed
	}

	handler, ok := tr.handlers[t.Type]
	if !ok || handler == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownTaskType, t.Type)
	}

	eff := tr.effectiveOptions(t.Options)
	if eff.IdempotencyKey != "" {
		if expiry, exists := tr.inflight[eff.IdempotencyKey]; exists && time.Now().Before(expiry) {
			return nil, "", ErrDuplicateTask
		}
		tr.inflight[eff.IdempotencyKey] = time.Now().Add(eff.IdempotencyTTL)
	}

	gw := tr.ensureGroupLocked(groupKeyOf(t))
	gw.senders++
	return gw, eff.IdempotencyKey, nil
}

func groupKeyOf(t Task) string {
	if t.Options.GroupKey == "" {
		return globalGroup
	}
	return t.Options.GroupKey
}

// Close stops the router and waits for workers to exit.
// Handlers in flight see their context cancelled; queued tasks are dropped.
func (tr *TaskRouter) Close() {
	tr.stopOnce.Do(func() {
		tr.mu.Lock()
		tr.closed = true
		for _, gw := range tr.groups {
			if !gw.stopping {
				gw.stopping = true
				close(gw.quit)
			}
		}
		tr.mu.Unlock()
		tr.cancelBase()
		close(tr.stopCh)
		tr.wg.Wait()
	})
}

// Stats provides a snapshot with counts useful for debugging/monitoring.
type Stats struct {
	GroupsCount     int
	InflightCount   int
	RouterClosed    bool
	RegisteredTypes int
	ScheduledJobs   int
}

func (tr *TaskRouter) Stats() Stats {
	tr.mu.RLock()
	st := Stats{
		GroupsCount:     len(tr.groups),
		InflightCount:   len(tr.inflight),
		RouterClosed:    tr.closed,
		RegisteredTypes: len(tr.handlers),
	}
	tr.mu.RUnlock()

	tr.cronMu.Lock()
	for _, j := range tr.cronJobs {
		if j != nil && !j.stopped {
			st.ScheduledJobs++
		}
	}
	tr.cronMu.Unlock()
	return st
}

// ScheduleEvery dispatches t every interval, first on the next cron tick.
// Returns a cancel function.
func (tr *TaskRouter) ScheduleEvery(interval time.Duration, t Task) func() {
	job := &cronJob{Interval: interval, Task: t}
	tr.cronMu.Lock()
	tr.cronJobs = append(tr.cronJobs, job)
	tr.cronMu.Unlock()

	return func() {
		tr.cronMu.Lock()
		defer tr.cronMu.Unlock()
		job.stopped = true
		for i, j := range tr.cronJobs {
			if j == job {
				tr.cronJobs = append(tr.cronJobs[:i], tr.cronJobs[i+1:]...)
				break
			}
		}
	}
}

// --- Internals ---

func (tr *TaskRouter) effectiveOptions(opt TaskOptions) TaskOptions {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = tr.cfg.DefaultMaxAttempts
	}
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = tr.cfg.InitialBackoff
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = tr.cfg.MaxBackoff
	}
	if opt.IdempotencyTTL <= 0 {
		opt.IdempotencyTTL = tr.cfg.IdempotencyTTL
	}
	return opt
}

func (tr *TaskRouter) ensureGroupLocked(key string) *groupWorker {
	if gw, ok := tr.groups[key]; ok && !gw.stopping {
		return gw
	}
	gw := &groupWorker{
		key:  key,
		ch:   make(chan *enqueuedTask, tr.cfg.GroupBuffer),
		quit: make(chan struct{}),
	}
	tr.groups[key] = gw
	tr.wg.Add(1)
	go tr.groupLoop(gw)
	return gw
}

func (tr *TaskRouter) acquireExecSlot(ctx context.Context) bool {
	if tr.execSem == nil {
		return true
	}
	select {
	case tr.execSem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (tr *TaskRouter) releaseExecSlot() {
	if tr.execSem != nil {
		<-tr.execSem
	}
}

func (tr *TaskRouter) groupLoop(gw *groupWorker) {
	defer tr.wg.Done()
	idle := time.NewTimer(tr.cfg.GroupIdleTTL)
	defer idle.Stop()
	for {
		select {
		case <-gw.quit:
			tr.drain(gw)
			return
		case enq := <-gw.ch:
			tr.execute(gw, enq)
			idle.Reset(tr.cfg.GroupIdleTTL)
		case <-idle.C:
			if tr.retireIfIdle(gw) {
				return
			}
			idle.Reset(tr.cfg.GroupIdleTTL)
		}
	}
}

// retireIfIdle removes gw from the router when its queue is empty and no send is pending.
// It runs under the router lock so no enqueue can slip in between the check and the removal.
func (tr *TaskRouter) retireIfIdle(gw *groupWorker) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(gw.ch) > 0 || gw.senders > 0 {
		return false
	}
	if tr.groups[gw.key] == gw {
		delete(tr.groups, gw.key)
	}
	if !gw.stopping {
		gw.stopping = true
		close(gw.quit)
	}
	return true
}

// drain fails the waiters of tasks that will never run.
func (tr *TaskRouter) drain(gw *groupWorker) {
	for {
		select {
		case enq := <-gw.ch:
			enq.finish(ErrRouterClosed)
		default:
			return
		}
	}
}

func (tr *TaskRouter) execute(gw *groupWorker, enq *enqueuedTask) {
	tr.mu.RLock()
	handler := tr.handlers[enq.task.Type]
	eff := tr.effectiveOptions(enq.task.Options)
	tr.mu.RUnlock()

	if handler == nil {
		log.ApplicationLogger().Warn("Task dropped (handler not registered)", "type", enq.task.Type, "group", gw.key)
		enq.finish(ErrUnknownTaskType)
		return
	}

	if !tr.acquireExecSlot(tr.baseCtx) {
		enq.finish(ErrRouterClosed)
		return
	}
	err := tr.invoke(handler, enq.task)
	tr.releaseExecSlot()
	metrics.TaskCount.WithLabelValues(enq.task.Type, metrics.ResultLabel(err)).Inc()

	if err == nil {
		enq.finish(nil)
		return
	}
	if enq.attempt < eff.MaxAttempts && tr.baseCtx.Err() == nil {
		delay := tr.computeBackoff(eff.InitialBackoff, eff.MaxBackoff, enq.attempt)
		log.ApplicationLogger().Warn("Task failed, scheduling retry",
			"type", enq.task.Type,
			"group", gw.key,
			"attempt", enq.attempt+1,
			"max_attempts", eff.MaxAttempts,
			"backoff", delay.String(),
			"err", err,
		)
		tr.retryAfter(enq, delay)
		return
	}

	log.ErrorLoggerRaw().Error("Task failed; max attempts reached",
		"type", enq.task.Type,
		"group", gw.key,
		"attempts", enq.attempt,
		"err", err,
	)
	enq.finish(err)
}

// invoke runs handler, turning a panic into an error.
func (tr *TaskRouter) invoke(handler TaskHandler, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Type, r)
		}
	}()
	return handler(tr.baseCtx, t.Payload)
}

func (tr *TaskRouter) retryAfter(enq *enqueuedTask, delay time.Duration) {
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-tr.stopCh:
			enq.finish(ErrRouterClosed)
			return
		}

		enq.attempt++
		tr.mu.Lock()
		if tr.closed {
			tr.mu.Unlock()
			enq.finish(ErrRouterClosed)
			return
		}
		gw := tr.ensureGroupLocked(groupKeyOf(enq.task))
		select {
		case gw.ch <- enq:
			tr.mu.Unlock()
		default:
			tr.mu.Unlock()
			log.ErrorLoggerRaw().Error("Task retry dropped; group queue full", "type", enq.task.Type, "group", gw.key)
			enq.finish(ErrQueueFull)
		}
	}()
}

func (tr *TaskRouter) computeBackoff(initial, maxBackoff time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
			break
		}
	}
	jitter := tr.jitter(backoff, 0.1)
	return clampDuration(backoff+jitter, initial, maxBackoff)
}

func (tr *TaskRouter) jitter(d time.Duration, ratio float64) time.Duration {
	if ratio <= 0 {
		return 0
	}
	tr.randMutex.Lock()
	defer tr.randMutex.Unlock()
	delta := int64(float64(d) * ratio)
	if delta <= 0 {
		return 0
	}
	n := rand.Int63n(2*delta+1) - delta
	return time.Duration(n)
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(min(v, hi), lo)
}

func (tr *TaskRouter) backgroundLoop() {
	defer tr.wg.Done()
	cleanup := time.NewTicker(tr.cfg.CleanupInterval)
	defer cleanup.Stop()
	cron := time.NewTicker(tr.cfg.CronTick)
	defer cron.Stop()
	for {
		select {
		case <-tr.stopCh:
			return
		case <-cleanup.C:
			tr.cleanupOnce()
		case <-cron.C:
			tr.runCronOnce()
		}
	}
}

func (tr *TaskRouter) cleanupOnce() {
	now := time.Now()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	for k, expiry := range tr.inflight {
		if now.After(expiry) {
			delete(tr.inflight, k)
		}
	}
}

func (tr *TaskRouter) runCronOnce() {
	now := time.Now()
	tr.cronMu.Lock()
	due := make([]Task, 0, len(tr.cronJobs))
	for _, job := range tr.cronJobs {
		if job.stopped {
			continue
		}
		if job.lastRun.IsZero() || now.Sub(job.lastRun) >= job.Interval {
			due = append(due, job.Task)
			job.lastRun = now
		}
	}
	tr.cronMu.Unlock()

	for _, t := range due {
		if err := tr.Dispatch(tr.baseCtx, t); err != nil && !errors.Is(err, ErrDuplicateTask) && !errors.Is(err, ErrRouterClosed) {
			log.ApplicationLogger().Warn("Scheduled task dispatch failed", "type", t.Type, "err", err)
		}
	}
}
