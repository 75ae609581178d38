// Package queue implements the async task-queue adapter from spec.md
// §4.8: a TaskRecord state machine (queued → progress → success, with
// a bounded retry branch) dispatched over a pluggable Broker. The
// state machine is new — the teacher only fires-and-forgets CloudEvents
// — but the dispatch transport itself is grounded on the teacher's
// publisher.Publisher (same amqp091-go connect/channel/publish shape,
// repointed from discovery events to task-dispatch messages).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reconscan/reconscan/internal/metrics"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/target"
)

// State is a TaskRecord's position in the state machine from spec.md §4.8.
type State string

const (
	StateQueued   State = "queued"
	StateProgress State = "progress"
	StateSuccess  State = "success"
	StateFailure  State = "failure"
	StateRetry    State = "retry"
)

// MaxRetries, RetryBackoff and RetentionWindow are the fixed figures
// from spec.md §4.8.
const (
	MaxRetries      = 3
	RetryBackoff    = 60 * time.Second
	RetentionWindow = time.Hour
)

// TaskRecord is the queue adapter's owned record, per spec.md §3.
type TaskRecord struct {
	TaskID      string
	ScanID      string
	State       State
	Progress    int
	Message     string
	Retries     int
	Result      *scheduler.ScanRecord
	Error       string
	CompletedAt *time.Time
}

// DispatchMessage is the transport payload a Broker carries from
// Submit to a consuming worker.
type DispatchMessage struct {
	TaskID string
	ScanID string
	Target target.Target
	Ports  []int
	Config scheduler.ScanConfig
}

// Broker is the pluggable dispatch transport from spec.md §4.8: an
// in-process channel-backed broker (default) or a RabbitMQ-backed one.
type Broker interface {
	Publish(ctx context.Context, msg DispatchMessage) error
	Consume(ctx context.Context) (<-chan DispatchMessage, error)
	Close() error
}

// ProgressFunc reports a task's latest progress back to the Manager.
type ProgressFunc func(progress int, message string)

// Executor runs one dispatch message end-to-end — scan, cache, sink —
// supplied by the caller so Manager stays decoupled from how a scan is
// actually carried out.
type Executor func(ctx context.Context, msg DispatchMessage, onProgress ProgressFunc) (*scheduler.ScanRecord, error)

// Manager owns the TaskRecord state machine and drives the Broker.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*TaskRecord

	broker   Broker
	executor Executor
	logger   *zap.SugaredLogger
}

// NewManager creates a Manager over the given broker and executor.
func NewManager(broker Broker, executor Executor, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		tasks:    make(map[string]*TaskRecord),
		broker:   broker,
		executor: executor,
		logger:   logger,
	}
}

// Submit implements Submit(target, port_set, config) → task_id.
func (m *Manager) Submit(ctx context.Context, scanID string, tgt target.Target, ports []int, cfg scheduler.ScanConfig) (string, error) {
	taskID := uuid.New().String()
	record := &TaskRecord{TaskID: taskID, ScanID: scanID, State: StateQueued}

	m.mu.Lock()
	m.tasks[taskID] = record
	m.mu.Unlock()

	msg := DispatchMessage{TaskID: taskID, ScanID: scanID, Target: tgt, Ports: ports, Config: cfg}
	if err := m.broker.Publish(ctx, msg); err != nil {
		m.mu.Lock()
		record.State = StateFailure
		record.Error = err.Error()
		m.mu.Unlock()
		return "", err
	}

	metrics.QueueDepth.Inc()
	return taskID, nil
}

// Poll implements Poll(task_id) → TaskRecord.
func (m *Manager) Poll(taskID string) (TaskRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return TaskRecord{}, false
	}
	return *t, true
}

// Run consumes dispatch messages until ctx is cancelled, executing each
// concurrently and driving its TaskRecord through the state machine.
func (m *Manager) Run(ctx context.Context) error {
	msgs, err := m.broker.Consume(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			go m.execute(ctx, msg)
		}
	}
}

func (m *Manager) execute(ctx context.Context, msg DispatchMessage) {
	m.setProgress(msg.TaskID, StateProgress, 0, "")

	onProgress := func(progress int, message string) {
		m.setProgress(msg.TaskID, StateProgress, progress, message)
	}

	record, err := m.executor(ctx, msg, onProgress)
	if err != nil {
		m.handleFailure(ctx, msg, err)
		return
	}

	now := time.Now()
	m.mu.Lock()
	if t, ok := m.tasks[msg.TaskID]; ok {
		t.State = StateSuccess
		t.Progress = 100
		t.Result = record
		t.CompletedAt = &now
	}
	m.mu.Unlock()
	metrics.QueueDepth.Dec()
}

func (m *Manager) handleFailure(ctx context.Context, msg DispatchMessage, err error) {
	m.mu.Lock()
	t, ok := m.tasks[msg.TaskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	t.Retries++
	t.Error = err.Error()

	if t.Retries > MaxRetries {
		now := time.Now()
		t.State = StateFailure
		t.CompletedAt = &now
		m.mu.Unlock()
		metrics.TasksExhaustedTotal.Inc()
		metrics.QueueDepth.Dec()
		return
	}

	t.State = StateRetry
	m.mu.Unlock()

	metrics.TasksRetriedTotal.Inc()
	m.logger.Warnw("task failed, scheduling retry", "task_id", msg.TaskID, "attempt", t.Retries, "error", err)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(RetryBackoff):
		}

		m.setProgress(msg.TaskID, StateQueued, 0, "retrying")
		if err := m.broker.Publish(ctx, msg); err != nil {
			m.logger.Errorw("retry dispatch failed", "task_id", msg.TaskID, "error", err)
		}
	}()
}

func (m *Manager) setProgress(taskID string, state State, progress int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	t.State = state
	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
}

// Reap deletes terminal tasks (success/failure) completed before
// now-RetentionWindow, per spec.md §4.8's "≥1h retention" floor.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, t := range m.tasks {
		if t.CompletedAt == nil {
			continue
		}
		if now.Sub(*t.CompletedAt) >= RetentionWindow {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}
