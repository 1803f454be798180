package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowmesh-io/flowmesh/internal/credentials"
	"github.com/flowmesh-io/flowmesh/internal/domain/models"
	"github.com/flowmesh-io/flowmesh/internal/events"
	"github.com/flowmesh-io/flowmesh/internal/expression"
	"github.com/flowmesh-io/flowmesh/internal/nodes"
	"github.com/flowmesh-io/flowmesh/internal/pkg/metrics"
)

// Config tunes the engine. WorkerCount bounds concurrent node invocations
// per execution.
type Config struct {
	WorkerCount             int
	DefaultExecutionTimeout time.Duration
	CompletionBuffer        int
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 8
	}
	if c.CompletionBuffer <= 0 {
		c.CompletionBuffer = 64
	}
	return c
}

// WorkflowRepository is the engine's read access to workflow definitions.
type WorkflowRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
}

// ExecutionRepository persists execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.Execution) error
	Update(ctx context.Context, exec *models.Execution) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Execution, error)
	FindByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Execution, error)
	CountByStatus(ctx context.Context, userID *uuid.UUID) (map[string]int64, error)
	AverageDuration(ctx context.Context, userID *uuid.UUID) (time.Duration, error)
}

// NodeExecutionRepository persists per-node records, keyed by
// (executionID, nodeID).
type NodeExecutionRepository interface {
	CreateBatch(ctx context.Context, recs []*models.NodeExecution) error
	Update(ctx context.Context, rec *models.NodeExecution) error
	FindByExecutionAndNode(ctx context.Context, executionID uuid.UUID, nodeID string) (*models.NodeExecution, error)
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]models.NodeExecution, error)
}

// CredentialSource materializes decrypted payloads for node invocations.
// *credentials.Store satisfies it.
type CredentialSource interface {
	ExecutionPayload(ctx context.Context, id uuid.UUID, ident credentials.Identity) (map[string]interface{}, error)
}

// Deps are the engine's collaborators, injected at construction.
type Deps struct {
	Registry       *nodes.Registry
	Credentials    CredentialSource
	Workflows      WorkflowRepository
	Executions     ExecutionRepository
	NodeExecutions NodeExecutionRepository
	Bus            *events.Bus
	Helpers        *nodes.Helpers
	Metrics        *metrics.Collector
	Middlewares    []Middleware
	Logger         zerolog.Logger
}

// Engine drives workflow executions from submission to terminal state.
type Engine struct {
	cfg         Config
	registry    *nodes.Registry
	creds       CredentialSource
	workflows   WorkflowRepository
	executions  ExecutionRepository
	nodeExecs   NodeExecutionRepository
	bus         *events.Bus
	helpers     *nodes.Helpers
	metrics     *metrics.Collector
	middlewares []Middleware
	eval        *expression.Evaluator
	log         zerolog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*run
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	helpers := deps.Helpers
	if helpers == nil {
		helpers = nodes.NewHelpers(nil)
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		registry:    deps.Registry,
		creds:       deps.Credentials,
		workflows:   deps.Workflows,
		executions:  deps.Executions,
		nodeExecs:   deps.NodeExecutions,
		bus:         bus,
		helpers:     helpers,
		metrics:     deps.Metrics,
		middlewares: deps.Middlewares,
		eval:        expression.New(),
		log:         deps.Logger.With().Str("component", "engine").Logger(),
		active:      make(map[uuid.UUID]*run),
	}
}

// Bus exposes the event bus for subscribers.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Submit snapshots the workflow and starts an execution. The returned id is
// live immediately; progress streams through the bus.
func (e *Engine) Submit(ctx context.Context, workflowID, userID uuid.UUID, triggerData map[string]interface{}) (uuid.UUID, error) {
	wf, err := e.workflows.FindByID(ctx, workflowID)
	if err != nil {
		return uuid.Nil, E(KindNotFound, "", fmt.Errorf("workflow %s: %w", workflowID, err))
	}

	snap, err := ParseSnapshot(wf)
	if err != nil {
		return uuid.Nil, E(KindValidationFailed, "", err)
	}

	triggerKind, _ := triggerData["trigger"].(string)
	if triggerKind == "" {
		triggerKind = string(nodes.TriggerManual)
	}

	topo, err := buildTopology(snap, triggerKind, e.registry)
	if err != nil {
		if KindOf(err) == KindCycle {
			// The workflow loaded but can never run: record the dead
			// execution so the failure is auditable.
			return e.recordStillbirth(ctx, snap, userID, triggerKind, triggerData, err)
		}
		return uuid.Nil, err
	}

	return e.start(ctx, snap, topo, userID, triggerKind, triggerData, nil)
}

// RetryExecution submits a fresh execution of the same workflow with the
// original's trigger data.
func (e *Engine) RetryExecution(ctx context.Context, executionID, userID uuid.UUID) (uuid.UUID, error) {
	original, err := e.executions.FindByIDAndUser(ctx, executionID, userID)
	if err != nil {
		return uuid.Nil, E(KindNotFound, "", fmt.Errorf("execution %s: %w", executionID, err))
	}

	wf, err := e.workflows.FindByID(ctx, original.WorkflowID)
	if err != nil {
		return uuid.Nil, E(KindNotFound, "", fmt.Errorf("workflow %s: %w", original.WorkflowID, err))
	}
	snap, err := ParseSnapshot(wf)
	if err != nil {
		return uuid.Nil, E(KindValidationFailed, "", err)
	}

	topo, err := buildTopology(snap, original.TriggerKind, e.registry)
	if err != nil {
		return uuid.Nil, err
	}

	retryOf := original.ID
	return e.start(ctx, snap, topo, userID, original.TriggerKind, original.TriggerData, &retryOf)
}

// Cancel requests cooperative cancellation. It returns immediately; the
// execution transitions to cancelled when in-flight workers return. A second
// cancel, or a cancel after terminal state, is a no-op.
func (e *Engine) Cancel(ctx context.Context, executionID, userID uuid.UUID) error {
	if _, err := e.executions.FindByIDAndUser(ctx, executionID, userID); err != nil {
		return E(KindNotFound, "", fmt.Errorf("execution %s: %w", executionID, err))
	}

	e.mu.Lock()
	r, ok := e.active[executionID]
	e.mu.Unlock()
	if ok {
		r.requestCancel(KindCancelled)
	}
	// Already-terminal executions make cancel a no-op.
	return nil
}

// GetExecution returns the execution record with its node rows.
func (e *Engine) GetExecution(ctx context.Context, executionID, userID uuid.UUID) (*models.Execution, []models.NodeExecution, error) {
	exec, err := e.executions.FindByIDAndUser(ctx, executionID, userID)
	if err != nil {
		return nil, nil, E(KindNotFound, "", fmt.Errorf("execution %s: %w", executionID, err))
	}
	rows, err := e.nodeExecs.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	return exec, rows, nil
}

// GetNodeExecution returns one node's record.
func (e *Engine) GetNodeExecution(ctx context.Context, executionID uuid.UUID, nodeID string, userID uuid.UUID) (*models.NodeExecution, error) {
	if _, err := e.executions.FindByIDAndUser(ctx, executionID, userID); err != nil {
		return nil, E(KindNotFound, "", fmt.Errorf("execution %s: %w", executionID, err))
	}
	rec, err := e.nodeExecs.FindByExecutionAndNode(ctx, executionID, nodeID)
	if err != nil {
		return nil, E(KindNotFound, nodeID, err)
	}
	return rec, nil
}

// Progress summarizes a live or finished execution.
type Progress struct {
	ExecutionID    uuid.UUID  `json:"execution_id"`
	TotalNodes     int        `json:"total_nodes"`
	CompletedNodes int        `json:"completed_nodes"`
	FailedNodes    int        `json:"failed_nodes"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// GetExecutionProgress reports node counts from the persisted rows.
func (e *Engine) GetExecutionProgress(ctx context.Context, executionID, userID uuid.UUID) (*Progress, error) {
	exec, err := e.executions.FindByIDAndUser(ctx, executionID, userID)
	if err != nil {
		return nil, E(KindNotFound, "", fmt.Errorf("execution %s: %w", executionID, err))
	}
	rows, err := e.nodeExecs.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		ExecutionID: exec.ID,
		TotalNodes:  exec.NodesTotal,
		Status:      exec.Status,
		StartedAt:   exec.StartedAt,
		FinishedAt:  exec.FinishedAt,
	}
	for i := range rows {
		switch rows[i].Status {
		case models.NodeStatusSuccess:
			p.CompletedNodes++
		case models.NodeStatusError:
			p.FailedNodes++
		}
	}
	return p, nil
}

// Stats are engine-wide execution counters.
type Stats struct {
	TotalExecutions      int64         `json:"total_executions"`
	Running              int64         `json:"running"`
	Completed            int64         `json:"completed"`
	Failed               int64         `json:"failed"`
	Cancelled            int64         `json:"cancelled"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	QueueSize            int           `json:"queue_size"`
}

// GetExecutionStats aggregates counters, optionally scoped to one user.
// QueueSize is the number of ready-but-unstarted nodes across live runs.
func (e *Engine) GetExecutionStats(ctx context.Context, userID *uuid.UUID) (*Stats, error) {
	counts, err := e.executions.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	avg, err := e.executions.AverageDuration(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Running:              counts[models.ExecutionStatusRunning],
		Completed:            counts[models.ExecutionStatusSuccess],
		Failed:               counts[models.ExecutionStatusError],
		Cancelled:            counts[models.ExecutionStatusCancelled],
		AverageExecutionTime: avg,
	}
	stats.TotalExecutions = stats.Running + stats.Completed + stats.Failed + stats.Cancelled

	e.mu.Lock()
	for _, r := range e.active {
		stats.QueueSize += r.queueDepth()
	}
	e.mu.Unlock()
	return stats, nil
}

// Wait blocks until every live execution has finished. For shutdown and
// tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// start creates the execution record, pre-creates queued node rows and
// launches the scheduler.
func (e *Engine) start(ctx context.Context, snap *Snapshot, topo *topology, userID uuid.UUID, triggerKind string, triggerData map[string]interface{}, retryOf *uuid.UUID) (uuid.UUID, error) {
	exec := &models.Execution{
		ID:               uuid.New(),
		WorkflowID:       snap.WorkflowID,
		UserID:           userID,
		Status:           models.ExecutionStatusRunning,
		TriggerKind:      triggerKind,
		TriggerData:      models.JSON(triggerData),
		WorkflowSnapshot: snap.Record(),
		StartedAt:        time.Now().UTC(),
		NodesTotal:       len(topo.reachable),
		RetryOfID:        retryOf,
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return uuid.Nil, fmt.Errorf("creating execution: %w", err)
	}

	recs := make([]*models.NodeExecution, 0, len(topo.reachable))
	for id := range topo.reachable {
		node := topo.nodes[id]
		recs = append(recs, &models.NodeExecution{
			ID:          uuid.New(),
			ExecutionID: exec.ID,
			NodeID:      node.ID,
			NodeName:    node.Name,
			NodeType:    node.Type,
			Status:      models.NodeStatusQueued,
		})
	}
	if err := e.nodeExecs.CreateBatch(ctx, recs); err != nil {
		return uuid.Nil, fmt.Errorf("creating node execution records: %w", err)
	}

	r := newRun(e, exec, snap, topo, triggerData)

	e.mu.Lock()
	e.active[exec.ID] = r
	e.mu.Unlock()
	e.metrics.ExecutionStarted()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.active, exec.ID)
			e.mu.Unlock()
			e.metrics.ExecutionFinished()
		}()
		r.loop()
	}()

	return exec.ID, nil
}

// recordStillbirth persists an execution that failed topology checks, so a
// cyclic workflow leaves an auditable error record.
func (e *Engine) recordStillbirth(ctx context.Context, snap *Snapshot, userID uuid.UUID, triggerKind string, triggerData map[string]interface{}, cause error) (uuid.UUID, error) {
	now := time.Now().UTC()
	msg := cause.Error()
	exec := &models.Execution{
		ID:               uuid.New(),
		WorkflowID:       snap.WorkflowID,
		UserID:           userID,
		Status:           models.ExecutionStatusError,
		TriggerKind:      triggerKind,
		TriggerData:      models.JSON(triggerData),
		WorkflowSnapshot: snap.Record(),
		ErrorMessage:     &msg,
		StartedAt:        now,
		FinishedAt:       &now,
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return uuid.Nil, fmt.Errorf("creating execution: %w", err)
	}

	e.bus.Publish(events.Event{
		Type:        events.ExecutionStarted,
		ExecutionID: exec.ID,
		WorkflowID:  snap.WorkflowID,
		Timestamp:   now,
	})
	e.bus.Publish(events.Event{
		Type:        events.ExecutionCompleted,
		ExecutionID: exec.ID,
		WorkflowID:  snap.WorkflowID,
		Status:      models.ExecutionStatusError,
		Timestamp:   now,
		Data:        map[string]interface{}{"error": msg},
	})
	return exec.ID, cause
}
