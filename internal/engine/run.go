package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh-io/flowmesh/internal/credentials"
	"github.com/flowmesh-io/flowmesh/internal/domain/models"
	"github.com/flowmesh-io/flowmesh/internal/events"
	"github.com/flowmesh-io/flowmesh/internal/expression"
	"github.com/flowmesh-io/flowmesh/internal/nodes"
)

// run is one live execution. The loop goroutine owns all mutable scheduling
// state; workers only touch their own invocation and report back over
// completionCh.
type run struct {
	eng  *Engine
	exec *models.Execution
	snap *Snapshot
	topo *topology

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer

	reasonMu sync.Mutex
	reason   Kind

	completionCh chan completion

	// Scheduler-owned, never touched by workers.
	ready           []string
	remaining       map[string]int
	statuses        map[string]string
	outputs         map[string]map[string][]nodes.Item
	completionOrder map[string]int
	orderCounter    int
	running         map[string]bool
	completedCount  int
	failedCount     int
	firstError      *failure
	triggerItems    []nodes.Item

	queueMu    sync.Mutex
	readyDepth int
}

type completion struct {
	nodeID   string
	outputs  map[string][]nodes.Item
	err      error
	attempts int
}

type failure struct {
	nodeID string
	err    error
}

// invocation is everything a worker needs, assembled by the scheduler so
// workers never read shared state.
type invocation struct {
	node    *Node
	def     *nodes.Definition
	input   map[string][]nodes.Item
	exprCtx *expression.Context
}

func newRun(e *Engine, exec *models.Execution, snap *Snapshot, topo *topology, triggerData map[string]interface{}) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		eng:             e,
		exec:            exec,
		snap:            snap,
		topo:            topo,
		ctx:             ctx,
		cancel:          cancel,
		completionCh:    make(chan completion, e.cfg.CompletionBuffer),
		remaining:       make(map[string]int),
		statuses:        make(map[string]string),
		outputs:         make(map[string]map[string][]nodes.Item),
		completionOrder: make(map[string]int),
		running:         make(map[string]bool),
		triggerItems:    triggerItemsFrom(triggerData),
	}

	timeout := snap.Settings.ExecutionTimeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultExecutionTimeout
	}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() {
			r.requestCancel(KindTimeout)
		})
	}

	for id := range topo.reachable {
		r.statuses[id] = models.NodeStatusQueued
		r.remaining[id] = len(topo.pred[id])
	}
	r.ready = append(r.ready, topo.entry...)
	return r
}

// requestCancel records the first cancellation reason and cuts the context.
// Later calls are no-ops.
func (r *run) requestCancel(reason Kind) {
	r.reasonMu.Lock()
	if r.reason == "" {
		r.reason = reason
	}
	r.reasonMu.Unlock()
	r.cancel()
}

func (r *run) cancelReason() Kind {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	return r.reason
}

func (r *run) queueDepth() int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return r.readyDepth
}

func (r *run) setQueueDepth(n int) {
	r.queueMu.Lock()
	r.readyDepth = n
	r.queueMu.Unlock()
	r.eng.metrics.SetReadyQueueDepth(n)
}

// triggerItemsFrom shapes the submitted trigger data into the entry nodes'
// input items. An array fans out, an object becomes a single item, absence
// means one empty item.
func triggerItemsFrom(triggerData map[string]interface{}) []nodes.Item {
	data, ok := triggerData["data"]
	if !ok || data == nil {
		return []nodes.Item{nodes.NewItem(nil)}
	}
	switch v := data.(type) {
	case []interface{}:
		if len(v) == 0 {
			return []nodes.Item{nodes.NewItem(nil)}
		}
		items := make([]nodes.Item, 0, len(v))
		for _, el := range v {
			if m, ok := el.(map[string]interface{}); ok {
				items = append(items, nodes.NewItem(m))
			} else {
				items = append(items, nodes.NewItem(map[string]interface{}{"value": el}))
			}
		}
		return items
	case map[string]interface{}:
		return []nodes.Item{nodes.NewItem(v)}
	default:
		return []nodes.Item{nodes.NewItem(map[string]interface{}{"value": v})}
	}
}

// loop is the scheduler: it dispatches ready nodes to workers up to the
// worker bound and folds completions back into the graph state until nothing
// is ready or running.
func (r *run) loop() {
	defer r.finalize()
	if r.timer != nil {
		defer r.timer.Stop()
	}

	r.publish(events.Event{
		Type:        events.ExecutionStarted,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		Timestamp:   time.Now().UTC(),
	})

	done := r.ctx.Done()
	for {
		r.dispatch()
		if len(r.running) == 0 && len(r.ready) == 0 {
			return
		}
		if len(r.running) == 0 {
			// Cancellation emptied the dispatchable set but queued nodes
			// remain; finalize marks them skipped.
			return
		}

		select {
		case c := <-r.completionCh:
			r.handleCompletion(c)
		case <-done:
			// Drop everything not yet dispatched and drain in-flight
			// workers.
			r.ready = nil
			done = nil
		}
	}
}

func (r *run) dispatch() {
	if r.ctx.Err() != nil {
		r.ready = nil
		r.setQueueDepth(0)
		return
	}
	for len(r.ready) > 0 && len(r.running) < r.eng.cfg.WorkerCount {
		id := r.ready[0]
		r.ready = r.ready[1:]
		if r.statuses[id] != models.NodeStatusQueued {
			continue
		}

		inv, err := r.prepare(id)
		if err == nil && len(r.topo.pred[id]) > 0 && totalItems(inv.input) == 0 {
			// The branch feeding this node produced nothing; the node and
			// anything fed only by it never run.
			r.markSkipped(id)
			r.advanceSuccessors(id)
			r.publishProgress()
			continue
		}
		if err != nil {
			// Preparation failures (validation, expression, credentials)
			// count as node failures without ever starting a worker.
			r.statuses[id] = models.NodeStatusRunning
			r.running[id] = true
			go func() { r.completionCh <- completion{nodeID: id, err: err, attempts: 1} }()
			continue
		}

		r.statuses[id] = models.NodeStatusRunning
		r.running[id] = true
		go r.invoke(id, inv)
	}
	r.setQueueDepth(len(r.ready))
}

// prepare assembles a node's invocation from scheduler-owned state: input
// items per port, the expression context, resolved parameters deferred to the
// worker.
func (r *run) prepare(id string) (*invocation, error) {
	node := r.topo.nodes[id]
	def, ok := r.eng.registry.Get(node.Type)
	if !ok {
		return nil, Errf(KindValidationFailed, id, "unknown node type %q", node.Type)
	}

	input := r.assembleInput(id, def)
	return &invocation{
		node:    node,
		def:     def,
		input:   input,
		exprCtx: r.expressionContext(input),
	}, nil
}

// assembleInput concatenates predecessor outputs per target input port. When
// several predecessors feed one port, their item slices concatenate in
// completion order; simultaneous completions break ties by source node name.
func (r *run) assembleInput(id string, def *nodes.Definition) map[string][]nodes.Item {
	input := make(map[string][]nodes.Item)

	if len(r.topo.pred[id]) == 0 {
		if def.IsTrigger() || len(def.Inputs) > 0 {
			input["main"] = append([]nodes.Item(nil), r.triggerItems...)
		}
		return input
	}

	for port, conns := range r.topo.in[id] {
		ordered := append([]Connection(nil), conns...)
		sort.SliceStable(ordered, func(a, b int) bool {
			oa, ob := r.completionOrder[ordered[a].Source], r.completionOrder[ordered[b].Source]
			if oa != ob {
				return oa < ob
			}
			return r.topo.nodes[ordered[a].Source].Name < r.topo.nodes[ordered[b].Source].Name
		})
		for _, conn := range ordered {
			items := r.outputs[conn.Source][conn.SourceOutput]
			input[port] = append(input[port], items...)
		}
		if input[port] == nil {
			input[port] = []nodes.Item{}
		}
	}
	return input
}

// expressionContext freezes the evaluation scope for one invocation.
func (r *run) expressionContext(input map[string][]nodes.Item) *expression.Context {
	nodeData := make(map[string]interface{})
	executed := make(map[string]bool)
	for id, out := range r.outputs {
		name := r.topo.nodes[id].Name
		executed[name] = true
		var items []interface{}
		ports := make([]string, 0, len(out))
		for port := range out {
			ports = append(ports, port)
		}
		// "main" leads, remaining ports in name order.
		sort.Slice(ports, func(a, b int) bool {
			if ports[a] == "main" {
				return true
			}
			if ports[b] == "main" {
				return false
			}
			return ports[a] < ports[b]
		})
		for _, port := range ports {
			for _, item := range out[port] {
				items = append(items, map[string]interface{}{"json": item.JSON})
			}
		}
		nodeData[name] = items
	}

	return &expression.Context{
		JSON:     jsonRoot(input["main"]),
		Nodes:    nodeData,
		Executed: executed,
		Workflow: expression.WorkflowInfo{
			ID:     r.snap.WorkflowID.String(),
			Name:   r.snap.Name,
			Active: r.snap.Active,
		},
		Execution: expression.ExecutionInfo{
			ID:   r.exec.ID.String(),
			Mode: r.exec.TriggerKind,
		},
		Vars: r.snap.Settings.Vars,
		Now:  time.Now().UTC(),
	}
}

// jsonRoot shapes the $json root: a single input item exposes its object
// directly, multiple items expose an array.
func jsonRoot(items []nodes.Item) interface{} {
	switch len(items) {
	case 0:
		return map[string]interface{}{}
	case 1:
		return items[0].JSON
	default:
		arr := make([]interface{}, len(items))
		for i, item := range items {
			arr[i] = item.JSON
		}
		return arr
	}
}

// invoke runs in a worker goroutine: parameter resolution, credential
// materialization, the middleware-wrapped execute, retries per policy.
func (r *run) invoke(id string, inv *invocation) {
	policy := DefaultRetryPolicy()
	if inv.node.RetryPolicy != nil {
		policy = *inv.node.RetryPolicy
	}

	rec := r.nodeRecord(id)
	now := time.Now().UTC()
	if rec != nil {
		rec.Status = models.NodeStatusRunning
		rec.StartedAt = &now
		// "none" keeps node input out of the persisted record.
		if r.snap.Settings.SaveDataErrorExecution != "none" {
			rec.InputData = inputRecord(inv.input)
		}
		r.persistNode(rec)
	}

	r.publish(events.Event{
		Type:        events.NodeStarted,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		NodeID:      id,
		Status:      models.NodeStatusRunning,
		Timestamp:   now,
	})

	var out map[string][]nodes.Item
	var err error
	attempt := 0
	for attempt = 1; attempt <= policy.MaxAttempts; attempt++ {
		if rec != nil {
			rec.AttemptCount = attempt
			r.persistNode(rec)
		}

		out, err = r.attempt(id, inv)
		if err == nil {
			break
		}
		if r.ctx.Err() != nil {
			break
		}
		if attempt >= policy.MaxAttempts || !policy.Retryable(KindOf(err)) {
			break
		}
		if delay := policy.Delay(attempt + 1); delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.ctx.Done():
				attempt++
				r.completionCh <- completion{nodeID: id, err: r.cancellationError(id), attempts: attempt - 1}
				return
			}
		}
	}
	if attempt > policy.MaxAttempts {
		attempt = policy.MaxAttempts
	}

	if err != nil && r.ctx.Err() != nil {
		err = r.cancellationError(id)
	}
	r.completionCh <- completion{nodeID: id, outputs: out, err: err, attempts: attempt}
}

// attempt performs one invocation: defaults, expressions, validation,
// credentials, then the middleware chain around execute.
func (r *run) attempt(id string, inv *invocation) (map[string][]nodes.Item, error) {
	params, err := r.eng.registry.ApplyDefaults(inv.node.Type, inv.node.Parameters)
	if err != nil {
		return nil, E(KindValidationFailed, id, err)
	}

	params, exprErr := r.eng.eval.ResolveParameters(params, inv.exprCtx)
	if exprErr != nil {
		return nil, E(KindExpressionFailed, id, exprErr)
	}

	if fieldErrs, err := r.eng.registry.ValidateParameters(inv.node.Type, params); err != nil {
		return nil, E(KindValidationFailed, id, err)
	} else if len(fieldErrs) > 0 {
		return nil, Errf(KindValidationFailed, id, "invalid parameters: %v", fieldErrs)
	}

	creds, err := r.materializeCredentials(id, inv)
	if err != nil {
		return nil, err
	}

	ec := &nodes.ExecutionContext{
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		NodeID:      id,
		NodeName:    inv.node.Name,
		Input:       inv.input,
		Parameters:  params,
		Credentials: creds,
		Helpers:     r.eng.helpers,
		Logger:      r.eng.log.With().Str("execution_id", r.exec.ID.String()).Str("node_id", id).Logger(),
	}

	execute := chain(r.eng.middlewares, inv.def, inv.def.Execute)
	out, err := execute(r.ctx, ec)
	if err != nil {
		if engErr := (*Error)(nil); errors.As(err, &engErr) {
			return nil, err
		}
		return nil, E(KindNodeExecutionError, id, err)
	}
	if out == nil {
		out = map[string][]nodes.Item{}
	}
	return out, nil
}

// materializeCredentials decrypts each credential the node binds. A missing
// or denied credential on a required binding fails the node.
func (r *run) materializeCredentials(id string, inv *invocation) (map[string]map[string]interface{}, error) {
	if len(inv.node.CredentialIDs) == 0 {
		return nil, nil
	}

	ident := credentials.Identity{UserID: r.exec.UserID}
	creds := make(map[string]map[string]interface{}, len(inv.node.CredentialIDs))
	for credType, rawID := range inv.node.CredentialIDs {
		credID, err := uuid.Parse(rawID)
		if err != nil {
			return nil, Errf(KindCredentialUnavailable, id, "credential id %q for %s is not a uuid", rawID, credType)
		}
		payload, err := r.eng.creds.ExecutionPayload(r.ctx, credID, ident)
		if err != nil {
			if r.credentialRequired(inv.def, credType) {
				return nil, E(KindCredentialUnavailable, id, fmt.Errorf("credential %s (%s): %w", credID, credType, err))
			}
			continue
		}
		creds[credType] = payload
	}
	return creds, nil
}

func (r *run) credentialRequired(def *nodes.Definition, credType string) bool {
	for _, c := range def.Credentials {
		if c.Type == credType {
			return c.Required
		}
	}
	// Bindings outside the declared list are treated as required; the
	// workflow author asked for them explicitly.
	return true
}

func (r *run) cancellationError(nodeID string) error {
	kind := r.cancelReason()
	if kind == "" {
		kind = KindCancelled
	}
	return Errf(kind, nodeID, "execution %s", string(kind))
}

// handleCompletion folds one worker result into the graph state. Runs on the
// scheduler goroutine.
func (r *run) handleCompletion(c completion) {
	delete(r.running, c.nodeID)
	rec := r.nodeRecord(c.nodeID)
	now := time.Now().UTC()

	if c.err == nil {
		r.orderCounter++
		r.completionOrder[c.nodeID] = r.orderCounter
		r.outputs[c.nodeID] = c.outputs
		r.statuses[c.nodeID] = models.NodeStatusSuccess
		r.completedCount++

		if rec != nil {
			rec.Status = models.NodeStatusSuccess
			rec.FinishedAt = &now
			rec.OutputData = outputRecord(c.outputs)
			rec.AttemptCount = c.attempts
			r.persistNode(rec)
		}
		r.exec.NodesCompleted = r.completedCount
		r.publish(events.Event{
			Type:        events.NodeCompleted,
			ExecutionID: r.exec.ID,
			WorkflowID:  r.exec.WorkflowID,
			NodeID:      c.nodeID,
			Status:      models.NodeStatusSuccess,
			Timestamp:   now,
		})

		r.advanceSuccessors(c.nodeID)
		r.publishProgress()
		return
	}

	kind := KindOf(c.err)
	if kind == KindCancelled || kind == KindTimeout {
		r.statuses[c.nodeID] = models.NodeStatusCancelled
		if rec != nil {
			rec.Status = models.NodeStatusCancelled
			rec.FinishedAt = &now
			msg := c.err.Error()
			rec.ErrorMessage = &msg
			if c.attempts > 0 {
				rec.AttemptCount = c.attempts
			}
			r.persistNode(rec)
		}
		r.publish(events.Event{
			Type:        events.NodeCancelled,
			ExecutionID: r.exec.ID,
			WorkflowID:  r.exec.WorkflowID,
			NodeID:      c.nodeID,
			Status:      models.NodeStatusCancelled,
			Timestamp:   now,
		})
		r.publishProgress()
		return
	}

	r.statuses[c.nodeID] = models.NodeStatusError
	r.failedCount++
	if r.firstError == nil {
		r.firstError = &failure{nodeID: c.nodeID, err: c.err}
	}
	if rec != nil {
		rec.Status = models.NodeStatusError
		rec.FinishedAt = &now
		msg := c.err.Error()
		rec.ErrorMessage = &msg
		rec.AttemptCount = c.attempts
		r.persistNode(rec)
	}
	r.publish(events.Event{
		Type:        events.NodeFailed,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		NodeID:      c.nodeID,
		Status:      models.NodeStatusError,
		Timestamp:   now,
		Data:        map[string]interface{}{"error": c.err.Error(), "attempts": c.attempts},
	})

	r.skipDownstream(c.nodeID)

	if r.snap.Settings.ErrorWorkflowID != "" {
		r.publish(events.Event{
			Type:        events.FailureEscalation,
			ExecutionID: r.exec.ID,
			WorkflowID:  r.exec.WorkflowID,
			NodeID:      c.nodeID,
			Timestamp:   now,
			Data: map[string]interface{}{
				"error_workflow_id": r.snap.Settings.ErrorWorkflowID,
				"error":             c.err.Error(),
			},
		})
	}
	r.publishProgress()
}

// advanceSuccessors releases each successor waiting on the given node,
// enqueueing any that became ready.
func (r *run) advanceSuccessors(id string) {
	for succ := range r.topo.succ[id] {
		if !r.topo.reachable[succ] {
			continue
		}
		r.remaining[succ]--
		if r.remaining[succ] == 0 && r.statuses[succ] == models.NodeStatusQueued {
			r.ready = append(r.ready, succ)
		}
	}
}

func totalItems(input map[string][]nodes.Item) int {
	n := 0
	for _, items := range input {
		n += len(items)
	}
	return n
}

// skipDownstream marks every not-yet-started descendant skipped so the
// scheduler never dispatches it.
func (r *run) skipDownstream(id string) {
	for _, succ := range r.topo.downstream(id) {
		if !r.topo.reachable[succ] || r.statuses[succ] != models.NodeStatusQueued {
			continue
		}
		r.markSkipped(succ)
	}
}

func (r *run) markSkipped(id string) {
	now := time.Now().UTC()
	r.statuses[id] = models.NodeStatusSkipped
	if rec := r.nodeRecord(id); rec != nil {
		rec.Status = models.NodeStatusSkipped
		rec.FinishedAt = &now
		r.persistNode(rec)
	}
	r.publish(events.Event{
		Type:        events.NodeSkipped,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		NodeID:      id,
		Status:      models.NodeStatusSkipped,
		Timestamp:   now,
	})
}

// finalize settles queued leftovers, writes the terminal execution record and
// emits the closing events.
func (r *run) finalize() {
	for id, status := range r.statuses {
		if status == models.NodeStatusQueued {
			r.markSkipped(id)
		}
	}
	r.setQueueDepth(0)

	now := time.Now().UTC()
	status := models.ExecutionStatusSuccess
	switch {
	case r.cancelReason() != "":
		status = models.ExecutionStatusCancelled
	case r.firstError != nil:
		status = models.ExecutionStatusError
	}

	r.exec.Status = status
	r.exec.FinishedAt = &now
	r.exec.NodesCompleted = r.completedCount
	if r.firstError != nil {
		msg := r.firstError.err.Error()
		r.exec.ErrorMessage = &msg
		nodeID := r.firstError.nodeID
		r.exec.ErrorNodeID = &nodeID
	} else if reason := r.cancelReason(); reason != "" {
		msg := fmt.Sprintf("execution %s", string(reason))
		if reason == KindTimeout {
			msg = "execution timed out"
		} else if reason == KindCancelled {
			msg = "execution cancelled"
		}
		r.exec.ErrorMessage = &msg
	}
	if err := r.eng.executions.Update(context.Background(), r.exec); err != nil {
		r.eng.log.Error().Err(err).Str("execution_id", r.exec.ID.String()).Msg("persisting terminal execution state")
	}

	r.publishProgress()

	data := map[string]interface{}{}
	if r.exec.ErrorMessage != nil {
		data["error"] = *r.exec.ErrorMessage
	}
	if r.exec.ErrorNodeID != nil {
		data["error_node_id"] = *r.exec.ErrorNodeID
	}
	r.publish(events.Event{
		Type:        events.ExecutionCompleted,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		Status:      status,
		Timestamp:   now,
		Data:        data,
	})

	r.eng.metrics.RecordWorkflowExecution(status, now.Sub(r.exec.StartedAt))
	r.eng.log.Info().
		Str("execution_id", r.exec.ID.String()).
		Str("status", status).
		Int("completed", r.completedCount).
		Int("failed", r.failedCount).
		Dur("duration", now.Sub(r.exec.StartedAt)).
		Msg("execution finished")
}

func (r *run) publish(ev events.Event) {
	r.eng.bus.Publish(ev)
}

func (r *run) publishProgress() {
	current := make([]string, 0, len(r.running))
	for id := range r.running {
		current = append(current, id)
	}
	sort.Strings(current)

	r.publish(events.Event{
		Type:        events.ExecutionProgress,
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		Status:      r.exec.Status,
		Timestamp:   time.Now().UTC(),
		Data: events.Progress{
			TotalNodes:     r.exec.NodesTotal,
			CompletedNodes: r.completedCount,
			FailedNodes:    r.failedCount,
			CurrentNodeIDs: current,
			Status:         r.exec.Status,
		}.Map(),
	})
}

// nodeRecord loads the pre-created row for a node. Persistence failures are
// logged and tolerated; the in-memory run stays authoritative.
func (r *run) nodeRecord(nodeID string) *models.NodeExecution {
	rec, err := r.eng.nodeExecs.FindByExecutionAndNode(context.Background(), r.exec.ID, nodeID)
	if err != nil {
		r.eng.log.Error().Err(err).Str("node_id", nodeID).Msg("loading node execution record")
		return nil
	}
	return rec
}

func (r *run) persistNode(rec *models.NodeExecution) {
	if err := r.eng.nodeExecs.Update(context.Background(), rec); err != nil {
		r.eng.log.Error().Err(err).Str("node_id", rec.NodeID).Msg("persisting node execution record")
	}
}

func inputRecord(input map[string][]nodes.Item) models.JSON {
	out := make(models.JSON, len(input))
	for port, items := range input {
		out[port] = itemsRecord(items)
	}
	return out
}

func outputRecord(outputs map[string][]nodes.Item) models.JSON {
	out := make(models.JSON, len(outputs))
	for port, items := range outputs {
		out[port] = itemsRecord(items)
	}
	return out
}

func itemsRecord(items []nodes.Item) []interface{} {
	arr := make([]interface{}, len(items))
	for i, item := range items {
		m := map[string]interface{}{"json": item.JSON}
		if len(item.Binary) > 0 {
			m["binary"] = item.Binary
		}
		if item.PairedItem != nil {
			m["pairedItem"] = map[string]interface{}{
				"item":  item.PairedItem.Item,
				"input": item.PairedItem.Input,
			}
		}
		arr[i] = m
	}
	return arr
}
