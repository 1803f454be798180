package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh-io/flowmesh/internal/domain/models"
)

// RetryPolicy governs re-invocation of a failed node.
type RetryPolicy struct {
	MaxAttempts       int           `json:"maxAttempts"`
	InitialDelay      time.Duration `json:"-"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	MaxDelay          time.Duration `json:"-"`
	RetryableKinds    []Kind        `json:"retryableKinds"`
}

// DefaultRetryPolicy is a single attempt: no retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Retryable reports whether a failure of the given kind may be retried.
func (p RetryPolicy) Retryable(kind Kind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Delay returns the backoff before the given attempt (1-based; attempt 1 has
// no delay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.InitialDelay <= 0 {
		return 0
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt-1; i++ {
		d *= p.BackoffMultiplier
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Node is one vertex of a workflow snapshot.
type Node struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	// CredentialIDs maps credential type to the credential record to use.
	CredentialIDs map[string]string `json:"credentials,omitempty"`
	Disabled      bool              `json:"disabled,omitempty"`
	RetryPolicy   *RetryPolicy      `json:"retryPolicy,omitempty"`
}

// Connection is a directed edge between two node ports.
type Connection struct {
	Source       string `json:"source"`
	SourceOutput string `json:"sourceOutput"`
	Target       string `json:"target"`
	TargetInput  string `json:"targetInput"`
}

// Settings carries the workflow-level knobs the engine honors.
type Settings struct {
	ExecutionTimeout       time.Duration          `json:"-"`
	SaveDataErrorExecution string                 `json:"saveDataErrorExecution,omitempty"`
	ErrorWorkflowID        string                 `json:"errorWorkflowId,omitempty"`
	Vars                   map[string]interface{} `json:"vars,omitempty"`
}

// Snapshot is the immutable copy of a workflow an execution runs against.
type Snapshot struct {
	WorkflowID  uuid.UUID
	Name        string
	Active      bool
	Nodes       []Node
	Connections []Connection
	Settings    Settings
}

// NodeByID returns the snapshot node with the given id.
func (s *Snapshot) NodeByID(id string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// ParseSnapshot materializes the engine's view of a stored workflow. Raw
// node and connection objects come back from JSONB columns as generic maps.
func ParseSnapshot(wf *models.Workflow) (*Snapshot, error) {
	snap := &Snapshot{
		WorkflowID: wf.ID,
		Name:       wf.Name,
		Active:     wf.Active,
	}

	seen := make(map[string]bool, len(wf.Nodes))
	names := make(map[string]bool, len(wf.Nodes))
	for i, raw := range wf.Nodes {
		node, err := parseNode(raw)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if seen[node.ID] {
			return nil, fmt.Errorf("duplicate node id %q", node.ID)
		}
		if names[node.Name] {
			return nil, fmt.Errorf("duplicate node name %q", node.Name)
		}
		seen[node.ID] = true
		names[node.Name] = true
		snap.Nodes = append(snap.Nodes, node)
	}

	for i, raw := range wf.Connections {
		conn, err := parseConnection(raw)
		if err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
		if !seen[conn.Source] || !seen[conn.Target] {
			return nil, fmt.Errorf("connection %d references unknown node", i)
		}
		snap.Connections = append(snap.Connections, conn)
	}

	settings, err := parseSettings(wf.Settings)
	if err != nil {
		return nil, err
	}
	snap.Settings = settings
	return snap, nil
}

// Record renders the snapshot for the execution record's snapshot column.
func (s *Snapshot) Record() models.JSON {
	nodes := make([]interface{}, len(s.Nodes))
	for i, n := range s.Nodes {
		node := map[string]interface{}{
			"id":   n.ID,
			"name": n.Name,
			"type": n.Type,
		}
		if len(n.Parameters) > 0 {
			node["parameters"] = n.Parameters
		}
		if len(n.CredentialIDs) > 0 {
			creds := make(map[string]interface{}, len(n.CredentialIDs))
			for k, v := range n.CredentialIDs {
				creds[k] = v
			}
			node["credentials"] = creds
		}
		if n.Disabled {
			node["disabled"] = true
		}
		nodes[i] = node
	}
	conns := make([]interface{}, len(s.Connections))
	for i, c := range s.Connections {
		conns[i] = map[string]interface{}{
			"source":       c.Source,
			"sourceOutput": c.SourceOutput,
			"target":       c.Target,
			"targetInput":  c.TargetInput,
		}
	}
	return models.JSON{
		"workflowId":  s.WorkflowID.String(),
		"name":        s.Name,
		"nodes":       nodes,
		"connections": conns,
	}
}

func parseNode(raw interface{}) (Node, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Node{}, fmt.Errorf("expected an object, got %T", raw)
	}

	node := Node{
		ID:   stringField(m, "id"),
		Name: stringField(m, "name"),
		Type: stringField(m, "type"),
	}
	if node.ID == "" || node.Type == "" {
		return Node{}, fmt.Errorf("node needs id and type")
	}
	if node.Name == "" {
		node.Name = node.ID
	}

	if params, ok := m["parameters"].(map[string]interface{}); ok {
		node.Parameters = params
	}
	if disabled, ok := m["disabled"].(bool); ok {
		node.Disabled = disabled
	}
	if creds, ok := m["credentials"].(map[string]interface{}); ok {
		node.CredentialIDs = make(map[string]string, len(creds))
		for credType, id := range creds {
			s, ok := id.(string)
			if !ok {
				return Node{}, fmt.Errorf("credential id for %q must be a string", credType)
			}
			node.CredentialIDs[credType] = s
		}
	}
	if rawPolicy, ok := m["retryPolicy"].(map[string]interface{}); ok {
		policy, err := parseRetryPolicy(rawPolicy)
		if err != nil {
			return Node{}, err
		}
		node.RetryPolicy = &policy
	}
	return node, nil
}

func parseRetryPolicy(m map[string]interface{}) (RetryPolicy, error) {
	policy := DefaultRetryPolicy()
	if v, ok := numberField(m, "maxAttempts"); ok {
		policy.MaxAttempts = int(v)
	}
	if policy.MaxAttempts < 1 {
		return RetryPolicy{}, fmt.Errorf("retryPolicy.maxAttempts must be at least 1")
	}
	if v, ok := numberField(m, "initialDelayMs"); ok {
		policy.InitialDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := numberField(m, "backoffMultiplier"); ok {
		policy.BackoffMultiplier = v
	}
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = 1
	}
	if v, ok := numberField(m, "maxDelayMs"); ok {
		policy.MaxDelay = time.Duration(v) * time.Millisecond
	}
	if kinds, ok := m["retryableKinds"].([]interface{}); ok {
		for _, k := range kinds {
			if s, ok := k.(string); ok {
				policy.RetryableKinds = append(policy.RetryableKinds, Kind(s))
			}
		}
	}
	return policy, nil
}

func parseConnection(raw interface{}) (Connection, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Connection{}, fmt.Errorf("expected an object, got %T", raw)
	}
	conn := Connection{
		Source:       stringField(m, "source"),
		SourceOutput: stringField(m, "sourceOutput"),
		Target:       stringField(m, "target"),
		TargetInput:  stringField(m, "targetInput"),
	}
	if conn.Source == "" || conn.Target == "" {
		return Connection{}, fmt.Errorf("connection needs source and target")
	}
	if conn.SourceOutput == "" {
		conn.SourceOutput = "main"
	}
	if conn.TargetInput == "" {
		conn.TargetInput = "main"
	}
	return conn, nil
}

func parseSettings(raw models.JSON) (Settings, error) {
	var settings Settings
	if raw == nil {
		return settings, nil
	}
	if v, ok := numberField(raw, "executionTimeoutMs"); ok {
		if v < 0 {
			return Settings{}, fmt.Errorf("executionTimeoutMs must not be negative")
		}
		settings.ExecutionTimeout = time.Duration(v) * time.Millisecond
	}
	settings.SaveDataErrorExecution = stringField(raw, "saveDataErrorExecution")
	settings.ErrorWorkflowID = stringField(raw, "errorWorkflowId")
	if vars, ok := raw["vars"].(map[string]interface{}); ok {
		settings.Vars = vars
	}
	return settings, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
