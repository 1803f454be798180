package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-io/flowmesh/internal/domain/models"
)

func TestParseSnapshot(t *testing.T) {
	wf := &models.Workflow{
		ID:     uuid.New(),
		Name:   "orders",
		Active: true,
		Nodes: models.JSONArray{
			map[string]interface{}{"id": "t", "name": "Trigger", "type": "manualTrigger"},
			map[string]interface{}{
				"id": "a", "type": "set",
				"parameters": map[string]interface{}{"fields": []interface{}{}},
				"credentials": map[string]interface{}{
					"apiKey": "6d1f8c3e-0000-0000-0000-000000000001",
				},
				"retryPolicy": map[string]interface{}{
					"maxAttempts":       float64(3),
					"initialDelayMs":    float64(250),
					"backoffMultiplier": float64(2),
					"maxDelayMs":        float64(2000),
					"retryableKinds":    []interface{}{"NodeExecutionError", "Timeout"},
				},
			},
		},
		Connections: models.JSONArray{
			map[string]interface{}{"source": "t", "target": "a"},
		},
		Settings: models.JSON{
			"executionTimeoutMs": float64(30000),
			"errorWorkflowId":    "ew-1",
			"vars":               map[string]interface{}{"region": "eu"},
		},
	}

	snap, err := ParseSnapshot(wf)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, snap.WorkflowID)
	require.Len(t, snap.Nodes, 2)

	// Missing name falls back to the id.
	a, ok := snap.NodeByID("a")
	require.True(t, ok)
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, "6d1f8c3e-0000-0000-0000-000000000001", a.CredentialIDs["apiKey"])

	require.NotNil(t, a.RetryPolicy)
	assert.Equal(t, 3, a.RetryPolicy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, a.RetryPolicy.InitialDelay)
	assert.True(t, a.RetryPolicy.Retryable(KindTimeout))
	assert.False(t, a.RetryPolicy.Retryable(KindValidationFailed))

	// Ports default to "main".
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "main", snap.Connections[0].SourceOutput)
	assert.Equal(t, "main", snap.Connections[0].TargetInput)

	assert.Equal(t, 30*time.Second, snap.Settings.ExecutionTimeout)
	assert.Equal(t, "ew-1", snap.Settings.ErrorWorkflowID)
	assert.Equal(t, "eu", snap.Settings.Vars["region"])
}

func TestParseSnapshotRejectsDuplicates(t *testing.T) {
	wf := &models.Workflow{
		ID: uuid.New(),
		Nodes: models.JSONArray{
			map[string]interface{}{"id": "a", "type": "set"},
			map[string]interface{}{"id": "a", "type": "set"},
		},
	}
	_, err := ParseSnapshot(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")

	wf = &models.Workflow{
		ID: uuid.New(),
		Nodes: models.JSONArray{
			map[string]interface{}{"id": "a", "name": "same", "type": "set"},
			map[string]interface{}{"id": "b", "name": "same", "type": "set"},
		},
	}
	_, err = ParseSnapshot(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node name")
}

func TestParseSnapshotRejectsUnknownEndpoints(t *testing.T) {
	wf := &models.Workflow{
		ID: uuid.New(),
		Nodes: models.JSONArray{
			map[string]interface{}{"id": "a", "type": "set"},
		},
		Connections: models.JSONArray{
			map[string]interface{}{"source": "a", "target": "ghost"},
		},
	}
	_, err := ParseSnapshot(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:       4,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          300 * time.Millisecond,
	}

	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, 200*time.Millisecond, p.Delay(3))
	// Capped by MaxDelay.
	assert.Equal(t, 300*time.Millisecond, p.Delay(4))
}

func TestSnapshotRecordRoundTrips(t *testing.T) {
	snap := &Snapshot{
		WorkflowID: uuid.New(),
		Name:       "r",
		Nodes: []Node{
			{ID: "a", Name: "a", Type: "set", Disabled: true},
		},
		Connections: []Connection{
			{Source: "a", SourceOutput: "main", Target: "a", TargetInput: "main"},
		},
	}
	rec := snap.Record()
	assert.Equal(t, snap.WorkflowID.String(), rec["workflowId"])
	nodesRaw := rec["nodes"].([]interface{})
	require.Len(t, nodesRaw, 1)
	assert.Equal(t, true, nodesRaw[0].(map[string]interface{})["disabled"])
}
