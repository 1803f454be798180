package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for channel close, got %d events", len(out))
		}
	}
}

func TestBusDeliversInOrderAndClosesOnCompleted(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	execID := uuid.New()

	ch, cancel := bus.Subscribe(execID)
	defer cancel()

	bus.Publish(Event{Type: ExecutionStarted, ExecutionID: execID})
	bus.Publish(Event{Type: NodeStarted, ExecutionID: execID, NodeID: "a"})
	bus.Publish(Event{Type: NodeCompleted, ExecutionID: execID, NodeID: "a"})
	bus.Publish(Event{Type: ExecutionCompleted, ExecutionID: execID, Status: "success"})

	got := collect(t, ch, time.Second)
	require.Len(t, got, 4)
	assert.Equal(t, ExecutionStarted, got[0].Type)
	assert.Equal(t, NodeStarted, got[1].Type)
	assert.Equal(t, NodeCompleted, got[2].Type)
	assert.Equal(t, ExecutionCompleted, got[3].Type)
}

func TestBusIsolatesExecutions(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	mine := uuid.New()
	other := uuid.New()

	ch, cancel := bus.Subscribe(mine)
	defer cancel()

	bus.Publish(Event{Type: NodeStarted, ExecutionID: other, NodeID: "x"})
	bus.Publish(Event{Type: NodeStarted, ExecutionID: mine, NodeID: "a"})
	bus.Publish(Event{Type: ExecutionCompleted, ExecutionID: mine})

	got := collect(t, ch, time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].NodeID)
}

func TestBusTopicSubscription(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.SubscribeTopic(TopicNode)

	bus.Publish(Event{Type: ExecutionStarted, ExecutionID: uuid.New()})
	bus.Publish(Event{Type: NodeFailed, ExecutionID: uuid.New(), NodeID: "b"})
	bus.Publish(Event{Type: NodeSkipped, ExecutionID: uuid.New(), NodeID: "c"})
	cancel()

	got := collect(t, ch, time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, NodeFailed, got[0].Type)
	assert.Equal(t, NodeSkipped, got[1].Type)
}

func TestBusCoalescesProgressOnly(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	execID := uuid.New()

	ch, cancel := bus.Subscribe(execID)
	defer cancel()

	// Published before the consumer reads anything: progress may collapse,
	// lifecycle events may not.
	for i := 1; i <= 50; i++ {
		bus.Publish(Event{
			Type:        ExecutionProgress,
			ExecutionID: execID,
			Data:        Progress{CompletedNodes: i, TotalNodes: 50}.Map(),
		})
	}
	bus.Publish(Event{Type: NodeCompleted, ExecutionID: execID, NodeID: "a"})
	bus.Publish(Event{Type: ExecutionCompleted, ExecutionID: execID})

	got := collect(t, ch, time.Second)

	var progress, lifecycle []Event
	for _, ev := range got {
		if ev.Type == ExecutionProgress {
			progress = append(progress, ev)
		} else {
			lifecycle = append(lifecycle, ev)
		}
	}

	require.Len(t, lifecycle, 2)
	require.NotEmpty(t, progress)
	assert.Less(t, len(progress), 50, "progress events should coalesce under backpressure")
	// The newest progress survives.
	last := progress[len(progress)-1]
	assert.Equal(t, 50, last.Data["completed_nodes"])
}

func TestBusFailureTopicDeliversEscalations(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.SubscribeTopic(TopicFailure)

	bus.Publish(Event{Type: NodeFailed, ExecutionID: uuid.New(), NodeID: "b"})
	bus.Publish(Event{
		Type:        FailureEscalation,
		ExecutionID: uuid.New(),
		NodeID:      "b",
		Data:        map[string]interface{}{"error_workflow_id": "wf-err"},
	})
	cancel()

	got := collect(t, ch, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, FailureEscalation, got[0].Type)
	assert.Equal(t, "wf-err", got[0].Data["error_workflow_id"])
}

func TestBusReleasesAbandonedSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	execID := uuid.New()

	ch, cancel := bus.Subscribe(execID)

	// Overfill the delivery buffer without ever reading, then walk away.
	for i := 0; i < 40; i++ {
		bus.Publish(Event{Type: NodeCompleted, ExecutionID: execID, NodeID: "a"})
	}
	cancel()
	time.Sleep(4 * drainGrace)

	// The pump must have given up and closed the channel; draining now yields
	// only what the buffer already held, never the full backlog.
	var got int
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				assert.Less(t, got, 40, "pump kept delivering after the subscriber was abandoned")
				return
			}
			got++
		case <-deadline:
			t.Fatal("subscriber channel never closed after cancel")
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	execID := uuid.New()

	ch, cancel := bus.Subscribe(execID)
	bus.Publish(Event{Type: NodeStarted, ExecutionID: execID, NodeID: "a"})
	cancel()

	got := collect(t, ch, time.Second)
	assert.LessOrEqual(t, len(got), 1)
}

func TestTopicMatches(t *testing.T) {
	assert.True(t, TopicNode.Matches(NodeStarted))
	assert.True(t, TopicExecution.Matches(ExecutionProgress))
	assert.True(t, TopicFailure.Matches(FailureEscalation))
	assert.False(t, TopicNode.Matches(ExecutionStarted))
	assert.False(t, TopicExecution.Matches(NodeFailed))
	assert.False(t, TopicNode.Matches(FailureEscalation))
}
