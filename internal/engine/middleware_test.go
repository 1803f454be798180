package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
)

func passthroughExecute(ctx context.Context, ec *nodes.ExecutionContext) (map[string][]nodes.Item, error) {
	return map[string][]nodes.Item{"main": {}}, nil
}

func TestRateLimitMiddlewareThrottlesGlobally(t *testing.T) {
	def := &nodes.Definition{Identifier: "set"}
	execute := RateLimitMiddleware(RateLimitConfig{
		GlobalRPS:   50,
		GlobalBurst: 1,
	})(def, passthroughExecute)
	ec := &nodes.ExecutionContext{NodeID: "n"}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := execute(context.Background(), ec)
		require.NoError(t, err)
	}
	// Burst 1 at 50 rps: the second and third calls each wait ~20ms.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimitMiddlewareMaxWaitFailsFast(t *testing.T) {
	def := &nodes.Definition{Identifier: "httpRequest"}
	execute := RateLimitMiddleware(RateLimitConfig{
		NodeTypeRPS:   map[string]float64{"httpRequest": 0.1},
		NodeTypeBurst: map[string]int{"httpRequest": 1},
		MaxWait:       20 * time.Millisecond,
	})(def, passthroughExecute)
	ec := &nodes.ExecutionContext{NodeID: "n"}

	// First call spends the burst token; the next token is ten seconds away.
	_, err := execute(context.Background(), ec)
	require.NoError(t, err)

	start := time.Now()
	_, err = execute(context.Background(), ec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimitMiddlewareWaitHonoursCancellation(t *testing.T) {
	def := &nodes.Definition{Identifier: "set"}
	execute := RateLimitMiddleware(RateLimitConfig{
		GlobalRPS:   0.1,
		GlobalBurst: 1,
	})(def, passthroughExecute)
	ec := &nodes.ExecutionContext{NodeID: "n"}

	_, err := execute(context.Background(), ec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = execute(ctx, ec)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation should interrupt the wait")
}

func TestRateLimitMiddlewareUnlimitedTypePassesThrough(t *testing.T) {
	def := &nodes.Definition{Identifier: "set"}
	execute := RateLimitMiddleware(RateLimitConfig{
		NodeTypeRPS:   map[string]float64{"httpRequest": 0.1},
		NodeTypeBurst: map[string]int{"httpRequest": 1},
	})(def, passthroughExecute)
	ec := &nodes.ExecutionContext{NodeID: "n"}

	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := execute(context.Background(), ec)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}
