package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBridge relays bus events to Redis pub/sub so out-of-process consumers
// (the WebSocket gateway, the activity feed) can follow executions. It is an
// optional attachment: the in-process bus works without it.
type RedisBridge struct {
	client *redis.Client
	log    zerolog.Logger
	cancel func()
	done   chan struct{}
}

func NewRedisBridge(client *redis.Client, log zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		client: client,
		log:    log.With().Str("component", "event_bridge").Logger(),
		done:   make(chan struct{}),
	}
}

// Attach subscribes to every topic family and starts relaying. Call Stop to
// detach.
func (b *RedisBridge) Attach(ctx context.Context, bus *Bus) {
	execCh, cancelExec := bus.SubscribeTopic(TopicExecution)
	nodeCh, cancelNode := bus.SubscribeTopic(TopicNode)
	failCh, cancelFail := bus.SubscribeTopic(TopicFailure)
	b.cancel = func() {
		cancelExec()
		cancelNode()
		cancelFail()
	}

	go func() {
		defer close(b.done)
		for execCh != nil || nodeCh != nil || failCh != nil {
			select {
			case ev, ok := <-execCh:
				if !ok {
					execCh = nil
					continue
				}
				b.relay(ctx, ev)
			case ev, ok := <-nodeCh:
				if !ok {
					nodeCh = nil
					continue
				}
				b.relay(ctx, ev)
			case ev, ok := <-failCh:
				if !ok {
					failCh = nil
					continue
				}
				b.relay(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop detaches from the bus and waits for the relay goroutine.
func (b *RedisBridge) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *RedisBridge) relay(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to serialize event")
		return
	}
	channel := "execution:" + ev.ExecutionID.String()
	if err := b.client.Publish(ctx, channel, raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("failed to relay event")
	}
}
