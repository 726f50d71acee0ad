package server

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// RedisBridge fans change events out across server instances through a
// redis pub/sub channel. Each instance publishes its own pushes and
// re-broadcasts everything it hears from peers to its local hub.
type RedisBridge struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        *Hub
	logger     log.Log
	cancel     context.CancelFunc
}

// bridgeEnvelope wraps a change event with the publishing instance id so
// an instance can skip its own messages.
type bridgeEnvelope struct {
	Instance string           `json:"instance"`
	Event    sync.ChangeEvent `json:"event"`
}

func NewRedisBridge(addr, channel, instanceID string, hub *Hub, logger log.Log) *RedisBridge {
	if logger == nil {
		logger = log.Nop()
	}
	return &RedisBridge{
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		channel:    channel,
		instanceID: instanceID,
		hub:        hub,
		logger:     logger.With(log.String("component", "redis_bridge")),
	}
}

// Start verifies connectivity, installs the hub bridge hook and begins
// re-broadcasting peer events.
func (b *RedisBridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.hub.SetBridge(func(ev sync.ChangeEvent) {
		payload, err := json.Marshal(bridgeEnvelope{Instance: b.instanceID, Event: ev})
		if err != nil {
			return
		}
		if err := b.client.Publish(runCtx, b.channel, payload).Err(); err != nil {
			b.logger.Warn("publish failed", log.Error(err))
		}
	})

	sub := b.client.Subscribe(runCtx, b.channel)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env bridgeEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("undecodable bridge message", log.Error(err))
					continue
				}
				if env.Instance == b.instanceID {
					continue
				}
				b.hub.broadcastLocal(env.Event)
			case <-runCtx.Done():
				return
			}
		}
	}()

	b.logger.Info("redis bridge started", log.String("channel", b.channel))
	return nil
}

func (b *RedisBridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.hub.SetBridge(nil)
	_ = b.client.Close()
}
