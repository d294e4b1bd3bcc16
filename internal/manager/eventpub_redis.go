package manager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher forwards lifecycle events to a Redis pub/sub channel so
// external observers (dashboards, other daemons) can follow model state
// without polling. Publishing is best effort: a slow or absent broker never
// blocks a lifecycle transition.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects a publisher to addr (host:port) on channel.
func NewRedisPublisher(addr, password, channel string, db int) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		channel: channel,
	}
}

type redisEvent struct {
	Name    string         `json:"name"`
	ModelID string         `json:"model_id,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
}

// Publish sends the event from a goroutine so a degraded broker delays
// delivery, not the lifecycle transition that produced the event.
func (p *RedisPublisher) Publish(e Event) {
	payload, err := json.Marshal(redisEvent{
		Name:    e.Name,
		ModelID: e.ModelID,
		Fields:  e.Fields,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.client.Publish(ctx, p.channel, payload).Err()
	}()
}

// Close releases the client connection.
func (p *RedisPublisher) Close() error { return p.client.Close() }
