package bridge

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Message is one payload received from the pub/sub backend.
type Message struct {
	Channel string
	Payload []byte
}

// PubSub is the backend the bridge forwards events through.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe starts receiving from channels. The returned close function
	// ends the subscription and closes the message channel.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error)
}

// RedisPubSub implements PubSub with Redis PUBLISH/SUBSCRIBE.
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub wraps client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Ping checks the connection to Redis.
func (r *RedisPubSub) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	ps := r.client.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe to %v: %w", channels, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
		}
	}()
	return out, ps.Close, nil
}
