package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

// RedisPubSub implements PubSub on Redis PUBLISH/SUBSCRIBE.
type RedisPubSub struct {
	client *redis.Client

	mu            sync.Mutex
	subscriptions map[string]*redis.PubSub
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{client: client, subscriptions: make(map[string]*redis.PubSub)}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.listen(ctx, channel, r.client.Subscribe(ctx, channel))
}

// SubscribePattern uses PSUBSCRIBE, so glob patterns such as
// PatternUserNotify match directly.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.listen(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

// listen returns once Redis confirms the subscription, so events published
// afterwards are not missed.
func (r *RedisPubSub) listen(ctx context.Context, name string, ps *redis.PubSub) (<-chan *Event, error) {
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	r.mu.Lock()
	if prev, ok := r.subscriptions[name]; ok {
		prev.Close()
	}
	r.subscriptions[name] = ps
	r.mu.Unlock()

	out := make(chan *Event, 100)
	go r.pump(ctx, ps.Channel(), out)
	return out, nil
}

func (r *RedisPubSub) pump(ctx context.Context, in <-chan *redis.Message, out chan<- *Event) {
	defer close(out)
	l := pkglog.L()

	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}

		event := new(Event)
		if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
			l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable event")
			continue
		}
		select {
		case out <- event:
		case <-ctx.Done():
			return
		default:
			l.Warn().Str("channel", msg.Channel).Msg("subscriber is full, dropping event")
		}
	}
}

func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	ps, ok := r.subscriptions[channel]
	delete(r.subscriptions, channel)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return ps.Close()
}

// Close drops every subscription and closes the client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	for name, ps := range r.subscriptions {
		ps.Close()
		delete(r.subscriptions, name)
	}
	r.mu.Unlock()

	return r.client.Close()
}
