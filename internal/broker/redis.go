package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is the production Broker backend: a thin wrapper over the
// go-redis client exposing exactly the primitives BlueCollar needs —
// blocking list pop/push, set membership, and publish/subscribe (spec §1).
type RedisBroker struct {
	client *redis.Client
}

// RedisOptions configures the connection. Host/Port/DB come straight from
// config.Broker.
type RedisOptions struct {
	Host string
	Port int
	DB   int
}

// NewRedisBroker dials Redis and verifies connectivity with a PING, mirroring
// this codebase's convention of failing fast at construction rather than on
// first use.
func NewRedisBroker(ctx context.Context, opts RedisOptions) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		DB:   opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: redis unreachable at %s:%d db=%d: %w", opts.Host, opts.Port, opts.DB, err)
	}

	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Push(ctx context.Context, key string, value []byte) error {
	return b.client.RPush(ctx, key, value).Err()
}

func (b *RedisBroker) BlockingPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	result, err := b.client.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPOP returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	return []byte(result[1]), nil
}

func (b *RedisBroker) SetAdd(ctx context.Context, key, member string) error {
	return b.client.SAdd(ctx, key, member).Err()
}

func (b *RedisBroker) SetRemove(ctx context.Context, key, member string) error {
	return b.client.SRem(ctx, key, member).Err()
}

func (b *RedisBroker) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	return b.client.SIsMember(ctx, key, member).Result()
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, value []byte) error {
	return b.client.Publish(ctx, channel, value).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (PubSub, error) {
	sub := b.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("broker: subscribe failed: %w", err)
	}

	out := make(chan Message, 64)
	ps := &redisPubSub{sub: sub, out: out}
	go ps.pump()
	return ps, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// redisPubSub adapts *redis.PubSub to the broker.PubSub interface. A single
// goroutine (pump) copies the client's internal channel onto our exported
// one so Subscribe/Unsubscribe can safely run concurrently with delivery.
type redisPubSub struct {
	sub *redis.PubSub
	out chan Message
}

func (p *redisPubSub) pump() {
	defer close(p.out)
	for msg := range p.sub.Channel() {
		p.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (p *redisPubSub) Messages() <-chan Message {
	return p.out
}

func (p *redisPubSub) Subscribe(ctx context.Context, channels ...string) error {
	return p.sub.Subscribe(ctx, channels...)
}

func (p *redisPubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	return p.sub.Unsubscribe(ctx, channels...)
}

func (p *redisPubSub) Close() error {
	return p.sub.Close()
}
