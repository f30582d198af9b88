package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker is a Broker over Redis pub/sub. Values travel as JSON.
//
// The broker does not own the client; Close ends open subscriptions only.
type RedisBroker[T any] struct {
	client *redis.Client
	prefix string

	buffer int
	log    *zerolog.Logger

	mu     sync.Mutex
	feeds  map[*Feed[T]]struct{}
	closed bool
}

var _ Broker[int] = (*RedisBroker[int])(nil)

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis: empty url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// NewRedisBroker creates a broker whose channels are named prefix+topic.
func NewRedisBroker[T any](client *redis.Client, prefix string, opts ...Option) *RedisBroker[T] {
	o := buildOptions(opts)
	return &RedisBroker[T]{
		client: client,
		prefix: prefix,
		buffer: o.buffer,
		log:    o.log,
		feeds:  make(map[*Feed[T]]struct{}),
	}
}

// Publish encodes v as JSON and publishes it on topic.
func (b *RedisBroker[T]) Publish(ctx context.Context, topic string, v T) error {
	if b.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a pub/sub connection on all topics and waits for the
// server to confirm it before returning.
func (b *RedisBroker[T]) Subscribe(ctx context.Context, topics ...string) (Subscription[T], error) {
	if len(topics) == 0 {
		return nil, errors.New("realtime: no topics")
	}
	if b.isClosed() {
		return nil, ErrClosed
	}

	channels := make([]string, len(topics))
	for i, topic := range topics {
		channels[i] = b.prefix + topic
	}

	ps := b.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	var feed *Feed[T]
	feed = NewFeed[T](b.buffer, func() {
		_ = ps.Close()
		b.mu.Lock()
		delete(b.feeds, feed)
		b.mu.Unlock()
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrClosed
	}
	b.feeds[feed] = struct{}{}
	b.mu.Unlock()

	go b.pump(ps, feed)
	return feed, nil
}

func (b *RedisBroker[T]) pump(ps *redis.PubSub, feed *Feed[T]) {
	ch := ps.Channel()
	for {
		select {
		case <-feed.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				feed.Fail(ErrDisconnected)
				return
			}
			var v T
			if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
				b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable payload")
				continue
			}
			if !feed.Offer(v) {
				feed.Fail(ErrSlowConsumer)
				return
			}
		}
	}
}

// Close ends every open subscription with ErrDisconnected.
func (b *RedisBroker[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	feeds := make([]*Feed[T], 0, len(b.feeds))
	for feed := range b.feeds {
		feeds = append(feeds, feed)
	}
	b.mu.Unlock()

	for _, feed := range feeds {
		feed.Fail(ErrDisconnected)
	}
	return nil
}

func (b *RedisBroker[T]) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
