package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/metrics"
)

// Hub is an in-memory Broker. Each published value is offered to every
// subscription of the topic; a subscription that cannot take it is ended
// with ErrSlowConsumer so its owner re-syncs instead of silently missing
// the event.
type Hub[T any] struct {
	mu     sync.Mutex
	topics map[string]map[*Feed[T]]struct{}
	closed bool

	buffer  int
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

var _ Broker[int] = (*Hub[int])(nil)

// Option configures a Hub or a RedisBroker.
type Option func(*options)

type options struct {
	buffer  int
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{buffer: DefaultBuffer}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.buffer <= 0 {
		o.buffer = DefaultBuffer
	}
	if o.log == nil {
		nop := zerolog.Nop()
		o.log = &nop
	}
	return o
}

// NewHub creates an empty hub.
func NewHub[T any](opts ...Option) *Hub[T] {
	o := buildOptions(opts)
	return &Hub[T]{
		topics:  make(map[string]map[*Feed[T]]struct{}),
		buffer:  o.buffer,
		log:     o.log,
		metrics: o.metrics,
	}
}

// Subscribe opens a subscription on all given topics.
func (h *Hub[T]) Subscribe(_ context.Context, topics ...string) (Subscription[T], error) {
	if len(topics) == 0 {
		return nil, errors.New("realtime: no topics")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	topics = append([]string(nil), topics...)
	var feed *Feed[T]
	feed = NewFeed[T](h.buffer, func() { h.remove(feed, topics) })
	for _, topic := range topics {
		subs, ok := h.topics[topic]
		if !ok {
			subs = make(map[*Feed[T]]struct{})
			h.topics[topic] = subs
		}
		subs[feed] = struct{}{}
	}
	h.metrics.SubscriberAdded()
	return feed, nil
}

func (h *Hub[T]) remove(feed *Feed[T], topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		subs := h.topics[topic]
		delete(subs, feed)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.metrics.SubscriberRemoved()
}

// Publish offers v to every subscription of topic.
func (h *Hub[T]) Publish(_ context.Context, topic string, v T) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	var slow []*Feed[T]
	for feed := range h.topics[topic] {
		if !feed.Offer(v) {
			slow = append(slow, feed)
		}
	}
	h.mu.Unlock()

	h.metrics.Published()

	// Fail re-enters the hub through onClose, so it runs unlocked.
	for _, feed := range slow {
		h.log.Warn().Str("topic", topic).Msg("dropping slow subscriber")
		h.metrics.SlowConsumer()
		feed.Fail(ErrSlowConsumer)
	}
	return nil
}

// Disconnect ends every subscription on topic with ErrDisconnected and
// returns how many were ended.
func (h *Hub[T]) Disconnect(topic string) int {
	h.mu.Lock()
	feeds := make([]*Feed[T], 0, len(h.topics[topic]))
	for feed := range h.topics[topic] {
		feeds = append(feeds, feed)
	}
	h.mu.Unlock()

	for _, feed := range feeds {
		feed.Fail(ErrDisconnected)
	}
	return len(feeds)
}

// Subscribers returns the number of subscriptions on topic.
func (h *Hub[T]) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Close ends all subscriptions with ErrDisconnected and rejects further use.
func (h *Hub[T]) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	seen := make(map[*Feed[T]]struct{})
	for _, subs := range h.topics {
		for feed := range subs {
			seen[feed] = struct{}{}
		}
	}
	h.mu.Unlock()

	for feed := range seen {
		feed.Fail(ErrDisconnected)
	}
	return nil
}
