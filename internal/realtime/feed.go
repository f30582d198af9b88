// Package realtime delivers row changes to subscribers, in process (Hub) or
// across processes (RedisBroker).
package realtime

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDisconnected means the subscription ended without being closed by its owner.
	ErrDisconnected = errors.New("subscription disconnected")
	// ErrSlowConsumer means the subscriber fell behind and its buffer overflowed.
	ErrSlowConsumer = errors.New("subscriber too slow")
	// ErrClosed is returned when publishing or subscribing on a closed broker.
	ErrClosed = errors.New("broker closed")
)

// DefaultBuffer is the per-subscription event buffer used when none is configured.
const DefaultBuffer = 64

// Subscription is a closable stream of events.
//
// Events is never closed; consumers select on Done to learn that the stream
// ended, then consult Err. Err is nil after Close and non-nil when the stream
// was lost.
type Subscription[T any] interface {
	Events() <-chan T
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Broker publishes values to topics and opens subscriptions on them.
type Broker[T any] interface {
	Publish(ctx context.Context, topic string, v T) error
	Subscribe(ctx context.Context, topics ...string) (Subscription[T], error)
	Close() error
}

// Feed is a buffered Subscription fed by a producer.
type Feed[T any] struct {
	events chan T
	done   chan struct{}

	once    sync.Once
	mu      sync.Mutex
	err     error
	onClose func()
}

var _ Subscription[int] = (*Feed[int])(nil)

// NewFeed creates a feed with the given buffer size. onClose, if set, runs
// exactly once when the feed ends for any reason.
func NewFeed[T any](buffer int, onClose func()) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed[T]{
		events:  make(chan T, buffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Events returns the event channel.
func (f *Feed[T]) Events() <-chan T { return f.events }

// Done is closed when the feed ends.
func (f *Feed[T]) Done() <-chan struct{} { return f.done }

// Err reports why the feed ended.
func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Offer enqueues v without blocking. It returns false when the feed has
// ended or its buffer is full.
func (f *Feed[T]) Offer(v T) bool {
	select {
	case <-f.done:
		return false
	default:
	}

	select {
	case f.events <- v:
		return true
	default:
		return false
	}
}

// Fail ends the feed with err. Only the first Fail or Close has an effect.
func (f *Feed[T]) Fail(err error) {
	if err == nil {
		err = ErrDisconnected
	}
	f.end(err)
}

// Close ends the feed on behalf of its consumer. It is idempotent.
func (f *Feed[T]) Close() error {
	f.end(nil)
	return nil
}

func (f *Feed[T]) end(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
		if f.onClose != nil {
			f.onClose()
		}
	})
}
