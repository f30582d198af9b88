package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/metrics"
)

const (
	// DefaultPageSize is the number of messages fetched per request while loading.
	DefaultPageSize = 100
	// DefaultSignalBuffer is the capacity of a view's signal channel.
	DefaultSignalBuffer = 64
)

// Option configures resolvers and views.
type Option func(*config)

type config struct {
	log          *zerolog.Logger
	metrics      *metrics.Metrics
	retry        RetryPolicy
	pageSize     int
	signalBuffer int
	overlap      time.Duration
}

func newConfig(opts []Option) *config {
	nop := zerolog.Nop()
	c := &config{
		log:          &nop,
		retry:        DefaultRetryPolicy(),
		pageSize:     DefaultPageSize,
		signalBuffer: DefaultSignalBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *config) { c.retry = p }
}

// WithPageSize sets how many messages are requested per page.
func WithPageSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithSignalBuffer sets the capacity of the signal channel.
func WithSignalBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.signalBuffer = n
		}
	}
}

// WithRecoveryOverlap makes recovery re-fetch from d before the last known
// message instead of strictly after it. Zero keeps the exact cursor.
func WithRecoveryOverlap(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.overlap = d
		}
	}
}
