package godec

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type options struct {
	logger        *slog.Logger
	laneDepth     int
	maxConcurrent int64
	streamDepth   int
	registerer    prometheus.Registerer
}

func defaultOptions() options {
	return options{
		laneDepth:     64,
		maxConcurrent: 4,
	}
}

// Option tunes a Session at Load.
type Option func(*options)

// WithLogger sets the base logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLaneDepth sets how many messages each push endpoint buffers before
// Push starts to block.
func WithLaneDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.laneDepth = n
		}
	}
}

// WithMaxConcurrentDeliveries bounds how many push endpoints may be inside
// Engine.Push at the same time.
func WithMaxConcurrentDeliveries(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithStreamDepth bounds every per-stream aggregation queue. When full, the
// oldest message is dropped. Zero means unbounded.
func WithStreamDepth(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.streamDepth = n
		}
	}
}

// WithRegisterer registers session metrics on r instead of a private registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}
