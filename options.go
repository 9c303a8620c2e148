package zarrpyr

import (
	"log/slog"

	"golang.org/x/time/rate"
)

type options struct {
	logger          *Logger
	metrics         MetricsCollector
	writable        bool
	name            string
	limiter         *rate.Limiter
	flushTile       [3]int64
	volatileWorkers int
}

// Option configures Open behavior.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := zarrpyr.NewJSONLogger(slog.LevelInfo)
//	ds, _ := zarrpyr.Open(ctx, store, zarrpyr.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &zarrpyr.BasicMetricsCollector{}
//	ds, _ := zarrpyr.Open(ctx, store, zarrpyr.WithMetricsCollector(metrics))
//	// ... use ds ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithWritable opens the dataset for editing. Read-only is the default;
// mutating calls on a read-only dataset fail with ErrNotWritable.
func WithWritable(writable bool) Option {
	return func(o *options) {
		o.writable = writable
	}
}

// WithName overrides the dataset name. By default the name is read from
// the host store's image parameters.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithRateLimit throttles every host store call through the given
// limiter, for polite access to a shared remote store. Pass nil to
// disable throttling (the default).
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = limiter
	}
}

// WithFlushTile sets the X,Y,Z granularity at which level-0 edits are
// tracked and flushed back to the host. Defaults to 64 per axis.
func WithFlushTile(tile [3]int64) Option {
	return func(o *options) {
		o.flushTile = tile
	}
}

// WithVolatileWorkers sets the number of background goroutines serving
// volatile-source materialization. Defaults to 2.
func WithVolatileWorkers(n int) Option {
	return func(o *options) {
		o.volatileWorkers = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
