package zarrpyr

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    persistCounter       prometheus.Counter
//	    materializeHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordPersist(duration time.Duration, err error) {
//	    p.persistCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordMaterialize is called after a level array is requested.
	// level is the resolution level, duration the total time taken,
	// err is nil if successful. Cached levels report near-zero durations.
	RecordMaterialize(level int, duration time.Duration, err error)

	// RecordWrite is called after each region edit.
	// bytes is the edit payload size.
	RecordWrite(bytes int, duration time.Duration, err error)

	// RecordPersist is called after each persist operation.
	RecordPersist(duration time.Duration, err error)

	// RecordCalibration is called after each calibration push to the host.
	RecordCalibration(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMaterialize(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordWrite(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordPersist(time.Duration, error)          {}
func (NoopMetricsCollector) RecordCalibration(time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MaterializeCount      atomic.Int64
	MaterializeErrors     atomic.Int64
	MaterializeTotalNanos atomic.Int64
	WriteCount            atomic.Int64
	WriteErrors           atomic.Int64
	WriteBytes            atomic.Int64
	PersistCount          atomic.Int64
	PersistErrors         atomic.Int64
	PersistTotalNanos     atomic.Int64
	CalibrationCount      atomic.Int64
	CalibrationErrors     atomic.Int64
}

// RecordMaterialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaterialize(level int, duration time.Duration, err error) {
	b.MaterializeCount.Add(1)
	b.MaterializeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MaterializeErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(bytes int, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteBytes.Add(int64(bytes))
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordPersist implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPersist(duration time.Duration, err error) {
	b.PersistCount.Add(1)
	b.PersistTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PersistErrors.Add(1)
	}
}

// RecordCalibration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCalibration(duration time.Duration, err error) {
	b.CalibrationCount.Add(1)
	if err != nil {
		b.CalibrationErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MaterializeCount:    b.MaterializeCount.Load(),
		MaterializeErrors:   b.MaterializeErrors.Load(),
		MaterializeAvgNanos: b.getAvgMaterializeNanos(),
		WriteCount:          b.WriteCount.Load(),
		WriteErrors:         b.WriteErrors.Load(),
		WriteBytes:          b.WriteBytes.Load(),
		PersistCount:        b.PersistCount.Load(),
		PersistErrors:       b.PersistErrors.Load(),
		PersistAvgNanos:     b.getAvgPersistNanos(),
		CalibrationCount:    b.CalibrationCount.Load(),
		CalibrationErrors:   b.CalibrationErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgMaterializeNanos() int64 {
	count := b.MaterializeCount.Load()
	if count == 0 {
		return 0
	}
	return b.MaterializeTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgPersistNanos() int64 {
	count := b.PersistCount.Load()
	if count == 0 {
		return 0
	}
	return b.PersistTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MaterializeCount    int64
	MaterializeErrors   int64
	MaterializeAvgNanos int64
	WriteCount          int64
	WriteErrors         int64
	WriteBytes          int64
	PersistCount        int64
	PersistErrors       int64
	PersistAvgNanos     int64
	CalibrationCount    int64
	CalibrationErrors   int64
}
