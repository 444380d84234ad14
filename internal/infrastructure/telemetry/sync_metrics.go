package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Read sources recorded by RecordRead.
const (
	ReadSourceCache    = "cache"
	ReadSourceRemote   = "remote"
	ReadSourceSnapshot = "snapshot"
	ReadSourceEmpty    = "empty"
)

// Drain outcomes recorded by RecordApplied and RecordFailed.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeDeferred  = "deferred"
)

// SyncMetrics tracks reads, writes and queue replay of the offline layer.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	logger *zap.Logger

	reads         *Counter
	writes        *Counter
	queued        *Counter
	replayed      *Counter
	drainDuration *Histogram
	queueDepth    *Gauge
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// NewSyncMetrics creates the offline layer instruments on meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{logger: logger}
	var err error

	if sm.reads, err = NewCounter(cfg.Meter,
		"agency_reads_total", "Collection reads by the source that served them", "{reads}"); err != nil {
		return nil, err
	}
	if sm.writes, err = NewCounter(cfg.Meter,
		"agency_writes_total", "Writes by resulting state", "{writes}"); err != nil {
		return nil, err
	}
	if sm.queued, err = NewCounter(cfg.Meter,
		"agency_mutations_queued_total", "Mutations appended to the durable queue", "{mutations}"); err != nil {
		return nil, err
	}
	if sm.replayed, err = NewCounter(cfg.Meter,
		"agency_mutations_replayed_total", "Queued mutations processed by drains, by outcome", "{mutations}"); err != nil {
		return nil, err
	}
	if sm.drainDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "agency_drain_duration_seconds",
		Description: "Duration of a full queue drain",
		Unit:        "s",
		Boundaries:  DrainDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.queueDepth, err = NewGauge(cfg.Meter,
		"agency_queue_depth", "Mutations waiting in the durable queue", "{mutations}"); err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordRead counts a collection read served from source.
func (m *SyncMetrics) RecordRead(ctx context.Context, collection, source string) {
	if m == nil {
		return
	}
	m.reads.Inc(ctx, AttrCollection.String(collection), AttrReadSource.String(source))
}

// RecordWrite counts a write that ended in state (CONFIRMED or PENDING).
func (m *SyncMetrics) RecordWrite(ctx context.Context, collection, state string) {
	if m == nil {
		return
	}
	m.writes.Inc(ctx, AttrCollection.String(collection), AttrWriteState.String(state))
}

// RecordQueued counts a mutation appended to the queue.
func (m *SyncMetrics) RecordQueued(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.queued.Inc(ctx, AttrAction.String(action))
}

// RecordReplay counts a replayed mutation with its outcome.
func (m *SyncMetrics) RecordReplay(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.replayed.Inc(ctx, AttrAction.String(action), AttrOutcome.String(outcome))
}

// RecordDrain records how long a drain took.
func (m *SyncMetrics) RecordDrain(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.drainDuration.RecordDuration(ctx, d)
}

// RecordQueueDepth records the queue length for a user.
func (m *SyncMetrics) RecordQueueDepth(ctx context.Context, userID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth), attribute.String(string(AttrUserID), userID))
}
