package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/receipts-service/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	// Allocations partitioned by counter name and outcome
	allocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequence_allocations_total",
			Help: "Total number of sequence allocations",
		},
		[]string{"name", "result"},
	)

	allocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sequence_allocation_duration_seconds",
			Help:    "Latency of sequence allocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name"},
	)

	orphanedAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequence_orphaned_allocations_total",
			Help: "Allocated sequence values whose entity was never persisted",
		},
		[]string{"name"},
	)

	constraintViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequence_constraint_violations_total",
			Help: "Sequence counter integrity failures; any non-zero value is a bug",
		},
		[]string{"name"},
	)
)

// InstrumentedStore records metrics for every allocation and reports
// constraint violations at DPanic level.
type InstrumentedStore struct {
	next   Backend
	logger *zap.Logger
}

func Instrument(next Backend, logger *zap.Logger) *InstrumentedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedStore{next: next, logger: logger.Named("sequence")}
}

func (s *InstrumentedStore) Allocate(ctx context.Context, name string) (int64, error) {
	start := time.Now()
	v, err := s.next.Allocate(ctx, name)
	allocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		allocationsTotal.WithLabelValues(name, "ok").Inc()
	case errors.Is(err, ErrInvalidName):
		allocationsTotal.WithLabelValues(name, "invalid_name").Inc()
	case IsConstraintViolation(err):
		allocationsTotal.WithLabelValues(name, "constraint_violation").Inc()
		constraintViolationsTotal.WithLabelValues(name).Inc()
		s.logger.DPanic("sequence constraint violation",
			zap.String("sequence", name),
			zap.String("request_id", utils.RequestID(ctx)),
			zap.Error(err),
		)
	default:
		allocationsTotal.WithLabelValues(name, "unavailable").Inc()
		s.logger.Error("sequence allocation failed",
			zap.String("sequence", name),
			zap.String("request_id", utils.RequestID(ctx)),
			zap.Error(err),
		)
	}
	return v, err
}

func (s *InstrumentedStore) Current(ctx context.Context, name string) (int64, error) {
	return s.next.Current(ctx, name)
}

// Ping checks the wrapped backend when it supports health checks.
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
