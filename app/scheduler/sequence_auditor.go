// Package scheduler runs periodic background jobs
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/amirphl/receipts-service/sequence"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var sequenceDrift = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "sequence_audit_drift",
		Help: "Highest stored id minus the counter value; positive means the next allocation collides",
	},
	[]string{"name"},
)

// MaxIDSource reports the highest id stored for one entity type, soft deleted rows included
type MaxIDSource interface {
	MaxID(ctx context.Context) (int64, error)
}

// SequenceAuditor periodically compares counters with the data they key.
// It only observes; counters are never modified.
type SequenceAuditor struct {
	reader   sequence.Reader
	sources  map[string]MaxIDSource
	floor    int64
	interval time.Duration
	logger   *zap.Logger
}

func NewSequenceAuditor(reader sequence.Reader, sources map[string]MaxIDSource, floor int64, interval time.Duration, logger *zap.Logger) *SequenceAuditor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequenceAuditor{
		reader:   reader,
		sources:  sources,
		floor:    floor,
		interval: interval,
		logger:   logger.Named("sequence_auditor"),
	}
}

// AuditResult is the outcome of auditing one counter
type AuditResult struct {
	Name    string
	Counter int64
	MaxID   int64
	Drift   int64
}

// Start launches the audit loop in a background goroutine and returns a stop function
// that waits for the loop to exit.
func (a *SequenceAuditor) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RunOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

// RunOnce audits every tracked counter. Counters that could not be read are left out of the result.
func (a *SequenceAuditor) RunOnce(ctx context.Context) []AuditResult {
	results := make([]AuditResult, 0, len(a.sources))
	for name, source := range a.sources {
		res, err := a.audit(ctx, name, source)
		if err != nil {
			a.logger.Warn("sequence audit skipped", zap.String("sequence", name), zap.Error(err))
			continue
		}
		results = append(results, res)
	}
	return results
}

func (a *SequenceAuditor) audit(ctx context.Context, name string, source MaxIDSource) (AuditResult, error) {
	maxID, err := source.MaxID(ctx)
	if err != nil {
		return AuditResult{}, err
	}

	counter, err := a.reader.Current(ctx, name)
	switch {
	case sequence.IsCounterNotFound(err):
		// the first allocation will return floor+1
		counter = a.floor
	case err != nil:
		return AuditResult{}, err
	}

	res := AuditResult{Name: name, Counter: counter, MaxID: maxID, Drift: maxID - counter}
	sequenceDrift.WithLabelValues(name).Set(float64(res.Drift))

	if res.Drift > 0 {
		a.logger.DPanic("sequence counter is behind stored ids",
			zap.String("sequence", name),
			zap.Int64("counter", counter),
			zap.Int64("max_id", maxID),
			zap.Int64("drift", res.Drift),
		)
	}
	return res, nil
}
