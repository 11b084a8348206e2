package sequence

import (
	"context"

	"github.com/amirphl/receipts-service/utils"
	"go.uber.org/zap"
)

// Entity is a record whose integer primary key is drawn from a named counter.
type Entity interface {
	SequenceName() string
	SetSequenceID(id int64)
}

// Assigner sets primary keys on entities that are about to be created.
type Assigner struct {
	store  Store
	logger *zap.Logger
}

func NewAssigner(store Store, logger *zap.Logger) *Assigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assigner{store: store, logger: logger.Named("sequence")}
}

// Assign allocates the next value for e and sets it as e's primary key.
// It must run before the first write of e and does nothing when isNew is false.
// On error e is left unassigned and the creation must be abandoned.
func (a *Assigner) Assign(ctx context.Context, e Entity, isNew bool) (int64, error) {
	if !isNew {
		return 0, nil
	}

	name := e.SequenceName()
	id, err := a.store.Allocate(ctx, name)
	if err != nil {
		a.logger.Warn("creation aborted, id allocation failed",
			zap.String("sequence", name),
			zap.String("request_id", utils.RequestID(ctx)),
			zap.Error(err),
		)
		return 0, err
	}

	e.SetSequenceID(id)
	return id, nil
}

// Orphaned records that id was allocated for name but the entity write failed.
// The value stays consumed; the returned error wraps cause.
func (a *Assigner) Orphaned(ctx context.Context, name string, id int64, cause error) error {
	orphanedAllocationsTotal.WithLabelValues(name).Inc()
	a.logger.Warn("sequence value orphaned",
		zap.String("sequence", name),
		zap.Int64("id", id),
		zap.String("request_id", utils.RequestID(ctx)),
		zap.Error(cause),
	)
	return &OrphanedAllocationError{Name: name, ID: id, Err: cause}
}
