package businessflow

import (
	"context"
	"errors"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/sequence"
)

// SequenceFlow exposes counter state to administrators. It never allocates.
type SequenceFlow interface {
	Current(ctx context.Context, name string) (*dto.SequenceDTO, error)
}

type SequenceFlowImpl struct {
	reader sequence.Reader
}

func NewSequenceFlow(reader sequence.Reader) SequenceFlow {
	return &SequenceFlowImpl{reader: reader}
}

func (f *SequenceFlowImpl) Current(ctx context.Context, name string) (*dto.SequenceDTO, error) {
	if err := sequence.ValidateName(name); err != nil {
		return nil, NewBusinessError(CodeInvalidSequenceName, "Invalid sequence name", err)
	}

	value, err := f.reader.Current(ctx, name)
	switch {
	case err == nil:
		return &dto.SequenceDTO{Name: name, LastValue: value}, nil
	case sequence.IsCounterNotFound(err):
		return nil, NewBusinessErrorf(CodeSequenceNotFound, "Sequence %q does not exist", errors.Join(ErrSequenceNotFound, err), name)
	case sequence.IsConstraintViolation(err):
		return nil, NewBusinessError(CodeSequenceConstraintViolation, "Sequence counter is inconsistent", err)
	default:
		return nil, NewBusinessError(CodeSequenceUnavailable, "Sequence store is unavailable", err)
	}
}
