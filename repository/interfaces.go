package repository

import (
	"context"
	"time"

	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/sequence"
)

type contextKey string

// TxContextKey is the context key under which WithTransaction stores its *gorm.DB
const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id int64) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// SequenceCounterRepository is the database-backed counter store.
// Allocations commit on their own and never join a transaction carried by ctx.
type SequenceCounterRepository interface {
	sequence.Backend
	Ping(ctx context.Context) error
	List(ctx context.Context) ([]*models.SequenceCounter, error)
}

// ReceiptRepository defines operations for receipts
type ReceiptRepository interface {
	Repository[models.Receipt, models.ReceiptFilter]
	Update(ctx context.Context, id int64, fields map[string]any) (*models.Receipt, error)
	SoftDelete(ctx context.Context, id int64) (bool, error)
	DailyTotals(ctx context.Context, since time.Time) ([]*models.ReceiptDayTotal, error)
	CountByRef(ctx context.Context, ref string) ([]*models.ReceiptRefCount, error)
	MaxID(ctx context.Context) (int64, error)
}
