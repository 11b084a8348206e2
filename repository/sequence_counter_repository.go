package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/sequence"
	"github.com/amirphl/receipts-service/utils"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// allocateSQL inserts the counter at its first value or increments it, in one statement.
// The row lock taken by ON CONFLICT serializes concurrent allocations of the same name.
// An existing counter below the floor is lifted to it before the increment.
const allocateSQL = `INSERT INTO sequence_counters (name, last_value, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE
SET last_value = CASE WHEN sequence_counters.last_value > ? THEN sequence_counters.last_value ELSE ? END + 1,
    updated_at = EXCLUDED.updated_at
RETURNING last_value`

// SequenceCounterRepositoryImpl stores counters in the sequence_counters table
type SequenceCounterRepositoryImpl struct {
	*BaseRepository[models.SequenceCounter, struct{}]
	floor int64
}

// NewSequenceCounterRepository creates a counter store whose first value per name is floor+1
func NewSequenceCounterRepository(db *gorm.DB, floor int64) SequenceCounterRepository {
	return &SequenceCounterRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SequenceCounter, struct{}](db),
		floor:          floor,
	}
}

// Allocate runs on the root connection. A transaction in ctx is ignored so the
// value is committed before the caller writes the entity that uses it.
func (r *SequenceCounterRepositoryImpl) Allocate(ctx context.Context, name string) (int64, error) {
	if err := sequence.ValidateName(name); err != nil {
		return 0, err
	}

	now := utils.UTCNow()
	var row struct {
		LastValue int64
	}
	res := r.DB.WithContext(ctx).Raw(allocateSQL, name, r.floor+1, now, now, r.floor, r.floor).Scan(&row)
	if res.Error != nil {
		return 0, classifyCounterError(name, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, sequence.ConstraintViolation(name, errors.New("upsert returned no row"))
	}
	if row.LastValue <= r.floor {
		return 0, sequence.ConstraintViolation(name, fmt.Errorf("counter value %d is not above floor %d", row.LastValue, r.floor))
	}

	return row.LastValue, nil
}

// Current returns the last allocated value for name
func (r *SequenceCounterRepositoryImpl) Current(ctx context.Context, name string) (int64, error) {
	var counter models.SequenceCounter
	err := r.getDB(ctx).Where("name = ?", name).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", sequence.ErrCounterNotFound, name)
		}
		return 0, sequence.Unavailable(name, err)
	}
	return counter.LastValue, nil
}

// List returns every counter ordered by name
func (r *SequenceCounterRepositoryImpl) List(ctx context.Context) ([]*models.SequenceCounter, error) {
	var rows []*models.SequenceCounter
	if err := r.getDB(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sequence counters: %w", err)
	}
	return rows, nil
}

// Ping checks that the database answers
func (r *SequenceCounterRepositoryImpl) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// classifyCounterError separates integrity failures from infrastructure ones.
// Integrity failures (SQLSTATE class 23, numeric overflow) are never transient.
func classifyCounterError(name string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) {
		return sequence.ConstraintViolation(name, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isIntegrityCode(pgErr.Code) {
		return sequence.ConstraintViolation(name, err)
	}

	// connections opened through database/sql with lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && isIntegrityCode(string(pqErr.Code)) {
		return sequence.ConstraintViolation(name, err)
	}

	return sequence.Unavailable(name, err)
}

func isIntegrityCode(code string) bool {
	return strings.HasPrefix(code, "23") || code == "22003"
}
