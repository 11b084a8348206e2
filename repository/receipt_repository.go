package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/utils"
	"gorm.io/gorm"
)

// ErrUnsupportedGroupRef is returned by CountByRef for a reference it cannot group on
var ErrUnsupportedGroupRef = errors.New("unsupported group reference")

// refNameColumns maps dashboard group references to the denormalized name column
var refNameColumns = map[string]string{
	"customer":      "customer_name",
	"branch":        "branch_name",
	"receivedBy":    "received_by_name",
	"paymentType":   "payment_type_name",
	"paymentReason": "payment_reason_name",
	"createdBy":     "created_by_name",
}

// SupportedGroupRef reports whether CountByRef accepts ref
func SupportedGroupRef(ref string) bool {
	_, ok := refNameColumns[ref]
	return ok
}

// ReceiptRepositoryImpl implements ReceiptRepository interface
type ReceiptRepositoryImpl struct {
	*BaseRepository[models.Receipt, models.ReceiptFilter]
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &ReceiptRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Receipt, models.ReceiptFilter](db),
	}
}

func (r *ReceiptRepositoryImpl) applyFilter(query *gorm.DB, filter models.ReceiptFilter) *gorm.DB {
	if len(filter.CustomerIDs) > 0 {
		query = query.Where("customer_id IN ?", filter.CustomerIDs)
	}
	if filter.BranchID != nil {
		query = query.Where("branch_id = ?", *filter.BranchID)
	}
	if filter.DateFrom != nil {
		query = query.Where("date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("date < ?", *filter.DateTo)
	}
	return query
}

// ByFilter retrieves receipts based on filter criteria, newest first by default
func (r *ReceiptRepositoryImpl) ByFilter(ctx context.Context, filter models.ReceiptFilter, orderBy string, limit, offset int) ([]*models.Receipt, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Receipt{}), filter)

	if orderBy == "" {
		orderBy = "created_at DESC, id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.Receipt
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	return rows, nil
}

// Count returns number of receipts matching filter
func (r *ReceiptRepositoryImpl) Count(ctx context.Context, filter models.ReceiptFilter) (int64, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Receipt{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return count, nil
}

// Update applies column updates to a live receipt and returns the stored row.
// It returns nil when no live receipt has that id.
func (r *ReceiptRepositoryImpl) Update(ctx context.Context, id int64, fields map[string]any) (_ *models.Receipt, err error) {
	db, owned, err := r.getDBForWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer finish(db, owned, &err)

	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = utils.UTCNow()

	res := db.Model(&models.Receipt{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		err = fmt.Errorf("failed to update receipt %d: %w", id, res.Error)
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var row models.Receipt
	if err = db.First(&row, id).Error; err != nil {
		err = fmt.Errorf("failed to reload receipt %d: %w", id, err)
		return nil, err
	}
	return &row, nil
}

// SoftDelete marks a receipt deleted. It reports false when no live receipt has that id.
func (r *ReceiptRepositoryImpl) SoftDelete(ctx context.Context, id int64) (_ bool, err error) {
	db, owned, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}
	defer finish(db, owned, &err)

	res := db.Delete(&models.Receipt{}, id)
	if res.Error != nil {
		err = fmt.Errorf("failed to delete receipt %d: %w", id, res.Error)
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// DailyTotals sums live receipts per UTC day for dates at or after since
func (r *ReceiptRepositoryImpl) DailyTotals(ctx context.Context, since time.Time) ([]*models.ReceiptDayTotal, error) {
	db := r.getDB(ctx)
	day := dayExpr(db)

	var rows []*models.ReceiptDayTotal
	err := db.Model(&models.Receipt{}).
		Select(day+" AS day, COALESCE(SUM(amount), 0) AS total_amount, COUNT(*) AS count").
		Where("date >= ?", since).
		Group(day).
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate receipts by day: %w", err)
	}
	return rows, nil
}

// CountByRef counts live receipts per referenced name, most frequent first
func (r *ReceiptRepositoryImpl) CountByRef(ctx context.Context, ref string) ([]*models.ReceiptRefCount, error) {
	col, ok := refNameColumns[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGroupRef, ref)
	}

	var rows []*models.ReceiptRefCount
	err := r.getDB(ctx).Model(&models.Receipt{}).
		Select(col + " AS name, COUNT(*) AS count").
		Group(col).
		Order("count DESC, name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate receipts by %s: %w", ref, err)
	}
	return rows, nil
}

// MaxID returns the highest receipt id ever written, deleted rows included, or 0
func (r *ReceiptRepositoryImpl) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	err := r.getDB(ctx).Unscoped().Model(&models.Receipt{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxID).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read max receipt id: %w", err)
	}
	return maxID, nil
}

// dayExpr formats the receipt date as YYYY-MM-DD in the connected dialect
func dayExpr(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return "strftime('%Y-%m-%d', date)"
	}
	return "to_char(date AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
}
