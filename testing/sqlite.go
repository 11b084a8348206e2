package testing

import (
	gotesting "testing"
	"time"

	"github.com/amirphl/receipts-service/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB returns an in-memory database with the receipts schema.
// The pool is pinned to one connection so every query sees the same memory database.
func NewSQLiteDB(tb gotesting.TB) *gorm.DB {
	tb.Helper()
	return OpenSQLite(tb, ":memory:", 1)
}

// OpenSQLite opens dsn, migrates the schema and closes the pool when the test ends.
// maxOpen 0 leaves the pool unbounded.
func OpenSQLite(tb gotesting.TB, dsn string, maxOpen int) *gorm.DB {
	tb.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(tb, err)

	sqlDB, err := db.DB()
	require.NoError(tb, err)
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(tb, db.AutoMigrate(&models.SequenceCounter{}, &models.Receipt{}))
	return db
}
