// Package tests runs the receipt service against a real PostgreSQL server.
// Every test is skipped unless TEST_DB_HOST is set.
package tests

import (
	"context"
	"sync"
	"testing"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/app/scheduler"
	"github.com/amirphl/receipts-service/app/services"
	svcmocks "github.com/amirphl/receipts-service/app/services/mocks"
	businessflow "github.com/amirphl/receipts-service/business_flow"
	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/repository"
	"github.com/amirphl/receipts-service/sequence"
	testingutil "github.com/amirphl/receipts-service/testing"
	"github.com/amirphl/receipts-service/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var manager = businessflow.Actor{ManagerID: "m-1", ManagerName: "Sara Ahmadi", AuthHeader: "Bearer t"}

func withPostgres(t *testing.T, fn func(t *testing.T, tdb *testingutil.TestDB)) {
	t.Helper()
	if !testingutil.PostgresConfigured() {
		t.Skip("TEST_DB_HOST not set")
	}
	err := testingutil.TestWithDB(func(tdb *testingutil.TestDB) error {
		fn(t, tdb)
		return nil
	})
	require.NoError(t, err)
}

func newFlow(t *testing.T, tdb *testingutil.TestDB, store sequence.Store) businessflow.ReceiptFlow {
	customers := svcmocks.NewMockCustomerService(gomock.NewController(t))
	customers.EXPECT().
		ByID(gomock.Any(), "c-1", manager.AuthHeader).
		Return(&services.Customer{ID: "c-1", FirstName: "Ali", LastName: "Rezaei"}, nil).
		AnyTimes()
	return businessflow.NewReceiptFlow(repository.NewReceiptRepository(tdb.DB), customers, sequence.NewAssigner(store, nil), nil)
}

func createRequest(amount string) *dto.CreateReceiptRequest {
	a := decimal.RequireFromString(amount)
	return &dto.CreateReceiptRequest{
		Customer:        dto.CustomerRefRequest{ID: "c-1"},
		Amount:          &a,
		AmountInLetters: amount + " dollars",
		ReceivedBy:      dto.NamedRefDTO{ID: "u-1", Name: "Cashier"},
		PaymentType:     dto.NamedRefDTO{ID: "pt-1", Name: "Cash"},
		PaymentReason:   dto.NamedRefDTO{ID: "pr-1", Name: "Monthly fee"},
	}
}

func TestPostgres_CounterStartsAboveFloor(t *testing.T) {
	withPostgres(t, func(t *testing.T, tdb *testingutil.TestDB) {
		counters := repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)
		ctx := testingutil.CreateTestContext()

		_, err := counters.Current(ctx, "Receipt")
		assert.True(t, sequence.IsCounterNotFound(err))

		first, err := counters.Allocate(ctx, "Receipt")
		require.NoError(t, err)
		assert.Equal(t, int64(601), first)

		other, err := counters.Allocate(ctx, "Invoice")
		require.NoError(t, err)
		assert.Equal(t, int64(601), other)
	})
}

func TestPostgres_ConcurrentAllocationsAreUnique(t *testing.T) {
	withPostgres(t, func(t *testing.T, tdb *testingutil.TestDB) {
		counters := repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)
		ctx := context.Background()

		const workers, perWorker = 8, 25
		var (
			mu   sync.Mutex
			seen = make(map[int64]bool)
			wg   sync.WaitGroup
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perWorker {
					v, err := counters.Allocate(ctx, "Receipt")
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					seen[v] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, seen, workers*perWorker)
		for v := int64(601); v <= 600+workers*perWorker; v++ {
			assert.True(t, seen[v], "missing %d", v)
		}
	})
}

func TestPostgres_CounterSurvivesReconnect(t *testing.T) {
	withPostgres(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := context.Background()
		counters := repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)
		for range 3 {
			_, err := counters.Allocate(ctx, "Receipt")
			require.NoError(t, err)
		}

		require.NoError(t, tdb.Reopen())
		counters = repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)

		next, err := counters.Allocate(ctx, "Receipt")
		require.NoError(t, err)
		assert.Equal(t, int64(604), next)
	})
}

func TestPostgres_ReceiptTakesNextValueAfterDirectAllocations(t *testing.T) {
	withPostgres(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := context.Background()
		counters := repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)
		for want := int64(601); want <= 603; want++ {
			got, err := counters.Allocate(ctx, models.ReceiptSequenceName)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}

		flow := newFlow(t, tdb, counters)
		created, err := flow.CreateReceipt(ctx, createRequest("99.90"), manager, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(604), created.ID)

		// updates keep the id and never allocate
		letters := "ninety"
		_, err = flow.UpdateReceipt(ctx, created.ID, &dto.UpdateReceiptRequest{AmountInLetters: &letters}, manager, nil)
		require.NoError(t, err)

		current, err := counters.Current(ctx, models.ReceiptSequenceName)
		require.NoError(t, err)
		assert.Equal(t, int64(604), current)

		got, err := flow.GetReceipt(ctx, 604)
		require.NoError(t, err)
		assert.Equal(t, "ninety", got.AmountInLetters)
	})
}

func TestPostgres_FailedWriteLeavesGap(t *testing.T) {
	withPostgres(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := context.Background()
		fixtures := testingutil.NewTestFixtures(tdb.DB)
		_, err := fixtures.CreateReceipt(testingutil.NewReceipt(601, "c-9", "5", utils.UTCNow()))
		require.NoError(t, err)

		counters := repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)
		flow := newFlow(t, tdb, counters)

		_, err = flow.CreateReceipt(ctx, createRequest("10"), manager, nil)
		be, ok := businessflow.AsBusinessError(err)
		require.True(t, ok, "%v", err)
		assert.Equal(t, businessflow.CodeReceiptCreateFailed, be.Code)

		created, err := flow.CreateReceipt(ctx, createRequest("10"), manager, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(602), created.ID)
	})
}

func TestPostgres_AuditorFlagsCounterBehindData(t *testing.T) {
	withPostgres(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := context.Background()
		fixtures := testingutil.NewTestFixtures(tdb.DB)
		_, err := fixtures.CreateReceipt(testingutil.NewReceipt(610, "c-1", "1", utils.UTCNow()))
		require.NoError(t, err)
		require.NoError(t, fixtures.SetCounter(models.ReceiptSequenceName, 605))

		counters := repository.NewSequenceCounterRepository(tdb.DB, sequence.DefaultFloor)
		core, logs := observer.New(zap.DPanicLevel)
		auditor := scheduler.NewSequenceAuditor(counters, map[string]scheduler.MaxIDSource{
			models.ReceiptSequenceName: repository.NewReceiptRepository(tdb.DB),
		}, sequence.DefaultFloor, 0, zap.New(core))

		results := auditor.RunOnce(ctx)
		require.Len(t, results, 1)
		assert.Equal(t, int64(5), results[0].Drift)
		assert.Equal(t, 1, logs.Len())

		current, err := counters.Current(ctx, models.ReceiptSequenceName)
		require.NoError(t, err)
		assert.Equal(t, int64(605), current)
	})
}
