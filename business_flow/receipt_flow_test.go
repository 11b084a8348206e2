package businessflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/amirphl/receipts-service/app/dto"
	"github.com/amirphl/receipts-service/app/services"
	svcmocks "github.com/amirphl/receipts-service/app/services/mocks"
	"github.com/amirphl/receipts-service/models"
	"github.com/amirphl/receipts-service/repository"
	"github.com/amirphl/receipts-service/sequence"
	seqmocks "github.com/amirphl/receipts-service/sequence/mocks"
	testutil "github.com/amirphl/receipts-service/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"
)

var testActor = Actor{ManagerID: "m-9", ManagerName: "Sara Ahmadi", AuthHeader: "Bearer manager-token"}

type flowFixture struct {
	db        *gorm.DB
	receipts  repository.ReceiptRepository
	counters  repository.SequenceCounterRepository
	customers *svcmocks.MockCustomerService
	flow      ReceiptFlow
}

// newFlowFixture wires a flow over sqlite. store overrides the database counter when non-nil.
func newFlowFixture(t *testing.T, store sequence.Store) *flowFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	ctrl := gomock.NewController(t)

	fx := &flowFixture{
		db:        db,
		receipts:  repository.NewReceiptRepository(db),
		counters:  repository.NewSequenceCounterRepository(db, sequence.DefaultFloor),
		customers: svcmocks.NewMockCustomerService(ctrl),
	}
	if store == nil {
		store = fx.counters
	}
	fx.flow = NewReceiptFlow(fx.receipts, fx.customers, sequence.NewAssigner(store, nil), nil)
	return fx
}

func (fx *flowFixture) knownCustomer() {
	fx.customers.EXPECT().
		ByID(gomock.Any(), "c-1", testActor.AuthHeader).
		Return(&services.Customer{ID: "c-1", FirstName: "Ali", LastName: "Rezaei"}, nil).
		AnyTimes()
}

func newCreateRequest(customerID, amount string) *dto.CreateReceiptRequest {
	a := decimal.RequireFromString(amount)
	return &dto.CreateReceiptRequest{
		Customer:        dto.CustomerRefRequest{ID: customerID},
		Amount:          &a,
		AmountInLetters: amount + " dollars",
		ReceivedBy:      dto.NamedRefDTO{ID: "u-1", Name: "Cashier"},
		PaymentType:     dto.NamedRefDTO{ID: "pt-1", Name: "Cash"},
		PaymentReason:   dto.NamedRefDTO{ID: "pr-1", Name: "Monthly fee"},
	}
}

func requireBusinessCode(t *testing.T, err error, code string) *BusinessError {
	t.Helper()
	require.Error(t, err)
	be, ok := AsBusinessError(err)
	require.True(t, ok, "expected business error, got %v", err)
	assert.Equal(t, code, be.Code)
	return be
}

func TestCreateReceipt_TakesNextSequenceValue(t *testing.T) {
	fx := newFlowFixture(t, nil)
	fx.knownCustomer()
	ctx := context.Background()

	for want := int64(601); want <= 603; want++ {
		got, err := fx.counters.Allocate(ctx, models.ReceiptSequenceName)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	req := newCreateRequest("c-1", "150.50")
	req.Branch = &dto.NamedRefDTO{ID: "b-2", Name: "North"}
	created, err := fx.flow.CreateReceipt(ctx, req, testActor, NewClientMetadata("127.0.0.1", "test"))
	require.NoError(t, err)

	assert.Equal(t, int64(604), created.ID)
	assert.Equal(t, "Ali Rezaei", created.Customer.Name)
	assert.Equal(t, dto.NamedRefDTO{ID: "m-9", Name: "Sara Ahmadi"}, created.CreatedBy)
	require.NotNil(t, created.Branch)
	assert.Equal(t, "North", created.Branch.Name)
	assert.True(t, decimal.RequireFromString("150.50").Equal(created.Amount))

	stored, err := fx.receipts.ByID(ctx, 604)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "c-1", stored.Customer.ID)

	next, err := fx.flow.CreateReceipt(ctx, newCreateRequest("c-1", "10"), testActor, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(605), next.ID)

	current, err := fx.counters.Current(ctx, models.ReceiptSequenceName)
	require.NoError(t, err)
	assert.Equal(t, int64(605), current)
}

func TestCreateReceipt_DefaultsDateToNow(t *testing.T) {
	fx := newFlowFixture(t, nil)
	fx.knownCustomer()

	before := time.Now().UTC().Add(-time.Second)
	created, err := fx.flow.CreateReceipt(context.Background(), newCreateRequest("c-1", "1"), testActor, nil)
	require.NoError(t, err)

	date, err := time.Parse(time.RFC3339, created.Date)
	require.NoError(t, err)
	assert.False(t, date.Before(before.Truncate(time.Second)))
	assert.Equal(t, int64(601), created.ID)
}

func TestCreateReceipt_CustomerFailuresAllocateNothing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "unknown customer", err: services.ErrCustomerNotFound, code: CodeCustomerNotFound},
		{name: "customer service down", err: errors.Join(services.ErrCustomerServiceUnavailable, errors.New("dial tcp")), code: CodeCustomerServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seqmocks.NewMockStore(gomock.NewController(t)) // no expectations
			fx := newFlowFixture(t, store)
			fx.customers.EXPECT().ByID(gomock.Any(), "c-404", testActor.AuthHeader).Return(nil, tt.err)

			_, err := fx.flow.CreateReceipt(context.Background(), newCreateRequest("c-404", "5"), testActor, nil)
			requireBusinessCode(t, err, tt.code)

			count, err := fx.receipts.Count(context.Background(), models.ReceiptFilter{})
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestCreateReceipt_AllocationFailureAborts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		code string
	}{
		{name: "store unavailable", err: sequence.Unavailable("Receipt", errors.New("connection refused")), kind: sequence.ErrStoreUnavailable, code: CodeSequenceUnavailable},
		{name: "constraint violation", err: sequence.ConstraintViolation("Receipt", errors.New("duplicate key")), kind: sequence.ErrConstraintViolation, code: CodeSequenceConstraintViolation},
		{name: "invalid sequence name", err: fmt.Errorf("%w: name is empty", sequence.ErrInvalidName), kind: sequence.ErrInvalidName, code: CodeReceiptCreateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seqmocks.NewMockStore(gomock.NewController(t))
			store.EXPECT().Allocate(gomock.Any(), models.ReceiptSequenceName).Return(int64(0), tt.err).Times(1)
			fx := newFlowFixture(t, store)
			fx.knownCustomer()

			_, err := fx.flow.CreateReceipt(context.Background(), newCreateRequest("c-1", "5"), testActor, nil)
			requireBusinessCode(t, err, tt.code)
			assert.ErrorIs(t, err, tt.kind)

			count, err := fx.receipts.Count(context.Background(), models.ReceiptFilter{})
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestCreateReceipt_WriteFailureOrphansValue(t *testing.T) {
	store := sequence.NewMemoryStore(sequence.DefaultFloor)
	fx := newFlowFixture(t, store)
	fx.knownCustomer()
	ctx := context.Background()

	// a row already holds 601, so the first allocated value cannot be written
	_, err := testutil.NewTestFixtures(fx.db).CreateReceipt(testutil.NewReceipt(601, "c-1", "1", time.Now()))
	require.NoError(t, err)

	_, err = fx.flow.CreateReceipt(ctx, newCreateRequest("c-1", "5"), testActor, nil)
	requireBusinessCode(t, err, CodeReceiptCreateFailed)
	assert.True(t, sequence.IsOrphanedAllocation(err))

	var orphan *sequence.OrphanedAllocationError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, int64(601), orphan.ID)

	created, err := fx.flow.CreateReceipt(ctx, newCreateRequest("c-1", "5"), testActor, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(602), created.ID)
}

func TestCreateReceipt_RejectsNegativeAmount(t *testing.T) {
	store := seqmocks.NewMockStore(gomock.NewController(t))
	fx := newFlowFixture(t, store)

	_, err := fx.flow.CreateReceipt(context.Background(), newCreateRequest("c-1", "-1"), testActor, nil)
	requireBusinessCode(t, err, CodeInvalidAmount)
}

func TestUpdateReceipt_NeverAllocates(t *testing.T) {
	store := seqmocks.NewMockStore(gomock.NewController(t)) // any Allocate call fails the test
	fx := newFlowFixture(t, store)
	ctx := context.Background()

	_, err := testutil.NewTestFixtures(fx.db).CreateReceipt(testutil.NewReceipt(700, "c-1", "20", time.Now()))
	require.NoError(t, err)

	fx.customers.EXPECT().
		ByID(gomock.Any(), "c-2", testActor.AuthHeader).
		Return(&services.Customer{ID: "c-2", FirstName: "Reza", LastName: "Karimi"}, nil)

	amount := decimal.RequireFromString("35.25")
	details := "corrected"
	updated, err := fx.flow.UpdateReceipt(ctx, 700, &dto.UpdateReceiptRequest{
		Customer:    &dto.CustomerRefRequest{ID: "c-2"},
		Amount:      &amount,
		Details:     &details,
		PaymentType: &dto.NamedRefDTO{ID: "pt-2", Name: "Card"},
	}, testActor, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(700), updated.ID)
	assert.Equal(t, dto.NamedRefDTO{ID: "c-2", Name: "Reza Karimi"}, updated.Customer)
	assert.True(t, amount.Equal(updated.Amount))
	assert.Equal(t, "Card", updated.PaymentType.Name)
	assert.Equal(t, "Cashier", updated.ReceivedBy.Name)
	require.NotNil(t, updated.Details)
	assert.Equal(t, "corrected", *updated.Details)
}

func TestUpdateReceipt_Errors(t *testing.T) {
	fx := newFlowFixture(t, seqmocks.NewMockStore(gomock.NewController(t)))
	ctx := context.Background()
	letters := "ten"

	_, err := fx.flow.UpdateReceipt(ctx, 1, &dto.UpdateReceiptRequest{}, testActor, nil)
	requireBusinessCode(t, err, CodeReceiptUpdateRequired)

	_, err = fx.flow.UpdateReceipt(ctx, 999, &dto.UpdateReceiptRequest{AmountInLetters: &letters}, testActor, nil)
	be := requireBusinessCode(t, err, CodeReceiptNotFound)
	assert.Equal(t, "Receipt not exist!", be.Message)
	assert.True(t, IsReceiptNotFound(err))

	negative := decimal.NewFromInt(-3)
	_, err = fx.flow.UpdateReceipt(ctx, 1, &dto.UpdateReceiptRequest{Amount: &negative}, testActor, nil)
	requireBusinessCode(t, err, CodeInvalidAmount)
}

func seedFlowReceipts(t *testing.T, db *gorm.DB) {
	t.Helper()
	fixtures := testutil.NewTestFixtures(db)
	now := time.Now().UTC()
	rows := []*models.Receipt{
		testutil.NewReceipt(601, "c-1", "10", now.Add(-48*time.Hour)),
		testutil.NewReceipt(602, "c-2", "20", now.Add(-24*time.Hour)),
		testutil.NewReceipt(603, "c-1", "30", now),
	}
	rows[2].PaymentType = models.NamedRef{ID: "pt-2", Name: "Card"}
	for i, r := range rows {
		r.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		_, err := fixtures.CreateReceipt(r)
		require.NoError(t, err)
	}
}

func TestListAndSearchReceipts(t *testing.T) {
	fx := newFlowFixture(t, seqmocks.NewMockStore(gomock.NewController(t)))
	seedFlowReceipts(t, fx.db)
	ctx := context.Background()

	all, err := fx.flow.ListReceipts(ctx, &dto.ListReceiptsRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Count)
	require.Len(t, all.Data, 3)
	assert.Equal(t, int64(603), all.Data[0].ID)

	paged, err := fx.flow.ListReceipts(ctx, &dto.ListReceiptsRequest{PageRequest: dto.PageRequest{Limit: 1, Skip: 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), paged.Count)
	require.Len(t, paged.Data, 1)
	assert.Equal(t, int64(602), paged.Data[0].ID)

	byCustomer, err := fx.flow.ListReceipts(ctx, &dto.ListReceiptsRequest{CustomerIDs: []string{"c-1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), byCustomer.Count)

	id := int64(602)
	found, err := fx.flow.SearchReceipts(ctx, &dto.SearchReceiptsRequest{ID: &id}, testActor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Count)

	missing := int64(9999)
	none, err := fx.flow.SearchReceipts(ctx, &dto.SearchReceiptsRequest{ID: &missing}, testActor)
	require.NoError(t, err)
	assert.Zero(t, none.Count)
	assert.Empty(t, none.Data)

	fx.customers.EXPECT().SearchByName(gomock.Any(), "ali", testActor.AuthHeader).Return([]string{"c-1"}, nil)
	byName, err := fx.flow.SearchReceipts(ctx, &dto.SearchReceiptsRequest{Name: "ali"}, testActor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), byName.Count)

	fx.customers.EXPECT().SearchByName(gomock.Any(), "nobody", testActor.AuthHeader).Return(nil, nil)
	empty, err := fx.flow.SearchReceipts(ctx, &dto.SearchReceiptsRequest{Name: "nobody"}, testActor)
	require.NoError(t, err)
	assert.Zero(t, empty.Count)

	_, err = fx.flow.SearchReceipts(ctx, &dto.SearchReceiptsRequest{}, testActor)
	requireBusinessCode(t, err, CodeSearchCriteriaRequired)
}

func TestGetAndDeleteReceipt(t *testing.T) {
	fx := newFlowFixture(t, seqmocks.NewMockStore(gomock.NewController(t)))
	seedFlowReceipts(t, fx.db)
	ctx := context.Background()

	got, err := fx.flow.GetReceipt(ctx, 601)
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.Customer.ID)

	require.NoError(t, fx.flow.DeleteReceipt(ctx, 601, nil))

	_, err = fx.flow.GetReceipt(ctx, 601)
	requireBusinessCode(t, err, CodeReceiptNotFound)

	err = fx.flow.DeleteReceipt(ctx, 601, nil)
	requireBusinessCode(t, err, CodeReceiptNotFound)
}

func TestDashboard(t *testing.T) {
	fx := newFlowFixture(t, seqmocks.NewMockStore(gomock.NewController(t)))
	seedFlowReceipts(t, fx.db)
	ctx := context.Background()

	byDate, err := fx.flow.Dashboard(ctx, &dto.DashboardRequest{Ref: DashboardRefDate})
	require.NoError(t, err)
	require.Len(t, byDate.Days, 3)
	var total decimal.Decimal
	var count int64
	for _, d := range byDate.Days {
		total = total.Add(d.TotalAmount)
		count += d.Count
	}
	assert.True(t, decimal.NewFromInt(60).Equal(total))
	assert.Equal(t, int64(3), count)

	byType, err := fx.flow.Dashboard(ctx, &dto.DashboardRequest{Ref: "paymentType"})
	require.NoError(t, err)
	assert.Equal(t, []dto.DashboardGroupDTO{{Name: "Cash", Count: 2}, {Name: "Card", Count: 1}}, byType.Groups)

	_, err = fx.flow.Dashboard(ctx, &dto.DashboardRequest{Ref: "amount"})
	requireBusinessCode(t, err, CodeInvalidDashboardRef)
}

func TestExportReceipts(t *testing.T) {
	fx := newFlowFixture(t, seqmocks.NewMockStore(gomock.NewController(t)))
	seedFlowReceipts(t, fx.db)

	filename, data, err := fx.flow.ExportReceipts(context.Background(), &dto.ListReceiptsRequest{CustomerIDs: []string{"c-1"}})
	require.NoError(t, err)
	assert.Regexp(t, `^receipts_\d{8}_\d{6}\.xlsx$`, filename)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows("Receipts")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "603", rows[1][0])
	assert.Equal(t, "30.00", rows[1][4])
	assert.Equal(t, "601", rows[2][0])
}

func TestWriteReceiptSheet(t *testing.T) {
	receipts := []*models.Receipt{
		testutil.NewReceipt(601, "c-1", "10", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		testutil.NewReceipt(602, "c-2", "20", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
	}

	tests := []struct {
		name    string
		sheet   string
		wantErr bool
	}{
		{name: "existing sheet", sheet: "Sheet1"},
		{name: "missing sheet", sheet: "Nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xl := excelize.NewFile()
			defer func() { _ = xl.Close() }()

			err := writeReceiptSheet(xl, tt.sheet, receipts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			rows, err := xl.GetRows(tt.sheet)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, "602", rows[2][0])
		})
	}
}
