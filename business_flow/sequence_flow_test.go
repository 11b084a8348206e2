package businessflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/amirphl/receipts-service/sequence"
	seqmocks "github.com/amirphl/receipts-service/sequence/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSequenceFlowCurrent(t *testing.T) {
	store := sequence.NewMemoryStore(sequence.DefaultFloor)
	ctx := context.Background()
	for range 3 {
		_, err := store.Allocate(ctx, "Receipt")
		require.NoError(t, err)
	}
	flow := NewSequenceFlow(store)

	got, err := flow.Current(ctx, "Receipt")
	require.NoError(t, err)
	assert.Equal(t, "Receipt", got.Name)
	assert.Equal(t, int64(603), got.LastValue)

	// reading never allocates
	again, err := flow.Current(ctx, "Receipt")
	require.NoError(t, err)
	assert.Equal(t, int64(603), again.LastValue)

	_, err = flow.Current(ctx, "Invoice")
	requireBusinessCode(t, err, CodeSequenceNotFound)
	assert.True(t, IsSequenceNotFound(err))

	_, err = flow.Current(ctx, strings.Repeat("x", sequence.MaxNameLength+1))
	requireBusinessCode(t, err, CodeInvalidSequenceName)
}

func TestSequenceFlowCurrent_StoreDown(t *testing.T) {
	backend := seqmocks.NewMockBackend(gomock.NewController(t))
	backend.EXPECT().Current(gomock.Any(), "Receipt").Return(int64(0), sequence.Unavailable("Receipt", errors.New("i/o timeout")))

	_, err := NewSequenceFlow(backend).Current(context.Background(), "Receipt")
	requireBusinessCode(t, err, CodeSequenceUnavailable)
}
