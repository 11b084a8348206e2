package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownAuthHeaders = []string{"Bearer manager-token", "Bearer other-manager-token"}

func newCustomerServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/customers/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer manager-token", r.Header.Get("Authorization"))
		ids := []map[string]string{}
		if r.URL.Query().Get("name") == "ali" {
			ids = append(ids, map[string]string{"id": "c-1"}, map[string]string{"id": "c-7"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": ids}})
	})
	mux.HandleFunc("/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		assert.Contains(t, knownAuthHeaders, r.Header.Get("Authorization"))
		switch r.PathValue("id") {
		case "c-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]string{"id": "c-1", "firstName": "Ali", "lastName": "Rezaei"},
			})
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCustomerClient_ByID(t *testing.T) {
	srv := newCustomerServer(t, nil)
	client := NewCustomerClient(srv.URL+"/customers/", time.Second, nil)
	ctx := context.Background()

	customer, err := client.ByID(ctx, "c-1", "Bearer manager-token")
	require.NoError(t, err)
	assert.Equal(t, "Ali Rezaei", customer.FullName())

	_, err = client.ByID(ctx, "c-404", "Bearer manager-token")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	_, err = client.ByID(ctx, "broken", "Bearer manager-token")
	assert.ErrorIs(t, err, ErrCustomerServiceUnavailable)

	_, err = client.ByID(ctx, "", "Bearer manager-token")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestCustomerClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewCustomerClient(base, 200*time.Millisecond, nil)
	_, err := client.ByID(context.Background(), "c-1", "")
	assert.ErrorIs(t, err, ErrCustomerServiceUnavailable)

	_, err = client.SearchByName(context.Background(), "ali", "")
	assert.ErrorIs(t, err, ErrCustomerServiceUnavailable)
}

func TestCustomerClient_SearchByName(t *testing.T) {
	srv := newCustomerServer(t, nil)
	client := NewCustomerClient(srv.URL+"/customers", time.Second, nil)

	ids, err := client.SearchByName(context.Background(), "ali", "Bearer manager-token")
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1", "c-7"}, ids)

	ids, err = client.SearchByName(context.Background(), "nobody", "Bearer manager-token")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCustomerClient_CachesLookups(t *testing.T) {
	var hits atomic.Int32
	srv := newCustomerServer(t, &hits)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := NewCustomerClient(srv.URL+"/customers", time.Second, nil).WithCache(rdb, "receipts:", time.Minute)
	ctx := context.Background()

	for range 3 {
		customer, err := client.ByID(ctx, "c-1", "Bearer manager-token")
		require.NoError(t, err)
		assert.Equal(t, "Ali Rezaei", customer.FullName())
	}
	assert.Equal(t, int32(1), hits.Load())
	key := client.cacheKey("c-1", "Bearer manager-token")
	assert.True(t, strings.HasPrefix(key, "receipts:customer:"))
	assert.True(t, mr.Exists(key))

	mr.FastForward(2 * time.Minute)
	_, err := client.ByID(ctx, "c-1", "Bearer manager-token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCustomerClient_CacheFailureFallsThrough(t *testing.T) {
	var hits atomic.Int32
	srv := newCustomerServer(t, &hits)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	client := NewCustomerClient(srv.URL+"/customers", time.Second, nil).WithCache(rdb, "receipts:", time.Minute)
	customer, err := client.ByID(context.Background(), "c-1", "Bearer manager-token")
	require.NoError(t, err)
	assert.Equal(t, "c-1", customer.ID)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCustomerClient_CacheIsScopedToCredential(t *testing.T) {
	var hits atomic.Int32
	srv := newCustomerServer(t, &hits)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := NewCustomerClient(srv.URL+"/customers", time.Second, nil).WithCache(rdb, "receipts:", time.Minute)
	ctx := context.Background()

	tests := []struct {
		authHeader string
		wantHits   int32
	}{
		{"Bearer manager-token", 1},
		{"Bearer manager-token", 1},
		{"Bearer other-manager-token", 2},
		{"Bearer other-manager-token", 2},
	}
	for _, tt := range tests {
		customer, err := client.ByID(ctx, "c-1", tt.authHeader)
		require.NoError(t, err)
		assert.Equal(t, "c-1", customer.ID)
		assert.Equal(t, tt.wantHits, hits.Load(), tt.authHeader)
	}
	assert.NotEqual(t, client.cacheKey("c-1", knownAuthHeaders[0]), client.cacheKey("c-1", knownAuthHeaders[1]))
}
