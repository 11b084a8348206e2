package services

//go:generate mockgen -destination=mocks/mock_customer_service.go -package=mocks . CustomerService

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/receipts-service/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrCustomerNotFound           = errors.New("customer not found")
	ErrCustomerServiceUnavailable = errors.New("customer service unavailable")
)

// Customer is the subset of a customer record this service needs
type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// FullName is the display name stored on receipts
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CustomerService resolves customers owned by the customers service.
// authHeader is the caller's Authorization header and is forwarded as is.
type CustomerService interface {
	ByID(ctx context.Context, id, authHeader string) (*Customer, error)
	SearchByName(ctx context.Context, name, authHeader string) ([]string, error)
}

type customerEnvelope struct {
	Data Customer `json:"data"`
}

type customerSearchEnvelope struct {
	Data struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"data"`
}

// CustomerClient talks to the customers service over HTTP. Lookups by id are
// cached in Redis when a client is configured. Cache entries are scoped to the
// Authorization header they were fetched with, so one caller never reads a
// customer another caller's credentials resolved. Name searches are not cached.
type CustomerClient struct {
	BaseURL    string
	HTTPClient *http.Client
	cache      *redis.Client
	cachePfx   string
	cacheTTL   time.Duration
	logger     *zap.Logger
}

func NewCustomerClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CustomerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("customer_client"),
	}
}

// WithCache enables caching of ByID results under prefix for ttl, per credential.
func (c *CustomerClient) WithCache(client *redis.Client, prefix string, ttl time.Duration) *CustomerClient {
	if client != nil && ttl > 0 {
		c.cache = client
		c.cachePfx = prefix
		c.cacheTTL = ttl
	}
	return c
}

// cacheKey is prefix + "customer:" + a digest of authHeader + ":" + id
func (c *CustomerClient) cacheKey(id, authHeader string) string {
	sum := sha256.Sum256([]byte(authHeader))
	return c.cachePfx + "customer:" + hex.EncodeToString(sum[:8]) + ":" + id
}

// ByID fetches a customer. Unknown ids yield ErrCustomerNotFound.
func (c *CustomerClient) ByID(ctx context.Context, id, authHeader string) (*Customer, error) {
	if id == "" {
		return nil, ErrCustomerNotFound
	}

	if cached := c.cached(ctx, id, authHeader); cached != nil {
		return cached, nil
	}

	var env customerEnvelope
	if err := c.getJSON(ctx, "/"+url.PathEscape(id), authHeader, &env); err != nil {
		return nil, err
	}
	customer := env.Data
	if customer.ID == "" {
		customer.ID = id
	}

	c.store(ctx, &customer, authHeader)
	return &customer, nil
}

// SearchByName returns the ids of customers whose name matches.
func (c *CustomerClient) SearchByName(ctx context.Context, name, authHeader string) ([]string, error) {
	var env customerSearchEnvelope
	if err := c.getJSON(ctx, "/search?name="+url.QueryEscape(name), authHeader, &env); err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return nil, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(env.Data.Data))
	for _, item := range env.Data.Data {
		if item.ID != "" {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

func (c *CustomerClient) getJSON(ctx context.Context, path, authHeader string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCustomerServiceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if rid := utils.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCustomerServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCustomerNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d for %s", ErrCustomerServiceUnavailable, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCustomerServiceUnavailable, path, err)
	}
	return nil
}

func (c *CustomerClient) cached(ctx context.Context, id, authHeader string) *Customer {
	if c.cache == nil {
		return nil
	}
	raw, err := c.cache.Get(ctx, c.cacheKey(id, authHeader)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("customer cache read failed", zap.String("customer_id", id), zap.Error(err))
		}
		return nil
	}
	var customer Customer
	if err := json.Unmarshal(raw, &customer); err != nil {
		return nil
	}
	return &customer
}

func (c *CustomerClient) store(ctx context.Context, customer *Customer, authHeader string) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(customer)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(customer.ID, authHeader), raw, c.cacheTTL).Err(); err != nil {
		c.logger.Warn("customer cache write failed", zap.String("customer_id", customer.ID), zap.Error(err))
	}
}
