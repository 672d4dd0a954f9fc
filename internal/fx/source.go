package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// Source yields the current rate snapshot for a base currency.
type Source interface {
	Snapshot(ctx context.Context, base string) (RateTable, error)
}

// StaticSource serves a fixed table, used for development and tests.
type StaticSource struct {
	Table RateTable
}

// Snapshot returns the configured table, rebased onto the requested
// currency when it differs from the table's own base.
func (s StaticSource) Snapshot(_ context.Context, base string) (RateTable, error) {
	if base == "" || base == s.Table.Base {
		return s.Table, nil
	}
	pivot, ok := s.Table.Rates[base]
	if !ok || pivot <= 0 {
		return RateTable{}, fmt.Errorf("%w: base %s", ErrUnsupportedCurrency, base)
	}
	rebased := RateTable{Base: base, AsOf: s.Table.AsOf, Rates: make(map[string]float64, len(s.Table.Rates))}
	for code, rate := range s.Table.Rates {
		if code == base {
			continue
		}
		rebased.Rates[code] = rate / pivot
	}
	rebased.Rates[s.Table.Base] = 1 / pivot
	return rebased, nil
}

// DevTable is the built-in rate table used when no rate endpoint is
// configured. Quotes are relative to INR.
func DevTable() RateTable {
	return RateTable{
		Base: "INR",
		AsOf: time.Now(),
		Rates: map[string]float64{
			"USD": 0.012,
			"EUR": 0.011,
			"GBP": 0.0095,
			"JPY": 1.78,
			"AUD": 0.018,
			"CAD": 0.016,
			"SGD": 0.016,
		},
	}
}

// HTTPSource fetches quotes from an exchange-rate endpoint returning
// {"base": "...", "as_of": "...", "rates": {...}} documents.
type HTTPSource struct {
	Endpoint string
	Client   *http.Client
}

// Snapshot performs the HTTP fetch.
func (s *HTTPSource) Snapshot(ctx context.Context, base string) (RateTable, error) {
	if s.Endpoint == "" {
		return RateTable{}, errors.New("fx: endpoint not configured")
	}
	target, err := url.JoinPath(s.Endpoint, base)
	if err != nil {
		return RateTable{}, fmt.Errorf("fx: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return RateTable{}, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return RateTable{}, fmt.Errorf("fx: fetch rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RateTable{}, fmt.Errorf("fx: rate endpoint returned %d", resp.StatusCode)
	}
	var table RateTable
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return RateTable{}, fmt.Errorf("fx: decode rates: %w", err)
	}
	if table.Base == "" || len(table.Rates) == 0 {
		return RateTable{}, errors.New("fx: rate document incomplete")
	}
	return table, nil
}

// CachedSource caches snapshots in Redis and collapses concurrent fetches.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedSource wraps next with a Redis cache.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, client: client, ttl: ttl}
}

// Snapshot returns the cached table or falls through to the wrapped source.
func (s *CachedSource) Snapshot(ctx context.Context, base string) (RateTable, error) {
	key := shared.RatesCacheKey(base)
	if s.client != nil {
		if payload, err := s.client.Get(ctx, key).Bytes(); err == nil {
			var table RateTable
			if err := json.Unmarshal(payload, &table); err == nil {
				return table, nil
			}
		}
	}

	result, err, _ := s.group.Do(base, func() (any, error) {
		table, err := s.next.Snapshot(ctx, base)
		if err != nil {
			return RateTable{}, err
		}
		if s.client != nil {
			if data, err := json.Marshal(table); err == nil {
				_ = s.client.Set(ctx, key, data, s.ttl).Err()
			}
		}
		return table, nil
	})
	if err != nil {
		return RateTable{}, err
	}
	return result.(RateTable), nil
}

// Invalidate drops the cached snapshot for base.
func (s *CachedSource) Invalidate(ctx context.Context, base string) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, shared.RatesCacheKey(base)).Err()
}
