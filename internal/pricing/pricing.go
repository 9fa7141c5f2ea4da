package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownDuration = errors.New("unknown duration")

// Defaults are used only when storage is unreachable and nothing has been
// loaded yet. An empty table loaded from storage is served as is.
var Defaults = map[int]decimal.Decimal{
	3:  decimal.RequireFromString("12.5"),
	6:  decimal.RequireFromString("16.5"),
	12: decimal.RequireFromString("29.9"),
}

// Source is the durable price table.
type Source interface {
	ActivePrices(ctx context.Context) (map[int]decimal.Decimal, error)
}

// Table caches the price table for a fixed TTL.
type Table struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	prices    map[int]decimal.Decimal
	fetchedAt time.Time
}

func NewTable(src Source, ttl time.Duration) *Table {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Table{src: src, ttl: ttl, now: time.Now}
}

// Prices returns the cached table, reloading it once the TTL has passed.
func (t *Table) Prices(ctx context.Context) map[int]decimal.Decimal {
	t.mu.Lock()
	fresh := t.prices != nil && t.now().Sub(t.fetchedAt) < t.ttl
	t.mu.Unlock()

	if !fresh {
		if err := t.Refresh(ctx); err != nil {
			log.Printf("pricing: refresh failed, serving cached prices: %v", err)
		}
	}
	return t.snapshot()
}

// Refresh reloads the table from the source regardless of the TTL.
func (t *Table) Refresh(ctx context.Context) error {
	prices, err := t.src.ActivePrices(ctx)
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}
	if prices == nil {
		// Every duration disabled is a valid table.
		prices = map[int]decimal.Decimal{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices = prices
	t.fetchedAt = t.now()
	return nil
}

// Invalidate drops the cache so the next read goes to the source.
func (t *Table) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices = nil
	t.fetchedAt = time.Time{}
}

// Quote refreshes the table and returns the price for the given duration.
func (t *Table) Quote(ctx context.Context, months int) (decimal.Decimal, error) {
	if err := t.Refresh(ctx); err != nil {
		log.Printf("pricing: refresh before quote failed: %v", err)
	}
	price, ok := t.snapshot()[months]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %d months", ErrUnknownDuration, months)
	}
	return price, nil
}

// Durations lists the priced durations in ascending order.
func Durations(prices map[int]decimal.Decimal) []int {
	out := make([]int, 0, len(prices))
	for months := range prices {
		out = append(out, months)
	}
	sort.Ints(out)
	return out
}

func (t *Table) snapshot() map[int]decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	src := t.prices
	if src == nil {
		src = Defaults
	}
	out := make(map[int]decimal.Decimal, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
