package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ActivePrices returns the active duration → price table.
func (db *DB) ActivePrices(ctx context.Context) (map[int]decimal.Decimal, error) {
	rows, err := db.pool.Query(ctx, "SELECT months, price::text FROM prices WHERE active ORDER BY months")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[int]decimal.Decimal)
	for rows.Next() {
		var months int
		var raw string
		if err := rows.Scan(&months, &raw); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price for %d months: %w", months, err)
		}
		prices[months] = price
	}
	return prices, rows.Err()
}

func (db *DB) SetPrice(ctx context.Context, months int, price decimal.Decimal) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO prices (months, price, active, updated_at) VALUES ($1, $2::numeric, TRUE, CURRENT_TIMESTAMP)
		ON CONFLICT (months) DO UPDATE SET price = EXCLUDED.price, active = TRUE, updated_at = CURRENT_TIMESTAMP`,
		months, price.StringFixed(2),
	)
	return err
}

func (db *DB) DisablePrice(ctx context.Context, months int) error {
	result, err := db.pool.Exec(ctx, "UPDATE prices SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE months = $1", months)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("price for %d months not found", months)
	}
	return nil
}

// SeedDefaultPrices fills an empty price table. It reports whether rows were inserted.
func (db *DB) SeedDefaultPrices(ctx context.Context, defaults map[int]decimal.Decimal) (bool, error) {
	var count int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM prices").Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	batch := &pgx.Batch{}
	for months, price := range defaults {
		batch.Queue("INSERT INTO prices (months, price) VALUES ($1, $2::numeric) ON CONFLICT DO NOTHING", months, price.StringFixed(2))
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return false, err
	}
	return true, nil
}
