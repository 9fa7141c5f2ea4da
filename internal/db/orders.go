package db

import (
	"context"

	"github.com/susu3304/premiumbot/internal/store"
)

// RecordOrder mirrors an order snapshot into the archive table.
func (db *DB) RecordOrder(ctx context.Context, o *store.Order) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, recipients, months, status, rail, amount, crypto_amount, external_ids, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			recipients = EXCLUDED.recipients,
			months = EXCLUDED.months,
			status = EXCLUDED.status,
			rail = EXCLUDED.rail,
			amount = EXCLUDED.amount,
			crypto_amount = EXCLUDED.crypto_amount,
			external_ids = EXCLUDED.external_ids,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`,
		o.ID, o.UserID, nonNil(o.Recipients), o.Months, string(o.Status), o.Rail,
		o.Amount.StringFixed(2), o.CryptoAmount, nonNil(o.ExternalIDs), o.Error, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

type ArchivedOrder struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	Recipients   []string `json:"recipients"`
	Months       int      `json:"months"`
	Status       string   `json:"status"`
	Rail         string   `json:"rail"`
	Amount       string   `json:"amount"`
	CryptoAmount string   `json:"crypto_amount"`
	Error        string   `json:"error"`
	UpdatedAt    string   `json:"updated_at"`
}

// ListOrders returns the user's most recent archived orders.
func (db *DB) ListOrders(ctx context.Context, userID string, limit int) ([]ArchivedOrder, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, user_id, recipients, months, status, rail, amount::text, crypto_amount, error, to_char(updated_at, 'YYYY-MM-DD"T"HH24:MI:SSOF')
		FROM orders WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []ArchivedOrder
	for rows.Next() {
		var o ArchivedOrder
		if err := rows.Scan(&o.ID, &o.UserID, &o.Recipients, &o.Months, &o.Status, &o.Rail, &o.Amount, &o.CryptoAmount, &o.Error, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
