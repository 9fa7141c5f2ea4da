package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

func (db *DB) UpsertUser(ctx context.Context, userID, username string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (user_id, username) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, last_seen_at = CURRENT_TIMESTAMP`,
		userID, username,
	)
	return err
}

func (db *DB) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := db.pool.QueryRow(ctx, "SELECT balance::text FROM users WHERE user_id = $1", userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// Credit increments the user's balance, creating the user if needed.
func (db *DB) Credit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (user_id, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (user_id) DO UPDATE SET balance = users.balance + EXCLUDED.balance`,
		userID, amount.StringFixed(2),
	)
	return err
}

// Debit decrements the balance atomically, failing with ErrInsufficientBalance
// instead of going negative.
func (db *DB) Debit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	result, err := db.pool.Exec(ctx,
		"UPDATE users SET balance = balance - $2::numeric WHERE user_id = $1 AND balance >= $2::numeric",
		userID, amount.StringFixed(2),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
