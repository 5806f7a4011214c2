package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

var (
	_ checkout.Journal       = (*Journal)(nil)
	_ checkout.AttemptLister = (*Journal)(nil)
)

const insertAttempt = `
INSERT INTO checkout_attempts
    (id, cart_id, method, outcome, order_id, display_order_id, total, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

const listAttempts = `
SELECT id, cart_id, method, outcome, order_id, display_order_id, total, error, created_at
FROM checkout_attempts
WHERE $1::text = '' OR outcome = $1::text
ORDER BY created_at DESC, id DESC
LIMIT $2`

// Journal appends checkout attempts to the checkout_attempts table.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal returns a Journal that uses the given pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Record inserts a. Recording the same attempt twice is a no-op.
func (j *Journal) Record(ctx context.Context, a checkout.Attempt) error {
	_, err := j.pool.Exec(ctx, insertAttempt,
		a.ID, a.CartID, string(a.Method), string(a.Outcome),
		a.OrderID, a.DisplayOrderID, a.Total, a.Error, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert attempt %q", a.ID)
	}
	return nil
}

// List returns up to limit attempts with the given outcome, newest first.
func (j *Journal) List(ctx context.Context, outcome checkout.Outcome, limit int) ([]checkout.Attempt, error) {
	rows, err := j.pool.Query(ctx, listAttempts, string(outcome), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query attempts")
	}
	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (checkout.Attempt, error) {
		var (
			a               checkout.Attempt
			method, outcome string
		)
		err := row.Scan(&a.ID, &a.CartID, &method, &outcome,
			&a.OrderID, &a.DisplayOrderID, &a.Total, &a.Error, &a.CreatedAt)
		a.Method = pricing.Method(method)
		a.Outcome = checkout.Outcome(outcome)
		return a, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan attempts")
	}
	return attempts, nil
}

// Ping checks connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}
