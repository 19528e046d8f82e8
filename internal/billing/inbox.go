package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"blueballs/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN/NOTIFY channel raised for every new event.
const NotifyChannel = "billing_events"

// MaxAttempts bounds how often a failing event is retried before it is left
// for manual inspection.
const MaxAttempts = 10

type Handler func(ctx context.Context, ev Event) error

type Stats struct {
	Claimed   int
	Processed int
	Failed    int
}

// Postgres is the billing inbox and subscription ledger.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Enqueue stores a verified event. Redelivered events are ignored and
// reported as not inserted.
func (p *Postgres) Enqueue(ctx context.Context, ev Event) (bool, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO billing.events (id, type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Type, []byte(ev.Object))
	if err != nil {
		return false, fmt.Errorf("insert billing event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, ev.ID); err != nil {
		return false, fmt.Errorf("notify billing event: %w", err)
	}
	return true, tx.Commit(ctx)
}

// Drain claims up to limit pending events and runs fn on each. Claimed rows
// stay locked until the batch commits so concurrent workers skip them.
func (p *Postgres) Drain(ctx context.Context, limit int, fn Handler) (Stats, error) {
	var stats Stats
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, type, payload, received_at, attempts
		FROM billing.events
		WHERE processed_at IS NULL AND attempts < $1
		ORDER BY received_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, MaxAttempts, limit)
	if err != nil {
		return stats, err
	}
	var events []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &payload, &ev.ReceivedAt, &ev.Attempts); err != nil {
			rows.Close()
			return stats, err
		}
		ev.Object = payload
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}
	stats.Claimed = len(events)

	for _, ev := range events {
		if herr := fn(ctx, ev); herr != nil {
			stats.Failed++
			if _, err := tx.Exec(ctx, `
				UPDATE billing.events
				SET attempts = attempts + 1, last_error = $2
				WHERE id = $1
			`, ev.ID, truncate(herr.Error(), 500)); err != nil {
				return stats, err
			}
			continue
		}
		stats.Processed++
		if _, err := tx.Exec(ctx, `
			UPDATE billing.events
			SET processed_at = now(), attempts = attempts + 1, last_error = ''
			WHERE id = $1
		`, ev.ID); err != nil {
			return stats, err
		}
	}
	return stats, tx.Commit(ctx)
}

func (p *Postgres) LinkCustomer(ctx context.Context, accountID, customerID, subscriptionID string, tier game.Tier) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO billing.subscriptions (user_id, customer_id, subscription_id, tier, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    subscription_id = EXCLUDED.subscription_id,
		    tier = EXCLUDED.tier,
		    updated_at = now()
	`, accountID, customerID, subscriptionID, string(tier))
	return err
}

func (p *Postgres) AccountForCustomer(ctx context.Context, customerID string) (string, error) {
	var accountID string
	err := p.db.QueryRow(ctx, `
		SELECT user_id::text FROM billing.subscriptions WHERE customer_id = $1
	`, customerID).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID)
	}
	return accountID, err
}

func (p *Postgres) SetPeriodEnd(ctx context.Context, customerID string, endsAt time.Time) error {
	var ends *time.Time
	if !endsAt.IsZero() {
		ends = &endsAt
	}
	_, err := p.db.Exec(ctx, `
		UPDATE billing.subscriptions
		SET ends_at = $2, updated_at = now()
		WHERE customer_id = $1
	`, customerID, ends)
	return err
}

func (p *Postgres) SetTier(ctx context.Context, customerID string, tier game.Tier) error {
	_, err := p.db.Exec(ctx, `
		UPDATE billing.subscriptions
		SET tier = $2, updated_at = now()
		WHERE customer_id = $1
	`, customerID, string(tier))
	return err
}

func (p *Postgres) ClearSubscription(ctx context.Context, customerID string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE billing.subscriptions
		SET subscription_id = '', tier = 'free', ends_at = NULL, updated_at = now()
		WHERE customer_id = $1
	`, customerID)
	return err
}

// TestMode reports the stripe_test_mode runtime setting. A missing row means
// live mode.
func (p *Postgres) TestMode(ctx context.Context) (bool, error) {
	var v string
	err := p.db.QueryRow(ctx, `SELECT value FROM billing.settings WHERE key = 'stripe_test_mode'`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(v), "true"), nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
