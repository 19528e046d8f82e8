package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("notification not found")

type Kind string

const (
	KindLevelUp       Kind = "level_up"
	KindRankUp        Kind = "rank_up"
	KindHighScore     Kind = "high_score"
	KindPaymentFailed Kind = "payment_failed"
	KindTierChanged   Kind = "tier_changed"
)

type Notification struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"-"`
	Kind      Kind            `json:"type"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists notifications in game.notifications.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, n Notification) (Notification, error) {
	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO game.notifications (user_id, kind, message, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, n.AccountID, string(n.Kind), n.Message, []byte(payload)).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	n.Payload = payload
	return n, nil
}

// List returns the newest notifications first.
func (s *Store) List(ctx context.Context, accountID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id::text, kind, message, payload, read, created_at
		FROM game.notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		var kind string
		var payload []byte
		if err := rows.Scan(&n.ID, &n.AccountID, &kind, &n.Message, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = Kind(kind)
		n.Payload = json.RawMessage(payload)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, accountID string, id int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE game.notifications
		SET read = true
		WHERE id = $1 AND user_id = $2
	`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, accountID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE game.notifications
		SET read = true
		WHERE user_id = $1 AND read = false
	`, accountID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
