// Package syncq keeps score submissions made while the API was unreachable so
// they can be replayed later with the same idempotency keys.
package syncq

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blueballs/internal/game"
)

const fileName = "queue.json"

// Submission is one finished run waiting to be sent.
type Submission struct {
	Score          int64           `json:"score"`
	Difficulty     game.Difficulty `json:"difficulty"`
	PointsEarned   int64           `json:"points_earned"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

// Body is the JSON request body for POST /v1/scores.
func (s Submission) Body() map[string]any {
	return map[string]any{
		"score":         s.Score,
		"difficulty":    string(s.Difficulty),
		"points_earned": s.PointsEarned,
	}
}

// Queue is a JSON file of pending submissions inside dir.
type Queue struct {
	path string
}

func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, fileName)}, nil
}

func (q *Queue) Load() ([]Submission, error) {
	raw, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(raw) == 0) {
		return []Submission{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Submission
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("read %s: %w", q.path, err)
	}
	return out, nil
}

// Save replaces the queue with pending, going through a temp file so a crash
// never leaves a half-written queue.
func (q *Queue) Save(pending []Submission) error {
	if pending == nil {
		pending = []Submission{}
	}
	raw, err := json.MarshalIndent(pending, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// Push appends s unless a submission with the same idempotency key is already
// queued.
func (q *Queue) Push(s Submission) error {
	if strings.TrimSpace(s.IdempotencyKey) == "" {
		return errors.New("queued submission needs an idempotency key")
	}
	if _, err := game.ParseDifficulty(string(s.Difficulty)); err != nil {
		return err
	}
	pending, err := q.Load()
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.IdempotencyKey == s.IdempotencyKey {
			return nil
		}
	}
	if s.QueuedAt.IsZero() {
		s.QueuedAt = time.Now().UTC()
	}
	return q.Save(append(pending, s))
}
