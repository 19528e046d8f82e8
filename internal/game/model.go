package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PointsPerLevel = int64(100)

	// Values written to the record for tiers without a cap or rate limit.
	UnlimitedMaxLives     = int64(999_999)
	UnlimitedLivesPerHour = float64(9_999)

	MaxScore  = int64(1_000_000)
	MaxPoints = int64(1_000_000)
)

var (
	ErrAccountNotFound     = errors.New("progression record not found")
	ErrNoLivesRemaining    = errors.New("no lives remaining")
	ErrConflict            = errors.New("concurrent update conflict, retry")
	ErrInvalidInput        = errors.New("invalid input")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrUnknownTier         = errors.New("unknown membership tier")
	ErrUnauthorized        = errors.New("unauthorized")
)

type Tier string

const (
	TierFree Tier = "free"
	TierMid  Tier = "mid"
	TierBig  Tier = "big"
)

func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierMid, TierBig:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

type Rank string

const (
	RankBlue     Rank = "blue"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
	RankDiamond  Rank = "diamond"
	RankBlack    Rank = "black"
)

// Tier returns the rank's position, 0 (blue) through 5 (black), or -1.
func (r Rank) Tier() int {
	switch r {
	case RankBlue:
		return 0
	case RankSilver:
		return 1
	case RankGold:
		return 2
	case RankPlatinum:
		return 3
	case RankDiamond:
		return 4
	case RankBlack:
		return 5
	default:
		return -1
	}
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
	}
}

type HighScores struct {
	Easy   int64 `json:"easy"`
	Medium int64 `json:"medium"`
	Hard   int64 `json:"hard"`
}

func (h HighScores) Get(d Difficulty) int64 {
	switch d {
	case DifficultyEasy:
		return h.Easy
	case DifficultyMedium:
		return h.Medium
	case DifficultyHard:
		return h.Hard
	default:
		return 0
	}
}

func (h HighScores) With(d Difficulty, v int64) HighScores {
	switch d {
	case DifficultyEasy:
		h.Easy = v
	case DifficultyMedium:
		h.Medium = v
	case DifficultyHard:
		h.Hard = v
	}
	return h
}

// Account is the per-account progression record. Version is bumped by the
// store on every successful compare-and-swap.
type Account struct {
	AccountID        string     `json:"account_id"`
	Tier             Tier       `json:"membership_tier"`
	Lives            int64      `json:"lives"`
	MaxLives         int64      `json:"max_lives"`
	LivesPerHour     float64    `json:"lives_per_hour"`
	LastRegenAt      time.Time  `json:"last_life_regen"`
	LifetimePoints   int64      `json:"lifetime_points"`
	Last30DaysPoints int64      `json:"last_30_days_points"`
	LifetimeLevel    int64      `json:"lifetime_level"`
	CurrentRank      Rank       `json:"current_rank"`
	HighScores       HighScores `json:"high_scores"`
	Version          int64      `json:"version"`
}

// Unlimited reports whether the record carries the unbounded sentinel values.
func (a Account) Unlimited() bool {
	return a.MaxLives >= UnlimitedMaxLives || a.LivesPerHour >= UnlimitedLivesPerHour
}

type Run struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Score          int64      `json:"score"`
	Difficulty     Difficulty `json:"difficulty"`
	PointsEarned   int64      `json:"points_earned"`
	IdempotencyKey string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

func validateSubmission(in SubmitInput) (Difficulty, error) {
	if strings.TrimSpace(in.AccountID) == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	d, err := ParseDifficulty(string(in.Difficulty))
	if err != nil {
		return "", err
	}
	if in.Score < 0 || in.Score > MaxScore {
		return "", fmt.Errorf("%w: score must be between 0 and %d", ErrInvalidInput, MaxScore)
	}
	if in.PointsEarned < 0 || in.PointsEarned > MaxPoints {
		return "", fmt.Errorf("%w: points_earned must be between 0 and %d", ErrInvalidInput, MaxPoints)
	}
	return d, nil
}
