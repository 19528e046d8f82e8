package game

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store persists progression records and the run log.
type Store interface {
	// Load returns ErrAccountNotFound when no record exists.
	Load(ctx context.Context, accountID string) (Account, error)
	// CompareAndSwap writes next only if the stored version still equals
	// prevVersion, appending run (when non-nil) in the same transaction.
	// It returns the stored record with its new version, ErrConflict when the
	// version moved, or ErrDuplicateSubmission when the run's idempotency key
	// was already used.
	CompareAndSwap(ctx context.Context, prevVersion int64, next Account, run *Run) (Account, error)
	// CreateAccount inserts the profile and record unless they already exist.
	CreateAccount(ctx context.Context, p Profile, a Account) (bool, error)
}

// Directory serves the read-mostly social side: profiles, runs, boards, friends.
type Directory interface {
	GetProfile(ctx context.Context, accountID string) (Profile, error)
	RecentRuns(ctx context.Context, accountID string, limit int) ([]Run, error)
	Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardRow, error)
	AddFriend(ctx context.Context, accountID, inviteCode string) error
	RemoveFriend(ctx context.Context, accountID, inviteCode string) error
}

// Notifier is told about every accepted run after it was committed.
type Notifier interface {
	RunAccepted(ctx context.Context, a Account, run Run, flags Flags)
}

type Profile struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	InviteCode  string    `json:"invite_code"`
	CountryCode string    `json:"country_code"`
	Region      Region    `json:"region"`
	CreatedAt   time.Time `json:"created_at"`
}

type NewAccountInput struct {
	AccountID   string
	Email       string
	Username    string
	CountryCode string
}

type SubmitInput struct {
	AccountID      string
	Score          int64
	Difficulty     Difficulty
	PointsEarned   int64
	IdempotencyKey string
}

type SubmitResult struct {
	Account     Account   `json:"profile"`
	Run         Run       `json:"run"`
	Flags       Flags     `json:"flags"`
	LivesGained int64     `json:"lives_gained"`
	NextLifeAt  time.Time `json:"next_life_at"`
}

type RegenResult struct {
	Account     Account   `json:"profile"`
	LivesGained int64     `json:"lives_gained"`
	NextLifeAt  time.Time `json:"next_life_at"`
}

type ProgressView struct {
	Account    Account   `json:"progression"`
	LivesNow   int64     `json:"lives_now"`
	NextLifeAt time.Time `json:"next_life_at"`
}

type Board string

const (
	BoardLifetime   Board = "lifetime"
	BoardLast30Days Board = "30d"
	BoardEasy       Board = "easy"
	BoardMedium     Board = "medium"
	BoardHard       Board = "hard"
)

func ParseBoard(s string) (Board, error) {
	switch b := Board(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BoardLifetime, nil
	case BoardLifetime, BoardLast30Days, BoardEasy, BoardMedium, BoardHard:
		return b, nil
	default:
		return "", fmt.Errorf("%w: unknown board %q", ErrInvalidInput, s)
	}
}

type LeaderboardQuery struct {
	Board     Board
	Region    Region
	FriendsOf string
	Limit     int
}

type LeaderboardRow struct {
	Position      int64  `json:"position"`
	Username      string `json:"username"`
	InviteCode    string `json:"invite_code"`
	Region        Region `json:"region"`
	CurrentRank   Rank   `json:"current_rank"`
	LifetimeLevel int64  `json:"lifetime_level"`
	Value         int64  `json:"value"`
}

// Value is the figure an account is ranked by on board b.
func (b Board) Value(a Account) int64 {
	switch b {
	case BoardLast30Days:
		return a.Last30DaysPoints
	case BoardEasy:
		return a.HighScores.Easy
	case BoardMedium:
		return a.HighScores.Medium
	case BoardHard:
		return a.HighScores.Hard
	default:
		return a.LifetimePoints
	}
}
