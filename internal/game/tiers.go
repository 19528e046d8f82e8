package game

import (
	"fmt"
	"math"
	"time"
)

type Policy struct {
	LivesPerHour float64 `json:"lives_per_hour"`
	MaxLives     int64   `json:"max_lives"`
	Unlimited    bool    `json:"unlimited"`
}

// TierPolicy resolves a membership tier to its regeneration settings.
type TierPolicy interface {
	Policy(tier Tier) (Policy, error)
}

type TierTable map[Tier]Policy

var DefaultTiers = TierTable{
	TierFree: {LivesPerHour: 4, MaxLives: 100},
	TierMid:  {LivesPerHour: 40, MaxLives: 1000},
	TierBig:  {LivesPerHour: UnlimitedLivesPerHour, MaxLives: UnlimitedMaxLives, Unlimited: true},
}

func (t TierTable) Policy(tier Tier) (Policy, error) {
	p, ok := t[tier]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return p, nil
}

// ApplyTier overwrites the tier fields of a and caps lives at the new maximum.
// Lives are only raised when moving onto an unlimited tier. a must already be
// reconciled as of now: the progress towards the next life is carried over as
// the same fraction of a life at the new rate.
func ApplyTier(a Account, tier Tier, p Policy, now time.Time) Account {
	a.LastRegenAt = rebaseRegen(a, p, now)
	a.Tier = tier
	a.MaxLives = p.MaxLives
	a.LivesPerHour = p.LivesPerHour
	if p.Unlimited {
		a.Lives = p.MaxLives
		return a
	}
	if a.Lives > a.MaxLives {
		a.Lives = a.MaxLives
	}
	if a.Lives < 0 {
		a.Lives = 0
	}
	return a
}

func rebaseRegen(a Account, p Policy, now time.Time) time.Time {
	if p.LivesPerHour == a.LivesPerHour {
		return a.LastRegenAt
	}
	elapsed := now.Sub(a.LastRegenAt)
	if elapsed <= 0 || a.Unlimited() || a.LivesPerHour <= 0 || p.Unlimited || p.LivesPerHour <= 0 {
		if now.After(a.LastRegenAt) {
			return now
		}
		return a.LastRegenAt
	}
	frac := float64(elapsed) * a.LivesPerHour / float64(time.Hour)
	frac -= math.Floor(frac)
	return now.Add(-time.Duration(math.Round(frac * float64(time.Hour) / p.LivesPerHour)))
}

// NewAccount returns a fresh record on the given tier with a full set of lives.
func NewAccount(accountID string, tier Tier, p Policy, now time.Time) Account {
	return Account{
		AccountID:     accountID,
		Tier:          tier,
		Lives:         p.MaxLives,
		MaxLives:      p.MaxLives,
		LivesPerHour:  p.LivesPerHour,
		LastRegenAt:   now,
		LifetimeLevel: 1,
		CurrentRank:   RankBlue,
	}
}
