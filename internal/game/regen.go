package game

import (
	"math"
	"time"
)

// Reconcile credits the lives accrued between a.LastRegenAt and now.
//
// The timestamp only moves when at least one whole life was credited, so
// partial progress carries over between calls. A timestamp in the future
// counts as zero elapsed time. The returned count is the raw accrual before
// capping at MaxLives.
func Reconcile(a Account, now time.Time) (Account, int64) {
	if a.Unlimited() {
		gained := a.MaxLives - a.Lives
		if gained < 0 {
			gained = 0
		}
		a.Lives = a.MaxLives
		if now.After(a.LastRegenAt) {
			a.LastRegenAt = now
		}
		return a, gained
	}

	gained := livesAccrued(a, now)
	if gained == 0 {
		return a, 0
	}
	lives := a.Lives + gained
	if lives > a.MaxLives {
		lives = a.MaxLives
	}
	if lives < 0 {
		lives = 0
	}
	a.Lives = lives
	a.LastRegenAt = now
	return a, gained
}

// NextLifeAt is when the next whole life accrues for a, or the zero time when
// a is full, unlimited or not regenerating.
func NextLifeAt(a Account, now time.Time) time.Time {
	if a.Unlimited() || a.Lives >= a.MaxLives || a.LivesPerHour <= 0 {
		return time.Time{}
	}
	next := float64(livesAccrued(a, now) + 1)
	wait := time.Duration(math.Ceil(next * float64(time.Hour) / a.LivesPerHour))
	return a.LastRegenAt.Add(wait)
}

func livesAccrued(a Account, now time.Time) int64 {
	elapsed := now.Sub(a.LastRegenAt)
	if elapsed <= 0 || a.LivesPerHour <= 0 {
		return 0
	}
	// nanoseconds * rate / hour keeps exact multiples of the interval exact.
	v := math.Floor(float64(elapsed) * a.LivesPerHour / float64(time.Hour))
	if v >= float64(a.MaxLives) {
		return a.MaxLives
	}
	return int64(v)
}
