package game

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultTiers(t *testing.T) {
	tests := []struct {
		tier      Tier
		perHour   float64
		maxLives  int64
		unlimited bool
	}{
		{TierFree, 4, 100, false},
		{TierMid, 40, 1000, false},
		{TierBig, UnlimitedLivesPerHour, UnlimitedMaxLives, true},
	}
	for _, tc := range tests {
		p, err := DefaultTiers.Policy(tc.tier)
		if err != nil {
			t.Fatalf("%s: %v", tc.tier, err)
		}
		if p.LivesPerHour != tc.perHour || p.MaxLives != tc.maxLives || p.Unlimited != tc.unlimited {
			t.Fatalf("%s: got %+v", tc.tier, p)
		}
	}
	if _, err := DefaultTiers.Policy("gold"); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestApplyTier(t *testing.T) {
	tests := []struct {
		name      string
		fromLives int64
		from      Tier
		to        Tier
		wantLives int64
	}{
		{"upgrade keeps lives", 30, TierFree, TierMid, 30},
		{"downgrade caps lives", 800, TierMid, TierFree, 100},
		{"downgrade under cap", 40, TierMid, TierFree, 40},
		{"upgrade to unlimited fills", 3, TierFree, TierBig, UnlimitedMaxLives},
		{"unlimited to free caps", UnlimitedMaxLives, TierBig, TierFree, 100},
	}
	for _, tc := range tests {
		a := ApplyTier(freeAccount(0, baseTime), tc.from, DefaultTiers[tc.from], baseTime)
		a.Lives = tc.fromLives
		got := ApplyTier(a, tc.to, DefaultTiers[tc.to], baseTime)
		if got.Lives != tc.wantLives {
			t.Fatalf("%s: lives=%d want %d", tc.name, got.Lives, tc.wantLives)
		}
		if got.Tier != tc.to || got.MaxLives != DefaultTiers[tc.to].MaxLives || got.LivesPerHour != DefaultTiers[tc.to].LivesPerHour {
			t.Fatalf("%s: tier fields not overwritten: %+v", tc.name, got)
		}
	}
}

func TestApplyTierCarriesPartialProgress(t *testing.T) {
	tests := []struct {
		name      string
		from, to  Tier
		elapsed   time.Duration
		wantSince time.Duration
	}{
		// 14 of 15 minutes at the free rate is 14/15 of a 90s mid life.
		{"free to mid", TierFree, TierMid, 14 * time.Minute, 84 * time.Second},
		{"mid to free", TierMid, TierFree, 45 * time.Second, 7*time.Minute + 30*time.Second},
		{"same rate", TierFree, TierFree, 5 * time.Minute, 5 * time.Minute},
		{"onto unlimited", TierFree, TierBig, 14 * time.Minute, 0},
		{"off unlimited", TierBig, TierFree, 14 * time.Minute, 0},
	}
	for _, tc := range tests {
		now := baseTime.Add(tc.elapsed)
		a := ApplyTier(freeAccount(5, baseTime), tc.from, DefaultTiers[tc.from], baseTime)
		a.Lives = 5
		got := ApplyTier(a, tc.to, DefaultTiers[tc.to], now)
		if since := now.Sub(got.LastRegenAt); since != tc.wantSince {
			t.Fatalf("%s: progress %s want %s", tc.name, since, tc.wantSince)
		}
		if tc.to != TierBig {
			if after, gained := Reconcile(got, now); gained != 0 || after.Lives != 5 {
				t.Fatalf("%s: tier change granted %d lives", tc.name, gained)
			}
		}
	}
}
