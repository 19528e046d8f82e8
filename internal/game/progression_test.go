package game

import "testing"

func TestRankFor(t *testing.T) {
	tests := []struct {
		points int64
		want   Rank
	}{
		{0, RankBlue},
		{499, RankBlue},
		{500, RankSilver},
		{999, RankSilver},
		{1000, RankGold},
		{1999, RankGold},
		{2000, RankPlatinum},
		{4999, RankPlatinum},
		{5000, RankDiamond},
		{9999, RankDiamond},
		{10000, RankBlack},
		{250000, RankBlack},
	}
	for _, tc := range tests {
		if got := RankFor(tc.points); got != tc.want {
			t.Fatalf("points=%d got=%s want=%s", tc.points, got, tc.want)
		}
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		points int64
		want   int64
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{250, 3},
		{10000, 101},
	}
	for _, tc := range tests {
		if got := LevelFor(tc.points); got != tc.want {
			t.Fatalf("points=%d got=%d want=%d", tc.points, got, tc.want)
		}
	}
}

func TestApplyRunScenario(t *testing.T) {
	a := freeAccount(1, baseTime)
	a.LifetimePoints = 40
	a.Last30DaysPoints = 10
	a.LifetimeLevel = LevelFor(40)
	a.HighScores.Easy = 50

	got, flags := ApplyRun(a, Run{Score: 80, Difficulty: DifficultyEasy, PointsEarned: 150})
	if got.Lives != 0 {
		t.Fatalf("lives=%d want 0", got.Lives)
	}
	if got.LifetimePoints != 190 || got.Last30DaysPoints != 160 {
		t.Fatalf("points lifetime=%d 30d=%d", got.LifetimePoints, got.Last30DaysPoints)
	}
	if got.HighScores.Easy != 80 {
		t.Fatalf("high score easy=%d want 80", got.HighScores.Easy)
	}
	if !flags.IsNewHighScore {
		t.Fatalf("expected new high score")
	}
	if !flags.LevelUp || got.LifetimeLevel != 2 {
		t.Fatalf("expected level up to 2, got level=%d flag=%v", got.LifetimeLevel, flags.LevelUp)
	}
	if flags.RankUp || got.CurrentRank != RankBlue {
		t.Fatalf("unexpected rank change to %s", got.CurrentRank)
	}
}

func TestApplyRunNoFlags(t *testing.T) {
	a := freeAccount(10, baseTime)
	a.HighScores.Hard = 300

	got, flags := ApplyRun(a, Run{Score: 120, Difficulty: DifficultyHard, PointsEarned: 20})
	if flags != (Flags{}) {
		t.Fatalf("expected no flags, got %+v", flags)
	}
	if got.HighScores.Hard != 300 {
		t.Fatalf("high score lowered to %d", got.HighScores.Hard)
	}
	if got.Lives != 9 {
		t.Fatalf("lives=%d want 9", got.Lives)
	}
}

func TestApplyRunRankUp(t *testing.T) {
	a := freeAccount(10, baseTime)
	a.LifetimePoints = 990
	a.LifetimeLevel = LevelFor(990)
	a.CurrentRank = RankFor(990)

	got, flags := ApplyRun(a, Run{Score: 1, Difficulty: DifficultyMedium, PointsEarned: 10})
	if !flags.RankUp || got.CurrentRank != RankGold {
		t.Fatalf("expected rank up to gold, got %s (%v)", got.CurrentRank, flags.RankUp)
	}
	if !flags.LevelUp {
		t.Fatalf("expected level up at 1000 points")
	}
}

func TestApplyRunNeverRegresses(t *testing.T) {
	a := freeAccount(100, baseTime)
	points := []int64{0, 5, 95, 0, 400, 1, 3000, 0, 7000}
	for i, p := range points {
		next, _ := ApplyRun(a, Run{Score: int64(i), Difficulty: DifficultyEasy, PointsEarned: p})
		if next.LifetimePoints < a.LifetimePoints {
			t.Fatalf("step %d: points went down", i)
		}
		if next.LifetimeLevel < a.LifetimeLevel {
			t.Fatalf("step %d: level went down", i)
		}
		if next.CurrentRank.Tier() < a.CurrentRank.Tier() {
			t.Fatalf("step %d: rank went down", i)
		}
		if next.LifetimeLevel != LevelFor(next.LifetimePoints) || next.CurrentRank != RankFor(next.LifetimePoints) {
			t.Fatalf("step %d: level/rank out of sync with points", i)
		}
		a = next
	}
	if a.CurrentRank != RankBlack {
		t.Fatalf("final rank %s want black", a.CurrentRank)
	}
}

func TestApplyRunAtZeroLives(t *testing.T) {
	got, _ := ApplyRun(freeAccount(0, baseTime), Run{Difficulty: DifficultyEasy})
	if got.Lives != 0 {
		t.Fatalf("lives=%d want 0", got.Lives)
	}
}
