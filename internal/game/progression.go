package game

// Flags describe what changed when a run was applied.
type Flags struct {
	IsNewHighScore bool `json:"is_new_high_score"`
	LevelUp        bool `json:"level_up"`
	RankUp         bool `json:"rank_up"`
}

// Checked from the top down; the first threshold reached wins.
var rankThresholds = []struct {
	minPoints int64
	rank      Rank
}{
	{10_000, RankBlack},
	{5_000, RankDiamond},
	{2_000, RankPlatinum},
	{1_000, RankGold},
	{500, RankSilver},
}

func LevelFor(lifetimePoints int64) int64 {
	if lifetimePoints < 0 {
		return 1
	}
	return lifetimePoints/PointsPerLevel + 1
}

func RankFor(lifetimePoints int64) Rank {
	for _, t := range rankThresholds {
		if lifetimePoints >= t.minPoints {
			return t.rank
		}
	}
	return RankBlue
}

// ApplyRun folds an accepted run into the record. It consumes one life and
// assumes the run was already validated.
func ApplyRun(a Account, run Run) (Account, Flags) {
	prevLevel := a.LifetimeLevel
	prevRank := a.CurrentRank
	prevHigh := a.HighScores.Get(run.Difficulty)

	a.LifetimePoints += run.PointsEarned
	a.Last30DaysPoints += run.PointsEarned
	a.LifetimeLevel = LevelFor(a.LifetimePoints)
	a.CurrentRank = RankFor(a.LifetimePoints)

	high := prevHigh
	if run.Score > high {
		high = run.Score
	}
	a.HighScores = a.HighScores.With(run.Difficulty, high)

	a.Lives--
	if a.Lives < 0 {
		a.Lives = 0
	}

	return a, Flags{
		IsNewHighScore: high > prevHigh,
		LevelUp:        a.LifetimeLevel > prevLevel,
		RankUp:         a.CurrentRank != prevRank,
	}
}
