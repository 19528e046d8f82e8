package game_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blueballs/internal/game"
	"blueballs/internal/store"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

type recordingNotifier struct {
	mu    sync.Mutex
	calls []game.Flags
}

func (n *recordingNotifier) RunAccepted(_ context.Context, _ game.Account, _ game.Run, flags game.Flags) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, flags)
}

func seed(t *testing.T, mem *store.Memory, lives int64, lastRegen time.Time) game.Account {
	t.Helper()
	a := game.NewAccount("u1", game.TierFree, game.DefaultTiers[game.TierFree], lastRegen)
	a.Lives = lives
	mem.Put(a)
	return a
}

func newService(mem game.Store, opts ...game.Option) *game.Service {
	opts = append([]game.Option{game.WithClock(fixedClock), game.WithRetry(3, 0)}, opts...)
	return game.NewService(mem, nil, opts...)
}

func TestSubmitScoreScenario(t *testing.T) {
	mem := store.NewMemory()
	a := seed(t, mem, 1, now)
	a.HighScores.Easy = 50
	mem.Put(a)
	notes := &recordingNotifier{}
	svc := newService(mem, game.WithNotifier(notes))

	res, err := svc.SubmitScore(context.Background(), game.SubmitInput{
		AccountID:    "u1",
		Score:        80,
		Difficulty:   game.DifficultyEasy,
		PointsEarned: 150,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Account.Lives != 0 {
		t.Fatalf("lives=%d want 0", res.Account.Lives)
	}
	if res.Account.LifetimePoints != 150 || res.Account.HighScores.Easy != 80 {
		t.Fatalf("unexpected record %+v", res.Account)
	}
	if !res.Flags.IsNewHighScore || !res.Flags.LevelUp {
		t.Fatalf("unexpected flags %+v", res.Flags)
	}
	if res.Account.Version != a.Version+1 {
		t.Fatalf("version=%d want %d", res.Account.Version, a.Version+1)
	}

	runs, _ := mem.RecentRuns(context.Background(), "u1", 10)
	if len(runs) != 1 || runs[0].Score != 80 || runs[0].PointsEarned != 150 {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if len(notes.calls) != 1 {
		t.Fatalf("notifier calls=%d want 1", len(notes.calls))
	}
}

func TestSubmitScoreNoLives(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 0, now.Add(-10*time.Minute))
	notes := &recordingNotifier{}
	svc := newService(mem, game.WithNotifier(notes))

	_, err := svc.SubmitScore(context.Background(), game.SubmitInput{
		AccountID: "u1", Score: 10, Difficulty: game.DifficultyHard, PointsEarned: 30,
	})
	if !errors.Is(err, game.ErrNoLivesRemaining) {
		t.Fatalf("expected ErrNoLivesRemaining, got %v", err)
	}
	stored, _ := mem.Load(context.Background(), "u1")
	if stored.LifetimePoints != 0 || stored.Version != 0 {
		t.Fatalf("state changed on rejection: %+v", stored)
	}
	if runs, _ := mem.RecentRuns(context.Background(), "u1", 10); len(runs) != 0 {
		t.Fatalf("run recorded on rejection")
	}
	if len(notes.calls) != 0 {
		t.Fatalf("notifier called on rejection")
	}
}

func TestSubmitScoreRegeneratesFirst(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 0, now.Add(-time.Hour))
	svc := newService(mem)

	res, err := svc.SubmitScore(context.Background(), game.SubmitInput{
		AccountID: "u1", Score: 3, Difficulty: game.DifficultyMedium, PointsEarned: 4,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.LivesGained != 4 || res.Account.Lives != 3 {
		t.Fatalf("gained=%d lives=%d want 4/3", res.LivesGained, res.Account.Lives)
	}
	if !res.Account.LastRegenAt.Equal(now) {
		t.Fatalf("regen timestamp not persisted")
	}
}

func TestSubmitScoreNotFound(t *testing.T) {
	svc := newService(store.NewMemory())
	_, err := svc.SubmitScore(context.Background(), game.SubmitInput{
		AccountID: "ghost", Score: 1, Difficulty: game.DifficultyEasy,
	})
	if !errors.Is(err, game.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSubmitScoreInvalidInputTouchesNothing(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 5, now)
	svc := newService(mem)

	_, err := svc.SubmitScore(context.Background(), game.SubmitInput{
		AccountID: "u1", Score: -3, Difficulty: game.DifficultyEasy, PointsEarned: 1,
	})
	if !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	stored, _ := mem.Load(context.Background(), "u1")
	if stored.Lives != 5 || stored.Version != 0 {
		t.Fatalf("state changed: %+v", stored)
	}
}

func TestSubmitScoreConcurrentLastLife(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 1, now)
	svc := newService(mem)

	const callers = 8
	var wg sync.WaitGroup
	var ok, noLives, conflict atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitScore(context.Background(), game.SubmitInput{
				AccountID: "u1", Score: 5, Difficulty: game.DifficultyEasy, PointsEarned: 5,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, game.ErrNoLivesRemaining):
				noLives.Add(1)
			case errors.Is(err, game.ErrConflict):
				conflict.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 {
		t.Fatalf("successes=%d want exactly 1", ok.Load())
	}
	if noLives.Load()+conflict.Load() != callers-1 {
		t.Fatalf("failures=%d want %d", noLives.Load()+conflict.Load(), callers-1)
	}
	stored, _ := mem.Load(context.Background(), "u1")
	if stored.Lives != 0 || stored.LifetimePoints != 5 {
		t.Fatalf("unexpected final record %+v", stored)
	}
	if runs, _ := mem.RecentRuns(context.Background(), "u1", 0); len(runs) != 1 {
		t.Fatalf("runs=%d want 1", len(runs))
	}
}

// alwaysConflict loses every compare-and-swap race.
type alwaysConflict struct {
	*store.Memory
	attempts atomic.Int32
}

func (s *alwaysConflict) CompareAndSwap(context.Context, int64, game.Account, *game.Run) (game.Account, error) {
	s.attempts.Add(1)
	return game.Account{}, game.ErrConflict
}

func TestSubmitScoreConflictExhaustsRetries(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 10, now)
	st := &alwaysConflict{Memory: mem}
	svc := newService(st)

	_, err := svc.SubmitScore(context.Background(), game.SubmitInput{
		AccountID: "u1", Score: 1, Difficulty: game.DifficultyEasy, PointsEarned: 1,
	})
	if !errors.Is(err, game.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if st.attempts.Load() != game.DefaultMaxAttempts {
		t.Fatalf("attempts=%d want %d", st.attempts.Load(), game.DefaultMaxAttempts)
	}
}

func TestSubmitScoreDuplicateKey(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 10, now)
	svc := newService(mem)
	in := game.SubmitInput{
		AccountID: "u1", Score: 7, Difficulty: game.DifficultyEasy, PointsEarned: 7, IdempotencyKey: "k-1",
	}

	if _, err := svc.SubmitScore(context.Background(), in); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := svc.SubmitScore(context.Background(), in); !errors.Is(err, game.ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}
	stored, _ := mem.Load(context.Background(), "u1")
	if stored.Lives != 9 || stored.LifetimePoints != 7 {
		t.Fatalf("replay changed state: %+v", stored)
	}
}

func TestRegenerateLives(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 2, now.Add(-3*time.Hour))
	svc := newService(mem)

	res, err := svc.RegenerateLives(context.Background(), "u1")
	if err != nil {
		t.Fatalf("regen: %v", err)
	}
	if res.LivesGained != 12 || res.Account.Lives != 14 {
		t.Fatalf("gained=%d lives=%d want 12/14", res.LivesGained, res.Account.Lives)
	}
	if res.Account.Version != 1 {
		t.Fatalf("version=%d want 1", res.Account.Version)
	}

	again, err := svc.RegenerateLives(context.Background(), "u1")
	if err != nil {
		t.Fatalf("regen again: %v", err)
	}
	if again.LivesGained != 0 || again.Account.Version != 1 {
		t.Fatalf("second regen wrote: %+v", again)
	}
	if !again.NextLifeAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("next life at %v", again.NextLifeAt)
	}
}

func TestRegenerateLivesNoGainDoesNotWrite(t *testing.T) {
	mem := store.NewMemory()
	last := now.Add(-10 * time.Minute)
	seed(t, mem, 2, last)
	svc := newService(mem)

	res, err := svc.RegenerateLives(context.Background(), "u1")
	if err != nil {
		t.Fatalf("regen: %v", err)
	}
	stored, _ := mem.Load(context.Background(), "u1")
	if res.LivesGained != 0 || stored.Version != 0 || !stored.LastRegenAt.Equal(last) {
		t.Fatalf("zero gain must leave the record alone: %+v", stored)
	}
}

func TestApplyTierChange(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 90, now.Add(-time.Hour))
	svc := newService(mem)

	up, err := svc.ApplyTierChange(context.Background(), "u1", game.TierMid)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	// One hour at the free rate is credited before the switch.
	if up.Lives != 94 || up.MaxLives != 1000 || up.LivesPerHour != 40 || up.Tier != game.TierMid {
		t.Fatalf("unexpected upgrade result %+v", up)
	}

	big, err := svc.ApplyTierChange(context.Background(), "u1", game.TierBig)
	if err != nil {
		t.Fatalf("big: %v", err)
	}
	if big.Lives != game.UnlimitedMaxLives {
		t.Fatalf("lives=%d want unlimited", big.Lives)
	}

	down, err := svc.ApplyTierChange(context.Background(), "u1", game.TierFree)
	if err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if down.Lives != 100 || down.MaxLives != 100 || down.LivesPerHour != 4 {
		t.Fatalf("unexpected downgrade result %+v", down)
	}

	if _, err := svc.ApplyTierChange(context.Background(), "u1", "diamond"); !errors.Is(err, game.ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestApplyTierChangeGrantsNoBonusLives(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 5, now.Add(-14*time.Minute))
	clock := now
	svc := game.NewService(mem, nil, game.WithClock(func() time.Time { return clock }), game.WithRetry(3, 0))

	up, err := svc.ApplyTierChange(context.Background(), "u1", game.TierMid)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if up.Lives != 5 {
		t.Fatalf("lives=%d want 5", up.Lives)
	}
	res, err := svc.RegenerateLives(context.Background(), "u1")
	if err != nil {
		t.Fatalf("regen: %v", err)
	}
	if res.LivesGained != 0 || res.Account.Lives != 5 {
		t.Fatalf("upgrade granted %d extra lives at the same instant", res.LivesGained)
	}

	// 84s of the 90s mid interval were carried over.
	clock = now.Add(10 * time.Second)
	res, err = svc.RegenerateLives(context.Background(), "u1")
	if err != nil {
		t.Fatalf("regen: %v", err)
	}
	if res.LivesGained != 1 || res.Account.Lives != 6 {
		t.Fatalf("gained=%d lives=%d want 1/6", res.LivesGained, res.Account.Lives)
	}
}

func TestProgressDoesNotWrite(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, 2, now.Add(-30*time.Minute))
	svc := newService(mem)

	view, err := svc.Progress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if view.LivesNow != 4 || view.Account.Lives != 2 {
		t.Fatalf("lives now=%d stored=%d", view.LivesNow, view.Account.Lives)
	}
	stored, _ := mem.Load(context.Background(), "u1")
	if stored.Version != 0 {
		t.Fatalf("progress wrote to the store")
	}
}

func TestEnsureAccount(t *testing.T) {
	mem := store.NewMemory()
	svc := newService(mem)
	in := game.NewAccountInput{AccountID: "u9", Email: "Jane.Doe@example.com", CountryCode: "fr"}

	if err := svc.EnsureAccount(context.Background(), in); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := svc.EnsureAccount(context.Background(), in); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	p, err := mem.GetProfile(context.Background(), "u9")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Username != "jane_doe" || p.Region != game.RegionEurope || len(p.InviteCode) != 8 {
		t.Fatalf("unexpected profile %+v", p)
	}
	a, err := mem.Load(context.Background(), "u9")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.Tier != game.TierFree || a.Lives != 100 || a.LifetimeLevel != 1 || a.CurrentRank != game.RankBlue {
		t.Fatalf("unexpected starting record %+v", a)
	}
}
