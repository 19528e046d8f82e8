package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

var blockedNameFragments = []string{
	"admin",
	"mod",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 25 * time.Millisecond
)

type Service struct {
	store       Store
	tiers       TierPolicy
	notifier    Notifier
	log         *slog.Logger
	now         func() time.Time
	maxAttempts int
	retryDelay  time.Duration
}

type Option func(*Service)

func WithTierPolicy(p TierPolicy) Option {
	return func(s *Service) { s.tiers = p }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			s.retryDelay = baseDelay
		}
	}
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		tiers:       DefaultTiers,
		log:         logger,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) EnsureAccount(ctx context.Context, in NewAccountInput) error {
	if strings.TrimSpace(in.AccountID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = usernameFromEmail(in.Email)
	}
	if !usernameRE.MatchString(username) || validateUsername(username) != nil {
		username = sanitizeUsername(usernameFromEmail(in.Email))
	}
	inviteCode, err := generateInviteCode()
	if err != nil {
		return err
	}
	if validateUsername(username) != nil {
		username = "player_" + strings.ToLower(inviteCode)
	}
	policy, err := s.tiers.Policy(TierFree)
	if err != nil {
		return err
	}
	now := s.now()
	country := strings.ToUpper(strings.TrimSpace(in.CountryCode))
	if country == "" {
		country = "US"
	}
	created, err := s.store.CreateAccount(ctx, Profile{
		AccountID:   in.AccountID,
		Email:       strings.TrimSpace(in.Email),
		Username:    username,
		InviteCode:  inviteCode,
		CountryCode: country,
		Region:      RegionForCountry(country),
		CreatedAt:   now,
	}, NewAccount(in.AccountID, TierFree, policy, now))
	if err != nil {
		return err
	}
	if created {
		s.log.Info("account created", "account_id", in.AccountID, "username", username)
	}
	return nil
}

// SubmitScore records one finished run: it regenerates lives as of now,
// refuses the run when none are left, applies it and persists the result
// atomically. Concurrent writers cause the whole sequence to be retried.
func (s *Service) SubmitScore(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	difficulty, err := validateSubmission(in)
	if err != nil {
		return SubmitResult{}, err
	}

	var out SubmitResult
	err = s.withRetry(ctx, "submit_score", in.AccountID, func() error {
		current, err := s.store.Load(ctx, in.AccountID)
		if err != nil {
			return err
		}
		now := s.now()
		reconciled, gained := Reconcile(current, now)
		if reconciled.Lives <= 0 {
			return ErrNoLivesRemaining
		}

		run := Run{
			ID:             uuid.NewString(),
			AccountID:      in.AccountID,
			Score:          in.Score,
			Difficulty:     difficulty,
			PointsEarned:   in.PointsEarned,
			IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
			CreatedAt:      now,
		}
		next, flags := ApplyRun(reconciled, run)

		saved, err := s.store.CompareAndSwap(ctx, current.Version, next, &run)
		if err != nil {
			return err
		}
		out = SubmitResult{
			Account:     saved,
			Run:         run,
			Flags:       flags,
			LivesGained: gained,
			NextLifeAt:  NextLifeAt(saved, now),
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	s.log.Info("score submitted",
		"account_id", in.AccountID,
		"difficulty", string(difficulty),
		"score", in.Score,
		"points", in.PointsEarned,
		"lives", out.Account.Lives,
		"level_up", out.Flags.LevelUp,
		"rank_up", out.Flags.RankUp,
	)
	if s.notifier != nil {
		s.notifier.RunAccepted(context.WithoutCancel(ctx), out.Account, out.Run, out.Flags)
	}
	return out, nil
}

// RegenerateLives reconciles lives without consuming any. Nothing is written
// unless at least one life accrued.
func (s *Service) RegenerateLives(ctx context.Context, accountID string) (RegenResult, error) {
	var out RegenResult
	err := s.withRetry(ctx, "regenerate_lives", accountID, func() error {
		current, err := s.store.Load(ctx, accountID)
		if err != nil {
			return err
		}
		now := s.now()
		reconciled, gained := Reconcile(current, now)
		out = RegenResult{Account: reconciled, LivesGained: gained}
		if gained > 0 {
			saved, err := s.store.CompareAndSwap(ctx, current.Version, reconciled, nil)
			if err != nil {
				return err
			}
			out.Account = saved
		}
		out.NextLifeAt = NextLifeAt(out.Account, now)
		return nil
	})
	if err != nil {
		return RegenResult{}, err
	}
	return out, nil
}

// ApplyTierChange moves an account onto a new membership tier. Lives accrued
// at the old rate are credited first and partial progress keeps its fraction.
func (s *Service) ApplyTierChange(ctx context.Context, accountID string, tier Tier) (Account, error) {
	policy, err := s.tiers.Policy(tier)
	if err != nil {
		return Account{}, err
	}
	var out Account
	err = s.withRetry(ctx, "apply_tier_change", accountID, func() error {
		current, err := s.store.Load(ctx, accountID)
		if err != nil {
			return err
		}
		now := s.now()
		reconciled, _ := Reconcile(current, now)
		next := ApplyTier(reconciled, tier, policy, now)
		saved, err := s.store.CompareAndSwap(ctx, current.Version, next, nil)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("membership tier applied", "account_id", accountID, "tier", string(tier), "max_lives", out.MaxLives, "lives", out.Lives)
	return out, nil
}

// Progress returns the stored record with lives projected to now. It never
// writes.
func (s *Service) Progress(ctx context.Context, accountID string) (ProgressView, error) {
	current, err := s.store.Load(ctx, accountID)
	if err != nil {
		return ProgressView{}, err
	}
	now := s.now()
	projected, _ := Reconcile(current, now)
	return ProgressView{
		Account:    current,
		LivesNow:   projected.Lives,
		NextLifeAt: NextLifeAt(projected, now),
	}, nil
}

func (s *Service) withRetry(ctx context.Context, op, accountID string, fn func() error) error {
	delay := s.retryDelay
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		s.log.Warn("progression update conflict", "op", op, "account_id", accountID, "attempt", attempt+1)
		if attempt == s.maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < 400*time.Millisecond {
			delay *= 2
		}
	}
	return ErrConflict
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func generateInviteCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}

func usernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	parts := strings.Split(email, "@")
	if len(parts) == 0 || parts[0] == "" {
		return "player"
	}
	return sanitizeUsername(parts[0])
}

func sanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "player"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "player_" + res
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return res
}

func validateUsername(name string) error {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: username contains blocked content", ErrInvalidInput)
		}
	}
	return nil
}
