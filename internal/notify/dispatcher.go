package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"blueballs/internal/game"
)

type Writer interface {
	Insert(ctx context.Context, n Notification) (Notification, error)
}

type ProfileLookup interface {
	GetProfile(ctx context.Context, accountID string) (game.Profile, error)
}

// Dispatcher turns accepted runs into player notifications and, for rank-ups,
// a public announcement. Failures are logged and swallowed.
type Dispatcher struct {
	writer    Writer
	profiles  ProfileLookup
	announcer Announcer
	log       *slog.Logger
}

func NewDispatcher(writer Writer, profiles ProfileLookup, announcer Announcer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{writer: writer, profiles: profiles, announcer: announcer, log: logger}
}

func (d *Dispatcher) RunAccepted(ctx context.Context, a game.Account, run game.Run, flags game.Flags) {
	for _, n := range notificationsFor(a, run, flags) {
		if _, err := d.writer.Insert(ctx, n); err != nil {
			d.log.Error("notification insert failed", "account_id", a.AccountID, "kind", string(n.Kind), "err", err)
		}
	}
	if flags.RankUp && d.announcer != nil {
		d.announceRankUp(ctx, a)
	}
}

// TierChanged tells a player their membership moved.
func (d *Dispatcher) TierChanged(ctx context.Context, a game.Account) {
	n := Notification{
		AccountID: a.AccountID,
		Kind:      KindTierChanged,
		Message:   fmt.Sprintf("Your membership is now %s.", strings.ToUpper(string(a.Tier))),
		Payload:   mustPayload(map[string]any{"tier": a.Tier, "max_lives": a.MaxLives}),
	}
	if _, err := d.writer.Insert(ctx, n); err != nil {
		d.log.Error("notification insert failed", "account_id", a.AccountID, "kind", string(n.Kind), "err", err)
	}
}

// PaymentFailed warns a player that their subscription payment bounced.
func (d *Dispatcher) PaymentFailed(ctx context.Context, accountID string) {
	n := Notification{
		AccountID: accountID,
		Kind:      KindPaymentFailed,
		Message:   "Your last membership payment failed. Update your payment method to keep your perks.",
	}
	if _, err := d.writer.Insert(ctx, n); err != nil {
		d.log.Error("notification insert failed", "account_id", accountID, "kind", string(n.Kind), "err", err)
	}
}

func (d *Dispatcher) announceRankUp(ctx context.Context, a game.Account) {
	name := "A player"
	if d.profiles != nil {
		p, err := d.profiles.GetProfile(ctx, a.AccountID)
		if err != nil {
			d.log.Warn("rank-up announcement without profile", "account_id", a.AccountID, "err", err)
		} else {
			name = p.Username
		}
	}
	msg := fmt.Sprintf("%s just reached %s rank with %d lifetime points!", name, strings.ToUpper(string(a.CurrentRank)), a.LifetimePoints)
	if err := d.announcer.Announce(ctx, msg); err != nil {
		d.log.Error("rank-up announcement failed", "account_id", a.AccountID, "err", err)
	}
}

func notificationsFor(a game.Account, run game.Run, flags game.Flags) []Notification {
	var out []Notification
	if flags.IsNewHighScore {
		out = append(out, Notification{
			AccountID: a.AccountID,
			Kind:      KindHighScore,
			Message:   fmt.Sprintf("New %s high score: %d!", run.Difficulty, run.Score),
			Payload:   mustPayload(map[string]any{"difficulty": run.Difficulty, "score": run.Score, "run_id": run.ID}),
		})
	}
	if flags.LevelUp {
		out = append(out, Notification{
			AccountID: a.AccountID,
			Kind:      KindLevelUp,
			Message:   fmt.Sprintf("Level up! You are now level %d.", a.LifetimeLevel),
			Payload:   mustPayload(map[string]any{"level": a.LifetimeLevel}),
		})
	}
	if flags.RankUp {
		out = append(out, Notification{
			AccountID: a.AccountID,
			Kind:      KindRankUp,
			Message:   fmt.Sprintf("Rank up! You reached %s.", strings.ToUpper(string(a.CurrentRank))),
			Payload:   mustPayload(map[string]any{"rank": a.CurrentRank}),
		})
	}
	return out
}

func mustPayload(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
