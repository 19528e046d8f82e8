package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"blueballs/internal/game"
)

type Queue interface {
	Drain(ctx context.Context, limit int, fn Handler) (Stats, error)
}

type Subscriptions interface {
	LinkCustomer(ctx context.Context, accountID, customerID, subscriptionID string, tier game.Tier) error
	AccountForCustomer(ctx context.Context, customerID string) (string, error)
	SetPeriodEnd(ctx context.Context, customerID string, endsAt time.Time) error
	SetTier(ctx context.Context, customerID string, tier game.Tier) error
	ClearSubscription(ctx context.Context, customerID string) error
}

type TierApplier interface {
	ApplyTierChange(ctx context.Context, accountID string, tier game.Tier) (game.Account, error)
}

type Alerts interface {
	TierChanged(ctx context.Context, a game.Account)
	PaymentFailed(ctx context.Context, accountID string)
}

// Reconciler applies stored billing events to player records. Events that can
// never succeed are acknowledged with a log line; anything else is returned
// so the inbox keeps the event pending.
type Reconciler struct {
	queue  Queue
	subs   Subscriptions
	tiers  TierApplier
	alerts Alerts
	log    *slog.Logger
}

func NewReconciler(queue Queue, subs Subscriptions, tiers TierApplier, alerts Alerts, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{queue: queue, subs: subs, tiers: tiers, alerts: alerts, log: logger}
}

func (r *Reconciler) RunOnce(ctx context.Context, batch int) (Stats, error) {
	stats, err := r.queue.Drain(ctx, batch, r.Handle)
	if err != nil {
		return stats, err
	}
	if stats.Claimed > 0 {
		r.log.Info("billing batch drained", "claimed", stats.Claimed, "processed", stats.Processed, "failed", stats.Failed)
	}
	return stats, nil
}

func (r *Reconciler) Handle(ctx context.Context, ev Event) error {
	var err error
	switch ev.Type {
	case EventCheckoutCompleted:
		err = r.checkoutCompleted(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		err = r.subscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		err = r.subscriptionDeleted(ctx, ev)
	case EventPaymentFailed:
		err = r.paymentFailed(ctx, ev)
	case EventPaymentSucceeded:
		r.log.Info("billing payment succeeded", "event_id", ev.ID)
	default:
		r.log.Info("billing event ignored", "event_id", ev.ID, "type", ev.Type)
	}
	if err != nil && permanent(err) {
		r.log.Warn("billing event dropped", "event_id", ev.ID, "type", ev.Type, "err", err)
		return nil
	}
	return err
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev Event) error {
	sess, err := decodeObject[checkoutSession](ev)
	if err != nil {
		return err
	}
	accountID := strings.TrimSpace(sess.Metadata["user_id"])
	if accountID == "" || strings.TrimSpace(sess.Metadata["tier"]) == "" {
		r.log.Error("checkout session missing metadata", "event_id", ev.ID, "session_id", sess.ID)
		return nil
	}
	tier, err := game.ParseTier(sess.Metadata["tier"])
	if err != nil {
		return err
	}
	a, err := r.tiers.ApplyTierChange(ctx, accountID, tier)
	if err != nil {
		return err
	}
	if sess.Customer != "" {
		if err := r.subs.LinkCustomer(ctx, accountID, string(sess.Customer), string(sess.Subscription), tier); err != nil {
			return err
		}
	}
	r.log.Info("subscription activated", "account_id", accountID, "tier", string(tier))
	if r.alerts != nil {
		r.alerts.TierChanged(ctx, a)
	}
	return nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, ev Event) error {
	sub, err := decodeObject[subscription](ev)
	if err != nil {
		return err
	}
	customerID := string(sub.Customer)
	accountID, err := r.subs.AccountForCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if err := r.subs.SetPeriodEnd(ctx, customerID, sub.PeriodEnd()); err != nil {
		return err
	}
	if raw := strings.TrimSpace(sub.Metadata["tier"]); raw != "" && sub.active() {
		tier, err := game.ParseTier(raw)
		if err != nil {
			return err
		}
		a, err := r.tiers.ApplyTierChange(ctx, accountID, tier)
		if err != nil {
			return err
		}
		if err := r.subs.SetTier(ctx, customerID, tier); err != nil {
			return err
		}
		if r.alerts != nil {
			r.alerts.TierChanged(ctx, a)
		}
	}
	r.log.Info("subscription updated", "account_id", accountID, "period_end", formatUnix(sub.PeriodEnd()))
	return nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, ev Event) error {
	sub, err := decodeObject[subscription](ev)
	if err != nil {
		return err
	}
	customerID := string(sub.Customer)
	accountID, err := r.subs.AccountForCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	a, err := r.tiers.ApplyTierChange(ctx, accountID, game.TierFree)
	if err != nil {
		return err
	}
	if err := r.subs.ClearSubscription(ctx, customerID); err != nil {
		return err
	}
	r.log.Info("subscription cancelled", "account_id", accountID)
	if r.alerts != nil {
		r.alerts.TierChanged(ctx, a)
	}
	return nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, ev Event) error {
	inv, err := decodeObject[invoice](ev)
	if err != nil {
		return err
	}
	accountID, err := r.subs.AccountForCustomer(ctx, string(inv.Customer))
	if err != nil {
		return err
	}
	r.log.Warn("billing payment failed", "account_id", accountID, "invoice_id", inv.ID)
	if r.alerts != nil {
		r.alerts.PaymentFailed(ctx, accountID)
	}
	return nil
}

// permanent errors will fail the same way on every retry.
func permanent(err error) bool {
	return errors.Is(err, ErrUnknownCustomer) ||
		errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, game.ErrUnknownTier) ||
		errors.Is(err, game.ErrAccountNotFound) ||
		errors.Is(err, game.ErrInvalidInput)
}
