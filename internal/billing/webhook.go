package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownCustomer  = errors.New("unknown billing customer")
	ErrMalformedEvent   = errors.New("malformed billing event")
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a verified provider event as kept in the inbox. Object is the raw
// data.object document.
type Event struct {
	ID         string
	Type       string
	Object     json.RawMessage
	ReceivedAt time.Time
	Attempts   int
}

// Secrets holds the live and test signing secrets. Test mode falls back to the
// live secret when no test secret is configured.
type Secrets struct {
	Live string
	Test string
}

func (s Secrets) Pick(testMode bool) string {
	if testMode && s.Test != "" {
		return s.Test
	}
	return s.Live
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event
// envelope. API version mismatches are tolerated because only a handful of
// object fields are read.
func ParseWebhook(payload []byte, signature, secret string) (Event, error) {
	if signature == "" || secret == "" {
		return Event{}, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if ev.ID == "" || ev.Data == nil {
		return Event{}, fmt.Errorf("%w: event has no id or data", ErrInvalidSignature)
	}
	return Event{
		ID:     ev.ID,
		Type:   string(ev.Type),
		Object: ev.Data.Raw,
	}, nil
}

// expandable decodes a Stripe reference that is either an id string or an
// expanded object carrying an id.
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = expandable(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type checkoutSession struct {
	ID           string            `json:"id"`
	Customer     expandable        `json:"customer"`
	Subscription expandable        `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscription struct {
	ID               string            `json:"id"`
	Customer         expandable        `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// PeriodEnd reads the top-level field and falls back to the first item, where
// newer API versions moved it.
func (s subscription) PeriodEnd() time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

func (s subscription) active() bool {
	switch s.Status {
	case "active", "trialing", "":
		return true
	}
	return false
}

type invoice struct {
	ID       string     `json:"id"`
	Customer expandable `json:"customer"`
}

func decodeObject[T any](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Object, &out); err != nil {
		return out, fmt.Errorf("%w: %s %s: %v", ErrMalformedEvent, ev.Type, ev.ID, err)
	}
	return out, nil
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return strconv.FormatInt(t.Unix(), 10)
}
