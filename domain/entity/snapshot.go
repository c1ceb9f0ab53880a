package entity

import "time"

// BillingPeriodType values reported by the portal backend for a plan
// subscription. Other strings may appear and are passed through verbatim.
const (
	BillingPeriodMonthly = "Monthly"
	BillingPeriodAnnual  = "Annual"
)

// PlanSubscription is one plan an organization is subscribed to. An
// organization may hold zero, one, or several; only the first entry in the
// backend's ordering is treated as the active one.
type PlanSubscription struct {
	PlanKey               string `json:"plan_key"`
	BillingPeriodType     string `json:"billing_period_type"`
	GatewaySubscriptionID string `json:"gateway_subscription_id,omitempty"`
	Quantity              int    `json:"quantity"`
}

// Money is an amount in minor units (cents) with an ISO currency code.
type Money struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

// SubscriptionSnapshot is a point-in-time read of an organization's billing
// state as reported by the portal backend. Snapshots are immutable; a refresh
// replaces the whole value, never merges into it.
type SubscriptionSnapshot struct {
	NextBillingDate     *time.Time         `json:"next_billing_date,omitempty"`
	NextBillingAmount   Money              `json:"next_billing_amount"`
	PaymentType         string             `json:"payment_type"`
	CardBrand           string             `json:"card_brand,omitempty"`
	CardLast4           *string            `json:"card_last4,omitempty"`
	CardExpiry          *string            `json:"card_expiry,omitempty"`
	IsLockedOut         bool               `json:"is_locked_out"`
	ActiveSubscriptions []PlanSubscription `json:"active_subscriptions"`
	PriceDetailsByPlan  map[string]string  `json:"price_details_by_plan,omitempty"`
}

// ActivePlan returns the subscription treated as active: the first element of
// the backend's ordering. Nil when the organization has no subscriptions.
func (s *SubscriptionSnapshot) ActivePlan() *PlanSubscription {
	if s == nil || len(s.ActiveSubscriptions) == 0 {
		return nil
	}
	return &s.ActiveSubscriptions[0]
}

// HasValidCard reports whether a usable card is on file. The backend signals
// this with a four-character last-4 value; anything else means no card.
func (s *SubscriptionSnapshot) HasValidCard() bool {
	return s != nil && s.CardLast4 != nil && len(*s.CardLast4) == 4
}

// SubscriptionStatus classifies a snapshot's billing health. It is derived,
// never stored.
type SubscriptionStatus string

const (
	StatusNotApplicable SubscriptionStatus = "not_applicable"
	StatusNoExpiry      SubscriptionStatus = "no_expiry"
	StatusDueForPayment SubscriptionStatus = "due_for_payment"
	StatusExpired       SubscriptionStatus = "expired"
	StatusActive        SubscriptionStatus = "active"
)

// Label returns the human-readable form of the status for display.
func (s SubscriptionStatus) Label() string {
	switch s {
	case StatusNotApplicable:
		return "Not Applicable"
	case StatusNoExpiry:
		return "No Expiry"
	case StatusDueForPayment:
		return "Due for Payment"
	case StatusExpired:
		return "Expired"
	case StatusActive:
		return "Active"
	default:
		return string(s)
	}
}
