package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johncarlo20/growlink-sub002/domain/entity"
)

// Clock abstracts "now" so that status derivation and enforcement are
// testable against fixed points in time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// dueSoonWindow is how far ahead of the billing date a subscription is
// reported as due for payment.
const dueSoonWindow = 48 * time.Hour

// displaySentinelYear marks backend dates that mean "no real date on file"
// for display purposes. Dates before this year are normalized to now before
// formatting. The banner-suppression threshold in enforcement.go is a
// different year; the two are intentionally kept separate.
const displaySentinelYear = 2000

// DeriveStatus classifies a snapshot's billing health against now. It is a
// total, side-effect-free function: every input, including sentinel and
// epoch-era dates, maps to a status.
func DeriveStatus(snapshot *entity.SubscriptionSnapshot, now time.Time) entity.SubscriptionStatus {
	if snapshot == nil {
		return entity.StatusNotApplicable
	}
	if snapshot.NextBillingDate == nil || snapshot.NextBillingDate.IsZero() {
		return entity.StatusNoExpiry
	}

	due := *snapshot.NextBillingDate
	switch {
	case due.Before(now):
		return entity.StatusExpired
	case due.Before(now.Add(dueSoonWindow)):
		return entity.StatusDueForPayment
	default:
		return entity.StatusActive
	}
}

// FormatNextBillingDate long-form-formats the snapshot's next billing date.
// A date with a year before 2000 is a backend placeholder for "no real date
// on file" and is normalized to now before formatting. Returns "N/A" when
// there is no snapshot or no date.
func FormatNextBillingDate(snapshot *entity.SubscriptionSnapshot, now time.Time) string {
	if snapshot == nil || snapshot.NextBillingDate == nil {
		return "N/A"
	}
	d := *snapshot.NextBillingDate
	if d.Year() < displaySentinelYear {
		d = now
	}
	return d.Format("January 2, 2006")
}

// FormatCurrency renders an amount as fixed en-US USD, e.g. "$1,234.50".
// Only one currency is supported; the locale is not configurable.
func FormatCurrency(m entity.Money) string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	dollars := cents / 100
	fraction := cents % 100

	digits := strconv.FormatInt(dollars, 10)
	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)

	return fmt.Sprintf("%s$%s.%02d", sign, strings.Join(groups, ","), fraction)
}
