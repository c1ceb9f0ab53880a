package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/domain/entity"
)

// BannerSeverity drives the styling of the subscription banner.
type BannerSeverity string

const (
	BannerSeverityNone    BannerSeverity = ""
	BannerSeverityInfo    BannerSeverity = "info"
	BannerSeverityWarning BannerSeverity = "warning"
	BannerSeverityError   BannerSeverity = "error"
)

// DismissalAction is what the UI must do after the blocking expiry dialog
// is dismissed.
type DismissalAction string

const (
	DismissalNone                 DismissalAction = "none"
	DismissalOpenSubscriptionPage DismissalAction = "open_subscription_page"
	DismissalForceLogout          DismissalAction = "force_logout"
)

// EnforcementDecision tells the UI what to show for the current snapshot:
// a banner, a blocking expiry dialog, or a lockout.
type EnforcementDecision struct {
	ShowBanner       bool
	BannerSeverity   BannerSeverity
	BannerMessage    string
	ShowExpiryDialog bool
	LockOut          bool
}

// bannerSentinelYear marks backend dates that mean "no real data" for
// enforcement. Dates before this year suppress the banner entirely. This is
// deliberately a different threshold than the display formatting sentinel.
const bannerSentinelYear = 2021

const (
	expiredGrace      = 24 * time.Hour
	aboutToExpireSpan = 5 * 24 * time.Hour
)

// ExpiryEnforcementPolicy turns a subscription snapshot and the viewer's
// role into enforcement decisions.
type ExpiryEnforcementPolicy struct {
	clock   Clock
	logger  *zap.Logger
	metrics EnforcementRecorder
}

// EnforcementRecorder counts enforcement decisions for observability.
// A nil recorder disables counting.
type EnforcementRecorder interface {
	RecordEnforcement(severity string)
}

// NewExpiryEnforcementPolicy creates a policy using the given clock.
func NewExpiryEnforcementPolicy(clock Clock, logger *zap.Logger, metrics EnforcementRecorder) *ExpiryEnforcementPolicy {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryEnforcementPolicy{
		clock:   clock,
		logger:  logger.Named("expiry_enforcement"),
		metrics: metrics,
	}
}

// Evaluate computes the enforcement decision for the session's snapshot.
// The blocking dialog is requested at most once per session; the flag lives
// on the Session and resets only when a new session begins.
func (p *ExpiryEnforcementPolicy) Evaluate(session *Session) EnforcementDecision {
	snapshot := session.Snapshot()
	now := p.clock.Now()

	decision := p.evaluateSnapshot(snapshot, now)

	if decision.ShowExpiryDialog {
		if !session.MarkExpiryDialogShown() {
			decision.ShowExpiryDialog = false
		} else {
			p.logger.Info("expiry dialog requested",
				zap.String("organization_id", session.OrganizationID()),
				zap.Bool("locked_out", decision.LockOut),
			)
		}
	}

	if p.metrics != nil && decision.ShowBanner {
		p.metrics.RecordEnforcement(string(decision.BannerSeverity))
	}
	return decision
}

func (p *ExpiryEnforcementPolicy) evaluateSnapshot(snapshot *entity.SubscriptionSnapshot, now time.Time) EnforcementDecision {
	if snapshot == nil || snapshot.ActivePlan() == nil || snapshot.NextBillingDate == nil {
		return EnforcementDecision{}
	}

	due := *snapshot.NextBillingDate
	if due.Year() < bannerSentinelYear {
		// Placeholder date from the backend; nothing to enforce.
		return EnforcementDecision{}
	}

	isExpired := due.Before(now.Add(-expiredGrace))
	aboutToExpire := due.Before(now.Add(aboutToExpireSpan))

	decision := EnforcementDecision{
		ShowBanner: true,
		LockOut:    snapshot.IsLockedOut,
	}

	switch {
	case isExpired:
		decision.BannerSeverity = BannerSeverityError
		decision.BannerMessage = "Your subscription has expired. Renew now to restore access."
		decision.ShowExpiryDialog = true
	case aboutToExpire:
		decision.BannerSeverity = BannerSeverityWarning
		decision.BannerMessage = expiryCountdownMessage(due, now)
	default:
		decision.BannerSeverity = BannerSeverityInfo
		decision.BannerMessage = fmt.Sprintf("Your subscription renews on %s.", due.Format("January 2, 2006"))
	}

	if decision.BannerSeverity != BannerSeverityInfo && !snapshot.HasValidCard() {
		decision.BannerMessage += " No payment card is on file."
	}

	return decision
}

// expiryCountdownMessage words the warning for 0, 1, and >1 whole days
// remaining before the billing date.
func expiryCountdownMessage(due, now time.Time) string {
	days := int(due.Sub(now).Hours() / 24)
	switch {
	case days <= 0:
		return "Your subscription will expire today."
	case days == 1:
		return "Your subscription will expire tomorrow."
	default:
		return fmt.Sprintf("Your subscription will expire in %d days.", days)
	}
}

// ResolveDialogDismissal determines the follow-up action after the blocking
// expiry dialog is dismissed. When the backend reports a lockout, an account
// admin is sent to the subscription management screen and any other viewer
// is forcibly logged out; without a lockout, dismissal has no side effect.
func (p *ExpiryEnforcementPolicy) ResolveDialogDismissal(session *Session) DismissalAction {
	snapshot := session.Snapshot()
	if snapshot == nil || !snapshot.IsLockedOut {
		return DismissalNone
	}
	if session.IsAccountAdmin() {
		return DismissalOpenSubscriptionPage
	}
	p.logger.Warn("locked-out viewer logged out",
		zap.String("organization_id", session.OrganizationID()),
	)
	return DismissalForceLogout
}
