package service

import (
	"context"

	"go.uber.org/zap"
)

// RefreshRecorder counts snapshot refreshes by trigger.
type RefreshRecorder interface {
	RecordRefresh(trigger string)
}

// Refresh triggers, mirroring the snapshot lifecycle: initial organization
// selection, a server push for the organization, or workflow completion.
const (
	RefreshTriggerInitial = "initial"
	RefreshTriggerPush    = "push"
)

// SnapshotRefresher fetches fresh snapshots into a session. It is the
// consumer of the server push channel: a pushed organization id only causes
// a refresh when it matches the session's organization.
type SnapshotRefresher struct {
	session *Session
	api     PortalBillingAPI
	logger  *zap.Logger
	metrics RefreshRecorder
}

// NewSnapshotRefresher creates a refresher for the given session.
func NewSnapshotRefresher(session *Session, api PortalBillingAPI, logger *zap.Logger, metrics RefreshRecorder) *SnapshotRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotRefresher{
		session: session,
		api:     api,
		logger:  logger.Named("snapshot_refresh"),
		metrics: metrics,
	}
}

// Refresh fetches the active subscription snapshot and installs it in the
// session, replacing the prior snapshot wholesale.
func (r *SnapshotRefresher) Refresh(ctx context.Context, trigger string) error {
	snapshot, err := r.api.GetActiveSubscription(ctx, r.session.OrganizationID())
	if err != nil {
		r.logger.Warn("snapshot refresh failed",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return err
	}
	r.session.ReplaceSnapshot(snapshot)
	if r.metrics != nil {
		r.metrics.RecordRefresh(trigger)
	}
	return nil
}

// HandleSubscriptionChanged reacts to a pushed subscription-changed event.
// Events for other organizations are ignored.
func (r *SnapshotRefresher) HandleSubscriptionChanged(ctx context.Context, organizationID string) {
	if organizationID != r.session.OrganizationID() {
		return
	}
	_ = r.Refresh(ctx, RefreshTriggerPush)
}
