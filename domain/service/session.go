package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/domain/entity"
)

// Session holds the per-login billing state for one viewed organization:
// the latest snapshot, the organization's gateway identifiers, and the
// once-per-session expiry dialog flag. Each logical session owns its own
// Session value; nothing here is process-global.
type Session struct {
	mu sync.Mutex

	organizationID string
	isAccountAdmin bool

	gatewayCustomerID     string
	gatewaySubscriptionID string

	snapshot          *entity.SubscriptionSnapshot
	expiryDialogShown bool

	logger *zap.Logger
}

// NewSession creates a Session for the given organization and viewer role.
func NewSession(organizationID string, isAccountAdmin bool, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		organizationID: organizationID,
		isAccountAdmin: isAccountAdmin,
		logger:         logger.Named("billing_session"),
	}
}

// OrganizationID returns the organization this session is viewing.
func (s *Session) OrganizationID() string { return s.organizationID }

// IsAccountAdmin reports whether the session's viewer is an account admin.
func (s *Session) IsAccountAdmin() bool { return s.isAccountAdmin }

// Snapshot returns the current snapshot, or nil before the first fetch.
func (s *Session) Snapshot() *entity.SubscriptionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// ReplaceSnapshot installs a freshly fetched snapshot, discarding the prior
// one wholesale. Partial merges are never performed, so readers can never
// observe a torn snapshot.
func (s *Session) ReplaceSnapshot(snapshot *entity.SubscriptionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	if snapshot != nil {
		if plan := snapshot.ActivePlan(); plan != nil && plan.GatewaySubscriptionID != "" {
			s.gatewaySubscriptionID = plan.GatewaySubscriptionID
		}
	}
}

// GatewayCustomerID returns the gateway customer id for the organization,
// or "" when no customer has been created yet.
func (s *Session) GatewayCustomerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gatewayCustomerID
}

// SetGatewayCustomerID records the organization's gateway customer id after
// first creation. Customer creation happens at most once per organization;
// later provisioning attempts reuse the stored id.
func (s *Session) SetGatewayCustomerID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gatewayCustomerID = id
}

// GatewaySubscriptionID returns the active gateway subscription id, or ""
// when the organization has never subscribed.
func (s *Session) GatewaySubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gatewaySubscriptionID
}

// SetGatewaySubscriptionID records the gateway subscription id after a
// successful subscription creation.
func (s *Session) SetGatewaySubscriptionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gatewaySubscriptionID = id
}

// MarkExpiryDialogShown flips the once-per-session dialog flag. It returns
// true on the first call and false afterwards, so the blocking expiry dialog
// is opened at most once until a new session begins.
func (s *Session) MarkExpiryDialogShown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiryDialogShown {
		return false
	}
	s.expiryDialogShown = true
	return true
}

// ExpiryDialogShown reports whether the blocking expiry dialog has already
// been shown in this session.
func (s *Session) ExpiryDialogShown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiryDialogShown
}
