package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/domain/entity"
)

// IntentStatus is a payment intent status as reported by the gateway or
// relayed by the portal backend.
type IntentStatus string

const (
	IntentStatusSucceeded             IntentStatus = "succeeded"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
)

// PaymentIntent is the slice of a gateway payment intent the workflow cares
// about: enough to decide whether confirmation is needed and to drive it.
type PaymentIntent struct {
	ID           string       `json:"id"`
	Status       IntentStatus `json:"status"`
	ClientSecret string       `json:"client_secret,omitempty"`
}

// SubscriptionResult is the backend's answer to a create- or
// update-subscription call.
type SubscriptionResult struct {
	SubscriptionID string         `json:"subscription_id"`
	LatestIntent   *PaymentIntent `json:"latest_intent,omitempty"`
}

// CardSource is an opaque reference to mounted card input. The gateway
// adapter produces concrete values; the workflow only passes them through.
type CardSource interface {
	SourceID() string
}

// PaymentGateway abstracts the payment gateway SDK: card tokenization and
// payment intent confirmation.
type PaymentGateway interface {
	Tokenize(ctx context.Context, card CardSource, profile *entity.CustomerBillingProfile) (*entity.PaymentMethodHandle, error)
	ConfirmIntent(ctx context.Context, clientSecret, paymentMethodID string) (IntentStatus, error)
}

// PortalBillingAPI is the portal backend's billing contract consumed by the
// workflow.
type PortalBillingAPI interface {
	CreateCustomer(ctx context.Context, orgID string, profile *entity.CustomerBillingProfile) (customerID string, err error)
	GetBillingProfile(ctx context.Context, orgID string) (*entity.CustomerBillingProfile, error)
	CreateSubscription(ctx context.Context, orgID, paymentMethodID string) (*SubscriptionResult, error)
	UpdateSubscription(ctx context.Context, orgID, paymentMethodID string) (*SubscriptionResult, error)
	GetActiveSubscription(ctx context.Context, orgID string) (*entity.SubscriptionSnapshot, error)
}

// WorkflowState enumerates the provisioning state machine. Transitions are
// linear with branches and never move backwards within one attempt.
type WorkflowState string

const (
	StateIdle                   WorkflowState = "idle"
	StateCollectingCustomer     WorkflowState = "collecting_customer"
	StateFetchingBillingDetails WorkflowState = "fetching_billing_details"
	StateTokenizingCard         WorkflowState = "tokenizing_card"
	StateSubmittingSubscription WorkflowState = "submitting_subscription"
	StateConfirmingIntent       WorkflowState = "confirming_intent"
	StateDone                   WorkflowState = "done"
	StateFailed                 WorkflowState = "failed"
	StateFailedDeclined         WorkflowState = "failed_declined"
)

// Result is the terminal outcome of one provisioning attempt.
type Result struct {
	State          WorkflowState
	SubscriptionID string
	AuditTrailID   string
	Err            error
}

// AttemptRecord is the journal row written for each provisioning attempt.
type AttemptRecord struct {
	ID             string        `db:"id"`
	OrganizationID string        `db:"organization_id"`
	FinalState     WorkflowState `db:"final_state"`
	ErrorClass     string        `db:"error_class"`
	StartedAt      time.Time     `db:"started_at"`
	Duration       time.Duration `db:"duration"`
}

// AttemptJournal persists provisioning attempts. Best-effort: failures are
// logged and never fail the workflow.
type AttemptJournal interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
}

// Lifecycle event types emitted at workflow boundaries.
const (
	EventProvisioningStarted   = "provisioning_started"
	EventProvisioningSucceeded = "provisioning_succeeded"
	EventProvisioningDeclined  = "provisioning_declined"
	EventProvisioningFailed    = "provisioning_failed"
)

// LifecycleEvent is published on workflow terminal states so downstream
// consumers (alerting, analytics) can react to subscription changes.
type LifecycleEvent struct {
	OrganizationID string            `json:"organization_id"`
	EventType      string            `json:"event_type"`
	AuditTrailID   string            `json:"audit_trail_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Data           map[string]string `json:"data,omitempty"`
}

// LifecycleEmitter publishes lifecycle events. Best-effort, like the journal.
type LifecycleEmitter interface {
	Emit(ctx context.Context, event LifecycleEvent) error
}

// WorkflowMetrics records step timings and attempt outcomes. A nil value
// disables recording.
type WorkflowMetrics interface {
	ObserveStep(step string, d time.Duration)
	RecordOutcome(outcome string)
}

// ProvisioningWorkflow sequences customer creation, card tokenization,
// subscription submission, and intent confirmation for one session. One
// workflow instance serves one hosting dialog; dispose it when the dialog
// closes so late responses are discarded.
type ProvisioningWorkflow struct {
	logger      *zap.Logger
	auditLogger *zap.Logger
	clock       Clock

	gateway PaymentGateway
	api     PortalBillingAPI
	journal AttemptJournal
	events  LifecycleEmitter
	metrics WorkflowMetrics

	session *Session

	busy     atomic.Bool
	disposed atomic.Bool

	mu    sync.Mutex
	state WorkflowState
}

// WorkflowDeps bundles the collaborators a workflow needs. Journal, events,
// and metrics are optional.
type WorkflowDeps struct {
	Logger  *zap.Logger
	Clock   Clock
	Gateway PaymentGateway
	API     PortalBillingAPI
	Journal AttemptJournal
	Events  LifecycleEmitter
	Metrics WorkflowMetrics
}

// NewProvisioningWorkflow creates a workflow bound to the given session.
func NewProvisioningWorkflow(session *Session, deps WorkflowDeps) *ProvisioningWorkflow {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &ProvisioningWorkflow{
		logger: logger.Named("provisioning"),
		auditLogger: logger.Named("audit").With(
			zap.String("service", "subscription_provisioning"),
			zap.String("organization_id", session.OrganizationID()),
		),
		clock:   clock,
		gateway: deps.Gateway,
		api:     deps.API,
		journal: deps.Journal,
		events:  deps.Events,
		metrics: deps.Metrics,
		session: session,
		state:   StateIdle,
	}
}

// State returns the workflow's current state for observation by the UI.
func (w *ProvisioningWorkflow) State() WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Busy reports whether an attempt is in flight. The caller must disable
// submission controls while true.
func (w *ProvisioningWorkflow) Busy() bool { return w.busy.Load() }

// Dispose tears the workflow down. In-flight requests are not cancelled, but
// their results are discarded: no session state is mutated after disposal.
func (w *ProvisioningWorkflow) Dispose() {
	w.disposed.Store(true)
}

func (w *ProvisioningWorkflow) setState(s WorkflowState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Submit runs one provisioning attempt end to end. Concurrent calls while an
// attempt is in flight are rejected with entity.ErrWorkflowBusy before any
// network call is made. Steps run strictly in sequence; any failure is
// terminal for the attempt and the user must resubmit manually.
func (w *ProvisioningWorkflow) Submit(ctx context.Context, card CardSource, profile *entity.CustomerBillingProfile) (*Result, error) {
	if w.disposed.Load() {
		return nil, entity.ErrWorkflowDisposed
	}
	if card == nil {
		return nil, entity.ErrMissingCardInput
	}
	if profile == nil {
		return nil, entity.ErrMissingProfile
	}
	if !w.busy.CompareAndSwap(false, true) {
		return nil, entity.ErrWorkflowBusy
	}
	defer w.busy.Store(false)

	auditTrailID := uuid.New().String()
	startedAt := w.clock.Now()

	w.auditLogger.Info("provisioning attempt started",
		zap.String("audit_trail_id", auditTrailID),
		zap.String("profile_kind", string(profile.Kind)),
	)
	w.emit(ctx, EventProvisioningStarted, auditTrailID, nil)

	result := w.run(ctx, card, profile, auditTrailID)

	if w.disposed.Load() {
		// The hosting dialog is gone; drop the late result on the floor.
		w.logger.Debug("discarding result of disposed workflow",
			zap.String("audit_trail_id", auditTrailID),
		)
		return nil, entity.ErrWorkflowDisposed
	}

	w.setState(result.State)
	w.finish(ctx, result, startedAt)

	if result.State == StateDone {
		w.refreshSnapshot(ctx)
	}
	return result, nil
}

// run executes the state machine for one attempt and returns its terminal
// result. It never touches the session after a step fails.
func (w *ProvisioningWorkflow) run(ctx context.Context, card CardSource, profile *entity.CustomerBillingProfile, auditTrailID string) *Result {
	orgID := w.session.OrganizationID()

	// Customer creation happens at most once per organization.
	if w.session.GatewayCustomerID() == "" {
		w.setState(StateCollectingCustomer)
		customerID, err := timedStep(w, "create_customer", func() (string, error) {
			return w.api.CreateCustomer(ctx, orgID, profile)
		})
		if err != nil {
			return w.fail(auditTrailID, "create_customer", err)
		}
		if w.disposed.Load() {
			return &Result{State: StateFailed, AuditTrailID: auditTrailID, Err: entity.ErrWorkflowDisposed}
		}
		w.session.SetGatewayCustomerID(customerID)
	}

	// For an existing organization the backend owns the contact details;
	// a fresh registration supplies its own.
	details := profile
	if profile.Kind == entity.ProfileKindExisting {
		w.setState(StateFetchingBillingDetails)
		fetched, err := timedStep(w, "fetch_billing_details", func() (*entity.CustomerBillingProfile, error) {
			return w.api.GetBillingProfile(ctx, orgID)
		})
		if err != nil {
			return w.fail(auditTrailID, "fetch_billing_details", err)
		}
		details = mergeProfiles(fetched, profile)
	}

	w.setState(StateTokenizingCard)
	handle, err := timedStep(w, "tokenize_card", func() (*entity.PaymentMethodHandle, error) {
		return w.gateway.Tokenize(ctx, card, details)
	})
	if err != nil {
		return w.fail(auditTrailID, "tokenize_card", err)
	}
	if w.disposed.Load() {
		// The dialog closed while tokenization was in flight; the handle is
		// session-bound and must not be submitted anywhere.
		return &Result{State: StateFailed, AuditTrailID: auditTrailID, Err: entity.ErrWorkflowDisposed}
	}
	if err := handle.Consume(); err != nil {
		return w.fail(auditTrailID, "tokenize_card", err)
	}

	w.auditLogger.Info("card tokenized",
		zap.String("audit_trail_id", auditTrailID),
		zap.String("card_brand", string(handle.CardBrand)),
		zap.String("card_last4", handle.CardLast4),
	)

	// Create-or-update dispatch: decided by whether the organization already
	// has a gateway subscription, never by user choice.
	w.setState(StateSubmittingSubscription)
	var subResult *SubscriptionResult
	if w.session.GatewaySubscriptionID() == "" {
		subResult, err = timedStep(w, "create_subscription", func() (*SubscriptionResult, error) {
			return w.api.CreateSubscription(ctx, orgID, handle.ID)
		})
	} else {
		subResult, err = timedStep(w, "update_subscription", func() (*SubscriptionResult, error) {
			return w.api.UpdateSubscription(ctx, orgID, handle.ID)
		})
	}
	if err != nil {
		return w.fail(auditTrailID, "submit_subscription", err)
	}
	if w.disposed.Load() {
		return &Result{State: StateFailed, AuditTrailID: auditTrailID, Err: entity.ErrWorkflowDisposed}
	}
	if subResult.SubscriptionID != "" {
		w.session.SetGatewaySubscriptionID(subResult.SubscriptionID)
	}

	return w.interpretIntent(ctx, subResult, handle, auditTrailID)
}

// interpretIntent maps the backend's payment intent status onto the terminal
// branches of the state machine.
func (w *ProvisioningWorkflow) interpretIntent(ctx context.Context, subResult *SubscriptionResult, handle *entity.PaymentMethodHandle, auditTrailID string) *Result {
	done := &Result{
		State:          StateDone,
		SubscriptionID: subResult.SubscriptionID,
		AuditTrailID:   auditTrailID,
	}

	intent := subResult.LatestIntent
	if intent == nil {
		return done
	}

	switch intent.Status {
	case IntentStatusSucceeded, IntentStatusProcessing:
		return done

	case IntentStatusRequiresPaymentMethod:
		// Terminal decline; never retried automatically.
		w.auditLogger.Warn("payment declined",
			zap.String("audit_trail_id", auditTrailID),
			zap.String("intent_id", intent.ID),
		)
		return &Result{
			State:          StateFailedDeclined,
			SubscriptionID: subResult.SubscriptionID,
			AuditTrailID:   auditTrailID,
			Err:            entity.ErrPaymentDeclined,
		}

	case IntentStatusRequiresAction:
		w.setState(StateConfirmingIntent)
		status, err := timedStep(w, "confirm_intent", func() (IntentStatus, error) {
			return w.gateway.ConfirmIntent(ctx, intent.ClientSecret, handle.ID)
		})
		if err != nil {
			return w.fail(auditTrailID, "confirm_intent", err)
		}
		if status == IntentStatusSucceeded || status == IntentStatusProcessing {
			return done
		}
		return w.fail(auditTrailID, "confirm_intent",
			fmt.Errorf("intent not settled after confirmation: %s: %w", status, entity.ErrPaymentFailed))

	default:
		return w.fail(auditTrailID, "submit_subscription",
			fmt.Errorf("unexpected intent status %q: %w", intent.Status, entity.ErrPaymentFailed))
	}
}

func (w *ProvisioningWorkflow) fail(auditTrailID, step string, err error) *Result {
	w.auditLogger.Error("provisioning step failed",
		zap.String("audit_trail_id", auditTrailID),
		zap.String("step", step),
		zap.Error(err),
	)
	return &Result{State: StateFailed, AuditTrailID: auditTrailID, Err: fmt.Errorf("%s: %w", step, err)}
}

// finish emits the terminal lifecycle event, journal record, and metrics.
func (w *ProvisioningWorkflow) finish(ctx context.Context, result *Result, startedAt time.Time) {
	duration := w.clock.Now().Sub(startedAt)

	eventType := EventProvisioningSucceeded
	switch result.State {
	case StateFailedDeclined:
		eventType = EventProvisioningDeclined
	case StateFailed:
		eventType = EventProvisioningFailed
	}

	data := map[string]string{"final_state": string(result.State)}
	if result.SubscriptionID != "" {
		data["subscription_id"] = result.SubscriptionID
	}
	w.emit(ctx, eventType, result.AuditTrailID, data)

	if w.metrics != nil {
		w.metrics.RecordOutcome(string(result.State))
	}

	if w.journal != nil {
		rec := AttemptRecord{
			ID:             result.AuditTrailID,
			OrganizationID: w.session.OrganizationID(),
			FinalState:     result.State,
			ErrorClass:     classifyError(result.Err),
			StartedAt:      startedAt,
			Duration:       duration,
		}
		if err := w.journal.RecordAttempt(ctx, rec); err != nil {
			w.logger.Warn("attempt journal write failed", zap.Error(err))
		}
	}

	w.auditLogger.Info("provisioning attempt finished",
		zap.String("audit_trail_id", result.AuditTrailID),
		zap.String("final_state", string(result.State)),
		zap.Duration("duration", duration),
	)
}

// refreshSnapshot replaces the session snapshot after a successful attempt.
// The attempt has already succeeded, so a refresh failure is only logged.
func (w *ProvisioningWorkflow) refreshSnapshot(ctx context.Context) {
	snapshot, err := w.api.GetActiveSubscription(ctx, w.session.OrganizationID())
	if err != nil {
		w.logger.Warn("snapshot refresh after provisioning failed", zap.Error(err))
		return
	}
	if w.disposed.Load() {
		return
	}
	w.session.ReplaceSnapshot(snapshot)
}

func (w *ProvisioningWorkflow) emit(ctx context.Context, eventType, auditTrailID string, data map[string]string) {
	if w.events == nil {
		return
	}
	event := LifecycleEvent{
		OrganizationID: w.session.OrganizationID(),
		EventType:      eventType,
		AuditTrailID:   auditTrailID,
		Timestamp:      w.clock.Now(),
		Data:           data,
	}
	if err := w.events.Emit(ctx, event); err != nil {
		w.logger.Warn("lifecycle event publish failed",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// timedStep runs one workflow step and feeds its duration to the metrics
// recorder.
func timedStep[T any](w *ProvisioningWorkflow, step string, fn func() (T, error)) (T, error) {
	start := w.clock.Now()
	v, err := fn()
	if w.metrics != nil {
		w.metrics.ObserveStep(step, w.clock.Now().Sub(start))
	}
	return v, err
}

// classifyError buckets a terminal error for the journal.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	var verr *entity.ValidationError
	var gerr *entity.GatewayError
	var terr *entity.TransportError
	switch {
	case errors.Is(err, entity.ErrPaymentDeclined):
		return "declined"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &gerr):
		return "gateway"
	case errors.As(err, &terr):
		return "transport"
	default:
		return "internal"
	}
}

// mergeProfiles overlays the dialog's cardholder fields onto the profile the
// backend has on record, so tokenization carries the freshest card details
// while contact data stays authoritative on the backend side.
func mergeProfiles(base, overlay *entity.CustomerBillingProfile) *entity.CustomerBillingProfile {
	if base == nil {
		return overlay
	}
	merged := *base
	merged.Kind = entity.ProfileKindExisting
	if overlay.CardholderName != "" {
		merged.CardholderName = overlay.CardholderName
	}
	if overlay.Address.PostalCode != "" {
		merged.Address.PostalCode = overlay.Address.PostalCode
	}
	return &merged
}
