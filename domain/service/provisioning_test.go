package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johncarlo20/growlink-sub002/domain/entity"
)

// ---------- test doubles ----------

type stubCardSource struct{ id string }

func (s stubCardSource) SourceID() string { return s.id }

// mockGateway records calls and returns configurable results.
type mockGateway struct {
	mu sync.Mutex

	TokenizeCalls  int
	ConfirmCalls   []string // client secrets, in order
	ConfirmMethods []string // payment method ids, in order

	TokenizeErr   error
	ConfirmErr    error
	ConfirmStatus IntentStatus

	// BlockTokenize, when set, makes Tokenize wait until released.
	BlockTokenize chan struct{}
	Entered       chan struct{}

	nextHandleSeq int
}

func (m *mockGateway) Tokenize(_ context.Context, _ CardSource, _ *entity.CustomerBillingProfile) (*entity.PaymentMethodHandle, error) {
	m.mu.Lock()
	m.TokenizeCalls++
	m.nextHandleSeq++
	seq := m.nextHandleSeq
	block := m.BlockTokenize
	entered := m.Entered
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if m.TokenizeErr != nil {
		return nil, m.TokenizeErr
	}
	id := "pm_mock_" + strconv.Itoa(seq)
	return entity.NewPaymentMethodHandle(id, entity.CardBrandVisa, "4242"), nil
}

func (m *mockGateway) ConfirmIntent(_ context.Context, clientSecret, paymentMethodID string) (IntentStatus, error) {
	m.mu.Lock()
	m.ConfirmCalls = append(m.ConfirmCalls, clientSecret)
	m.ConfirmMethods = append(m.ConfirmMethods, paymentMethodID)
	m.mu.Unlock()

	if m.ConfirmErr != nil {
		return "", m.ConfirmErr
	}
	if m.ConfirmStatus != "" {
		return m.ConfirmStatus, nil
	}
	return IntentStatusSucceeded, nil
}

// mockPortalAPI records calls and returns configurable results.
type mockPortalAPI struct {
	mu sync.Mutex

	CreateCustomerCalls int
	GetProfileCalls     int
	CreateSubCalls      int
	UpdateSubCalls      int
	GetActiveCalls      int
	LastPaymentMethodID string

	CreateCustomerErr error
	GetProfileErr     error
	CreateSubErr      error
	UpdateSubErr      error
	GetActiveErr      error

	CustomerID string
	SubResult  *SubscriptionResult
	Snapshot   *entity.SubscriptionSnapshot
	Profile    *entity.CustomerBillingProfile
}

func (m *mockPortalAPI) CreateCustomer(_ context.Context, _ string, _ *entity.CustomerBillingProfile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCustomerCalls++
	if m.CreateCustomerErr != nil {
		return "", m.CreateCustomerErr
	}
	if m.CustomerID == "" {
		return "cus_mock_1", nil
	}
	return m.CustomerID, nil
}

func (m *mockPortalAPI) GetBillingProfile(_ context.Context, _ string) (*entity.CustomerBillingProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetProfileCalls++
	if m.GetProfileErr != nil {
		return nil, m.GetProfileErr
	}
	if m.Profile != nil {
		return m.Profile, nil
	}
	return &entity.CustomerBillingProfile{Kind: entity.ProfileKindExisting, ContactName: "Stored Contact"}, nil
}

func (m *mockPortalAPI) CreateSubscription(_ context.Context, _, paymentMethodID string) (*SubscriptionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateSubCalls++
	m.LastPaymentMethodID = paymentMethodID
	if m.CreateSubErr != nil {
		return nil, m.CreateSubErr
	}
	return m.subResultLocked(), nil
}

func (m *mockPortalAPI) UpdateSubscription(_ context.Context, _, paymentMethodID string) (*SubscriptionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateSubCalls++
	m.LastPaymentMethodID = paymentMethodID
	if m.UpdateSubErr != nil {
		return nil, m.UpdateSubErr
	}
	return m.subResultLocked(), nil
}

func (m *mockPortalAPI) subResultLocked() *SubscriptionResult {
	if m.SubResult != nil {
		return m.SubResult
	}
	return &SubscriptionResult{SubscriptionID: "sub_mock_1"}
}

func (m *mockPortalAPI) GetActiveSubscription(_ context.Context, _ string) (*entity.SubscriptionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetActiveCalls++
	if m.GetActiveErr != nil {
		return nil, m.GetActiveErr
	}
	if m.Snapshot != nil {
		return m.Snapshot, nil
	}
	return &entity.SubscriptionSnapshot{}, nil
}

// mockEmitter collects lifecycle events.
type mockEmitter struct {
	mu     sync.Mutex
	Events []LifecycleEvent
	Err    error
}

func (m *mockEmitter) Emit(_ context.Context, event LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *mockEmitter) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		types = append(types, e.EventType)
	}
	return types
}

// mockJournal collects attempt records.
type mockJournal struct {
	mu      sync.Mutex
	Records []AttemptRecord
	Err     error
}

func (m *mockJournal) RecordAttempt(_ context.Context, rec AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Records = append(m.Records, rec)
	return nil
}

// ---------- fixtures ----------

func registrationProfile() *entity.CustomerBillingProfile {
	return &entity.CustomerBillingProfile{
		Kind:           entity.ProfileKindRegistration,
		ContactName:    "Jordan Reyes",
		ContactEmail:   "jordan@example.com",
		CardholderName: "Jordan Reyes",
		Address: entity.BillingAddress{
			Line1:      "1 Greenhouse Way",
			City:       "Boulder",
			PostalCode: "80301",
			Country:    "US",
		},
	}
}

type workflowFixture struct {
	session  *Session
	gateway  *mockGateway
	api      *mockPortalAPI
	emitter  *mockEmitter
	journal  *mockJournal
	workflow *ProvisioningWorkflow
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		session: NewSession("org-1", true, nil),
		gateway: &mockGateway{},
		api:     &mockPortalAPI{},
		emitter: &mockEmitter{},
		journal: &mockJournal{},
	}
	f.workflow = NewProvisioningWorkflow(f.session, WorkflowDeps{
		Clock:   fixedClock{enforcementNow},
		Gateway: f.gateway,
		API:     f.api,
		Journal: f.journal,
		Events:  f.emitter,
	})
	return f
}

func (f *workflowFixture) submit(t *testing.T) (*Result, error) {
	t.Helper()
	return f.workflow.Submit(context.Background(), stubCardSource{"card-el"}, registrationProfile())
}

// ---------- tests ----------

func TestSubmitCreatesCustomerOnce(t *testing.T) {
	f := newWorkflowFixture(t)

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 1, f.api.CreateCustomerCalls)
	assert.Equal(t, "cus_mock_1", f.session.GatewayCustomerID())
}

func TestSubmitSkipsCustomerCreationWhenIDKnown(t *testing.T) {
	f := newWorkflowFixture(t)
	f.session.SetGatewayCustomerID("cus_existing")
	f.session.SetGatewaySubscriptionID("sub_existing")

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Zero(t, f.api.CreateCustomerCalls, "customer creation must be skipped")
}

func TestSubmitCreateOrUpdateDispatch(t *testing.T) {
	t.Run("no existing subscription creates", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.submit(t)
		require.NoError(t, err)
		assert.Equal(t, 1, f.api.CreateSubCalls)
		assert.Zero(t, f.api.UpdateSubCalls)
		assert.Equal(t, "sub_mock_1", f.session.GatewaySubscriptionID())
		assert.Equal(t, "pm_mock_1", f.api.LastPaymentMethodID)
	})

	t.Run("existing subscription updates", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.session.SetGatewaySubscriptionID("sub_existing")
		_, err := f.submit(t)
		require.NoError(t, err)
		assert.Zero(t, f.api.CreateSubCalls)
		assert.Equal(t, 1, f.api.UpdateSubCalls)
	})
}

func TestSubmitExistingProfileFetchesBillingDetails(t *testing.T) {
	f := newWorkflowFixture(t)
	f.session.SetGatewayCustomerID("cus_existing")

	profile := registrationProfile()
	profile.Kind = entity.ProfileKindExisting
	_, err := f.workflow.Submit(context.Background(), stubCardSource{"card-el"}, profile)
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.GetProfileCalls)
}

func TestSubmitRegistrationSkipsProfileFetch(t *testing.T) {
	f := newWorkflowFixture(t)
	_, err := f.submit(t)
	require.NoError(t, err)
	assert.Zero(t, f.api.GetProfileCalls)
}

func TestSubmitRequiresActionConfirmsIntent(t *testing.T) {
	f := newWorkflowFixture(t)
	f.api.SubResult = &SubscriptionResult{
		SubscriptionID: "sub_3ds",
		LatestIntent: &PaymentIntent{
			ID:           "pi_1",
			Status:       IntentStatusRequiresAction,
			ClientSecret: "pi_1_secret_abc",
		},
	}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	require.Len(t, f.gateway.ConfirmCalls, 1)
	assert.Equal(t, "pi_1_secret_abc", f.gateway.ConfirmCalls[0])
	assert.NotEmpty(t, f.gateway.ConfirmMethods[0])
}

func TestSubmitDeclinedIsTerminal(t *testing.T) {
	f := newWorkflowFixture(t)
	f.api.SubResult = &SubscriptionResult{
		SubscriptionID: "sub_declined",
		LatestIntent:   &PaymentIntent{ID: "pi_1", Status: IntentStatusRequiresPaymentMethod},
	}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateFailedDeclined, result.State)
	assert.ErrorIs(t, result.Err, entity.ErrPaymentDeclined)
	assert.Zero(t, len(f.gateway.ConfirmCalls), "declines are never retried or confirmed")
	assert.False(t, f.workflow.Busy())
	assert.Contains(t, f.emitter.eventTypes(), EventProvisioningDeclined)
}

func TestSubmitConfirmFailureFails(t *testing.T) {
	f := newWorkflowFixture(t)
	f.api.SubResult = &SubscriptionResult{
		SubscriptionID: "sub_3ds",
		LatestIntent: &PaymentIntent{
			ID:           "pi_1",
			Status:       IntentStatusRequiresAction,
			ClientSecret: "pi_1_secret_abc",
		},
	}
	f.gateway.ConfirmErr = &entity.GatewayError{Code: "card_declined", Message: "authentication failed"}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	require.Error(t, result.Err)
}

func TestSubmitProcessingIntentIsDone(t *testing.T) {
	f := newWorkflowFixture(t)
	f.api.SubResult = &SubscriptionResult{
		SubscriptionID: "sub_proc",
		LatestIntent:   &PaymentIntent{ID: "pi_1", Status: IntentStatusProcessing},
	}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Zero(t, len(f.gateway.ConfirmCalls))
}

func TestSubmitTransportFailureAllowsResubmission(t *testing.T) {
	f := newWorkflowFixture(t)
	f.api.CreateSubErr = &entity.TransportError{Op: "POST /subscription", StatusCode: 502}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.False(t, f.workflow.Busy(), "busy must clear on failure")

	// Manual resubmission succeeds once the backend recovers.
	f.api.CreateSubErr = nil
	result, err = f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
}

func TestSubmitSingleFlight(t *testing.T) {
	f := newWorkflowFixture(t)
	f.session.SetGatewayCustomerID("cus_existing")
	f.gateway.BlockTokenize = make(chan struct{})
	f.gateway.Entered = make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.submit(t)
	}()

	<-f.gateway.Entered

	_, err := f.submit(t)
	assert.ErrorIs(t, err, entity.ErrWorkflowBusy)
	assert.Equal(t, 1, f.gateway.TokenizeCalls, "rejected submission must not reach the gateway")
	assert.Zero(t, f.api.CreateSubCalls, "rejected submission must not reach the backend")

	close(f.gateway.BlockTokenize)
	<-done

	// After the first attempt settles, submission is possible again.
	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
}

func TestSubmitDisposedDiscardsLateResult(t *testing.T) {
	f := newWorkflowFixture(t)
	f.session.SetGatewayCustomerID("cus_existing")
	f.gateway.BlockTokenize = make(chan struct{})
	f.gateway.Entered = make(chan struct{}, 1)

	results := make(chan error, 1)
	go func() {
		_, err := f.submit(t)
		results <- err
	}()

	<-f.gateway.Entered
	f.workflow.Dispose()
	close(f.gateway.BlockTokenize)

	err := <-results
	assert.ErrorIs(t, err, entity.ErrWorkflowDisposed)
	assert.Zero(t, f.api.CreateSubCalls, "no step may run after disposal")
	assert.Empty(t, f.session.GatewaySubscriptionID())
	assert.Empty(t, f.journal.Records, "discarded attempts are not journaled as terminal")
}

func TestSubmitOnDisposedWorkflowRejected(t *testing.T) {
	f := newWorkflowFixture(t)
	f.workflow.Dispose()
	_, err := f.submit(t)
	assert.ErrorIs(t, err, entity.ErrWorkflowDisposed)
	assert.Zero(t, f.gateway.TokenizeCalls)
}

func TestSubmitRefreshesSnapshotOnSuccess(t *testing.T) {
	f := newWorkflowFixture(t)
	due := enforcementNow.Add(30 * 24 * time.Hour)
	f.api.Snapshot = &entity.SubscriptionSnapshot{
		NextBillingDate: &due,
		ActiveSubscriptions: []entity.PlanSubscription{
			{PlanKey: "pro", GatewaySubscriptionID: "sub_mock_1"},
		},
	}

	_, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, 1, f.api.GetActiveCalls)
	require.NotNil(t, f.session.Snapshot())
	assert.Equal(t, due, *f.session.Snapshot().NextBillingDate)
}

func TestSubmitNoRefreshOnFailure(t *testing.T) {
	f := newWorkflowFixture(t)
	f.gateway.TokenizeErr = &entity.GatewayError{Code: "invalid_number", Message: "card number is incorrect"}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Zero(t, f.api.GetActiveCalls)
	assert.Nil(t, f.session.Snapshot())
}

func TestSubmitEmitsLifecycleEventsAndJournal(t *testing.T) {
	f := newWorkflowFixture(t)

	result, err := f.submit(t)
	require.NoError(t, err)

	types := f.emitter.eventTypes()
	assert.Equal(t, []string{EventProvisioningStarted, EventProvisioningSucceeded}, types)

	require.Len(t, f.journal.Records, 1)
	rec := f.journal.Records[0]
	assert.Equal(t, result.AuditTrailID, rec.ID)
	assert.Equal(t, "org-1", rec.OrganizationID)
	assert.Equal(t, StateDone, rec.FinalState)
	assert.Empty(t, rec.ErrorClass)
}

func TestSubmitJournalFailureDoesNotFailWorkflow(t *testing.T) {
	f := newWorkflowFixture(t)
	f.journal.Err = assert.AnError
	f.emitter.Err = assert.AnError

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
}

func TestSubmitValidationErrorClass(t *testing.T) {
	f := newWorkflowFixture(t)
	f.api.CreateSubErr = &entity.ValidationError{Fields: map[string][]string{
		"address_zip": {"invalid"},
	}}

	result, err := f.submit(t)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)

	var verr *entity.ValidationError
	assert.ErrorAs(t, result.Err, &verr)

	require.Len(t, f.journal.Records, 1)
	assert.Equal(t, "validation", f.journal.Records[0].ErrorClass)
}

func TestSubmitRejectsMissingInput(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.workflow.Submit(context.Background(), nil, registrationProfile())
	assert.ErrorIs(t, err, entity.ErrMissingCardInput)

	_, err = f.workflow.Submit(context.Background(), stubCardSource{"card-el"}, nil)
	assert.ErrorIs(t, err, entity.ErrMissingProfile)
}
