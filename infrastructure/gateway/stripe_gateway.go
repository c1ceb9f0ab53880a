package gateway

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/paymentmethod"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/johncarlo20/growlink-sub002/config"
	"github.com/johncarlo20/growlink-sub002/domain/entity"
	"github.com/johncarlo20/growlink-sub002/domain/service"
)

// StripeGateway implements service.PaymentGateway on top of the Stripe API:
// it mounts card input sessions, tokenizes card details into single-use
// payment method handles, and confirms payment intents that require action.
type StripeGateway struct {
	logger      *zap.Logger
	auditLogger *zap.Logger
	limiter     *rate.Limiter
}

// NewStripeGateway configures the Stripe SDK and returns a gateway adapter.
func NewStripeGateway(logger *zap.Logger, cfg *config.StripeConfig) *StripeGateway {
	stripe.Key = cfg.SecretKey

	if logger == nil {
		logger = zap.NewNop()
	}
	rpm := cfg.MaxRequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}

	return &StripeGateway{
		logger: logger.Named("stripe_gateway"),
		auditLogger: logger.Named("audit").With(
			zap.String("service", "stripe_gateway"),
		),
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
}

// MountCardInput creates a card input session bound to the given container.
// Postal code collection is excluded from the session by construction; the
// surrounding form pushes it through UpdatePostalCode.
func (g *StripeGateway) MountCardInput(containerID string) *CardInputSession {
	g.logger.Debug("card input mounted", zap.String("container_id", containerID))
	return newCardInputSession(containerID)
}

// Tokenize converts the session's card input plus billing details into a
// single-use payment method handle. It suspends until the gateway responds;
// no timeout is imposed here beyond the caller's context.
func (g *StripeGateway) Tokenize(ctx context.Context, card service.CardSource, profile *entity.CustomerBillingProfile) (*entity.PaymentMethodHandle, error) {
	session, ok := card.(*CardInputSession)
	if !ok {
		return nil, fmt.Errorf("unsupported card source %T", card)
	}

	fields, postalCode, closed := session.snapshotFields()
	if closed {
		return nil, entity.ErrGatewayUnavailable
	}
	if change := validateCard(fields); !change.Valid {
		return nil, &entity.GatewayError{Code: "invalid_card_input", Message: change.ErrorMessage}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway rate limit: %w", err)
	}

	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(fields.Number),
			ExpMonth: stripe.Int64(int64(fields.ExpMonth)),
			ExpYear:  stripe.Int64(int64(fields.ExpYear)),
			CVC:      stripe.String(fields.CVC),
		},
		BillingDetails: billingDetailsParams(profile, postalCode),
	}
	params.Context = ctx

	pm, err := paymentmethod.New(params)
	if err != nil {
		return nil, g.translateError("tokenize", err)
	}

	brand := entity.CardBrandUnknown
	last4 := ""
	if pm.Card != nil {
		brand = entity.CardBrand(pm.Card.Brand)
		last4 = pm.Card.Last4
	}

	g.auditLogger.Info("payment method tokenized",
		zap.String("payment_method_id", pm.ID),
		zap.String("card_brand", string(brand)),
		zap.String("card_last4", last4),
	)

	return entity.NewPaymentMethodHandle(pm.ID, brand, last4), nil
}

// ConfirmIntent drives 3-D-Secure-style confirmation of a payment intent
// the backend reported as requiring action.
func (g *StripeGateway) ConfirmIntent(ctx context.Context, clientSecret, paymentMethodID string) (service.IntentStatus, error) {
	intentID, err := intentIDFromClientSecret(clientSecret)
	if err != nil {
		return "", err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("gateway rate limit: %w", err)
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	params.Context = ctx

	pi, err := paymentintent.Confirm(intentID, params)
	if err != nil {
		return "", g.translateError("confirm_intent", err)
	}

	g.auditLogger.Info("payment intent confirmed",
		zap.String("intent_id", pi.ID),
		zap.String("status", string(pi.Status)),
	)
	return service.IntentStatus(pi.Status), nil
}

func billingDetailsParams(profile *entity.CustomerBillingProfile, postalCode string) *stripe.PaymentMethodBillingDetailsParams {
	if profile == nil {
		return nil
	}
	if postalCode == "" {
		postalCode = profile.Address.PostalCode
	}
	details := &stripe.PaymentMethodBillingDetailsParams{
		Name:  stripe.String(profile.CardholderName),
		Email: stripe.String(profile.ContactEmail),
		Address: &stripe.AddressParams{
			Line1:      stripe.String(profile.Address.Line1),
			City:       stripe.String(profile.Address.City),
			PostalCode: stripe.String(postalCode),
			Country:    stripe.String(profile.Address.Country),
		},
	}
	if profile.Address.Line2 != nil {
		details.Address.Line2 = stripe.String(*profile.Address.Line2)
	}
	if profile.Address.State != nil {
		details.Address.State = stripe.String(*profile.Address.State)
	}
	if profile.ContactPhone != nil {
		details.Phone = stripe.String(*profile.ContactPhone)
	}
	return details
}

// intentIDFromClientSecret extracts the intent id from a client secret of
// the form "pi_XXX_secret_YYY".
func intentIDFromClientSecret(clientSecret string) (string, error) {
	id, _, found := strings.Cut(clientSecret, "_secret")
	if !found || id == "" {
		return "", fmt.Errorf("malformed client secret")
	}
	return id, nil
}

// translateError converts Stripe SDK errors into the gateway error taxonomy.
func (g *StripeGateway) translateError(op string, err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		gerr := &entity.GatewayError{
			Code:        string(stripeErr.Code),
			DeclineCode: string(stripeErr.DeclineCode),
			Message:     stripeErr.Msg,
		}
		switch stripeErr.Code {
		case stripe.ErrorCodeCardDeclined:
			gerr.Err = entity.ErrPaymentDeclined
		case stripe.ErrorCodeExpiredCard:
			gerr.Err = entity.ErrCardExpired
		default:
			g.logger.Error("stripe API error",
				zap.String("op", op),
				zap.String("code", string(stripeErr.Code)),
				zap.String("type", string(stripeErr.Type)),
			)
			gerr.Err = entity.ErrPaymentFailed
		}
		return gerr
	}
	return &entity.TransportError{Op: op, Err: err}
}
