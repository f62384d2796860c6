package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/outbound"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// Config holds Stripe configuration.
type Config struct {
	APIKey            string
	WebhookSecret     string
	ProPriceID        string
	EnterprisePriceID string
	SuccessURL        string
	CancelURL         string

	// HTTPClient replaces the client used for API calls when set.
	HTTPClient *http.Client

	// Circuit breaker
	MaxFailures  uint32
	OpenTimeout  time.Duration
	CountsWindow time.Duration
}

// Provider implements outbound.PaymentProviderPort for Stripe.
type Provider struct {
	config  Config
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// NewProvider creates a new Stripe provider.
func NewProvider(config Config, logger *zap.Logger) *Provider {
	if config.APIKey != "" {
		stripe.Key = config.APIKey
	}
	if config.HTTPClient != nil {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient: config.HTTPClient,
		}))
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.CountsWindow == 0 {
		config.CountsWindow = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    config.CountsWindow,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment provider circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Provider{
		config:  config,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() model.PaymentProvider {
	return model.PaymentProviderStripe
}

// --- Webhooks ---

func (p *Provider) ParseWebhook(payload []byte, signature string) (*model.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrInvalidSignature, err)
	}
	return p.normalize(event, payload)
}

func (p *Provider) normalize(event stripe.Event, payload []byte) (*model.PaymentEvent, error) {
	out := &model.PaymentEvent{
		Provider:  model.PaymentProviderStripe,
		EventID:   event.ID,
		RawType:   string(event.Type),
		Type:      model.PaymentEventIgnored,
		Payload:   payload,
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", outbound.ErrMalformedEvent, err)
		}
		out.Type = model.PaymentEventCheckoutCompleted
		out.SessionID = sess.ID
		out.UserID = sess.Metadata[model.MetadataUserID]
		out.Status = checkoutStatus(sess.PaymentStatus)
		if tier, ok := model.ParseTier(sess.Metadata[model.MetadataTier]); ok {
			out.Tier = tier
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", outbound.ErrMalformedEvent, err)
		}
		switch event.Type {
		case stripe.EventTypeCustomerSubscriptionCreated:
			out.Type = model.PaymentEventSubscriptionCreated
		case stripe.EventTypeCustomerSubscriptionUpdated:
			out.Type = model.PaymentEventSubscriptionUpdated
		default:
			out.Type = model.PaymentEventSubscriptionDeleted
		}
		p.applySubscription(out, &sub)
	}

	return out, nil
}

// checkoutStatus maps a completed session's payment status. Async payment
// methods complete the session before the funds clear.
func checkoutStatus(status stripe.CheckoutSessionPaymentStatus) model.SubscriptionStatus {
	switch status {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return model.SubscriptionStatusActive
	}
	return model.SubscriptionStatusIncomplete
}

func (p *Provider) applySubscription(out *model.PaymentEvent, sub *stripe.Subscription) {
	out.SubscriptionID = sub.ID
	out.UserID = sub.Metadata[model.MetadataUserID]
	out.Status = model.SubscriptionStatus(sub.Status)
	out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		out.PriceID = price.ID
		if price.Recurring != nil {
			out.BillingCycle = model.BillingCycleFromInterval(string(price.Recurring.Interval))
		}
	}
	out.Tier = p.TierForPrice(out.PriceID)
	if out.Tier == model.TierFree {
		// Fall back to the tier stamped at checkout when the price is unknown.
		if tier, ok := model.ParseTier(sub.Metadata[model.MetadataTier]); ok {
			out.Tier = tier
		}
	}
}

// TierForPrice maps a price identifier to a tier; unknown prices map to FREE.
func (p *Provider) TierForPrice(priceID string) model.Tier {
	switch {
	case priceID == "":
		return model.TierFree
	case priceID == p.config.ProPriceID:
		return model.TierPro
	case priceID == p.config.EnterprisePriceID:
		return model.TierEnterprise
	default:
		return model.TierFree
	}
}

// PriceForTier returns the configured price for a paid tier.
func (p *Provider) PriceForTier(tier model.Tier) (string, error) {
	var priceID string
	switch tier {
	case model.TierPro:
		priceID = p.config.ProPriceID
	case model.TierEnterprise:
		priceID = p.config.EnterprisePriceID
	}
	if priceID == "" {
		return "", fmt.Errorf("%w: %s", outbound.ErrNoPriceForTier, tier)
	}
	return priceID, nil
}

// --- Checkout ---

func (p *Provider) CreateCheckoutSession(ctx context.Context, params *model.CheckoutParams) (*model.ProviderCheckoutSession, error) {
	priceID, err := p.PriceForTier(params.Tier)
	if err != nil {
		return nil, err
	}

	successURL := params.SuccessURL
	if successURL == "" {
		successURL = p.config.SuccessURL
	}
	cancelURL := params.CancelURL
	if cancelURL == "" {
		cancelURL = p.config.CancelURL
	}

	metadata := map[string]string{
		model.MetadataUserID: params.UserID,
		model.MetadataTier:   params.Tier.String(),
	}
	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if params.Email != "" {
		sp.CustomerEmail = stripe.String(params.Email)
	}
	for k, v := range metadata {
		sp.AddMetadata(k, v)
	}
	sp.Context = ctx

	res, err := p.breaker.Execute(func() (any, error) {
		return session.New(sp)
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return mapCheckoutSession(res.(*stripe.CheckoutSession)), nil
}

func (p *Provider) GetCheckoutSession(ctx context.Context, sessionID string) (*model.ProviderCheckoutSession, error) {
	sp := &stripe.CheckoutSessionParams{}
	sp.Context = ctx

	res, err := p.breaker.Execute(func() (any, error) {
		return session.Get(sessionID, sp)
	})
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return mapCheckoutSession(res.(*stripe.CheckoutSession)), nil
}

// --- Subscriptions ---

func (p *Provider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	sp := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	sp.Context = ctx

	_, err := p.breaker.Execute(func() (any, error) {
		return subscription.Update(subscriptionID, sp)
	})
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// --- Helpers ---

func mapCheckoutSession(s *stripe.CheckoutSession) *model.ProviderCheckoutSession {
	out := &model.ProviderCheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

// Compile-time check
var _ outbound.PaymentProviderPort = (*Provider)(nil)
