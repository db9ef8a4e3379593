package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint; used against stripe-mock and in tests.
	BaseURL string
	Timeout time.Duration
}

type StripeProcessor struct {
	api           *client.API
	webhookSecret string
}

func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	bc := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}
	return &StripeProcessor{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (p *StripeProcessor) CreateIntent(ctx context.Context, in IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountMinor),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProcessor) RetrieveIntent(ctx context.Context, ref string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return nil, classify(err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProcessor) ParseEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: EventIgnored}
	switch string(ev.Type) {
	case "payment_intent.succeeded":
		out.Type = EventSucceeded
	case "payment_intent.payment_failed":
		out.Type = EventFailed
	default:
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	out.Intent = *fromStripe(&pi)
	return out, nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	in := &Intent{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Metadata:     pi.Metadata,
		Status:       IntentPending,
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		in.Status = IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		in.Status = IntentFailed
	}
	return in
}

// classify maps transport failures and 5xx answers to the retryable
// processor error. Anything else is a request the caller must fix.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", reservations.ErrProcessorUnavailable, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %v", reservations.ErrProcessorUnavailable, err)
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == 0 || se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", reservations.ErrProcessorUnavailable, err)
		}
		return fmt.Errorf("stripe: %w", err)
	}
	return fmt.Errorf("%w: %v", reservations.ErrProcessorUnavailable, err)
}
