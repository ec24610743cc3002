package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/fjod/go_pay/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type HTTPProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider talks to a Stripe-style REST API. Every call goes through a circuit breaker;
// card declines do not count as breaker failures.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	intents *circuitbreaker.Breaker[*domain.Intent]
	methods *circuitbreaker.Breaker[*Card]
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Name == "" {
		cfg.Name = "stripe"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	healthy := func(err error) bool {
		return err == nil || isDecline(err) || errors.Is(err, domain.ErrValidation)
	}
	return &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		intents: circuitbreaker.New[*domain.Intent](circuitbreaker.Settings{
			Name:         cfg.Name + "-intents",
			MaxFailures:  5,
			OpenTimeout:  30 * time.Second,
			IsSuccessful: healthy,
		}),
		methods: circuitbreaker.New[*Card](circuitbreaker.Settings{
			Name:         cfg.Name + "-methods",
			MaxFailures:  5,
			OpenTimeout:  30 * time.Second,
			IsSuccessful: healthy,
		}),
	}
}

func (p *HTTPProvider) Name() string {
	return p.cfg.Name
}

type intentBody struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Confirm       bool              `json:"confirm"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type cardResponse struct {
	ID   string `json:"id"`
	Card struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *HTTPProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*domain.Intent, error) {
	body := intentBody{
		Amount:        req.AmountMinor,
		Currency:      strings.ToLower(req.Currency),
		PaymentMethod: req.MethodRef,
		Confirm:       true,
		Description:   req.Description,
		Metadata:      map[string]string{"order_id": req.OrderID},
	}

	intent, err := p.intents.Execute(func() (*domain.Intent, error) {
		var resp intentResponse
		if err := p.do(ctx, http.MethodPost, "/v1/payment_intents", req.IdempotencyKey, body, &resp); err != nil {
			return nil, err
		}
		if resp.Status == "requires_payment_method" || resp.Status == "canceled" {
			return nil, &DeclineError{Code: resp.Status, Message: "intent was not confirmed"}
		}
		return &domain.Intent{Provider: p.cfg.Name, ProviderRef: resp.ID, ClientSecret: resp.ClientSecret}, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	return intent, err
}

func (p *HTTPProvider) RetrievePaymentMethod(ctx context.Context, token string) (*Card, error) {
	card, err := p.methods.Execute(func() (*Card, error) {
		var resp cardResponse
		if err := p.do(ctx, http.MethodGet, "/v1/payment_methods/"+url.PathEscape(token), "", nil, &resp); err != nil {
			return nil, err
		}
		return &Card{
			ProviderRef: resp.ID,
			Brand:       resp.Card.Brand,
			Last4:       resp.Card.Last4,
			ExpMonth:    resp.Card.ExpMonth,
			ExpYear:     resp.Card.ExpYear,
		}, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	return card, err
}

// do performs one request. Transport failures and 5xx map to ErrProvider, card errors to
// DeclineError and other 4xx to ErrValidation.
func (p *HTTPProvider) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal provider request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrProvider, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrProvider, resp.StatusCode)
	case resp.StatusCode >= 400:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		if resp.StatusCode == http.StatusPaymentRequired || e.Error.Type == "card_error" {
			return &DeclineError{Code: e.Error.Code, Message: e.Error.Message}
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: status %d", domain.ErrProvider, resp.StatusCode)
		}
		return fmt.Errorf("%w: provider rejected request: %s", domain.ErrValidation, e.Error.Message)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProvider, err)
	}
	return nil
}
