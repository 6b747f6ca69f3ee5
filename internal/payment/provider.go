// Package payment generates checkout links and processes provider webhooks.
// Scope is deliberately narrow: signature verification plus an idempotent
// order status transition. Settlement correctness lives with the providers.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/config"
	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/google/uuid"
)

// Provider names accepted from the payment intent vocabulary.
const (
	ProviderFlutterwave = "flutterwave"
	ProviderPaystack    = "paystack"
)

// Details carries what a provider needs to build a checkout link.
type Details struct {
	OrderID     int64
	Amount      float64
	Email       string
	PhoneNumber string
	Name        string
}

// LinkGenerator builds a hosted checkout link for an order.
type LinkGenerator interface {
	CheckoutLink(ctx context.Context, provider string, d Details) (string, error)
}

// TxRef formats a transaction reference that the webhook side can map back
// to an order: drugsng-{orderID}-{nonce}.
func TxRef(orderID int64) string {
	return fmt.Sprintf("drugsng-%d-%s", orderID, uuid.NewString()[:8])
}

// OrderIDFromRef recovers the order ID from a transaction reference.
// Returns 0 when the reference is not ours.
func OrderIDFromRef(ref string) int64 {
	parts := strings.Split(ref, "-")
	if len(parts) < 2 || parts[0] != "drugsng" {
		return 0
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// HTTPLinkGenerator talks to Flutterwave and Paystack over their REST APIs.
type HTTPLinkGenerator struct {
	cfg         config.PaymentConfig
	callbackURL string
	client      *http.Client
}

var _ LinkGenerator = (*HTTPLinkGenerator)(nil)

// NewHTTPLinkGenerator builds the provider client. callbackURL is where the
// customer lands after paying.
func NewHTTPLinkGenerator(cfg config.PaymentConfig, callbackURL string) *HTTPLinkGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLinkGenerator{
		cfg:         cfg,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// CheckoutLink builds a hosted payment page link with the named provider.
func (g *HTTPLinkGenerator) CheckoutLink(ctx context.Context, provider string, d Details) (string, error) {
	switch strings.ToLower(provider) {
	case ProviderFlutterwave:
		return g.flutterwaveLink(ctx, d)
	case ProviderPaystack:
		return g.paystackLink(ctx, d)
	default:
		return "", domain.NewValidationError("payment provider", "supported providers are Flutterwave and Paystack")
	}
}

func (g *HTTPLinkGenerator) flutterwaveLink(ctx context.Context, d Details) (string, error) {
	payload := map[string]any{
		"tx_ref":       TxRef(d.OrderID),
		"amount":       d.Amount,
		"currency":     "NGN",
		"redirect_url": g.callbackURL,
		"customer": map[string]string{
			"email":       d.Email,
			"phonenumber": d.PhoneNumber,
			"name":        d.Name,
		},
		"meta": map[string]any{"order_id": d.OrderID},
	}

	var out struct {
		Status string `json:"status"`
		Data   struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	err := g.post(ctx, "https://api.flutterwave.com/v3/payments", g.cfg.FlutterwaveSecretKey, payload, &out)
	if err != nil {
		return "", err
	}
	if out.Status != "success" || out.Data.Link == "" {
		return "", fmt.Errorf("%w: flutterwave returned no checkout link", domain.ErrUpstreamFailure)
	}
	return out.Data.Link, nil
}

func (g *HTTPLinkGenerator) paystackLink(ctx context.Context, d Details) (string, error) {
	payload := map[string]any{
		"reference":    TxRef(d.OrderID),
		"amount":       int64(d.Amount * 100), // kobo
		"email":        d.Email,
		"callback_url": g.callbackURL,
		"metadata":     map[string]any{"order_id": d.OrderID},
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
		} `json:"data"`
	}
	err := g.post(ctx, "https://api.paystack.co/transaction/initialize", g.cfg.PaystackSecretKey, payload, &out)
	if err != nil {
		return "", err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return "", fmt.Errorf("%w: paystack returned no checkout link", domain.ErrUpstreamFailure)
	}
	return out.Data.AuthorizationURL, nil
}

func (g *HTTPLinkGenerator) post(ctx context.Context, url, secret string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payment payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: payment provider: %v", domain.ErrUpstreamFailure, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close payment response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: payment provider status %d: %s", domain.ErrUpstreamFailure, resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode payment response: %v", domain.ErrUpstreamFailure, err)
	}
	return nil
}
